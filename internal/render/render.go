// Package render implements the engine's pure template renderer (module B).
//
// Grounded on services/notification-worker-go/renderer.go: html/template
// for the HTML body, text/template for subject and plain-text body, both
// parsed with Option("missingkey=zero") and a small FuncMap. render.Render
// performs no I/O and is deterministic: identical (kind, context) produce
// byte-identical output, which the test suite in render_test.go exploits.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	textTemplate "text/template"
	"time"
)

// Kind identifies which message is being rendered.
type Kind string

const (
	KindMissedCheckinAlert Kind = "missed-checkin-alert"
	KindReminder           Kind = "reminder"
	KindSOSAlert           Kind = "sos-alert"
)

// PushType maps a render Kind to the push payload's type enum (spec
// section 6: type ∈ {reminder, alert, sos}), which is narrower than the
// set of template kinds.
func PushType(k Kind) string {
	switch k {
	case KindSOSAlert:
		return "sos"
	case KindReminder:
		return "reminder"
	default:
		return "alert"
	}
}

// Disclaimer is the fixed legal-disclaimer block appended to every
// outbound message body (spec section 6). It is a constant so it can
// never drift per-template.
const Disclaimer = "This service does not determine your well-being beyond connectivity.\n" +
	"If you have an urgent need, contact emergency services directly.\n" +
	"Alerts are triggered solely by the absence of a check-in, nothing more."

// PetInfo is a sanitized pet record eligible for inclusion in an alert.
type PetInfo struct {
	Name    string
	Species string
	Notes   string
}

// VaultEntry is a sanitized information-vault entry eligible for inclusion.
type VaultEntry struct {
	Label string
	Value string
}

// Location is a sanitized last-known-location reading.
type Location struct {
	Lat, Lng  float64
	Recorded  time.Time
}

// Context carries only sanitized fields; the renderer performs no I/O and
// never reaches back into a database or external service.
type Context struct {
	UserDisplayName string
	EpisodeID       string
	OpenedAt        time.Time
	HoursOverdue    int // for reminder kind, the hours remaining before the deadline, negated

	PersonalMessage string // already decrypted by the caller, empty if not authorized
	Pets            []PetInfo
	VaultEntries    []VaultEntry
	Location        *Location

	CustomPrefix string // from ReminderSettings, <=100 chars, reminder kind only
}

// Rendered is the output of Render: a subject plus HTML and plain-text bodies.
type Rendered struct {
	Subject  string
	BodyText string
	BodyHTML string
}

var funcs = template.FuncMap{
	"formatDateTime": formatDateTime,
	"formatLocation": formatLocation,
}

var textFuncs = textTemplate.FuncMap{
	"formatDateTime": formatDateTime,
	"formatLocation": formatLocation,
}

func formatDateTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 3:04 PM MST")
}

func formatLocation(l *Location) string {
	if l == nil {
		return ""
	}
	return fmt.Sprintf("%.5f, %.5f (as of %s)", l.Lat, l.Lng, formatDateTime(l.Recorded))
}

const subjectTemplate = `[SoloCheck] {{.UserDisplayName}} - connectivity alert`

const reminderSubjectTemplate = `[SoloCheck] {{.UserDisplayName}} - check-in reminder`

const sosSubjectTemplate = `[SoloCheck] {{.UserDisplayName}} - SOS alert`

const bodyTextTemplate = `{{.UserDisplayName}} has missed their scheduled check-in.
Episode opened: {{formatDateTime .OpenedAt}}
{{if .PersonalMessage}}
Message from {{.UserDisplayName}}:
{{.PersonalMessage}}
{{end}}{{if .Pets}}
Pets to consider:
{{range .Pets}}- {{.Name}} ({{.Species}}){{if .Notes}}: {{.Notes}}{{end}}
{{end}}{{end}}{{if .VaultEntries}}
Additional information:
{{range .VaultEntries}}- {{.Label}}: {{.Value}}
{{end}}{{end}}{{if .Location}}
Last known location: {{formatLocation .Location}}
{{end}}
`

const bodyHTMLTemplate = `<p>{{.UserDisplayName}} has missed their scheduled check-in.</p>
<p>Episode opened: {{formatDateTime .OpenedAt}}</p>
{{if .PersonalMessage}}<p>Message from {{.UserDisplayName}}:</p><p>{{.PersonalMessage}}</p>{{end}}
{{if .Pets}}<p>Pets to consider:</p><ul>{{range .Pets}}<li>{{.Name}} ({{.Species}}){{if .Notes}}: {{.Notes}}{{end}}</li>{{end}}</ul>{{end}}
{{if .VaultEntries}}<p>Additional information:</p><ul>{{range .VaultEntries}}<li>{{.Label}}: {{.Value}}</li>{{end}}</ul>{{end}}
{{if .Location}}<p>Last known location: {{formatLocation .Location}}</p>{{end}}
`

const reminderBodyTextTemplate = `{{if .CustomPrefix}}{{.CustomPrefix}}
{{end}}This is a reminder that {{.UserDisplayName}}'s check-in is due soon.
`

const reminderBodyHTMLTemplate = `{{if .CustomPrefix}}<p>{{.CustomPrefix}}</p>{{end}}
<p>This is a reminder that {{.UserDisplayName}}'s check-in is due soon.</p>
`

const sosBodyTextTemplate = `SOS alert for {{.UserDisplayName}}.
Triggered: {{formatDateTime .OpenedAt}}
{{if .Location}}Last known location: {{formatLocation .Location}}
{{end}}`

const sosBodyHTMLTemplate = `<p><strong>SOS alert</strong> for {{.UserDisplayName}}.</p>
<p>Triggered: {{formatDateTime .OpenedAt}}</p>
{{if .Location}}<p>Last known location: {{formatLocation .Location}}</p>{{end}}
`

// Render renders subject, plain-text body, and HTML body for kind from ctx.
// It is a pure function: identical inputs produce byte-identical output.
func Render(kind Kind, ctx Context) (Rendered, error) {
	var subjectSrc, textSrc, htmlSrc string
	switch kind {
	case KindMissedCheckinAlert:
		subjectSrc, textSrc, htmlSrc = subjectTemplate, bodyTextTemplate, bodyHTMLTemplate
	case KindReminder:
		subjectSrc, textSrc, htmlSrc = reminderSubjectTemplate, reminderBodyTextTemplate, reminderBodyHTMLTemplate
	case KindSOSAlert:
		subjectSrc, textSrc, htmlSrc = sosSubjectTemplate, sosBodyTextTemplate, sosBodyHTMLTemplate
	default:
		return Rendered{}, fmt.Errorf("render: unknown kind %q", kind)
	}

	subject, err := renderText("subject", subjectSrc, ctx)
	if err != nil {
		return Rendered{}, fmt.Errorf("subject rendering failed: %w", err)
	}
	text, err := renderText("body_text", textSrc, ctx)
	if err != nil {
		return Rendered{}, fmt.Errorf("text rendering failed: %w", err)
	}
	html, err := renderHTML("body_html", htmlSrc, ctx)
	if err != nil {
		return Rendered{}, fmt.Errorf("HTML rendering failed: %w", err)
	}

	text = strings.TrimRight(text, "\n") + "\n\n" + Disclaimer + "\n"
	html = strings.TrimRight(html, "\n") + "\n<hr/><p><small>" + htmlEscapeDisclaimer() + "</small></p>\n"

	return Rendered{Subject: subject, BodyText: text, BodyHTML: html}, nil
}

func htmlEscapeDisclaimer() string {
	return strings.Join(strings.Split(Disclaimer, "\n"), "<br/>")
}

func renderText(name, src string, ctx Context) (string, error) {
	tmpl, err := textTemplate.New(name).Option("missingkey=zero").Funcs(textFuncs).Parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderHTML(name, src string, ctx Context) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Funcs(funcs).Parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", err
	}
	return buf.String(), nil
}
