package render

import (
	"strings"
	"testing"
	"time"
)

func sampleContext() Context {
	return Context{
		UserDisplayName: "Priya Shah",
		EpisodeID:       "ep_123",
		OpenedAt:        time.Date(2025, 1, 8, 0, 0, 1, 0, time.UTC),
		Pets: []PetInfo{
			{Name: "Max", Species: "dog", Notes: "needs meds at 6pm"},
		},
		VaultEntries: []VaultEntry{
			{Label: "Apartment code", Value: "4471"},
		},
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	ctx := sampleContext()
	a, err := Render(KindMissedCheckinAlert, ctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	b, err := Render(KindMissedCheckinAlert, ctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if a != b {
		t.Fatalf("render is not deterministic:\na=%+v\nb=%+v", a, b)
	}
}

func TestRenderEmbedsDisclaimer(t *testing.T) {
	for _, kind := range []Kind{KindMissedCheckinAlert, KindReminder, KindSOSAlert} {
		rendered, err := Render(kind, sampleContext())
		if err != nil {
			t.Fatalf("Render(%s): %v", kind, err)
		}
		if !strings.Contains(rendered.BodyText, Disclaimer) {
			t.Errorf("%s: plain-text body missing disclaimer:\n%s", kind, rendered.BodyText)
		}
	}
}

func TestRenderSubjectFormat(t *testing.T) {
	rendered, err := Render(KindMissedCheckinAlert, sampleContext())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "[SoloCheck] Priya Shah - connectivity alert"
	if rendered.Subject != want {
		t.Errorf("Subject = %q, want %q", rendered.Subject, want)
	}
}

func TestRenderUnknownKind(t *testing.T) {
	_, err := Render(Kind("bogus"), sampleContext())
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestRenderOmitsEmptyOptionalSections(t *testing.T) {
	ctx := Context{UserDisplayName: "Alex", OpenedAt: time.Now()}
	rendered, err := Render(KindMissedCheckinAlert, ctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(rendered.BodyText, "Pets to consider") {
		t.Errorf("expected no pets section, got:\n%s", rendered.BodyText)
	}
	if strings.Contains(rendered.BodyText, "Additional information") {
		t.Errorf("expected no vault section, got:\n%s", rendered.BodyText)
	}
}
