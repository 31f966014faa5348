// Package model defines the record types the engine reads and writes.
//
// The source system this engine is modeled on represented these as
// duck-typed dicts; here every enumerated field gets its own type so
// the state machines in the scanner, dispatch pool, and SOS coordinator
// are exhaustive over a closed set of values.
package model

import "time"

// Channel identifies a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelPush:
		return true
	default:
		return false
	}
}

// ConsentStatus is the lifecycle state of a contact's consent to be alerted.
type ConsentStatus string

const (
	ConsentPending  ConsentStatus = "pending"
	ConsentApproved ConsentStatus = "approved"
	ConsentRejected ConsentStatus = "rejected"
	ConsentExpired  ConsentStatus = "expired"
)

// EpisodeKind distinguishes a routine missed-checkin episode from an SOS episode.
type EpisodeKind string

const (
	EpisodeMissedCheckin EpisodeKind = "missed-checkin"
	EpisodeSOS           EpisodeKind = "sos"
)

// EpisodeResolution records why an AlertEpisode closed.
type EpisodeResolution string

const (
	ResolutionNone             EpisodeResolution = ""
	ResolutionUserCheckedIn    EpisodeResolution = "user-checked-in"
	ResolutionAllDispatched    EpisodeResolution = "all-contacts-dispatched"
	ResolutionSOSCancelled     EpisodeResolution = "sos-cancelled"
	ResolutionSOSSent          EpisodeResolution = "sos-sent"
)

// JobState is the lifecycle of a DispatchJob. Valid transitions are
// enforced by the queue and dispatch pool, never by callers directly:
// queued -> in-flight -> {delivered | failed} -> (failed and attempt<max) queued | dead.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobInFlight  JobState = "in-flight"
	JobDelivered JobState = "delivered"
	JobFailed    JobState = "failed"
	JobDead      JobState = "dead"
)

// DeliveryOutcome is the terminal (or transient) result of one dispatch attempt.
type DeliveryOutcome string

const (
	OutcomeSent             DeliveryOutcome = "sent"
	OutcomeProviderReject   DeliveryOutcome = "provider-reject"
	OutcomeTransientFail    DeliveryOutcome = "transient-fail"
	OutcomeInvalidAddress   DeliveryOutcome = "invalid-address"
	OutcomeSkippedDuplicate DeliveryOutcome = "skipped-duplicate"
)

// Terminal reports whether this outcome represents a final disposition for
// the (episode, contact, channel) triple — no further send attempt is possible.
func (o DeliveryOutcome) Terminal() bool {
	switch o {
	case OutcomeSent, OutcomeProviderReject, OutcomeInvalidAddress, OutcomeSkippedDuplicate:
		return true
	default:
		return false
	}
}

// SOSState is the lifecycle of an in-flight SOS event.
type SOSState string

const (
	SOSCountdown   SOSState = "countdown"
	SOSCancelled   SOSState = "cancelled"
	SOSDispatching SOSState = "dispatching"
	SOSSent        SOSState = "sent"
)

// User is read-only to the engine except for LastCheckinAt, which is owned
// by the (out-of-scope) API layer and only observed here.
type User struct {
	ID                 string
	CycleDays          int
	GraceHours         int
	LastCheckinAt      *time.Time
	IsActive           bool
	DevicePushToken    string
	LocationConsent    bool
	LocationConsentAt  *time.Time
	TimeZone           string // IANA zone name, used by the reminder scheduler's quiet hours
}

// Deadline returns the user's soft deadline (before grace), or the zero
// time and false if the user has no check-in baseline.
func (u User) Deadline() (time.Time, bool) {
	if u.LastCheckinAt == nil {
		return time.Time{}, false
	}
	return u.LastCheckinAt.AddDate(0, 0, u.CycleDays), true
}

// OverdueAt returns the instant after which the user is considered overdue
// (deadline plus grace), or false if the user has no baseline.
func (u User) OverdueAt() (time.Time, bool) {
	deadline, ok := u.Deadline()
	if !ok {
		return time.Time{}, false
	}
	return deadline.Add(time.Duration(u.GraceHours) * time.Hour), true
}

// Contact is an emergency contact registered against a user.
type Contact struct {
	ID                string
	UserID            string
	DisplayName       string
	Channel           Channel
	Address           string
	Priority          int // 1 (highest) .. 3
	ConsentStatus     ConsentStatus
	ConsentExpiresAt  *time.Time
}

// Eligible reports whether the contact may receive alerts at instant now.
func (c Contact) Eligible(now time.Time) bool {
	if c.ConsentStatus != ConsentApproved {
		return false
	}
	return c.ConsentExpiresAt == nil || c.ConsentExpiresAt.After(now)
}

// AlertEpisode is engine-owned: exactly one per (user, overdue window) or
// per SOS trigger.
type AlertEpisode struct {
	ID         string
	UserID     string
	OpenedAt   time.Time
	ClosedAt   *time.Time
	Kind       EpisodeKind
	Resolution EpisodeResolution
}

// Open reports whether the episode has not yet closed.
func (e AlertEpisode) Open() bool { return e.ClosedAt == nil }

// DispatchJob is one attempt-set to deliver an episode's alert to one
// contact on one channel.
type DispatchJob struct {
	ID         string
	EpisodeID  string
	ContactID  string
	Channel    Channel
	Attempt    int
	NotBefore  time.Time
	State      JobState
	LastError  string
	PreferPush bool // set on SOS jobs per spec: prefer push over email
	TemplateKind string
}

// DeliveryLogEntry records a single terminal or transient dispatch attempt.
type DeliveryLogEntry struct {
	EpisodeID     string
	ContactID     string
	Channel       Channel
	Attempt       int
	Outcome       DeliveryOutcome
	ProviderMsgID string
	At            time.Time
	SanitizedErr  string
}

// SOSEvent is the memory-backed, durably-mirrored state of an active SOS
// countdown/dispatch.
type SOSEvent struct {
	ID                string
	UserID            string
	TriggeredAt       time.Time
	State             SOSState
	Lat, Lng          *float64
	CountdownDeadline time.Time
	EpisodeID         string
}

// ReminderSettings configures a user's pre-deadline reminder cascade.
type ReminderSettings struct {
	UserID         string
	HoursBefore    []int // ordered set of positive integers, e.g. {48,24,12}
	QuietStart     *TimeOfDay
	QuietEnd       *TimeOfDay
	ChannelsEnabled map[Channel]bool
	CustomPrefix   string // <=100 chars
}

// TimeOfDay is a user-local wall-clock time used for quiet-hours bounds.
type TimeOfDay struct {
	Hour, Minute int
}

// before reports whether t is strictly earlier in the day than other.
func (t TimeOfDay) before(other TimeOfDay) bool {
	if t.Hour != other.Hour {
		return t.Hour < other.Hour
	}
	return t.Minute < other.Minute
}

// InQuietWindow reports whether tod lies within the closed interval
// [start,end]; when start is after end the window is interpreted as
// wrapping across midnight, i.e. the complement of (end,start).
func InQuietWindow(tod, start, end TimeOfDay) bool {
	if start.before(end) || start == end {
		return !tod.before(start) && !end.before(tod)
	}
	// wraps midnight: quiet iff NOT strictly between end and start
	return !(end.before(tod) && tod.before(start))
}
