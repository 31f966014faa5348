// Package sos implements the SOS Coordinator (module G): an in-process,
// per-event state machine (countdown -> cancelled | dispatching -> sent)
// whose timer lives in memory but whose every transition is mirrored to a
// durable row before the coordinator returns success, so a crash mid-flow
// can be replayed on startup.
//
// Grounded on services/consolidated-worker-go/scheduled_jobs_worker.go's
// ticker-plus-durable-write pattern, generalized from a fixed periodic
// sweep into a per-event one-shot timer keyed off clock.Clock.After so
// tests can drive the countdown deterministically with clock.Fake.
package sos

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/solocheck/engine/internal/clock"
	"github.com/solocheck/engine/internal/metrics"
	"github.com/solocheck/engine/internal/model"
	"github.com/solocheck/engine/internal/queue"
	"github.com/solocheck/engine/internal/scanner"
)

// Config holds the coordinator's tunables.
type Config struct {
	CountdownDuration time.Duration
}

// DefaultConfig returns the spec's default (5s).
func DefaultConfig() Config { return Config{CountdownDuration: 5 * time.Second} }

// Store persists SOS events and episodes durably.
type Store interface {
	UpsertSOSEvent(ctx context.Context, ev model.SOSEvent) error
	NonTerminalSOSEvents(ctx context.Context) ([]model.SOSEvent, error)
	CreateEpisode(ctx context.Context, ep model.AlertEpisode) (created bool, err error)
	CloseEpisode(ctx context.Context, episodeID string, resolution model.EpisodeResolution, closedAt time.Time) error
}

// ConsentGate resolves the approved-contact set for a user.
type ConsentGate interface {
	EligibleContacts(ctx context.Context, userID string, now time.Time) ([]model.Contact, error)
}

// Coordinator owns every in-flight SOS event's countdown timer.
type Coordinator struct {
	cfg   Config
	store Store
	gate  ConsentGate
	q     queue.Queue
	clock clock.Clock

	mu      sync.Mutex
	active  map[string]*inflight // by event id
	metrics *metrics.Metrics
}

type inflight struct {
	cancel chan struct{}
}

// New constructs a Coordinator.
func New(cfg Config, store Store, gate ConsentGate, q queue.Queue, clk clock.Clock) *Coordinator {
	return &Coordinator{cfg: cfg, store: store, gate: gate, q: q, clock: clk, active: make(map[string]*inflight)}
}

// WithMetrics attaches a Metrics collector, returning c for chaining.
func (c *Coordinator) WithMetrics(m *metrics.Metrics) *Coordinator {
	c.metrics = m
	return c
}

func (c *Coordinator) recordTransition(state model.SOSState) {
	if c.metrics != nil {
		c.metrics.SOSTransitionsTotal.WithLabelValues(string(state)).Inc()
	}
}

// Trigger creates a new SOS event for userID and starts its countdown,
// per spec section 4.G step 1.
func (c *Coordinator) Trigger(ctx context.Context, eventID, userID string, lat, lng *float64) error {
	now := c.clock.Now()
	ev := model.SOSEvent{
		ID: eventID, UserID: userID, TriggeredAt: now, State: model.SOSCountdown,
		Lat: lat, Lng: lng, CountdownDeadline: now.Add(c.cfg.CountdownDuration),
	}
	if err := c.store.UpsertSOSEvent(ctx, ev); err != nil {
		return err
	}
	c.recordTransition(model.SOSCountdown)
	c.startCountdown(ctx, ev)
	return nil
}

// Cancel transitions eventID to cancelled if it is still in countdown;
// cancellation is final and a no-op otherwise (spec section 4.G step 2).
func (c *Coordinator) Cancel(ctx context.Context, eventID string) error {
	c.mu.Lock()
	inf, ok := c.active[eventID]
	if ok {
		delete(c.active, eventID)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	close(inf.cancel)
	if err := c.store.UpsertSOSEvent(ctx, model.SOSEvent{ID: eventID, State: model.SOSCancelled}); err != nil {
		return err
	}
	c.recordTransition(model.SOSCancelled)
	return nil
}

// Replay resumes every non-terminal event on startup, per spec section
// 4.G's crash-safety rule: a countdown_deadline already in the past
// causes immediate transition to dispatching.
func (c *Coordinator) Replay(ctx context.Context) error {
	events, err := c.store.NonTerminalSOSEvents(ctx)
	if err != nil {
		return err
	}
	for _, ev := range events {
		log.Printf("[sos] replaying event %s in state %s", ev.ID, ev.State)
		c.startCountdown(ctx, ev)
	}
	return nil
}

func (c *Coordinator) startCountdown(ctx context.Context, ev model.SOSEvent) {
	inf := &inflight{cancel: make(chan struct{})}
	c.mu.Lock()
	c.active[ev.ID] = inf
	c.mu.Unlock()

	remaining := ev.CountdownDeadline.Sub(c.clock.Now())
	if remaining < 0 {
		remaining = 0
	}

	go func() {
		select {
		case <-inf.cancel:
			return
		case <-c.clock.After(remaining):
		}
		c.mu.Lock()
		delete(c.active, ev.ID)
		c.mu.Unlock()
		c.dispatch(ctx, ev)
	}()
}

// dispatch runs spec section 4.G steps 3-4: open an SOS episode, bypass
// the normal queue's delay semantics (not_before=now), enqueue one job
// per approved contact flagged prefer-push, then wait for the jobs to end.
// The episode is closed here only when there are no approved contacts;
// otherwise closure is performed by the dispatch pool's episode-closure
// check once every job reaches a terminal state.
func (c *Coordinator) dispatch(ctx context.Context, ev model.SOSEvent) {
	now := c.clock.Now()
	episodeID := scanner.EpisodeID(ev.UserID, ev.TriggeredAt)

	if _, err := c.store.CreateEpisode(ctx, model.AlertEpisode{
		ID: episodeID, UserID: ev.UserID, OpenedAt: now, Kind: model.EpisodeSOS,
	}); err != nil {
		log.Printf("[sos] event %s episode create failed: %v", ev.ID, err)
		return
	}

	ev.State = model.SOSDispatching
	ev.EpisodeID = episodeID
	if err := c.store.UpsertSOSEvent(ctx, ev); err != nil {
		log.Printf("[sos] event %s dispatching transition failed: %v", ev.ID, err)
	}
	c.recordTransition(model.SOSDispatching)

	contacts, err := c.gate.EligibleContacts(ctx, ev.UserID, now)
	if err != nil {
		log.Printf("[sos] event %s consent lookup failed: %v", ev.ID, err)
		return
	}

	if len(contacts) == 0 {
		ev.State = model.SOSSent
		_ = c.store.UpsertSOSEvent(ctx, ev)
		_ = c.store.CloseEpisode(ctx, episodeID, model.ResolutionSOSSent, now)
		c.recordTransition(model.SOSSent)
		return
	}

	for _, contact := range contacts {
		job := model.DispatchJob{
			EpisodeID: episodeID, ContactID: contact.ID, Channel: contact.Channel,
			Attempt: 1, NotBefore: now, State: model.JobQueued,
			PreferPush: true, TemplateKind: "sos-alert",
		}
		if err := c.q.Enqueue(ctx, job); err != nil {
			log.Printf("[sos] event %s contact %s enqueue failed: %v", ev.ID, contact.ID, err)
		}
	}

	c.waitForTerminalThenMarkSent(ctx, ev, episodeID)
}

// waitForTerminalThenMarkSent implements spec section 4.G step 4: "When
// all jobs terminate, the event transitions to sent." The dispatch pool
// owns episode closure once every job is terminal; this poll only tracks
// the SOS event's own state, independent of when the pool happens to run.
func (c *Coordinator) waitForTerminalThenMarkSent(ctx context.Context, ev model.SOSEvent, episodeID string) {
	const pollInterval = 500 * time.Millisecond
	for {
		jobs, err := c.q.JobsForEpisode(ctx, episodeID)
		if err != nil {
			log.Printf("[sos] event %s job poll failed: %v", ev.ID, err)
			return
		}
		if len(jobs) > 0 && allTerminal(jobs) {
			ev.State = model.SOSSent
			if err := c.store.UpsertSOSEvent(ctx, ev); err != nil {
				log.Printf("[sos] event %s sent transition failed: %v", ev.ID, err)
			}
			c.recordTransition(model.SOSSent)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(pollInterval):
		}
	}
}

func allTerminal(jobs []model.DispatchJob) bool {
	for _, j := range jobs {
		// A failed job has been superseded by its retry job, which is
		// checked on its own.
		if j.State != model.JobDelivered && j.State != model.JobDead && j.State != model.JobFailed {
			return false
		}
	}
	return true
}
