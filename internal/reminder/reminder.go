// Package reminder implements the Reminder Scheduler (module F): a
// short-cadence tick that fires pre-deadline push reminders, independent
// of the alert episode machinery (spec section 4.F: "Reminders ... do not
// go through the episode machinery"), suppressed during the user's quiet
// window and recorded idempotently per (user, deadline, hours_before).
//
// Unlike the scanner and dispatch pool, a reminder has no episode id and
// no contact fan-out, so it calls the push Adapter directly rather than
// enqueuing a DispatchJob keyed by an episode the Idempotency Ledger
// would expect.
package reminder

import (
	"context"
	"log"
	"time"

	"github.com/solocheck/engine/internal/adapter"
	"github.com/solocheck/engine/internal/clock"
	"github.com/solocheck/engine/internal/metrics"
	"github.com/solocheck/engine/internal/model"
	"github.com/solocheck/engine/internal/render"
)

// Config holds the scheduler's tunables.
type Config struct {
	Period time.Duration
}

// DefaultConfig returns the spec's default (5 min).
func DefaultConfig() Config { return Config{Period: 5 * time.Minute} }

// Store is the subset of storage the reminder scheduler needs.
type Store interface {
	ActiveUsersWithReminders(ctx context.Context) ([]model.User, error)
	ReminderSettingsForUser(ctx context.Context, userID string) (model.ReminderSettings, bool, error)
	MarkReminderFired(ctx context.Context, userID string, deadline time.Time, hoursBefore int) (fired bool, err error)
}

// Scheduler runs the periodic reminder sweep.
type Scheduler struct {
	cfg     Config
	store   Store
	pusher  adapter.Adapter
	clock   clock.Clock
	metrics *metrics.Metrics
}

// New constructs a Scheduler.
func New(cfg Config, store Store, pusher adapter.Adapter, clk clock.Clock) *Scheduler {
	return &Scheduler{cfg: cfg, store: store, pusher: pusher, clock: clk}
}

// WithMetrics attaches a Metrics collector, returning s for chaining.
func (s *Scheduler) WithMetrics(m *metrics.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Run ticks every cfg.Period until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := s.Tick(ctx); err != nil {
				log.Printf("[reminder] tick failed: %v", err)
			}
		}
	}
}

// Tick performs one sweep, per spec section 4.F.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock.Now()
	users, err := s.store.ActiveUsersWithReminders(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err := s.processUser(ctx, u, now); err != nil {
			log.Printf("[reminder] user %s: %v", u.ID, err)
		}
	}
	if s.metrics != nil {
		s.metrics.ReminderDuration.Observe(s.clock.Now().Sub(now).Seconds())
	}
	return nil
}

func (s *Scheduler) processUser(ctx context.Context, u model.User, now time.Time) error {
	settings, found, err := s.store.ReminderSettingsForUser(ctx, u.ID)
	if err != nil || !found {
		return err
	}

	deadline, ok := u.Deadline()
	if !ok {
		return nil
	}

	loc, err := time.LoadLocation(u.TimeZone)
	if err != nil {
		loc = time.UTC
	}

	for _, h := range settings.HoursBefore {
		fireAt := deadline.Add(-time.Duration(h) * time.Hour)
		if fireAt.Before(now) || fireAt.After(now.Add(s.cfg.Period)) {
			continue
		}
		if !settings.ChannelsEnabled[model.ChannelPush] {
			continue
		}
		if settings.QuietStart != nil && settings.QuietEnd != nil {
			local := fireAt.In(loc)
			tod := model.TimeOfDay{Hour: local.Hour(), Minute: local.Minute()}
			if model.InQuietWindow(tod, *settings.QuietStart, *settings.QuietEnd) {
				continue
			}
		}

		fired, err := s.store.MarkReminderFired(ctx, u.ID, deadline, h)
		if err != nil {
			return err
		}
		if !fired {
			continue
		}

		s.sendReminder(ctx, u, settings, now, h)
	}
	return nil
}

func (s *Scheduler) sendReminder(ctx context.Context, u model.User, settings model.ReminderSettings, now time.Time, hoursBefore int) {
	rendered, err := render.Render(render.KindReminder, render.Context{
		UserDisplayName: u.ID,
		HoursOverdue:    -hoursBefore,
		CustomPrefix:    settings.CustomPrefix,
	})
	if err != nil {
		log.Printf("[reminder] user %s render failed: %v", u.ID, err)
		return
	}

	msg := adapter.Message{
		Subject: rendered.Subject, BodyText: rendered.BodyText, BodyHTML: rendered.BodyHTML,
		PushType: "reminder", Title: rendered.Subject,
	}
	if _, err := s.pusher.Send(ctx, u.DevicePushToken, msg); err != nil {
		log.Printf("[reminder] user %s push send failed: %v", u.ID, err)
	}
}
