// Package scanner implements the Overdue Scanner (module E): a periodic
// tick that finds users past their deadline-plus-grace, opens one
// AlertEpisode per overdue window, and fans out one DispatchJob per
// (approved contact, channel) pair.
//
// Grounded on services/consolidated-worker-go/scheduled_jobs_worker.go's
// ticker-driven sweep with conditional-insert idempotency, and on its
// source_code_parser.go's use of crypto/sha256 for a stable content hash
// — generalized here into a stable episode id derived from
// (user_id, window_start).
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"time"

	"github.com/solocheck/engine/internal/clock"
	"github.com/solocheck/engine/internal/metrics"
	"github.com/solocheck/engine/internal/model"
	"github.com/solocheck/engine/internal/queue"
)

// Config holds the scanner's tunables.
type Config struct {
	ScanPeriod time.Duration
}

// DefaultConfig returns the spec's default (60s).
func DefaultConfig() Config { return Config{ScanPeriod: 60 * time.Second} }

// Store is the subset of storage operations the scanner needs.
type Store interface {
	OverdueUsersAt(ctx context.Context, now time.Time) ([]model.User, error)
	CreateEpisode(ctx context.Context, ep model.AlertEpisode) (created bool, err error)
	CloseEpisode(ctx context.Context, episodeID string, resolution model.EpisodeResolution, closedAt time.Time) error
}

// ConsentGate resolves the approved-contact set for a user.
type ConsentGate interface {
	EligibleContacts(ctx context.Context, userID string, now time.Time) ([]model.Contact, error)
}

// Scanner runs the periodic overdue sweep.
type Scanner struct {
	cfg     Config
	store   Store
	gate    ConsentGate
	q       queue.Queue
	clock   clock.Clock
	metrics *metrics.Metrics
}

// New constructs a Scanner.
func New(cfg Config, store Store, gate ConsentGate, q queue.Queue, clk clock.Clock) *Scanner {
	return &Scanner{cfg: cfg, store: store, gate: gate, q: q, clock: clk}
}

// WithMetrics attaches a Metrics collector, returning s for chaining.
// Without it, tick metrics are simply not recorded.
func (s *Scanner) WithMetrics(m *metrics.Metrics) *Scanner {
	s.metrics = m
	return s
}

// Run ticks every cfg.ScanPeriod until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.ScanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := s.Tick(ctx); err != nil {
				log.Printf("[scanner] tick failed: %v", err)
			}
		}
	}
}

// Tick performs one scan, per spec section 4.E.
func (s *Scanner) Tick(ctx context.Context) error {
	start := s.clock.Now()
	users, err := s.store.OverdueUsersAt(ctx, start)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err := s.processUser(ctx, u, start); err != nil {
			log.Printf("[scanner] user %s: %v", u.ID, err)
		}
	}
	if s.metrics != nil {
		s.metrics.ScanDuration.Observe(s.clock.Now().Sub(start).Seconds())
	}
	return nil
}

func (s *Scanner) processUser(ctx context.Context, u model.User, now time.Time) error {
	windowStart := u.LastCheckinAt.AddDate(0, 0, u.CycleDays)
	episodeID := EpisodeID(u.ID, windowStart)

	created, err := s.store.CreateEpisode(ctx, model.AlertEpisode{
		ID: episodeID, UserID: u.ID, OpenedAt: now, Kind: model.EpisodeMissedCheckin,
	})
	if err != nil {
		return err
	}
	if !created {
		// Idempotency pin: another tick or instance already opened this
		// episode. Nothing further to do.
		return nil
	}
	if s.metrics != nil {
		s.metrics.EpisodesOpenedTotal.WithLabelValues(string(model.EpisodeMissedCheckin)).Inc()
	}

	contacts, err := s.gate.EligibleContacts(ctx, u.ID, now)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		log.Printf("[scanner] episode %s has no approved contacts, closing immediately", episodeID)
		if s.metrics != nil {
			s.metrics.EpisodesClosedTotal.WithLabelValues(string(model.ResolutionAllDispatched)).Inc()
		}
		return s.store.CloseEpisode(ctx, episodeID, model.ResolutionAllDispatched, now)
	}

	for _, c := range contacts {
		job := model.DispatchJob{
			EpisodeID: episodeID, ContactID: c.ID, Channel: c.Channel,
			Attempt: 1, NotBefore: now, State: model.JobQueued,
			TemplateKind: "missed-checkin-alert",
		}
		if err := s.q.Enqueue(ctx, job); err != nil {
			log.Printf("[scanner] episode %s contact %s enqueue failed: %v", episodeID, c.ID, err)
		}
	}
	return nil
}

// EpisodeID derives the stable episode id for a
// (user, overdue window) pair (spec section 4.E step 2). sha256 is
// overkill for the "need not be cryptographic" requirement but keeps the
// derivation collision-resistant and dependency-free.
func EpisodeID(userID string, windowStart time.Time) string {
	h := sha256.Sum256([]byte(userID + "\x00" + windowStart.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:16])
}
