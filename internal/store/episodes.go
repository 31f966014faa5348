package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/solocheck/engine/internal/model"
)

// CreateEpisode attempts to create an AlertEpisode with the given id,
// returning created=false (without error) if one already exists — the
// idempotency pin from spec section 4.E step 3, relying on the episode
// id's primary-key uniqueness the same way the teacher relies on
// ON CONFLICT for its scheduled-job dedup.
func (s *Store) CreateEpisode(ctx context.Context, ep model.AlertEpisode) (created bool, err error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO solocheck.alert_episodes (id, user_id, opened_at, kind, resolution)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, ep.ID, ep.UserID, ep.OpenedAt, string(ep.Kind), string(ep.Resolution))
	if err != nil {
		return false, fmt.Errorf("store: create episode: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CloseEpisode closes episodeID with the given resolution, idempotently:
// a double close is a no-op, not an error.
func (s *Store) CloseEpisode(ctx context.Context, episodeID string, resolution model.EpisodeResolution, closedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE solocheck.alert_episodes
		SET closed_at = $1, resolution = $2
		WHERE id = $3 AND closed_at IS NULL
	`, closedAt, string(resolution), episodeID)
	if err != nil {
		return fmt.Errorf("store: close episode: %w", err)
	}
	return nil
}

// Episode fetches an episode by id.
func (s *Store) Episode(ctx context.Context, episodeID string) (model.AlertEpisode, bool, error) {
	var ep model.AlertEpisode
	var kind, resolution string
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, opened_at, closed_at, kind, resolution
		FROM solocheck.alert_episodes WHERE id = $1
	`, episodeID).Scan(&ep.ID, &ep.UserID, &ep.OpenedAt, &ep.ClosedAt, &kind, &resolution)
	if err == pgx.ErrNoRows {
		return model.AlertEpisode{}, false, nil
	}
	if err != nil {
		return model.AlertEpisode{}, false, fmt.Errorf("store: episode: %w", err)
	}
	ep.Kind = model.EpisodeKind(kind)
	ep.Resolution = model.EpisodeResolution(resolution)
	return ep, true, nil
}

// RecordDelivery appends a terminal or transient delivery attempt to the
// DeliveryLog. Unlike the Ledger, this is a plain append-only history and
// is not consulted for idempotency decisions.
func (s *Store) RecordDelivery(ctx context.Context, entry model.DeliveryLogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO solocheck.delivery_log
			(episode_id, contact_id, channel, attempt, outcome, provider_msg_id, at, sanitized_err)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.EpisodeID, entry.ContactID, string(entry.Channel), entry.Attempt, string(entry.Outcome),
		entry.ProviderMsgID, entry.At, entry.SanitizedErr)
	if err != nil {
		return fmt.Errorf("store: record delivery: %w", err)
	}
	return nil
}

// MarkReminderFired records that the (user, cycle deadline, hours-before)
// triple has fired. It runs as its own statement on the pool, not inside a
// transaction shared with the caller, so the caller's send that follows is
// not atomic with the record. Returns fired=false if it was already recorded.
func (s *Store) MarkReminderFired(ctx context.Context, userID string, deadline time.Time, hoursBefore int) (fired bool, err error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO solocheck.reminders_fired (user_id, deadline, hours_before, fired_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, deadline, hours_before) DO NOTHING
	`, userID, deadline, hoursBefore)
	if err != nil {
		return false, fmt.Errorf("store: mark reminder fired: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertSOSEvent durably mirrors an SOS state transition before the
// coordinator returns success (spec section 4.G crash-safety rule).
func (s *Store) UpsertSOSEvent(ctx context.Context, ev model.SOSEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO solocheck.sos_events
			(id, user_id, triggered_at, state, lat, lng, countdown_deadline, episode_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			episode_id = EXCLUDED.episode_id
	`, ev.ID, ev.UserID, ev.TriggeredAt, string(ev.State), ev.Lat, ev.Lng, ev.CountdownDeadline, ev.EpisodeID)
	if err != nil {
		return fmt.Errorf("store: upsert sos event: %w", err)
	}
	return nil
}

// NonTerminalSOSEvents returns every SOS event not yet in a terminal state
// (cancelled or sent), for replay on startup per spec section 4.G.
func (s *Store) NonTerminalSOSEvents(ctx context.Context) ([]model.SOSEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, triggered_at, state, lat, lng, countdown_deadline, episode_id
		FROM solocheck.sos_events
		WHERE state NOT IN ($1, $2)
	`, string(model.SOSCancelled), string(model.SOSSent))
	if err != nil {
		return nil, fmt.Errorf("store: non-terminal sos events: %w", err)
	}
	defer rows.Close()

	var out []model.SOSEvent
	for rows.Next() {
		var ev model.SOSEvent
		var state string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.TriggeredAt, &state, &ev.Lat, &ev.Lng,
			&ev.CountdownDeadline, &ev.EpisodeID); err != nil {
			return nil, fmt.Errorf("store: scan sos event: %w", err)
		}
		ev.State = model.SOSState(state)
		out = append(out, ev)
	}
	return out, rows.Err()
}
