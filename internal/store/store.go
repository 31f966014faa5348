// Package store provides read access to the user/contact/reminder-settings
// rows the engine consumes but does not own (spec section 3: User and
// Contact are written by the out-of-scope API layer; the engine only
// reads them, except for the engine-owned AlertEpisode, DispatchJob,
// DeliveryLogEntry, and SOSEvent tables it writes).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/solocheck/engine/internal/model"
)

// Store is the pgxpool-backed repository used by the scanner, reminder
// scheduler, consent gate, and dispatch pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// OverdueUsersAt returns active users whose deadline-plus-grace lies
// strictly before now, per spec section 4.E step 1. Users with a
// null last_checkin_at are excluded at the SQL level, not filtered after.
func (s *Store) OverdueUsersAt(ctx context.Context, now time.Time) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, cycle_days, grace_hours, last_checkin_at, is_active,
		       device_push_token, location_consent, location_consent_at, time_zone
		FROM solocheck.users
		WHERE is_active = true
		  AND last_checkin_at IS NOT NULL
		  AND last_checkin_at + (cycle_days || ' days')::interval
		            + (grace_hours || ' hours')::interval < $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("store: overdue users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// ActiveUsersWithReminders returns every active user that has a non-null
// last_checkin_at and a ReminderSettings row, per spec section 4.F.
func (s *Store) ActiveUsersWithReminders(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.cycle_days, u.grace_hours, u.last_checkin_at, u.is_active,
		       u.device_push_token, u.location_consent, u.location_consent_at, u.time_zone
		FROM solocheck.users u
		JOIN solocheck.reminder_settings r ON r.user_id = u.id
		WHERE u.is_active = true AND u.last_checkin_at IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("store: active users with reminders: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

func scanUsers(rows pgx.Rows) ([]model.User, error) {
	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.CycleDays, &u.GraceHours, &u.LastCheckinAt, &u.IsActive,
			&u.DevicePushToken, &u.LocationConsent, &u.LocationConsentAt, &u.TimeZone); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ContactsForUser returns every contact registered for userID, ordered by
// creation time, for the Consent Gate to filter and sort.
func (s *Store) ContactsForUser(ctx context.Context, userID string) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, display_name, channel, address, priority,
		       consent_status, consent_expires_at
		FROM solocheck.contacts
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: contacts for user: %w", err)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var channel, status string
		if err := rows.Scan(&c.ID, &c.UserID, &c.DisplayName, &channel, &c.Address, &c.Priority,
			&status, &c.ConsentExpiresAt); err != nil {
			return nil, fmt.Errorf("store: scan contact: %w", err)
		}
		c.Channel = model.Channel(channel)
		c.ConsentStatus = model.ConsentStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReminderSettingsForUser returns userID's reminder configuration.
func (s *Store) ReminderSettingsForUser(ctx context.Context, userID string) (model.ReminderSettings, bool, error) {
	var rs model.ReminderSettings
	rs.UserID = userID
	var quietStartMin, quietEndMin *int
	var hoursBefore []int
	var channelsEnabled []string
	err := s.pool.QueryRow(ctx, `
		SELECT hours_before, quiet_start_minutes, quiet_end_minutes, custom_prefix, channels_enabled
		FROM solocheck.reminder_settings
		WHERE user_id = $1
	`, userID).Scan(&hoursBefore, &quietStartMin, &quietEndMin, &rs.CustomPrefix, &channelsEnabled)
	if err == pgx.ErrNoRows {
		return model.ReminderSettings{}, false, nil
	}
	if err != nil {
		return model.ReminderSettings{}, false, fmt.Errorf("store: reminder settings: %w", err)
	}
	rs.HoursBefore = hoursBefore
	rs.ChannelsEnabled = make(map[model.Channel]bool, len(channelsEnabled))
	for _, ch := range channelsEnabled {
		rs.ChannelsEnabled[model.Channel(ch)] = true
	}
	if quietStartMin != nil {
		tod := minutesToTimeOfDay(*quietStartMin)
		rs.QuietStart = &tod
	}
	if quietEndMin != nil {
		tod := minutesToTimeOfDay(*quietEndMin)
		rs.QuietEnd = &tod
	}
	return rs, true, nil
}

func minutesToTimeOfDay(m int) model.TimeOfDay {
	return model.TimeOfDay{Hour: m / 60, Minute: m % 60}
}
