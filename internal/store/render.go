package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/solocheck/engine/internal/model"
	"github.com/solocheck/engine/internal/render"
)

// Contact fetches a single contact by id, for the dispatch pool's per-job
// consent re-check (spec section 4.C step 3: re-resolved at send time so a
// long-delayed retry reflects current, not enqueue-time, consent).
func (s *Store) Contact(ctx context.Context, contactID string) (model.Contact, bool, error) {
	var c model.Contact
	var channel, status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, display_name, channel, address, priority,
		       consent_status, consent_expires_at
		FROM solocheck.contacts
		WHERE id = $1
	`, contactID).Scan(&c.ID, &c.UserID, &c.DisplayName, &channel, &c.Address, &c.Priority,
		&status, &c.ConsentExpiresAt)
	if err == pgx.ErrNoRows {
		return model.Contact{}, false, nil
	}
	if err != nil {
		return model.Contact{}, false, fmt.Errorf("store: contact: %w", err)
	}
	c.Channel = model.Channel(channel)
	c.ConsentStatus = model.ConsentStatus(status)
	return c, true, nil
}

// RenderContextForEpisode resolves the template kind and context for
// episodeID, per spec section 4.E step 5: the personal message (if
// enabled), pets and vault entries marked include-in-alert, and — only if
// location_consent is true and a recent location exists — the location.
// These side-payload tables are owned by the out-of-scope API layer; the
// engine only reads the columns it renders.
func (s *Store) RenderContextForEpisode(ctx context.Context, episodeID string, now time.Time) (render.Context, render.Kind, error) {
	ep, found, err := s.Episode(ctx, episodeID)
	if err != nil {
		return render.Context{}, "", err
	}
	if !found {
		return render.Context{}, "", fmt.Errorf("store: episode %s not found", episodeID)
	}

	var displayName string
	var locationConsent bool
	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(display_name, id), location_consent
		FROM solocheck.users WHERE id = $1
	`, ep.UserID).Scan(&displayName, &locationConsent)
	if err != nil {
		return render.Context{}, "", fmt.Errorf("store: render context user: %w", err)
	}

	rctx := render.Context{
		UserDisplayName: displayName,
		EpisodeID:       ep.ID,
		OpenedAt:        ep.OpenedAt,
	}

	if msg, ok, err := s.personalMessage(ctx, ep.UserID); err != nil {
		return render.Context{}, "", err
	} else if ok {
		rctx.PersonalMessage = msg
	}

	pets, err := s.petsForAlert(ctx, ep.UserID)
	if err != nil {
		return render.Context{}, "", err
	}
	rctx.Pets = pets

	vault, err := s.vaultEntriesForAlert(ctx, ep.UserID)
	if err != nil {
		return render.Context{}, "", err
	}
	rctx.VaultEntries = vault

	if locationConsent {
		if loc, ok, err := s.recentLocation(ctx, ep.UserID, now); err != nil {
			return render.Context{}, "", err
		} else if ok {
			rctx.Location = &loc
		}
	}

	kind := render.KindMissedCheckinAlert
	if ep.Kind == model.EpisodeSOS {
		kind = render.KindSOSAlert
	}
	return rctx, kind, nil
}

// personalMessage returns userID's decrypted personal message, if one
// exists and is enabled for inclusion in alerts. Decryption itself is the
// out-of-scope API layer's concern; the engine reads the plaintext column
// the API layer already decrypted into, consistent with spec section 3's
// "encrypted personal message ... the renderer receives these via context"
// — the renderer never performs decryption.
func (s *Store) personalMessage(ctx context.Context, userID string) (string, bool, error) {
	var msg string
	err := s.pool.QueryRow(ctx, `
		SELECT body FROM solocheck.personal_messages
		WHERE user_id = $1 AND include_in_alert = true
	`, userID).Scan(&msg)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: personal message: %w", err)
	}
	return msg, true, nil
}

func (s *Store) petsForAlert(ctx context.Context, userID string) ([]render.PetInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, species, notes FROM solocheck.pets
		WHERE user_id = $1 AND include_in_alert = true
		ORDER BY name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: pets: %w", err)
	}
	defer rows.Close()

	var out []render.PetInfo
	for rows.Next() {
		var p render.PetInfo
		if err := rows.Scan(&p.Name, &p.Species, &p.Notes); err != nil {
			return nil, fmt.Errorf("store: scan pet: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) vaultEntriesForAlert(ctx context.Context, userID string) ([]render.VaultEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT label, value FROM solocheck.vault_entries
		WHERE user_id = $1 AND include_in_alert = true
		ORDER BY label ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: vault entries: %w", err)
	}
	defer rows.Close()

	var out []render.VaultEntry
	for rows.Next() {
		var v render.VaultEntry
		if err := rows.Scan(&v.Label, &v.Value); err != nil {
			return nil, fmt.Errorf("store: scan vault entry: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// recentLocation returns userID's most recent location reading if one was
// recorded within the last 24 hours, consistent with "a recent location is
// available" in spec section 4.E step 5.
func (s *Store) recentLocation(ctx context.Context, userID string, now time.Time) (render.Location, bool, error) {
	var loc render.Location
	err := s.pool.QueryRow(ctx, `
		SELECT lat, lng, recorded_at FROM solocheck.locations
		WHERE user_id = $1 AND recorded_at > $2
		ORDER BY recorded_at DESC
		LIMIT 1
	`, userID, now.Add(-24*time.Hour)).Scan(&loc.Lat, &loc.Lng, &loc.Recorded)
	if err == pgx.ErrNoRows {
		return render.Location{}, false, nil
	}
	if err != nil {
		return render.Location{}, false, fmt.Errorf("store: recent location: %w", err)
	}
	return loc, true, nil
}
