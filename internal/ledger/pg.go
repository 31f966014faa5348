package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGLedger implements Ledger against the idempotency table (spec section 6):
//
//	idempotency(episode_id, contact_id, channel, outcome, recorded_at,
//	            provider_msg_id)
//	  PRIMARY KEY (episode_id, contact_id, channel)
//
// Record relies on the unique-constraint-violation-as-success rule from
// spec section 5's shared-resource policy: a 23505 error on insert means a
// concurrent worker already recorded the same outcome, which is success,
// not failure — the same idiom the teacher uses for webhook replay
// protection in services/payment-worker/webhook_handler.go.
type PGLedger struct {
	pool *pgxpool.Pool
}

// NewPGLedger constructs a PGLedger backed by pool.
func NewPGLedger(pool *pgxpool.Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

func (l *PGLedger) Check(ctx context.Context, key Key) (Entry, bool, error) {
	var entry Entry
	entry.Key = key
	var providerMsgID *string
	err := l.pool.QueryRow(ctx, `
		SELECT outcome, provider_msg_id
		FROM solocheck.idempotency
		WHERE episode_id = $1 AND contact_id = $2 AND channel = $3
	`, key.EpisodeID, key.ContactID, key.Channel).Scan(&entry.Outcome, &providerMsgID)
	if err == pgx.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("ledger: check: %w", err)
	}
	if providerMsgID != nil {
		entry.ProviderMsgID = *providerMsgID
	}
	return entry, true, nil
}

func (l *PGLedger) Record(ctx context.Context, entry Entry) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO solocheck.idempotency
			(episode_id, contact_id, channel, outcome, provider_msg_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (episode_id, contact_id, channel) DO NOTHING
	`, entry.Key.EpisodeID, entry.Key.ContactID, entry.Key.Channel, entry.Outcome, nullIfEmpty(entry.ProviderMsgID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("ledger: record: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
