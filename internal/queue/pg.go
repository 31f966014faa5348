package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/solocheck/engine/internal/model"
)

// PGQueue implements Queue against the dispatch_jobs table (spec section 6):
//
//	dispatch_jobs(id, episode_id, contact_id, channel, attempt, not_before,
//	              state, claimed_by, claim_expires_at, last_error,
//	              prefer_push, template_kind, created_at, updated_at)
//	  with indexes on (state, not_before) and (episode_id)
//
// Claim uses SELECT ... FOR UPDATE SKIP LOCKED, the standard Postgres queue
// idiom, so multiple concurrent engine instances never double-claim a row —
// the same correctness property the teacher leans on ON CONFLICT for in
// scheduled_jobs_worker.go and webhook_handler.go.
type PGQueue struct {
	pool *pgxpool.Pool
}

// NewPGQueue constructs a PGQueue backed by pool.
func NewPGQueue(pool *pgxpool.Pool) *PGQueue {
	return &PGQueue{pool: pool}
}

func (q *PGQueue) Enqueue(ctx context.Context, job model.DispatchJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = model.JobQueued
	}
	_, err := q.pool.Exec(ctx, `
		INSERT INTO solocheck.dispatch_jobs (
			id, episode_id, contact_id, channel, attempt, not_before, state,
			prefer_push, template_kind, last_error, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`, job.ID, job.EpisodeID, job.ContactID, string(job.Channel), job.Attempt,
		job.NotBefore, string(job.State), job.PreferPush, job.TemplateKind, job.LastError)
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

func (q *PGQueue) Claim(ctx context.Context, now time.Time, visTimeout time.Duration) (Claimed, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return Claimed{}, fmt.Errorf("queue: claim begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var job model.DispatchJob
	var channel, state string
	err = tx.QueryRow(ctx, `
		SELECT id, episode_id, contact_id, channel, attempt, not_before, state,
		       prefer_push, template_kind, last_error
		FROM solocheck.dispatch_jobs
		WHERE state = $1 AND not_before <= $2
		ORDER BY not_before ASC, id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, string(model.JobQueued), now).Scan(
		&job.ID, &job.EpisodeID, &job.ContactID, &channel, &job.Attempt, &job.NotBefore,
		&state, &job.PreferPush, &job.TemplateKind, &job.LastError,
	)
	if err == pgx.ErrNoRows {
		return Claimed{}, ErrNoJob
	}
	if err != nil {
		return Claimed{}, fmt.Errorf("queue: claim select: %w", err)
	}
	job.Channel = model.Channel(channel)
	job.State = model.JobInFlight

	token := uuid.NewString()
	claimExpires := now.Add(visTimeout)
	_, err = tx.Exec(ctx, `
		UPDATE solocheck.dispatch_jobs
		SET state = $1, claimed_by = $2, claim_expires_at = $3, updated_at = NOW()
		WHERE id = $4
	`, string(model.JobInFlight), token, claimExpires, job.ID)
	if err != nil {
		return Claimed{}, fmt.Errorf("queue: claim update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Claimed{}, fmt.Errorf("queue: claim commit: %w", err)
	}
	return Claimed{Job: job, ClaimToken: token}, nil
}

func (q *PGQueue) ExtendVisibility(ctx context.Context, claim Claimed, visTimeout time.Duration) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE solocheck.dispatch_jobs
		SET claim_expires_at = claim_expires_at + $1, updated_at = NOW()
		WHERE id = $2 AND claimed_by = $3 AND state = $4
	`, visTimeout, claim.Job.ID, claim.ClaimToken, string(model.JobInFlight))
	if err != nil {
		return fmt.Errorf("queue: extend visibility: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (q *PGQueue) Ack(ctx context.Context, claim Claimed, newState model.JobState, lastError string) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE solocheck.dispatch_jobs
		SET state = $1, last_error = $2, claimed_by = NULL, claim_expires_at = NULL, updated_at = NOW()
		WHERE id = $3 AND claimed_by = $4 AND state = $5
	`, string(newState), lastError, claim.Job.ID, claim.ClaimToken, string(model.JobInFlight))
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (q *PGQueue) Nack(ctx context.Context, claim Claimed) error {
	tag, err := q.pool.Exec(ctx, `
		UPDATE solocheck.dispatch_jobs
		SET state = $1, claimed_by = NULL, claim_expires_at = NULL, updated_at = NOW()
		WHERE id = $2 AND claimed_by = $3 AND state = $4
	`, string(model.JobQueued), claim.Job.ID, claim.ClaimToken, string(model.JobInFlight))
	if err != nil {
		return fmt.Errorf("queue: nack: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (q *PGQueue) CancelQueued(ctx context.Context, episodeID string) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE solocheck.dispatch_jobs
		SET state = $1, updated_at = NOW()
		WHERE episode_id = $2 AND state = $3
	`, string(model.JobDead), episodeID, string(model.JobQueued))
	if err != nil {
		return 0, fmt.Errorf("queue: cancel queued: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Sweep returns any in-flight job whose lease has expired back to queued.
// Run periodically by the dispatch pool alongside its worker loop.
func (q *PGQueue) Sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE solocheck.dispatch_jobs
		SET state = $1, claimed_by = NULL, claim_expires_at = NULL, updated_at = NOW()
		WHERE state = $2 AND claim_expires_at < $3
	`, string(model.JobQueued), string(model.JobInFlight), now)
	if err != nil {
		return 0, fmt.Errorf("queue: sweep: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (q *PGQueue) JobsForEpisode(ctx context.Context, episodeID string) ([]model.DispatchJob, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT id, episode_id, contact_id, channel, attempt, not_before, state,
		       prefer_push, template_kind, last_error
		FROM solocheck.dispatch_jobs
		WHERE episode_id = $1
	`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("queue: jobs for episode: %w", err)
	}
	defer rows.Close()

	var out []model.DispatchJob
	for rows.Next() {
		var job model.DispatchJob
		var channel, state string
		if err := rows.Scan(&job.ID, &job.EpisodeID, &job.ContactID, &channel, &job.Attempt,
			&job.NotBefore, &state, &job.PreferPush, &job.TemplateKind, &job.LastError); err != nil {
			return nil, fmt.Errorf("queue: scan job: %w", err)
		}
		job.Channel = model.Channel(channel)
		job.State = model.JobState(state)
		out = append(out, job)
	}
	return out, rows.Err()
}
