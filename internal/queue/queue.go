// Package queue implements the engine's durable job queue (module D).
//
// The contract below is the literal one from spec section 4.D: enqueue
// with delay, claim with a visibility timeout, extend the visibility of
// an in-flight claim, acknowledge, negative-acknowledge, and a sweep that
// returns expired in-flight jobs to queued. PGQueue realizes this contract
// against the dispatch_jobs schema from spec section 6, grounded on the
// teacher's pgx/v5 + transactional ON CONFLICT idioms
// (services/payment-worker/webhook_handler.go,
// services/consolidated-worker-go/scheduled_jobs_worker.go). MemQueue
// realizes the same contract in memory for the deterministic tests in
// spec section 8.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/solocheck/engine/internal/model"
)

// ErrNoJob is returned by Claim when no job is currently ready.
var ErrNoJob = errors.New("queue: no job ready")

// ErrNotClaimed is returned by ExtendVisibility, Ack, and Nack when the
// caller's claim token no longer matches the job's current claim (it was
// already acked, nacked, or reclaimed after a visibility timeout).
var ErrNotClaimed = errors.New("queue: job not claimed by caller")

// Claimed is a job together with the opaque claim token the caller must
// present to ExtendVisibility, Ack, or Nack it.
type Claimed struct {
	Job        model.DispatchJob
	ClaimToken string
}

// Queue is the durable FIFO-per-key job queue described in spec section 4.D.
type Queue interface {
	// Enqueue inserts a new job in state queued, ready at NotBefore.
	Enqueue(ctx context.Context, job model.DispatchJob) error

	// Claim atomically selects one ready job (state=queued, not_before<=now),
	// marks it in-flight with a lease expiring after visTimeout, and
	// returns it with a claim token. Returns ErrNoJob if none is ready.
	Claim(ctx context.Context, now time.Time, visTimeout time.Duration) (Claimed, error)

	// ExtendVisibility pushes out the lease on an in-flight claim, used
	// when rendering or an adapter call is running long.
	ExtendVisibility(ctx context.Context, claim Claimed, visTimeout time.Duration) error

	// Ack marks the claimed job delivered, failed, or dead (terminal for
	// this attempt) depending on newState, which is JobDelivered, JobFailed,
	// or JobDead.
	Ack(ctx context.Context, claim Claimed, newState model.JobState, lastError string) error

	// Nack releases the claim early (e.g. the worker is shutting down)
	// without recording any terminal state, returning the job to queued
	// so the next sweep or claimer can pick it up immediately.
	Nack(ctx context.Context, claim Claimed) error

	// CancelQueued transitions every queued job for episodeID to dead,
	// used when a user check-in cancels an open episode (spec section 5).
	CancelQueued(ctx context.Context, episodeID string) (int, error)

	// Sweep returns any in-flight job whose lease has expired back to
	// queued, so a crashed or stalled worker's jobs remain deliverable.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// JobsForEpisode lists every job recorded for an episode, used by the
	// dispatch pool's episode-closure check.
	JobsForEpisode(ctx context.Context, episodeID string) ([]model.DispatchJob, error)
}
