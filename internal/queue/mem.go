package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/solocheck/engine/internal/model"
)

type memJob struct {
	job            model.DispatchJob
	claimToken     string
	claimExpiresAt time.Time
}

// MemQueue is an in-memory Queue implementation used by the unit and
// idempotence tests in spec section 8, where a live Postgres isn't
// available to the test binary.
type MemQueue struct {
	mu   sync.Mutex
	jobs map[string]*memJob // by job ID
}

// NewMemQueue returns an empty MemQueue.
func NewMemQueue() *MemQueue {
	return &MemQueue{jobs: make(map[string]*memJob)}
}

func (q *MemQueue) Enqueue(ctx context.Context, job model.DispatchJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = model.JobQueued
	}
	q.jobs[job.ID] = &memJob{job: job}
	return nil
}

func (q *MemQueue) Claim(ctx context.Context, now time.Time, visTimeout time.Duration) (Claimed, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Deterministic order: earliest not_before first, tie-broken by job ID.
	// Enqueue assigns random UUIDs to jobs without an ID, so jobs with equal
	// not_before are not claimed in enqueue order.
	var best *memJob
	for _, j := range q.jobs {
		if j.job.State != model.JobQueued {
			continue
		}
		if j.job.NotBefore.After(now) {
			continue
		}
		if best == nil || j.job.NotBefore.Before(best.job.NotBefore) ||
			(j.job.NotBefore.Equal(best.job.NotBefore) && j.job.ID < best.job.ID) {
			best = j
		}
	}
	if best == nil {
		return Claimed{}, ErrNoJob
	}

	best.job.State = model.JobInFlight
	best.claimToken = uuid.NewString()
	best.claimExpiresAt = now.Add(visTimeout)

	return Claimed{Job: best.job, ClaimToken: best.claimToken}, nil
}

func (q *MemQueue) ExtendVisibility(ctx context.Context, claim Claimed, visTimeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[claim.Job.ID]
	if !ok || j.claimToken != claim.ClaimToken {
		return ErrNotClaimed
	}
	j.claimExpiresAt = j.claimExpiresAt.Add(visTimeout)
	return nil
}

func (q *MemQueue) Ack(ctx context.Context, claim Claimed, newState model.JobState, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[claim.Job.ID]
	if !ok || j.claimToken != claim.ClaimToken {
		return ErrNotClaimed
	}
	j.job.State = newState
	j.job.LastError = lastError
	j.claimToken = ""
	return nil
}

func (q *MemQueue) Nack(ctx context.Context, claim Claimed) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[claim.Job.ID]
	if !ok || j.claimToken != claim.ClaimToken {
		return ErrNotClaimed
	}
	j.job.State = model.JobQueued
	j.claimToken = ""
	return nil
}

func (q *MemQueue) CancelQueued(ctx context.Context, episodeID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if j.job.EpisodeID == episodeID && j.job.State == model.JobQueued {
			j.job.State = model.JobDead
			n++
		}
	}
	return n, nil
}

func (q *MemQueue) Sweep(ctx context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if j.job.State == model.JobInFlight && j.claimExpiresAt.Before(now) {
			j.job.State = model.JobQueued
			j.claimToken = ""
			n++
		}
	}
	return n, nil
}

func (q *MemQueue) JobsForEpisode(ctx context.Context, episodeID string) ([]model.DispatchJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.DispatchJob
	for _, j := range q.jobs {
		if j.job.EpisodeID == episodeID {
			out = append(out, j.job)
		}
	}
	return out, nil
}
