package queue

import (
	"context"
	"testing"
	"time"

	"github.com/solocheck/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemQueueClaimOrdersByNotBeforeThenID(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, q.Enqueue(ctx, model.DispatchJob{ID: "b", EpisodeID: "e1", NotBefore: now}))
	require.NoError(t, q.Enqueue(ctx, model.DispatchJob{ID: "a", EpisodeID: "e1", NotBefore: now}))
	require.NoError(t, q.Enqueue(ctx, model.DispatchJob{ID: "c", EpisodeID: "e1", NotBefore: now.Add(time.Hour)}))

	claim, err := q.Claim(ctx, now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "a", claim.Job.ID, "earliest not_before with tie-break by id must claim first")

	claim2, err := q.Claim(ctx, now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "b", claim2.Job.ID)

	_, err = q.Claim(ctx, now, time.Minute)
	assert.ErrorIs(t, err, ErrNoJob, "the not-yet-ready job must not be claimable")
}

func TestMemQueueAckRequiresMatchingClaimToken(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	now := time.Now()
	require.NoError(t, q.Enqueue(ctx, model.DispatchJob{ID: "j1", EpisodeID: "e1", NotBefore: now}))

	claim, err := q.Claim(ctx, now, time.Minute)
	require.NoError(t, err)

	stale := Claimed{Job: claim.Job, ClaimToken: "wrong-token"}
	err = q.Ack(ctx, stale, model.JobDelivered, "")
	assert.ErrorIs(t, err, ErrNotClaimed)

	require.NoError(t, q.Ack(ctx, claim, model.JobDelivered, ""))
}

func TestMemQueueNackReturnsJobToQueued(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	now := time.Now()
	require.NoError(t, q.Enqueue(ctx, model.DispatchJob{ID: "j1", EpisodeID: "e1", NotBefore: now}))

	claim, err := q.Claim(ctx, now, time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, claim))

	jobs, err := q.JobsForEpisode(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobQueued, jobs[0].State)

	_, err = q.Claim(ctx, now, time.Minute)
	assert.NoError(t, err, "a nacked job must be immediately reclaimable")
}

func TestMemQueueSweepReturnsExpiredClaimToQueued(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	now := time.Now()
	require.NoError(t, q.Enqueue(ctx, model.DispatchJob{ID: "j1", EpisodeID: "e1", NotBefore: now}))

	_, err := q.Claim(ctx, now, time.Second)
	require.NoError(t, err)

	n, err := q.Sweep(ctx, now.Add(500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "visibility timeout has not lapsed yet")

	n, err = q.Sweep(ctx, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs, err := q.JobsForEpisode(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.JobQueued, jobs[0].State)
}

func TestMemQueueCancelQueuedKillsOnlyQueuedJobs(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue()
	now := time.Now()
	require.NoError(t, q.Enqueue(ctx, model.DispatchJob{ID: "j1", EpisodeID: "e1", NotBefore: now}))
	require.NoError(t, q.Enqueue(ctx, model.DispatchJob{ID: "j2", EpisodeID: "e1", NotBefore: now}))

	claimed, err := q.Claim(ctx, now, time.Minute)
	require.NoError(t, err)

	n, err := q.CancelQueued(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the still-queued job should be cancelled")

	jobs, err := q.JobsForEpisode(ctx, "e1")
	require.NoError(t, err)
	states := map[string]model.JobState{}
	for _, j := range jobs {
		states[j.ID] = j.State
	}
	assert.Equal(t, model.JobInFlight, states[claimed.Job.ID], "in-flight job must continue to completion")
	for id, state := range states {
		if id != claimed.Job.ID {
			assert.Equal(t, model.JobDead, state)
		}
	}
}
