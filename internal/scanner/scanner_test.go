package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/solocheck/engine/internal/clock"
	"github.com/solocheck/engine/internal/model"
	"github.com/solocheck/engine/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	users    []model.User
	episodes map[string]model.AlertEpisode
	closed   map[string]model.EpisodeResolution
}

func newFakeStore() *fakeStore {
	return &fakeStore{episodes: map[string]model.AlertEpisode{}, closed: map[string]model.EpisodeResolution{}}
}

func (s *fakeStore) OverdueUsersAt(ctx context.Context, now time.Time) ([]model.User, error) {
	return s.users, nil
}

func (s *fakeStore) CreateEpisode(ctx context.Context, ep model.AlertEpisode) (bool, error) {
	if _, exists := s.episodes[ep.ID]; exists {
		return false, nil
	}
	s.episodes[ep.ID] = ep
	return true, nil
}

func (s *fakeStore) CloseEpisode(ctx context.Context, episodeID string, resolution model.EpisodeResolution, closedAt time.Time) error {
	s.closed[episodeID] = resolution
	return nil
}

type fakeGate struct {
	contacts []model.Contact
}

func (g *fakeGate) EligibleContacts(ctx context.Context, userID string, now time.Time) ([]model.Contact, error) {
	return g.contacts, nil
}

func TestTickOpensEpisodeAndEnqueuesScenario1(t *testing.T) {
	ctx := context.Background()
	lastCheckin := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 8, 0, 0, 1, 0, time.UTC)
	clk := clock.NewFake(now)

	store := newFakeStore()
	store.users = []model.User{{
		ID: "u1", CycleDays: 7, GraceHours: 24, LastCheckinAt: &lastCheckin, IsActive: true,
	}}
	gate := &fakeGate{contacts: []model.Contact{
		{ID: "c1", UserID: "u1", Channel: model.ChannelEmail, ConsentStatus: model.ConsentApproved},
		{ID: "c2", UserID: "u1", Channel: model.ChannelPush, ConsentStatus: model.ConsentApproved},
	}}
	q := queue.NewMemQueue()
	s := New(DefaultConfig(), store, gate, q, clk)

	require.NoError(t, s.Tick(ctx))

	require.Len(t, store.episodes, 1)
	var episodeID string
	for id := range store.episodes {
		episodeID = id
	}
	jobs, err := q.JobsForEpisode(ctx, episodeID)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestTickIsIdempotentAcrossOverlappingTicks(t *testing.T) {
	ctx := context.Background()
	lastCheckin := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 8, 0, 0, 1, 0, time.UTC)
	clk := clock.NewFake(now)

	store := newFakeStore()
	store.users = []model.User{{ID: "u1", CycleDays: 7, GraceHours: 24, LastCheckinAt: &lastCheckin, IsActive: true}}
	gate := &fakeGate{contacts: []model.Contact{{ID: "c1", UserID: "u1", Channel: model.ChannelEmail, ConsentStatus: model.ConsentApproved}}}
	q := queue.NewMemQueue()
	s := New(DefaultConfig(), store, gate, q, clk)

	require.NoError(t, s.Tick(ctx))
	require.NoError(t, s.Tick(ctx))

	require.Len(t, store.episodes, 1, "a second overlapping tick must not open a duplicate episode")
	var episodeID string
	for id := range store.episodes {
		episodeID = id
	}
	jobs, err := q.JobsForEpisode(ctx, episodeID)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "the idempotency pin must prevent a duplicate enqueue")
}

func TestTickClosesEpisodeImmediatelyWithNoApprovedContacts(t *testing.T) {
	ctx := context.Background()
	lastCheckin := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 8, 0, 0, 1, 0, time.UTC)
	clk := clock.NewFake(now)

	store := newFakeStore()
	store.users = []model.User{{ID: "u1", CycleDays: 7, GraceHours: 24, LastCheckinAt: &lastCheckin, IsActive: true}}
	gate := &fakeGate{}
	q := queue.NewMemQueue()
	s := New(DefaultConfig(), store, gate, q, clk)

	require.NoError(t, s.Tick(ctx))

	require.Len(t, store.closed, 1)
	for _, res := range store.closed {
		assert.Equal(t, model.ResolutionAllDispatched, res)
	}
}

func TestEpisodeIDIsStableAndDeterministic(t *testing.T) {
	ws := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	a := EpisodeID("u1", ws)
	b := EpisodeID("u1", ws)
	c := EpisodeID("u2", ws)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
