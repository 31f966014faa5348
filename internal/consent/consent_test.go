package consent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/solocheck/engine/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	contacts map[string][]model.Contact
	calls    int
	release  chan struct{} // if non-nil, ContactsForUser blocks until closed
}

func (s *fakeStore) ContactsForUser(ctx context.Context, userID string) ([]model.Contact, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.release != nil {
		<-s.release
	}
	return s.contacts[userID], nil
}

func mustMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestEligibleContactsFiltersAndOrders(t *testing.T) {
	now := time.Date(2026, 1, 8, 0, 0, 1, 0, time.UTC)
	expired := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	store := &fakeStore{contacts: map[string][]model.Contact{
		"u1": {
			{ID: "low", Priority: 3, ConsentStatus: model.ConsentApproved},
			{ID: "rejected", Priority: 1, ConsentStatus: model.ConsentRejected},
			{ID: "high", Priority: 1, ConsentStatus: model.ConsentApproved},
			{ID: "expired", Priority: 1, ConsentStatus: model.ConsentApproved, ConsentExpiresAt: &expired},
			{ID: "notYetExpired", Priority: 2, ConsentStatus: model.ConsentApproved, ConsentExpiresAt: &future},
		},
	}}

	gate := New(store, nil, 0)
	got, err := gate.EligibleContacts(context.Background(), "u1", now)
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.Equal(t, "high", got[0].ID)
	require.Equal(t, "notYetExpired", got[1].ID)
	require.Equal(t, "low", got[2].ID)
}

func TestEligibleContactsCachesAcrossLookups(t *testing.T) {
	_, client := mustMiniredis(t)
	cache := NewRedisCache(client)

	store := &fakeStore{contacts: map[string][]model.Contact{
		"u1": {{ID: "c1", Priority: 1, ConsentStatus: model.ConsentApproved}},
	}}
	gate := New(store, cache, 30*time.Second)
	now := time.Now()

	_, err := gate.EligibleContacts(context.Background(), "u1", now)
	require.NoError(t, err)
	_, err = gate.EligibleContacts(context.Background(), "u1", now)
	require.NoError(t, err)

	require.Equal(t, 1, store.calls, "second lookup should be served from cache")
}

func TestEligibleContactsCacheExpires(t *testing.T) {
	mr, client := mustMiniredis(t)
	cache := NewRedisCache(client)

	store := &fakeStore{contacts: map[string][]model.Contact{
		"u1": {{ID: "c1", Priority: 1, ConsentStatus: model.ConsentApproved}},
	}}
	gate := New(store, cache, 5*time.Second)
	now := time.Now()

	_, err := gate.EligibleContacts(context.Background(), "u1", now)
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)

	_, err = gate.EligibleContacts(context.Background(), "u1", now)
	require.NoError(t, err)

	require.Equal(t, 2, store.calls, "expired cache entry should fall through to the store")
}

func TestEligibleContactsCollapsesConcurrentMisses(t *testing.T) {
	store := &fakeStore{
		release: make(chan struct{}),
		contacts: map[string][]model.Contact{
			"u1": {{ID: "c1", Priority: 1, ConsentStatus: model.ConsentApproved}},
		},
	}
	gate := New(store, nil, 0)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.EligibleContacts(context.Background(), "u1", now)
			require.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.calls >= 1
	}, time.Second, time.Millisecond)
	close(store.release)
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, 1, store.calls, "concurrent misses for the same user must collapse into one store call")
}
