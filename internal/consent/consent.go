// Package consent implements the Consent Gate (module H): a pure query
// over a user's contacts, returning only those eligible to be alerted,
// fronted by a short-TTL cache so a burst of overdue users at scan time
// doesn't hammer the contacts table.
package consent

import (
	"context"
	"time"

	"github.com/solocheck/engine/internal/model"
	"golang.org/x/sync/singleflight"
)

// Store is the read-only contacts repository the Gate queries on a cache
// miss. Satisfied by the pgxpool-backed implementation in internal/store.
type Store interface {
	ContactsForUser(ctx context.Context, userID string) ([]model.Contact, error)
}

// Gate implements eligible_contacts(user_id, now) from spec section 4.H:
// a contact is eligible iff consent_status = approved and
// (consent_expires_at IS NULL OR consent_expires_at > now), ordered by
// priority ascending then creation time.
//
// The scanner and the SOS coordinator can ask for the same user's contacts
// concurrently within the same cache-miss window; sf collapses
// those into a single ContactsForUser call so a burst of misses for one
// user never turns into a burst of identical queries.
type Gate struct {
	store Store
	cache Cache
	ttl   time.Duration
	sf    singleflight.Group
}

// Cache is the short-TTL (<=30s per spec) per-user result cache. Satisfied
// by the Redis-backed implementation in this package; tests may supply an
// in-memory fake.
type Cache interface {
	Get(ctx context.Context, userID string) ([]model.Contact, bool, error)
	Set(ctx context.Context, userID string, contacts []model.Contact, ttl time.Duration) error
}

// New constructs a Gate. ttl should be <=30s per spec section 4.H; callers
// pass 0 to disable caching entirely (every lookup hits the store).
func New(store Store, cache Cache, ttl time.Duration) *Gate {
	return &Gate{store: store, cache: cache, ttl: ttl}
}

// EligibleContacts returns userID's contacts eligible for alerting at now,
// ordered by priority ascending. Contacts are assumed pre-sorted by
// creation time from the store, so only a stable priority sort is applied
// here.
func (g *Gate) EligibleContacts(ctx context.Context, userID string, now time.Time) ([]model.Contact, error) {
	if g.cache != nil && g.ttl > 0 {
		if cached, ok, err := g.cache.Get(ctx, userID); err == nil && ok {
			return filterEligible(cached, now), nil
		}
	}

	v, err, _ := g.sf.Do(userID, func() (interface{}, error) {
		contacts, err := g.store.ContactsForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if g.cache != nil && g.ttl > 0 {
			_ = g.cache.Set(ctx, userID, contacts, g.ttl)
		}
		return contacts, nil
	})
	if err != nil {
		return nil, err
	}

	return filterEligible(v.([]model.Contact), now), nil
}

func filterEligible(contacts []model.Contact, now time.Time) []model.Contact {
	out := make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		if c.Eligible(now) {
			out = append(out, c)
		}
	}
	stablePrioritySort(out)
	return out
}

// stablePrioritySort orders by Priority ascending, preserving relative
// order of equal-priority contacts (their existing creation-time order).
func stablePrioritySort(contacts []model.Contact) {
	for i := 1; i < len(contacts); i++ {
		for j := i; j > 0 && contacts[j].Priority < contacts[j-1].Priority; j-- {
			contacts[j], contacts[j-1] = contacts[j-1], contacts[j]
		}
	}
}
