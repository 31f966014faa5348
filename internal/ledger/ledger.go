// Package ledger implements the Idempotency Ledger (module I): the
// authoritative, append-only record of terminal delivery outcomes keyed by
// (episode_id, contact_id, channel). The dispatch pool checks it before
// every send attempt and records into it after every terminal outcome, so
// a job reclaimed after a visibility-timeout lapse or a worker restart can
// never cause a duplicate alert.
package ledger

import "context"

// Key identifies one (episode, contact, channel) delivery slot. Per spec
// section 6 this triple is the ledger's primary key — at most one entry
// ever exists per key.
type Key struct {
	EpisodeID string
	ContactID string
	Channel   string
}

// Entry is a recorded terminal outcome.
type Entry struct {
	Key           Key
	Outcome       string
	ProviderMsgID string
}

// Ledger is the contract from spec section 4.I: check(key) -> Option<Outcome>
// and record(key, outcome), with record being idempotent — a duplicate
// record for the same key is treated as success, never as an error,
// because under contention someone else recorded the same outcome first.
type Ledger interface {
	// Check reports the recorded outcome for key, if any.
	Check(ctx context.Context, key Key) (entry Entry, found bool, err error)

	// Record durably stores entry. If a row for entry.Key already exists
	// (a concurrent worker won the race), Record succeeds without
	// overwriting it.
	Record(ctx context.Context, entry Entry) error
}
