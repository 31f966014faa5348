package ledger

import (
	"context"
	"sync"
)

// MemLedger is an in-memory Ledger used by the unit and idempotence tests
// in spec section 8.
type MemLedger struct {
	mu      sync.Mutex
	entries map[Key]Entry
}

// NewMemLedger returns an empty MemLedger.
func NewMemLedger() *MemLedger {
	return &MemLedger{entries: make(map[Key]Entry)}
}

func (l *MemLedger) Check(ctx context.Context, key Key) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	return entry, ok, nil
}

func (l *MemLedger) Record(ctx context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[entry.Key]; exists {
		return nil
	}
	l.entries[entry.Key] = entry
	return nil
}

// Len reports the number of recorded entries, used by tests asserting the
// "exactly one Ledger entry" scenarios in spec section 8.
func (l *MemLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
