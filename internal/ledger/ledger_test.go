package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemLedgerRecordIsIdempotent(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()
	key := Key{EpisodeID: "e1", ContactID: "c1", Channel: "email"}

	require.NoError(t, l.Record(ctx, Entry{Key: key, Outcome: "sent", ProviderMsgID: "m1"}))
	require.NoError(t, l.Record(ctx, Entry{Key: key, Outcome: "provider-reject"}))

	entry, found, err := l.Check(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "sent", entry.Outcome)
	assert.Equal(t, "m1", entry.ProviderMsgID)
	assert.Equal(t, 1, l.Len())
}

func TestMemLedgerCheckMiss(t *testing.T) {
	l := NewMemLedger()
	_, found, err := l.Check(context.Background(), Key{EpisodeID: "e1", ContactID: "c1", Channel: "email"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemLedgerConcurrentRecordRaceHasOneWinner(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()
	key := Key{EpisodeID: "e1", ContactID: "c1", Channel: "push"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Record(ctx, Entry{Key: key, Outcome: "sent"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, l.Len())
}

func TestMemLedgerDistinctChannelsAreIndependentKeys(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()
	emailKey := Key{EpisodeID: "e1", ContactID: "c1", Channel: "email"}
	pushKey := Key{EpisodeID: "e1", ContactID: "c1", Channel: "push"}

	require.NoError(t, l.Record(ctx, Entry{Key: emailKey, Outcome: "sent"}))
	require.NoError(t, l.Record(ctx, Entry{Key: pushKey, Outcome: "invalid-address"}))

	assert.Equal(t, 2, l.Len())
}
