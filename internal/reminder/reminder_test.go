package reminder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/solocheck/engine/internal/adapter"
	"github.com/solocheck/engine/internal/clock"
	"github.com/solocheck/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	users    []model.User
	settings map[string]model.ReminderSettings
	fired    map[string]bool
}

func (s *fakeStore) ActiveUsersWithReminders(ctx context.Context) ([]model.User, error) {
	return s.users, nil
}

func (s *fakeStore) ReminderSettingsForUser(ctx context.Context, userID string) (model.ReminderSettings, bool, error) {
	rs, ok := s.settings[userID]
	return rs, ok, nil
}

func (s *fakeStore) MarkReminderFired(ctx context.Context, userID string, deadline time.Time, hoursBefore int) (bool, error) {
	key := fmt.Sprintf("%s|%s|%d", userID, deadline, hoursBefore)
	if s.fired[key] {
		return false, nil
	}
	s.fired[key] = true
	return true, nil
}

type recordingPusher struct {
	sent int
}

func (p *recordingPusher) Send(ctx context.Context, address string, msg adapter.Message) (adapter.Outcome, error) {
	p.sent++
	return adapter.Outcome{Kind: adapter.OutcomeSent}, nil
}

func TestTickFiresReminderWithinWindow(t *testing.T) {
	ctx := context.Background()
	lastCheckin := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	// deadline = 2025-01-08T00:00:00Z; fire_at for h=24 is 2025-01-07T00:00:00Z
	now := time.Date(2025, 1, 6, 23, 58, 0, 0, time.UTC)
	clk := clock.NewFake(now)

	store := &fakeStore{
		fired: map[string]bool{},
		settings: map[string]model.ReminderSettings{
			"u1": {UserID: "u1", HoursBefore: []int{24}, ChannelsEnabled: map[model.Channel]bool{model.ChannelPush: true}},
		},
		users: []model.User{{ID: "u1", CycleDays: 7, GraceHours: 24, LastCheckinAt: &lastCheckin, IsActive: true, TimeZone: "UTC"}},
	}
	pusher := &recordingPusher{}
	s := New(DefaultConfig(), store, pusher, clk)

	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 1, pusher.sent)
}

func TestTickDoesNotRefireWithinSameTick(t *testing.T) {
	ctx := context.Background()
	lastCheckin := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 6, 23, 58, 0, 0, time.UTC)
	clk := clock.NewFake(now)

	store := &fakeStore{
		fired: map[string]bool{},
		settings: map[string]model.ReminderSettings{
			"u1": {UserID: "u1", HoursBefore: []int{24}, ChannelsEnabled: map[model.Channel]bool{model.ChannelPush: true}},
		},
		users: []model.User{{ID: "u1", CycleDays: 7, GraceHours: 24, LastCheckinAt: &lastCheckin, IsActive: true, TimeZone: "UTC"}},
	}
	pusher := &recordingPusher{}
	s := New(DefaultConfig(), store, pusher, clk)

	require.NoError(t, s.Tick(ctx))
	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 1, pusher.sent, "a reminder already recorded fired must not fire twice")
}

func TestTickSuppressesDuringQuietWindow(t *testing.T) {
	ctx := context.Background()
	lastCheckin := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	// fire_at for h=24 falls at 2025-01-07T00:00:00Z, inside a 22:00-07:00 quiet window.
	now := time.Date(2025, 1, 6, 23, 58, 0, 0, time.UTC)
	clk := clock.NewFake(now)

	store := &fakeStore{
		fired: map[string]bool{},
		settings: map[string]model.ReminderSettings{
			"u1": {
				UserID: "u1", HoursBefore: []int{24},
				ChannelsEnabled: map[model.Channel]bool{model.ChannelPush: true},
				QuietStart:      &model.TimeOfDay{Hour: 22, Minute: 0},
				QuietEnd:        &model.TimeOfDay{Hour: 7, Minute: 0},
			},
		},
		users: []model.User{{ID: "u1", CycleDays: 7, GraceHours: 24, LastCheckinAt: &lastCheckin, IsActive: true, TimeZone: "UTC"}},
	}
	pusher := &recordingPusher{}
	s := New(DefaultConfig(), store, pusher, clk)

	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 0, pusher.sent, "a reminder due inside the quiet window must be suppressed")
}

func TestTickSkipsUserWithoutChannelEnabled(t *testing.T) {
	ctx := context.Background()
	lastCheckin := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 6, 23, 58, 0, 0, time.UTC)
	clk := clock.NewFake(now)

	store := &fakeStore{
		fired: map[string]bool{},
		settings: map[string]model.ReminderSettings{
			"u1": {UserID: "u1", HoursBefore: []int{24}, ChannelsEnabled: map[model.Channel]bool{}},
		},
		users: []model.User{{ID: "u1", CycleDays: 7, GraceHours: 24, LastCheckinAt: &lastCheckin, IsActive: true, TimeZone: "UTC"}},
	}
	pusher := &recordingPusher{}
	s := New(DefaultConfig(), store, pusher, clk)

	require.NoError(t, s.Tick(ctx))
	assert.Equal(t, 0, pusher.sent)
}
