package background

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventpulse/admission/internal/model"
	"github.com/eventpulse/admission/internal/store"
)

func seedEvent(t *testing.T, st *store.Memory, status model.EventStatus, start, end time.Time) *model.Event {
	t.Helper()
	e := &model.Event{
		Title:     "Meetup",
		StartTime: start,
		EndTime:   end,
		Capacity:  10,
		Status:    status,
	}
	require.NoError(t, st.CreateEvent(context.Background(), e))
	return e
}

func TestSyncAdvancesEventStatuses(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	running := seedEvent(t, st, model.EventUpcoming, now.Add(-time.Hour), now.Add(time.Hour))
	over := seedEvent(t, st, model.EventUpcoming, now.Add(-3*time.Hour), now.Add(-time.Hour))
	future := seedEvent(t, st, model.EventUpcoming, now.Add(time.Hour), now.Add(2*time.Hour))
	cancelled := seedEvent(t, st, model.EventCancelled, now.Add(-3*time.Hour), now.Add(-time.Hour))

	NewStatusUpdater(st, 0).Sync(ctx)

	for _, tc := range []struct {
		event *model.Event
		want  model.EventStatus
	}{
		{running, model.EventInProgress},
		{over, model.EventCompleted},
		{future, model.EventUpcoming},
		{cancelled, model.EventCancelled},
	} {
		got, err := st.GetEvent(ctx, tc.event.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Status)
	}
}

func TestSyncCompletesInProgressEvents(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	e := seedEvent(t, st, model.EventInProgress, now.Add(-2*time.Hour), now.Add(-time.Minute))

	started, completed, err := st.SyncEventStatuses(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, started)
	assert.Equal(t, 1, completed)

	got, err := st.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventCompleted, got.Status)

	// A second pass finds nothing left to move.
	started, completed, err = st.SyncEventStatuses(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, started)
	assert.Zero(t, completed)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := store.NewMemory()
	u := NewStatusUpdater(st, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("updater did not stop after cancel")
	}
}
