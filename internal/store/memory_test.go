package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventpulse/admission/internal/model"
)

func seedEvent(t *testing.T, m *Memory, start time.Time) *model.Event {
	t.Helper()
	e := &model.Event{
		Title:     "Meetup",
		StartTime: start,
		EndTime:   start.Add(3 * time.Hour),
		Capacity:  10,
		Status:    model.EventUpcoming,
	}
	require.NoError(t, m.CreateEvent(context.Background(), e))
	return e
}

func seedRegistration(t *testing.T, m *Memory, eventID int64, email string, status model.RegistrationStatus) *model.Registration {
	t.Helper()
	r := &model.Registration{
		ID:          uuid.New().String(),
		EventID:     eventID,
		PersonEmail: email,
		Tier:        model.GeneralAdmission,
		Status:      status,
	}
	require.NoError(t, m.CreateRegistration(context.Background(), r))
	return r
}

func TestFindCheckinCandidateIncludesAttended(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	e := seedEvent(t, m, time.Now().Add(time.Hour))
	reg := seedRegistration(t, m, e.ID, "a@example.com", model.StatusRegistered)

	_, err := m.MarkAttended(ctx, reg.ID, &model.CheckinRecord{Method: model.CheckinScanned})
	require.NoError(t, err)

	// A re-scan by email must still find the registration so it can be
	// reported as already checked in, not as unknown.
	got, err := m.FindCheckinCandidate(ctx, e.ID, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAttended, got.Status)
}

func TestFindCheckinCandidatePrefersActiveOverCancelled(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	e := seedEvent(t, m, time.Now().Add(time.Hour))
	reg := seedRegistration(t, m, e.ID, "a@example.com", model.StatusRegistered)

	_, err := m.CancelRegistration(ctx, reg.ID)
	require.NoError(t, err)

	// A cancelled registration still resolves, so the caller can report
	// it as not eligible rather than unknown.
	got, err := m.FindCheckinCandidate(ctx, e.ID, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	// Once the person re-registers, the active registration wins even
	// though the cancelled one is older.
	again := seedRegistration(t, m, e.ID, "a@example.com", model.StatusRegistered)
	got, err = m.FindCheckinCandidate(ctx, e.ID, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, again.ID, got.ID)
}

func TestCheckinCandidateOnMatchesSameDay(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	today := seedEvent(t, m, now.Add(time.Minute))
	tomorrow := seedEvent(t, m, now.Add(26*time.Hour))

	seedRegistration(t, m, tomorrow.ID, "a@example.com", model.StatusRegistered)
	want := seedRegistration(t, m, today.ID, "a@example.com", model.StatusRegistered)

	got, err := m.CheckinCandidateOn(ctx, "a@example.com", now)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)

	_, err = m.CheckinCandidateOn(ctx, "stranger@example.com", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkAttendedPrecedence(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	e := seedEvent(t, m, time.Now().Add(time.Hour))
	reg := seedRegistration(t, m, e.ID, "a@example.com", model.StatusRegistered)

	attended, err := m.MarkAttended(ctx, reg.ID, &model.CheckinRecord{Method: model.CheckinScanned})
	require.NoError(t, err)
	assert.Equal(t, model.StatusAttended, attended.Status)

	// A second attempt reports the existing check-in, even though the
	// registration is no longer in the REGISTERED state.
	_, err = m.MarkAttended(ctx, reg.ID, &model.CheckinRecord{Method: model.CheckinScanned})
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	rec, err := m.GetCheckin(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckinScanned, rec.Method)
}

func TestCreateRegistrationAssignsWaitlistPosition(t *testing.T) {
	m := NewMemory()
	e := seedEvent(t, m, time.Now().Add(time.Hour))

	a := seedRegistration(t, m, e.ID, "a@example.com", model.StatusWaitlisted)
	b := seedRegistration(t, m, e.ID, "b@example.com", model.StatusWaitlisted)
	assert.Equal(t, 1, a.WaitlistPosition)
	assert.Equal(t, 2, b.WaitlistPosition)
}

func TestSearchEventsFilters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e1 := &model.Event{Title: "GopherCon", Location: "Berlin", Category: "Tech", StartTime: time.Now(), Capacity: 10}
	e2 := &model.Event{Title: "Food Fair", Location: "Munich", Category: "Food", StartTime: time.Now(), Capacity: 10}
	require.NoError(t, m.CreateEvent(ctx, e1))
	require.NoError(t, m.CreateEvent(ctx, e2))

	got, err := m.SearchEvents(ctx, "gopher", "", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "GopherCon", got[0].Title)

	got, err = m.SearchEvents(ctx, "", "munich", "")
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = m.SearchEvents(ctx, "", "", "All")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
