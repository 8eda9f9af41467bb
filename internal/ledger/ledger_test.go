package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventpulse/admission/internal/model"
)

func newTestLedger(eventID int64, capacity int) *Ledger {
	l := New()
	l.Configure(eventID, []model.TicketTier{{Name: model.GeneralAdmission, Capacity: capacity}})
	return l
}

func TestReserveUntilFull(t *testing.T) {
	l := newTestLedger(1, 2)

	tok1, err := l.Reserve(1, model.GeneralAdmission)
	require.NoError(t, err)
	tok2, err := l.Reserve(1, model.GeneralAdmission)
	require.NoError(t, err)
	assert.NotEqual(t, tok1, tok2)

	_, err = l.Reserve(1, model.GeneralAdmission)
	assert.ErrorIs(t, err, ErrFull)

	n, err := l.Confirmed(1, model.GeneralAdmission)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReserveUnknownTier(t *testing.T) {
	l := newTestLedger(1, 1)

	_, err := l.Reserve(1, "VIP")
	assert.ErrorIs(t, err, ErrUnknownTier)

	_, err = l.Reserve(99, model.GeneralAdmission)
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestReleaseFreesSeat(t *testing.T) {
	l := newTestLedger(1, 1)

	tok, err := l.Reserve(1, model.GeneralAdmission)
	require.NoError(t, err)
	_, err = l.Reserve(1, model.GeneralAdmission)
	require.ErrorIs(t, err, ErrFull)

	require.NoError(t, l.Release(1, model.GeneralAdmission, tok))

	_, err = l.Reserve(1, model.GeneralAdmission)
	assert.NoError(t, err)
}

func TestDoubleReleaseIsIdempotent(t *testing.T) {
	l := newTestLedger(1, 3)

	tok, err := l.Reserve(1, model.GeneralAdmission)
	require.NoError(t, err)

	require.NoError(t, l.Release(1, model.GeneralAdmission, tok))
	// Second release must not decrement again.
	require.NoError(t, l.Release(1, model.GeneralAdmission, tok))

	n, err := l.Confirmed(1, model.GeneralAdmission)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReleaseForeignTokenIgnored(t *testing.T) {
	l := newTestLedger(1, 1)

	_, err := l.Reserve(1, model.GeneralAdmission)
	require.NoError(t, err)

	require.NoError(t, l.Release(1, model.GeneralAdmission, NewSeatToken()))

	n, err := l.Confirmed(1, model.GeneralAdmission)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestConcurrentReserve drives far more goroutines than seats and verifies
// exactly capacity reservations succeed, with the rest observing ErrFull.
func TestConcurrentReserve(t *testing.T) {
	const capacity = 25
	const callers = 200

	l := newTestLedger(7, capacity)

	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(7, model.GeneralAdmission)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, full int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case err == ErrFull:
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, capacity, ok)
	assert.Equal(t, callers-capacity, full)

	n, err := l.Confirmed(7, model.GeneralAdmission)
	require.NoError(t, err)
	assert.Equal(t, capacity, n)
}

// TestConcurrentReserveRelease churns reserve/release pairs and verifies
// the counter lands back at zero with a balanced audit trail.
func TestConcurrentReserveRelease(t *testing.T) {
	l := newTestLedger(3, 10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := l.Reserve(3, model.GeneralAdmission)
			if err != nil {
				return
			}
			_ = l.Release(3, model.GeneralAdmission, tok)
		}()
	}
	wg.Wait()

	n, err := l.Confirmed(3, model.GeneralAdmission)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	var reserves, releases int
	for _, e := range l.Audit(3) {
		switch e.Op {
		case OpReserve:
			reserves++
		case OpRelease:
			releases++
		}
	}
	assert.Equal(t, reserves, releases)
}

func TestAuditTrail(t *testing.T) {
	l := newTestLedger(5, 2)

	tok, err := l.Reserve(5, model.GeneralAdmission)
	require.NoError(t, err)
	require.NoError(t, l.Release(5, model.GeneralAdmission, tok))

	trail := l.Audit(5)
	require.Len(t, trail, 2)
	assert.Equal(t, OpReserve, trail[0].Op)
	assert.Equal(t, OpRelease, trail[1].Op)
	assert.Equal(t, tok, trail[0].Token)
	assert.Equal(t, tok, trail[1].Token)
}

func TestConfigureReconcilesAbsentTiers(t *testing.T) {
	l := New()
	l.Configure(11, []model.TicketTier{
		{Name: "VIP", Capacity: 2},
		{Name: "Standard", Capacity: 5},
	})

	tok, err := l.Reserve(11, "VIP")
	require.NoError(t, err)

	// VIP disappears from the tier list while a seat is outstanding: it is
	// frozen at its confirmed count, not left open for new reservations.
	l.Configure(11, []model.TicketTier{{Name: "Standard", Capacity: 5}})

	_, err = l.Reserve(11, "VIP")
	assert.ErrorIs(t, err, ErrFull)

	n, err := l.Confirmed(11, "VIP")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The outstanding token can still be released.
	require.NoError(t, l.Release(11, "VIP", tok))

	// Reconfiguring once the tier is empty drops it entirely.
	l.Configure(11, []model.TicketTier{{Name: "Standard", Capacity: 5}})

	_, err = l.Reserve(11, "VIP")
	assert.ErrorIs(t, err, ErrUnknownTier)

	_, err = l.Reserve(11, "Standard")
	assert.NoError(t, err)
}

func TestRestoreRebuildsCounter(t *testing.T) {
	l := newTestLedger(9, 2)

	require.NoError(t, l.Restore(9, model.GeneralAdmission, NewSeatToken()))
	require.NoError(t, l.Restore(9, model.GeneralAdmission, NewSeatToken()))

	_, err := l.Reserve(9, model.GeneralAdmission)
	assert.ErrorIs(t, err, ErrFull)

	err = l.Restore(9, model.GeneralAdmission, NewSeatToken())
	assert.ErrorIs(t, err, ErrIntegrity)
}
