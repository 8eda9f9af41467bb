package scan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventpulse/admission/internal/model"
	"github.com/eventpulse/admission/internal/service"
	"github.com/eventpulse/admission/internal/ticket"
)

type fakeCapture struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeCapture) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDevice hands out captures and tracks how many are open at once.
type fakeDevice struct {
	mu       sync.Mutex
	err      error // returned by Acquire when set
	block    bool  // Acquire waits for ctx when set
	captures []*fakeCapture
}

func (d *fakeDevice) Acquire(ctx context.Context) (Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if d.block {
		d.mu.Unlock()
		<-ctx.Done()
		d.mu.Lock()
		return nil, ctx.Err()
	}
	c := &fakeCapture{}
	d.captures = append(d.captures, c)
	return c, nil
}

func (d *fakeDevice) open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.captures {
		if !c.isClosed() {
			n++
		}
	}
	return n
}

type fakeVerifier struct {
	mu    sync.Mutex
	calls []service.VerifyRequest
	res   *service.VerifyResult
	err   error
	gate  chan struct{} // when set, Verify blocks until it closes
}

func (v *fakeVerifier) Verify(_ context.Context, req service.VerifyRequest) (*service.VerifyResult, error) {
	v.mu.Lock()
	v.calls = append(v.calls, req)
	gate := v.gate
	res, err := v.res, v.err
	v.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return res, err
}

func (v *fakeVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

func okResult() *service.VerifyResult {
	return &service.VerifyResult{
		Registration: &model.Registration{Status: model.StatusAttended},
		Event:        &model.Event{Title: "Go Conference"},
	}
}

func TestSessionHappyPath(t *testing.T) {
	device := &fakeDevice{}
	verifier := &fakeVerifier{res: okResult()}
	s := NewSession(device, verifier)
	ctx := context.Background()

	assert.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, StateScanning, s.State())

	res, err := s.Submit(ctx, "evt:1:reg:4f8e6c1a-0000-0000-0000-000000000001")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StateVerified, s.State())
	assert.Equal(t, 1, verifier.callCount())

	require.NoError(t, s.Close())
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, device.open())
}

func TestSessionPermissionDenied(t *testing.T) {
	device := &fakeDevice{err: ErrPermissionDenied}
	s := NewSession(device, &fakeVerifier{})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateError, s.State())
	assert.ErrorIs(t, s.Err(), ErrPermissionDenied)

	// Terminal: frames are refused and the session cannot be reset.
	_, err = s.Submit(context.Background(), "event:1")
	assert.ErrorIs(t, err, ErrNotScanning)
	assert.Error(t, s.Reset(context.Background()))
}

func TestSessionDeviceAbsent(t *testing.T) {
	device := &fakeDevice{err: ErrDeviceAbsent}
	s := NewSession(device, &fakeVerifier{})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrDeviceAbsent)
	assert.Equal(t, StateError, s.State())
}

func TestSessionAcquireTimeout(t *testing.T) {
	device := &fakeDevice{block: true}
	s := NewSession(device, &fakeVerifier{})
	s.SetAcquireTimeout(20 * time.Millisecond)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrCaptureTimeout)
	assert.Equal(t, StateError, s.State())
}

func TestSubmitBeforeStart(t *testing.T) {
	s := NewSession(&fakeDevice{}, &fakeVerifier{})

	_, err := s.Submit(context.Background(), "event:1")
	assert.ErrorIs(t, err, ErrNotScanning)
}

func TestSubmitSuppressesRepeatedPayload(t *testing.T) {
	device := &fakeDevice{}
	verifier := &fakeVerifier{res: okResult()}
	s := NewSession(device, verifier)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	// The same code sits in front of the camera across frames; only the
	// first frame reaches the verifier.
	const payload = "event:7"
	s.PersonEmail = "a@example.com"

	res, err := s.Submit(ctx, payload)
	require.NoError(t, err)
	require.NotNil(t, res)

	require.NoError(t, s.Reset(ctx))
	res, err = s.Submit(ctx, payload)
	require.NoError(t, err)
	assert.NotNil(t, res, "reset clears the suppression window")
	assert.Equal(t, 2, verifier.callCount())
}

func TestSubmitSuppressesFramesDuringVerification(t *testing.T) {
	device := &fakeDevice{}
	gate := make(chan struct{})
	verifier := &fakeVerifier{res: okResult(), gate: gate}
	s := NewSession(device, verifier)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	const payload = "event:7"
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Submit(ctx, payload)
		assert.NoError(t, err)
	}()

	// Wait for the first frame to reach the verifier, then feed identical
	// frames while it is still in flight.
	require.Eventually(t, func() bool { return verifier.callCount() == 1 }, time.Second, time.Millisecond)
	res, err := s.Submit(ctx, payload)
	assert.NoError(t, err)
	assert.Nil(t, res)

	close(gate)
	<-done
	assert.Equal(t, StateVerified, s.State())
	assert.Equal(t, 1, verifier.callCount())
}

func TestResetAfterRejection(t *testing.T) {
	device := &fakeDevice{}
	verifier := &fakeVerifier{err: service.ErrTicketNotFound}
	s := NewSession(device, verifier)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	_, err := s.Submit(ctx, "event:7")
	assert.ErrorIs(t, err, service.ErrTicketNotFound)
	assert.Equal(t, StateRejected, s.State())

	require.NoError(t, s.Reset(ctx))
	verifier.err = nil
	verifier.res = okResult()

	// A different payload after reset goes through.
	res, err := s.Submit(ctx, "event:8")
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestSubmitInvalidPayloadSkipsVerifier(t *testing.T) {
	device := &fakeDevice{}
	verifier := &fakeVerifier{res: okResult()}
	s := NewSession(device, verifier)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	_, err := s.Submit(ctx, "not a ticket at all")
	assert.ErrorIs(t, err, ticket.ErrInvalidFormat)
	assert.Equal(t, StateRejected, s.State())
	assert.Zero(t, verifier.callCount())
}

func TestResetReleasesBeforeReacquire(t *testing.T) {
	device := &fakeDevice{}
	verifier := &fakeVerifier{res: okResult()}
	s := NewSession(device, verifier)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	_, err := s.Submit(ctx, "event:1")
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))
	assert.Equal(t, StateScanning, s.State())

	// The first capture was closed; exactly one is held now.
	require.Len(t, device.captures, 2)
	assert.True(t, device.captures[0].isClosed())
	assert.False(t, device.captures[1].isClosed())
	assert.Equal(t, 1, device.open())
}

func TestResetFailureLeavesNothingHeld(t *testing.T) {
	device := &fakeDevice{}
	s := NewSession(device, &fakeVerifier{res: okResult()})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	// Device disappears between scans.
	device.mu.Lock()
	device.err = ErrDeviceAbsent
	device.mu.Unlock()

	err := s.Reset(ctx)
	assert.ErrorIs(t, err, ErrDeviceAbsent)
	assert.Equal(t, StateError, s.State())
	assert.Zero(t, device.open())
}

func TestSessionNeverHoldsTwoCaptures(t *testing.T) {
	device := &fakeDevice{}
	verifier := &fakeVerifier{res: okResult()}
	s := NewSession(device, verifier)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Reset(ctx))
		assert.LessOrEqual(t, device.open(), 1)
	}
	require.NoError(t, s.Close())
	assert.Zero(t, device.open())
}

func TestCloseIsIdempotent(t *testing.T) {
	device := &fakeDevice{}
	s := NewSession(device, &fakeVerifier{})
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, StateIdle, s.State())
}
