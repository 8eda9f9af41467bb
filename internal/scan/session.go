// Package scan implements the client-side check-in capture session: a
// state machine that owns one capture device at a time, decodes presented
// payloads, and feeds them to the verifier.
//
// States: Idle → Acquiring → Scanning → Decoding → {Verified, Rejected} →
// (reset) → Scanning. Device acquisition failure is a terminal Error
// state, distinct from Rejected. The capture resource is released on
// every exit path, and a release always completes before the next
// acquisition, so the session never holds two captures.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eventpulse/admission/internal/model"
	"github.com/eventpulse/admission/internal/service"
	"github.com/eventpulse/admission/internal/ticket"
)

// State is the session's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateScanning
	StateDecoding
	StateVerified
	StateRejected
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAcquiring:
		return "ACQUIRING"
	case StateScanning:
		return "SCANNING"
	case StateDecoding:
		return "DECODING"
	case StateVerified:
		return "VERIFIED"
	case StateRejected:
		return "REJECTED"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrPermissionDenied reports that the capture device exists but access
// was refused.
var ErrPermissionDenied = errors.New("capture permission denied")

// ErrDeviceAbsent reports that no capture device is available.
var ErrDeviceAbsent = errors.New("no capture device found")

// ErrCaptureTimeout reports that the device did not become ready within
// the session's acquire timeout.
var ErrCaptureTimeout = errors.New("capture device timed out")

// ErrNotScanning is returned when a frame arrives outside the SCANNING
// state (including after a terminal outcome, before reset).
var ErrNotScanning = errors.New("session is not scanning")

// Capture is a held capture resource. Close must be idempotent.
type Capture interface {
	Close() error
}

// CaptureDevice acquires the camera or equivalent input hardware.
// Implementations map their failure modes to ErrPermissionDenied and
// ErrDeviceAbsent; anything slower than the context deadline becomes
// ErrCaptureTimeout.
type CaptureDevice interface {
	Acquire(ctx context.Context) (Capture, error)
}

// Verifier is the slice of the admission service the session needs.
type Verifier interface {
	Verify(ctx context.Context, req service.VerifyRequest) (*service.VerifyResult, error)
}

// DefaultAcquireTimeout bounds how long a session waits for capture
// hardware before giving up.
const DefaultAcquireTimeout = 5 * time.Second

// Session drives one capture-and-decode workflow. Methods are safe for
// concurrent use; the session serializes its own transitions.
type Session struct {
	device         CaptureDevice
	verifier       Verifier
	acquireTimeout time.Duration

	// PersonEmail disambiguates short-form codes; optional.
	PersonEmail string

	mu          sync.Mutex
	state       State
	capture     Capture
	lastPayload string
	lastErr     error
}

// NewSession constructs an idle session.
func NewSession(device CaptureDevice, verifier Verifier) *Session {
	return &Session{
		device:         device,
		verifier:       verifier,
		acquireTimeout: DefaultAcquireTimeout,
		state:          StateIdle,
	}
}

// SetAcquireTimeout overrides the acquire deadline; zero restores the
// default.
func (s *Session) SetAcquireTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultAcquireTimeout
	}
	s.mu.Lock()
	s.acquireTimeout = d
	s.mu.Unlock()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to its current terminal
// state, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start acquires the capture device and enters SCANNING. Acquisition
// failure (denied, absent, timed out) releases any partial acquisition
// and leaves the session in the terminal ERROR state.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("start from %s: session already started", s.state)
	}
	s.state = StateAcquiring
	timeout := s.acquireTimeout
	s.mu.Unlock()

	acqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	capture, err := s.device.Acquire(acqCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrCaptureTimeout
		}
		// Acquire must not leak on failure, but close defensively if the
		// device returned both.
		if capture != nil {
			_ = capture.Close()
		}
		s.mu.Lock()
		s.state = StateError
		s.lastErr = err
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.capture = capture
	s.state = StateScanning
	s.mu.Unlock()
	return nil
}

// Submit feeds one decoded frame payload to the session. Identical raw
// payloads within the session are suppressed until a verification result
// or a reset, so a code sitting in front of the camera is not re-submitted
// every frame; a suppressed frame returns (nil, nil).
//
// A payload matching no known ticket form moves the session to REJECTED
// without contacting the verifier.
func (s *Session) Submit(ctx context.Context, payload string) (*service.VerifyResult, error) {
	s.mu.Lock()
	if payload != "" && payload == s.lastPayload &&
		(s.state == StateScanning || s.state == StateDecoding) {
		s.mu.Unlock()
		return nil, nil
	}
	if s.state != StateScanning {
		s.mu.Unlock()
		return nil, ErrNotScanning
	}
	s.lastPayload = payload

	if _, err := ticket.Decode(payload); err != nil {
		s.state = StateRejected
		s.lastErr = err
		s.mu.Unlock()
		return nil, err
	}

	s.state = StateDecoding
	person := s.PersonEmail
	s.mu.Unlock()

	result, err := s.verifier.Verify(ctx, service.VerifyRequest{
		Code:        payload,
		PersonEmail: person,
		Method:      model.CheckinScanned,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateRejected
		s.lastErr = err
		return nil, err
	}
	s.state = StateVerified
	s.lastErr = nil
	return result, nil
}

// Reset returns a session to SCANNING after a terminal outcome. The held
// capture is released before a new one is acquired; on re-acquisition
// failure the session lands in ERROR with nothing held.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateScanning, StateVerified, StateRejected:
		// resettable
	default:
		s.mu.Unlock()
		return fmt.Errorf("reset from %s: not resettable", s.state)
	}
	capture := s.capture
	s.capture = nil
	s.lastPayload = ""
	s.lastErr = nil
	s.state = StateAcquiring
	timeout := s.acquireTimeout
	s.mu.Unlock()

	// Release strictly before re-acquire.
	if capture != nil {
		if err := capture.Close(); err != nil {
			s.mu.Lock()
			s.state = StateError
			s.lastErr = err
			s.mu.Unlock()
			return err
		}
	}

	acqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	next, err := s.device.Acquire(acqCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrCaptureTimeout
		}
		if next != nil {
			_ = next.Close()
		}
		s.mu.Lock()
		s.state = StateError
		s.lastErr = err
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.capture = next
	s.state = StateScanning
	s.mu.Unlock()
	return nil
}

// Close tears the session down, releasing any held capture. It is safe in
// every state and idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	capture := s.capture
	s.capture = nil
	s.state = StateIdle
	s.lastPayload = ""
	s.mu.Unlock()

	if capture != nil {
		return capture.Close()
	}
	return nil
}
