package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eventpulse/admission/internal/model"
	"github.com/eventpulse/admission/internal/notify"
	"github.com/eventpulse/admission/internal/store"
	"github.com/eventpulse/admission/internal/ticket"
)

// ErrTicketNotFound is returned when a well-formed identifier resolves to
// no registration. It is reported distinctly from ticket.ErrInvalidFormat
// so operators can tell a malformed code from a code for someone who
// never registered.
var ErrTicketNotFound = errors.New("no matching registration")

// VerifyRequest carries one presented check-in attempt.
type VerifyRequest struct {
	// Code is the scanned or hand-typed ticket identifier. It may be
	// empty at a kiosk, where the person is resolved by email against
	// events starting today.
	Code string

	// PersonEmail identifies the attendee for the short `event:<id>` and
	// legacy URL forms, which carry no registration identifier.
	PersonEmail string

	Method model.CheckinMethod
}

// VerifyResult is the outcome of a successful resolution. AlreadyCheckedIn
// distinguishes a re-presented code from a first check-in; it is an
// outcome, not an error.
type VerifyResult struct {
	Registration     *model.Registration
	Event            *model.Event
	AlreadyCheckedIn bool
}

// Verify resolves a presented identifier to a registration and records
// attendance exactly once.
//
// Outcomes: ticket.ErrInvalidFormat for unparsable input (no store
// access), ErrTicketNotFound when nothing matches, store.ErrNotEligible
// for cancelled or still-waitlisted registrations, and a result whose
// AlreadyCheckedIn flag reports an existing attendance record. Two racing
// calls for the same registration produce exactly one success; the loser
// observes AlreadyCheckedIn.
func (s *Admission) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	reg, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	rec := &model.CheckinRecord{
		Method:         req.Method,
		IdempotencyKey: ticket.New(reg.EventID, reg.ID),
	}

	attended, err := s.store.MarkAttended(ctx, reg.ID, rec)
	switch {
	case err == nil:
		// fallthrough to success below
	case errors.Is(err, store.ErrAlreadyCheckedIn):
		event, evErr := s.store.GetEvent(ctx, reg.EventID)
		if evErr != nil {
			return nil, evErr
		}
		return &VerifyResult{Registration: reg, Event: event, AlreadyCheckedIn: true}, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrTicketNotFound
	default:
		return nil, err
	}

	event, err := s.store.GetEvent(ctx, attended.EventID)
	if err != nil {
		return nil, err
	}

	s.emit(notify.KeyAttended, notify.Signal{
		Kind:        "attendance",
		EventID:     attended.EventID,
		PersonEmail: attended.PersonEmail,
		Status:      model.StatusAttended,
		At:          time.Now().UTC(),
	})
	return &VerifyResult{Registration: attended, Event: event}, nil
}

// resolve maps a presented identifier (or kiosk email) to a registration.
func (s *Admission) resolve(ctx context.Context, req VerifyRequest) (*model.Registration, error) {
	person := normalizeEmail(req.PersonEmail)

	if req.Code == "" {
		// Kiosk path: no code, identify by email against today's events.
		if person == "" {
			return nil, fmt.Errorf("%w: no code or email presented", ErrTicketNotFound)
		}
		reg, err := s.store.CheckinCandidateOn(ctx, person, time.Now().UTC())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrTicketNotFound
			}
			return nil, err
		}
		return reg, nil
	}

	payload, err := ticket.Decode(req.Code)
	if err != nil {
		return nil, err
	}

	if payload.RegistrationID != "" {
		reg, err := s.store.GetRegistration(ctx, payload.RegistrationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrTicketNotFound
			}
			return nil, err
		}
		// A structured code must agree with itself: a registration id
		// paired with someone else's event id is no ticket at all.
		if reg.EventID != payload.EventID {
			return nil, ErrTicketNotFound
		}
		return reg, nil
	}

	// Short or legacy form: only the event is encoded, the person
	// disambiguates.
	if person == "" {
		return nil, fmt.Errorf("%w: event-only code without a person", ErrTicketNotFound)
	}
	reg, err := s.store.FindCheckinCandidate(ctx, payload.EventID, person)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return reg, nil
}
