// Package service implements the admission controller, the waitlist
// promoter, and the check-in verifier on top of the capacity ledger and
// the persistence ports.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eventpulse/admission/internal/ledger"
	"github.com/eventpulse/admission/internal/model"
	"github.com/eventpulse/admission/internal/notify"
	"github.com/eventpulse/admission/internal/store"
	"github.com/eventpulse/admission/internal/ticket"
)

// ErrEventNotOpen is returned when joining a cancelled or completed event.
var ErrEventNotOpen = errors.New("event is not open for registration")

// ErrMissingField is returned when a required custom field has no answer.
// The ledger is never touched on this path.
var ErrMissingField = errors.New("missing required field")

// ErrUnknownTier is returned for a ticket type the event does not declare.
var ErrUnknownTier = errors.New("unknown ticket type")

// ErrNotInvited is returned when an uninvited person tries to join a
// private event.
var ErrNotInvited = errors.New("this event is private and you are not invited")

// Admission orchestrates joins, cancellations, promotions, and
// verifications against one shared data model. The ledger is the only
// cross-request serialization point; registrations and check-in records
// are owned by a single registration each.
type Admission struct {
	store  store.Store
	ledger *ledger.Ledger
	notify notify.Publisher
}

// New constructs the admission service.
func New(st store.Store, lg *ledger.Ledger, pub notify.Publisher) *Admission {
	if pub == nil {
		pub = notify.LogPublisher{}
	}
	return &Admission{store: st, ledger: lg, notify: pub}
}

// CreateEvent validates and persists a new event and installs its tier
// capacities in the ledger.
func (s *Admission) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, fmt.Errorf("event title is required")
	}
	if req.Capacity < 1 {
		return nil, fmt.Errorf("capacity must be a positive integer")
	}
	if req.Capacity > 100_000 {
		return nil, fmt.Errorf("capacity cannot exceed 100,000")
	}
	if req.EndTime.Before(req.StartTime) {
		return nil, fmt.Errorf("end time must be after start time")
	}
	if req.Visibility == "" {
		req.Visibility = model.VisibilityPublic
	}
	if req.Visibility != model.VisibilityPublic && req.Visibility != model.VisibilityPrivate {
		return nil, fmt.Errorf("invalid visibility (must be PUBLIC or PRIVATE)")
	}

	tierSum := 0
	seen := make(map[string]struct{}, len(req.Tiers))
	for _, t := range req.Tiers {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("ticket type name is required")
		}
		if t.Capacity < 1 {
			return nil, fmt.Errorf("ticket type %q capacity must be a positive integer", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate ticket type %q", name)
		}
		seen[name] = struct{}{}
		tierSum += t.Capacity
	}
	if tierSum > req.Capacity {
		return nil, fmt.Errorf("ticket type capacities exceed overall capacity")
	}

	event := &model.Event{
		Title:        req.Title,
		Description:  req.Description,
		Location:     req.Location,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Capacity:     req.Capacity,
		Visibility:   req.Visibility,
		Status:       model.EventUpcoming,
		Category:     req.Category,
		Tiers:        req.Tiers,
		CustomFields: req.CustomFields,
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}
	s.ledger.Configure(event.ID, event.EffectiveTiers())
	return event, nil
}

// GetEvent returns a single event.
func (s *Admission) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	return s.store.GetEvent(ctx, id)
}

// SearchEvents lists discoverable events matching the filters. Private
// and cancelled events never appear here; private events are reachable
// only by direct id, through an invitation.
func (s *Admission) SearchEvents(ctx context.Context, query, location, category string) ([]*model.Event, error) {
	events, err := s.store.SearchEvents(ctx, query, location, category)
	if err != nil {
		return nil, err
	}
	listed := events[:0]
	for _, e := range events {
		if e.Visibility == model.VisibilityPrivate || e.Status == model.EventCancelled {
			continue
		}
		listed = append(listed, e)
	}
	return listed, nil
}

// Invite puts people on a private event's invitation list. Blank entries
// are skipped and repeats are no-ops; the count of processed invitations
// is returned.
func (s *Admission) Invite(ctx context.Context, eventID int64, emails []string) (int, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return 0, err
	}

	count := 0
	for _, email := range emails {
		email = normalizeEmail(email)
		if email == "" {
			continue
		}
		if err := s.store.Invite(ctx, eventID, email); err != nil {
			return count, fmt.Errorf("invite %s: %w", email, err)
		}
		count++
	}
	return count, nil
}

// Join admits a person to an event. The admission outcome is the returned
// registration's status: REGISTERED when a seat was reserved, WAITLISTED
// when the tier is full. Capacity exhaustion is not an error.
//
// Validation failures (closed event, duplicate join, missing required
// fields, unknown tier) return before the ledger is touched.
func (s *Admission) Join(ctx context.Context, eventID int64, person string, req model.JoinRequest) (*model.Registration, error) {
	person = normalizeEmail(person)
	if person == "" {
		return nil, fmt.Errorf("person email is required")
	}

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.Open() {
		return nil, ErrEventNotOpen
	}
	if event.Visibility == model.VisibilityPrivate {
		invited, err := s.store.IsInvited(ctx, eventID, person)
		if err != nil {
			return nil, fmt.Errorf("invitation check: %w", err)
		}
		if !invited {
			return nil, ErrNotInvited
		}
	}

	tierName := strings.TrimSpace(req.TicketType)
	if tierName == "" {
		tierName = event.EffectiveTiers()[0].Name
	}
	if _, ok := event.Tier(tierName); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tierName)
	}

	for _, f := range event.CustomFields {
		if !f.Required {
			continue
		}
		if strings.TrimSpace(req.CustomAnswers[f.Label]) == "" {
			return nil, fmt.Errorf("%w: %q", ErrMissingField, f.Label)
		}
	}

	if _, err := s.store.ActiveRegistration(ctx, eventID, person); err == nil {
		return nil, store.ErrAlreadyRegistered
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	reg := &model.Registration{
		ID:          uuid.New().String(),
		EventID:     eventID,
		PersonEmail: person,
		Tier:        tierName,
		Answers:     req.CustomAnswers,
	}

	token, err := s.ledger.Reserve(eventID, tierName)
	switch {
	case err == nil:
		reg.Status = model.StatusRegistered
		reg.SeatToken = string(token)
		reg.TicketCode = ticket.New(eventID, reg.ID)
	case errors.Is(err, ledger.ErrFull):
		reg.Status = model.StatusWaitlisted
	default:
		return nil, fmt.Errorf("reserve seat: %w", err)
	}

	if err := s.store.CreateRegistration(ctx, reg); err != nil {
		// Give the seat back; the join had no effect.
		if reg.Status == model.StatusRegistered {
			_ = s.ledger.Release(eventID, tierName, token)
		}
		return nil, err
	}

	if reg.Status == model.StatusWaitlisted {
		// A seat can be freed between the ErrFull decision and the
		// waitlist insert above; the cancellation's promoter saw an empty
		// waitlist then, so nothing would ever hand that seat to this
		// registration. Run the promoter once more now that the entry is
		// visible: it reserves only if a seat is free and fills it with
		// the lowest position, which may be this one.
		s.promote(ctx, eventID, tierName)
		if current, err := s.store.GetRegistration(ctx, reg.ID); err == nil {
			reg = current
		}
	}
	return reg, nil
}

// Cancel withdraws a person's active registration. Cancelling a confirmed
// seat releases it and runs the waitlist promoter for that (event, tier)
// before returning; cancelling a waitlisted entry compacts the positions
// behind it. Terminal registrations yield ErrNoActiveRegistration, so
// retried cancels are no-ops.
func (s *Admission) Cancel(ctx context.Context, eventID int64, person string) error {
	person = normalizeEmail(person)

	active, err := s.store.ActiveRegistration(ctx, eventID, person)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ErrNoActiveRegistration
		}
		return err
	}

	prior, err := s.store.CancelRegistration(ctx, active.ID)
	if err != nil {
		return err
	}

	if prior.Status == model.StatusRegistered {
		if err := s.ledger.Release(eventID, prior.Tier, ledger.SeatToken(prior.SeatToken)); err != nil {
			log.Printf("ERROR: release seat for cancelled registration %s: %v", prior.ID, err)
		}
		s.promote(ctx, eventID, prior.Tier)
	}

	s.emit(notify.KeyCancelled, notify.Signal{
		Kind:        "cancellation",
		EventID:     eventID,
		PersonEmail: person,
		Status:      model.StatusCancelled,
		At:          time.Now().UTC(),
	})
	return nil
}

// MyEvents lists the caller's registrations across events.
func (s *Admission) MyEvents(ctx context.Context, person string) ([]*model.UserEvent, error) {
	return s.store.ListPersonEvents(ctx, normalizeEmail(person))
}

// Attendees lists every registration of an event for the organizer view
// and the CSV export.
func (s *Admission) Attendees(ctx context.Context, eventID int64) ([]*model.Attendee, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.ListAttendees(ctx, eventID)
}

// RebuildLedger reconstructs in-memory capacity state from persisted
// registrations, called once at startup.
func (s *Admission) RebuildLedger(ctx context.Context) error {
	events, err := s.store.SearchEvents(ctx, "", "", "")
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	for _, event := range events {
		s.ledger.Configure(event.ID, event.EffectiveTiers())
		regs, err := s.store.ListRegistrations(ctx, event.ID)
		if err != nil {
			return fmt.Errorf("load registrations for event %d: %w", event.ID, err)
		}
		for _, reg := range regs {
			if reg.Status != model.StatusRegistered || reg.SeatToken == "" {
				continue
			}
			if err := s.ledger.Restore(event.ID, reg.Tier, ledger.SeatToken(reg.SeatToken)); err != nil {
				return fmt.Errorf("restore seat for registration %s: %w", reg.ID, err)
			}
		}
	}
	return nil
}

// emit publishes a collaborator signal without blocking the caller.
func (s *Admission) emit(key string, sig notify.Signal) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notify.Publish(ctx, key, sig); err != nil {
			log.Printf("WARN: publish %s signal: %v", key, err)
		}
	}()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
