// Package model defines the core domain types shared by the admission
// controller, the waitlist promoter, and the check-in verifier.
package model

import "time"

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventUpcoming   EventStatus = "UPCOMING"
	EventInProgress EventStatus = "IN_PROGRESS"
	EventCompleted  EventStatus = "COMPLETED"
	EventCancelled  EventStatus = "CANCELLED"
)

// Visibility controls who can discover an event.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// GeneralAdmission is the implicit single tier of an event that declares
// no ticket tiers of its own.
const GeneralAdmission = "General Admission"

// TicketTier is a named sub-capacity of an event. Price is stored for
// display only; nothing in this system charges it.
type TicketTier struct {
	Name     string  `json:"name"`
	Capacity int     `json:"capacity"`
	Price    float64 `json:"price"`
}

// CustomField is one entry of an event's join-form schema. Answers are
// free-form; only the presence of required fields is validated.
type CustomField struct {
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Event represents a bookable event created by an organizer.
type Event struct {
	ID           int64         `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Location     string        `json:"location"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Capacity     int           `json:"capacity"`
	Visibility   Visibility    `json:"visibility"`
	Status       EventStatus   `json:"status"`
	Category     string        `json:"category"`
	Tiers        []TicketTier  `json:"ticket_types,omitempty"`
	CustomFields []CustomField `json:"custom_fields,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// EffectiveTiers returns the event's tiers, or the implicit General
// Admission tier covering the whole capacity when none are declared.
func (e *Event) EffectiveTiers() []TicketTier {
	if len(e.Tiers) == 0 {
		return []TicketTier{{Name: GeneralAdmission, Capacity: e.Capacity}}
	}
	return e.Tiers
}

// Tier looks up a tier by name among the effective tiers.
func (e *Event) Tier(name string) (TicketTier, bool) {
	for _, t := range e.EffectiveTiers() {
		if t.Name == name {
			return t, true
		}
	}
	return TicketTier{}, false
}

// Open reports whether the event still admits join requests.
func (e *Event) Open() bool {
	return e.Status != EventCancelled && e.Status != EventCompleted
}

// RegistrationStatus is the per-(event, person) lifecycle state.
// Transitions are driven only by the admission controller, the waitlist
// promoter, and the verifier.
type RegistrationStatus string

const (
	StatusRegistered RegistrationStatus = "REGISTERED"
	StatusWaitlisted RegistrationStatus = "WAITLISTED"
	StatusCancelled  RegistrationStatus = "CANCELLED"
	StatusAttended   RegistrationStatus = "ATTENDED"
)

// Active reports whether the status counts against the one-active-
// registration-per-person rule.
func (s RegistrationStatus) Active() bool {
	return s == StatusRegistered || s == StatusWaitlisted
}

// Registration binds a person to an event under a ticket tier.
// Registrations are soft-cancelled, never deleted, so the ledger audit
// trail and waitlist ordering stay reconstructible.
type Registration struct {
	ID          string             `json:"id"`
	EventID     int64              `json:"event_id"`
	PersonEmail string             `json:"person_email"`
	Tier        string             `json:"tier"`
	Status      RegistrationStatus `json:"status"`

	// WaitlistPosition is meaningful only while Status is WAITLISTED;
	// positions per event are contiguous starting at 1.
	WaitlistPosition int `json:"waitlist_position,omitempty"`

	// SeatToken is held only while the registration owns a confirmed seat.
	SeatToken string `json:"-"`

	// TicketCode is issued when the registration becomes REGISTERED,
	// never while waitlisted.
	TicketCode string `json:"ticket_code,omitempty"`

	Answers   map[string]string `json:"custom_answers,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// CheckinMethod records how a check-in was presented.
type CheckinMethod string

const (
	CheckinScanned CheckinMethod = "SCANNED"
	CheckinSelf    CheckinMethod = "SELF_SERVICE"
)

// CheckinRecord is the single attendance record of a registration.
type CheckinRecord struct {
	RegistrationID string        `json:"registration_id"`
	Method         CheckinMethod `json:"method"`
	IdempotencyKey string        `json:"idempotency_key"`
	CheckedInAt    time.Time     `json:"checked_in_at"`
}

// Attendee is one row of the organizer-facing attendee list and CSV export.
type Attendee struct {
	Email     string             `json:"email"`
	Status    RegistrationStatus `json:"status"`
	Tier      string             `json:"tier"`
	CreatedAt time.Time          `json:"created_at"`
}

// UserEvent is one row of a person's "my registrations" listing.
type UserEvent struct {
	EventID   int64              `json:"event_id"`
	Title     string             `json:"title"`
	StartTime time.Time          `json:"start_time"`
	MyStatus  RegistrationStatus `json:"my_status"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Location     string        `json:"location"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Capacity     int           `json:"capacity"`
	Visibility   Visibility    `json:"visibility"`
	Category     string        `json:"category"`
	Tiers        []TicketTier  `json:"ticket_types,omitempty"`
	CustomFields []CustomField `json:"custom_fields,omitempty"`
}

// JoinRequest is the payload for registering for an event.
type JoinRequest struct {
	TicketType    string            `json:"ticket_type,omitempty"`
	CustomAnswers map[string]string `json:"custom_answers,omitempty"`
}

// JoinResponse reports the authoritative admission outcome. Callers must
// not assume a join always lands in a confirmed seat.
type JoinResponse struct {
	Status  RegistrationStatus `json:"status"`
	Message string             `json:"message"`
}

// CheckinRequest is the payload for both check-in endpoints. Code carries
// the scanned or typed ticket identifier; Email identifies the person at
// the kiosk (or falls back to the authenticated caller).
type CheckinRequest struct {
	Code  string `json:"code,omitempty"`
	Email string `json:"email,omitempty"`
}

// InviteRequest is the payload for putting people on a private event's
// invitation list.
type InviteRequest struct {
	Emails []string `json:"emails"`
}

// InviteResponse reports how many invitations were recorded.
type InviteResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// MessageResponse is the standard JSON message envelope.
type MessageResponse struct {
	Message string `json:"message"`
}
