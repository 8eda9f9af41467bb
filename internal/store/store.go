// Package store defines the persistence ports of the admission core and
// ships two adapters: an in-memory store used by tests and single-node
// deployments, and a PostgreSQL store built on pgx.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/eventpulse/admission/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyRegistered is returned when a person already holds an active
// (registered or waitlisted) registration for the event.
var ErrAlreadyRegistered = errors.New("already registered for this event")

// ErrNoActiveRegistration is returned by cancellation paths when there is
// nothing active to cancel; retried cancels see it too, keeping the
// operation idempotent.
var ErrNoActiveRegistration = errors.New("no active registration")

// ErrAlreadyCheckedIn is returned when a check-in record already exists
// for the registration. It is reported distinctly from success so
// operators can tell a re-scan from a first scan.
var ErrAlreadyCheckedIn = errors.New("already checked in")

// ErrNotEligible is returned when a cancelled or still-waitlisted
// registration is presented at check-in.
var ErrNotEligible = errors.New("registration not eligible for check-in")

// EventStore handles persistence for events and their invitation lists.
type EventStore interface {
	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	// SearchEvents filters by title/description substring, location, and
	// category; empty arguments match everything. Visibility is not a
	// filter here: callers that serve public listings drop PRIVATE events
	// themselves, while internal callers (ledger rebuild, status sync)
	// need every event.
	SearchEvents(ctx context.Context, query, location, category string) ([]*model.Event, error)

	// SyncEventStatuses advances event statuses against the clock:
	// UPCOMING becomes IN_PROGRESS once the start time passes, and
	// UPCOMING or IN_PROGRESS become COMPLETED once the end time passes.
	// CANCELLED events are never touched. Returns how many events started
	// and completed.
	SyncEventStatuses(ctx context.Context, now time.Time) (started, completed int, err error)

	// Invite records that the person may join the (private) event.
	// Inviting the same email twice is a no-op.
	Invite(ctx context.Context, eventID int64, email string) error

	// IsInvited reports whether the email is on the event's invitation
	// list.
	IsInvited(ctx context.Context, eventID int64, email string) (bool, error)
}

// RegistrationStore handles persistence for registrations. Waitlist
// position assignment and compaction are serialized per event inside the
// adapter, so concurrent joins never receive the same position.
type RegistrationStore interface {
	// CreateRegistration persists a new registration, enforcing at most
	// one active registration per (event, person). When the registration
	// is waitlisted the store assigns the next contiguous position.
	CreateRegistration(ctx context.Context, reg *model.Registration) error

	GetRegistration(ctx context.Context, id string) (*model.Registration, error)

	// ActiveRegistration returns the person's registered-or-waitlisted
	// registration for the event, or ErrNotFound.
	ActiveRegistration(ctx context.Context, eventID int64, email string) (*model.Registration, error)

	// FindCheckinCandidate returns the person's registration for the
	// event, preferring a non-cancelled one. Unlike ActiveRegistration it
	// includes ATTENDED and CANCELLED entries, so a re-presented code is
	// reported as already checked in and a cancelled one as not eligible,
	// rather than both surfacing as unknown.
	FindCheckinCandidate(ctx context.Context, eventID int64, email string) (*model.Registration, error)

	// CheckinCandidateOn is FindCheckinCandidate across every event
	// starting on the given day (kiosk self check-in without a scanned
	// code).
	CheckinCandidateOn(ctx context.Context, email string, day time.Time) (*model.Registration, error)

	// CancelRegistration soft-cancels and returns the registration as it
	// was immediately before cancelling, so the caller can release its
	// seat. Waitlist positions above a cancelled waitlisted entry are
	// compacted by one. Terminal registrations yield
	// ErrNoActiveRegistration.
	CancelRegistration(ctx context.Context, id string) (*model.Registration, error)

	// NextWaitlisted returns the lowest-position waitlisted registration
	// of the (event, tier), or ErrNotFound when the waitlist is empty.
	NextWaitlisted(ctx context.Context, eventID int64, tier string) (*model.Registration, error)

	// Promote transitions a waitlisted registration to REGISTERED,
	// attaching its seat token and freshly issued ticket code and
	// compacting the remaining positions. Returns ErrNotFound if the
	// registration is no longer waitlisted (lost a race).
	Promote(ctx context.Context, id string, seatToken, ticketCode string) error

	ListRegistrations(ctx context.Context, eventID int64) ([]*model.Registration, error)
	ListAttendees(ctx context.Context, eventID int64) ([]*model.Attendee, error)
	ListPersonEvents(ctx context.Context, email string) ([]*model.UserEvent, error)
}

// CheckinStore handles attendance records. The existence check and the
// record creation are one atomic unit: of two racing MarkAttended calls
// for the same registration, exactly one succeeds.
type CheckinStore interface {
	// MarkAttended verifies eligibility, creates the check-in record, and
	// transitions the registration to ATTENDED in a single atomic step.
	// A second call returns ErrAlreadyCheckedIn; cancelled or waitlisted
	// registrations return ErrNotEligible.
	MarkAttended(ctx context.Context, registrationID string, rec *model.CheckinRecord) (*model.Registration, error)

	GetCheckin(ctx context.Context, registrationID string) (*model.CheckinRecord, error)
}

// Store aggregates the three ports; both adapters satisfy it.
type Store interface {
	EventStore
	RegistrationStore
	CheckinStore
}
