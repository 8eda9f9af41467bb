// Package ledger implements the capacity ledger: the authoritative,
// atomically-mutated count of confirmed seats per (event, tier).
//
// The ledger is the single serialization point for admission. Under N
// simultaneous reserve calls against K remaining seats, exactly min(N, K)
// succeed and the rest observe ErrFull, with no lost updates and no
// overshoot.
// Everything else in the system (registrations, check-in records) is owned
// by a single registration and never contends.
package ledger

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventpulse/admission/internal/model"
)

// ErrFull is returned by Reserve once a tier's capacity is exhausted.
// Capacity exhaustion is a normal outcome, not a failure: the caller's
// response is to waitlist, not to retry.
var ErrFull = errors.New("no seats remaining")

// ErrUnknownTier is returned when the (event, tier) pair was never configured.
var ErrUnknownTier = errors.New("unknown event or tier")

// ErrIntegrity is returned when a mutation would corrupt a counter. It
// indicates a bug, not a recoverable condition; the mutation is refused.
var ErrIntegrity = errors.New("ledger integrity violation")

// SeatToken is the proof of a successful reservation. Release requires the
// token so a double release can be detected and ignored.
type SeatToken string

// NewSeatToken mints an opaque token for one confirmed seat.
func NewSeatToken() SeatToken {
	return SeatToken(uuid.New().String())
}

// AuditOp labels one audit-trail entry.
type AuditOp string

const (
	OpReserve AuditOp = "RESERVE"
	OpRelease AuditOp = "RELEASE"
)

// AuditEntry records one successful ledger mutation. The trail per event is
// append-only and lets tests and operators reconstruct counter state.
type AuditEntry struct {
	Op    AuditOp
	Tier  string
	Token SeatToken
	At    time.Time
}

// tierEntry is the counter state of one (event, tier) key.
type tierEntry struct {
	capacity    int
	confirmed   int
	outstanding map[SeatToken]struct{}
}

// eventLedger owns all tiers of one event plus its audit trail. Its mutex
// is the per-event critical section: reserve and release for any tier of
// the event serialize here.
type eventLedger struct {
	mu    sync.Mutex
	tiers map[string]*tierEntry
	audit []AuditEntry
}

// Ledger tracks confirmed seats for every configured event. The zero value
// is not usable; call New.
type Ledger struct {
	mu     sync.RWMutex
	events map[int64]*eventLedger
}

// New constructs an empty Ledger.
func New() *Ledger {
	return &Ledger{events: make(map[int64]*eventLedger)}
}

// Configure installs the tier capacities of an event, replacing any
// earlier configuration. It is called when an event is created and when
// ledger state is rebuilt from storage at startup. Already-confirmed
// counts survive reconfiguration so capacity edits do not orphan
// outstanding tokens. A tier absent from the new list is dropped once it
// holds no confirmed seats; while seats remain outstanding it is frozen
// at its confirmed count, so nothing new can be reserved in it but its
// tokens can still be released.
func (l *Ledger) Configure(eventID int64, tiers []model.TicketTier) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev, ok := l.events[eventID]
	if !ok {
		ev = &eventLedger{tiers: make(map[string]*tierEntry)}
		l.events[eventID] = ev
	}

	declared := make(map[string]struct{}, len(tiers))
	for _, t := range tiers {
		declared[t.Name] = struct{}{}
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	for _, t := range tiers {
		if entry, ok := ev.tiers[t.Name]; ok {
			entry.capacity = t.Capacity
			continue
		}
		ev.tiers[t.Name] = &tierEntry{
			capacity:    t.Capacity,
			outstanding: make(map[SeatToken]struct{}),
		}
	}
	for name, entry := range ev.tiers {
		if _, ok := declared[name]; ok {
			continue
		}
		if entry.confirmed == 0 {
			delete(ev.tiers, name)
			continue
		}
		log.Printf("WARN: tier %q of event %d removed with %d seats outstanding, freezing",
			name, eventID, entry.confirmed)
		entry.capacity = entry.confirmed
	}
}

// Restore marks a seat as already confirmed under an existing token,
// used when rebuilding in-memory state from persisted registrations.
func (l *Ledger) Restore(eventID int64, tier string, token SeatToken) error {
	ev, entry, err := l.lookup(eventID, tier)
	if err != nil {
		return err
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if entry.confirmed >= entry.capacity {
		return fmt.Errorf("restore event %d tier %q: %w", eventID, tier, ErrIntegrity)
	}
	entry.confirmed++
	entry.outstanding[token] = struct{}{}
	return nil
}

// Reserve atomically claims one seat in the given tier. It returns ErrFull
// deterministically once capacity is exhausted; there is no partial or
// provisional reservation.
func (l *Ledger) Reserve(eventID int64, tier string) (SeatToken, error) {
	ev, entry, err := l.lookup(eventID, tier)
	if err != nil {
		return "", err
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()

	if entry.confirmed > entry.capacity {
		// Should be unreachable; refuse to make it worse.
		log.Printf("INTEGRITY: event %d tier %q confirmed=%d exceeds capacity=%d",
			eventID, tier, entry.confirmed, entry.capacity)
		return "", ErrIntegrity
	}
	if entry.confirmed == entry.capacity {
		return "", ErrFull
	}

	token := NewSeatToken()
	entry.confirmed++
	entry.outstanding[token] = struct{}{}
	ev.audit = append(ev.audit, AuditEntry{Op: OpReserve, Tier: tier, Token: token, At: time.Now().UTC()})
	return token, nil
}

// Release returns a previously reserved seat. Releasing a token that is no
// longer outstanding is a no-op: it logs a warning and does not decrement
// twice, so retried cancellations stay idempotent.
func (l *Ledger) Release(eventID int64, tier string, token SeatToken) error {
	ev, entry, err := l.lookup(eventID, tier)
	if err != nil {
		return err
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()

	if _, held := entry.outstanding[token]; !held {
		log.Printf("WARN: release of unknown or already-released seat token %s (event %d tier %q)",
			token, eventID, tier)
		return nil
	}
	if entry.confirmed <= 0 {
		log.Printf("INTEGRITY: event %d tier %q release below zero", eventID, tier)
		return ErrIntegrity
	}

	delete(entry.outstanding, token)
	entry.confirmed--
	ev.audit = append(ev.audit, AuditEntry{Op: OpRelease, Tier: tier, Token: token, At: time.Now().UTC()})
	return nil
}

// Confirmed returns the current confirmed-seat count of a tier.
func (l *Ledger) Confirmed(eventID int64, tier string) (int, error) {
	ev, entry, err := l.lookup(eventID, tier)
	if err != nil {
		return 0, err
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return entry.confirmed, nil
}

// Audit returns a copy of the event's mutation trail in order of occurrence.
func (l *Ledger) Audit(eventID int64) []AuditEntry {
	l.mu.RLock()
	ev, ok := l.events[eventID]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	ev.mu.Lock()
	defer ev.mu.Unlock()
	out := make([]AuditEntry, len(ev.audit))
	copy(out, ev.audit)
	return out
}

func (l *Ledger) lookup(eventID int64, tier string) (*eventLedger, *tierEntry, error) {
	l.mu.RLock()
	ev, ok := l.events[eventID]
	l.mu.RUnlock()
	if !ok {
		return nil, nil, ErrUnknownTier
	}

	ev.mu.Lock()
	entry, ok := ev.tiers[tier]
	ev.mu.Unlock()
	if !ok {
		return nil, nil, ErrUnknownTier
	}
	return ev, entry, nil
}
