package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eventpulse/admission/internal/model"
)

// Memory is an in-process Store. One mutex serializes all mutations, which
// trivially satisfies the per-event serialization the waitlist and
// check-in paths require.
type Memory struct {
	mu          sync.Mutex
	nextEventID int64
	events      map[int64]*model.Event
	regs        map[string]*model.Registration
	checkins    map[string]*model.CheckinRecord
	invites     map[int64]map[string]struct{}
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextEventID: 1,
		events:      make(map[int64]*model.Event),
		regs:        make(map[string]*model.Registration),
		checkins:    make(map[string]*model.CheckinRecord),
		invites:     make(map[int64]map[string]struct{}),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateEvent(_ context.Context, e *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = m.nextEventID
	m.nextEventID++
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	cp := *e
	m.events[e.ID] = &cp
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id int64) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) SearchEvents(_ context.Context, query, location, category string) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Event
	for _, e := range m.events {
		if query != "" &&
			!strings.Contains(strings.ToLower(e.Title), strings.ToLower(query)) &&
			!strings.Contains(strings.ToLower(e.Description), strings.ToLower(query)) {
			continue
		}
		if location != "" && !strings.Contains(strings.ToLower(e.Location), strings.ToLower(location)) {
			continue
		}
		if category != "" && category != "All" && e.Category != category {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) SyncEventStatuses(_ context.Context, now time.Time) (started, completed int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.events {
		switch e.Status {
		case model.EventUpcoming:
			if !e.EndTime.After(now) {
				e.Status = model.EventCompleted
				e.UpdatedAt = now
				completed++
			} else if !e.StartTime.After(now) {
				e.Status = model.EventInProgress
				e.UpdatedAt = now
				started++
			}
		case model.EventInProgress:
			if !e.EndTime.After(now) {
				e.Status = model.EventCompleted
				e.UpdatedAt = now
				completed++
			}
		}
	}
	return started, completed, nil
}

func (m *Memory) Invite(_ context.Context, eventID int64, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[eventID]; !ok {
		return ErrNotFound
	}
	set, ok := m.invites[eventID]
	if !ok {
		set = make(map[string]struct{})
		m.invites[eventID] = set
	}
	set[email] = struct{}{}
	return nil
}

func (m *Memory) IsInvited(_ context.Context, eventID int64, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.invites[eventID][email]
	return ok, nil
}

func (m *Memory) CreateRegistration(_ context.Context, reg *model.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.regs {
		if r.EventID == reg.EventID && r.PersonEmail == reg.PersonEmail && r.Status.Active() {
			return ErrAlreadyRegistered
		}
	}

	if reg.Status == model.StatusWaitlisted {
		reg.WaitlistPosition = m.waitlistLenLocked(reg.EventID) + 1
	}

	now := time.Now().UTC()
	reg.CreatedAt = now
	reg.UpdatedAt = now

	cp := cloneReg(reg)
	m.regs[reg.ID] = cp
	return nil
}

func (m *Memory) GetRegistration(_ context.Context, id string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneReg(r), nil
}

func (m *Memory) ActiveRegistration(_ context.Context, eventID int64, email string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.regs {
		if r.EventID == eventID && r.PersonEmail == email && r.Status.Active() {
			return cloneReg(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FindCheckinCandidate(_ context.Context, eventID int64, email string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *model.Registration
	for _, r := range m.regs {
		if r.EventID != eventID || r.PersonEmail != email {
			continue
		}
		if preferCandidate(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneReg(best), nil
}

func (m *Memory) CheckinCandidateOn(_ context.Context, email string, day time.Time) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	y, mo, d := day.UTC().Date()
	var best *model.Registration
	for _, r := range m.regs {
		if r.PersonEmail != email {
			continue
		}
		e, ok := m.events[r.EventID]
		if !ok {
			continue
		}
		ey, em, ed := e.StartTime.UTC().Date()
		if ey != y || em != mo || ed != d {
			continue
		}
		if preferCandidate(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneReg(best), nil
}

// preferCandidate ranks check-in candidates: any non-cancelled
// registration beats a cancelled one, then the newest wins. The cancelled
// fallback lets the verifier report NotEligible instead of NotFound for a
// person whose only registration was withdrawn.
func preferCandidate(r, best *model.Registration) bool {
	if best == nil {
		return true
	}
	rCancelled := r.Status == model.StatusCancelled
	bestCancelled := best.Status == model.StatusCancelled
	if rCancelled != bestCancelled {
		return bestCancelled
	}
	return r.CreatedAt.After(best.CreatedAt)
}

func (m *Memory) CancelRegistration(_ context.Context, id string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !r.Status.Active() {
		return nil, ErrNoActiveRegistration
	}

	prior := cloneReg(r)

	if r.Status == model.StatusWaitlisted {
		m.compactWaitlistLocked(r.EventID, r.WaitlistPosition)
	}
	r.Status = model.StatusCancelled
	r.WaitlistPosition = 0
	r.SeatToken = ""
	r.UpdatedAt = time.Now().UTC()
	return prior, nil
}

func (m *Memory) NextWaitlisted(_ context.Context, eventID int64, tier string) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *model.Registration
	for _, r := range m.regs {
		if r.EventID != eventID || r.Tier != tier || r.Status != model.StatusWaitlisted {
			continue
		}
		if best == nil || r.WaitlistPosition < best.WaitlistPosition {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneReg(best), nil
}

func (m *Memory) Promote(_ context.Context, id string, seatToken, ticketCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regs[id]
	if !ok || r.Status != model.StatusWaitlisted {
		return ErrNotFound
	}

	m.compactWaitlistLocked(r.EventID, r.WaitlistPosition)
	r.Status = model.StatusRegistered
	r.WaitlistPosition = 0
	r.SeatToken = seatToken
	r.TicketCode = ticketCode
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) ListRegistrations(_ context.Context, eventID int64) ([]*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Registration
	for _, r := range m.regs {
		if r.EventID == eventID {
			out = append(out, cloneReg(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListAttendees(ctx context.Context, eventID int64) ([]*model.Attendee, error) {
	regs, err := m.ListRegistrations(ctx, eventID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Attendee, 0, len(regs))
	for _, r := range regs {
		out = append(out, &model.Attendee{
			Email:     r.PersonEmail,
			Status:    r.Status,
			Tier:      r.Tier,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (m *Memory) ListPersonEvents(_ context.Context, email string) ([]*model.UserEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.UserEvent
	for _, r := range m.regs {
		if r.PersonEmail != email {
			continue
		}
		e, ok := m.events[r.EventID]
		if !ok {
			continue
		}
		out = append(out, &model.UserEvent{
			EventID:   e.ID,
			Title:     e.Title,
			StartTime: e.StartTime,
			MyStatus:  r.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) MarkAttended(_ context.Context, registrationID string, rec *model.CheckinRecord) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regs[registrationID]
	if !ok {
		return nil, ErrNotFound
	}
	if _, dup := m.checkins[registrationID]; dup {
		return nil, ErrAlreadyCheckedIn
	}
	if r.Status != model.StatusRegistered {
		return nil, ErrNotEligible
	}

	rec.RegistrationID = registrationID
	rec.CheckedInAt = time.Now().UTC()
	cp := *rec
	m.checkins[registrationID] = &cp

	r.Status = model.StatusAttended
	r.UpdatedAt = rec.CheckedInAt
	return cloneReg(r), nil
}

func (m *Memory) GetCheckin(_ context.Context, registrationID string) (*model.CheckinRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.checkins[registrationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// compactWaitlistLocked decrements every waitlist position above the
// removed one so positions stay contiguous and gap-free.
func (m *Memory) compactWaitlistLocked(eventID int64, removedPos int) {
	for _, r := range m.regs {
		if r.EventID == eventID && r.Status == model.StatusWaitlisted && r.WaitlistPosition > removedPos {
			r.WaitlistPosition--
		}
	}
}

func (m *Memory) waitlistLenLocked(eventID int64) int {
	n := 0
	for _, r := range m.regs {
		if r.EventID == eventID && r.Status == model.StatusWaitlisted {
			n++
		}
	}
	return n
}

func cloneReg(r *model.Registration) *model.Registration {
	cp := *r
	if r.Answers != nil {
		cp.Answers = make(map[string]string, len(r.Answers))
		for k, v := range r.Answers {
			cp.Answers[k] = v
		}
	}
	return &cp
}
