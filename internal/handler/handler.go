// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eventpulse/admission/internal/model"
	"github.com/eventpulse/admission/internal/ratelimit"
	"github.com/eventpulse/admission/internal/service"
	"github.com/eventpulse/admission/internal/store"
	"github.com/eventpulse/admission/internal/ticket"
)

// Roles recognised in bearer tokens.
const (
	RoleAdmin     = "admin"
	RoleOrganizer = "organizer"
	RoleAttendee  = "attendee"
)

// AdmissionHandler holds all HTTP handlers for the admission API.
type AdmissionHandler struct {
	svc     *service.Admission
	limiter *ratelimit.Limiter // nil disables join throttling
}

// NewAdmissionHandler constructs an AdmissionHandler.
func NewAdmissionHandler(svc *service.Admission, limiter *ratelimit.Limiter) *AdmissionHandler {
	return &AdmissionHandler{svc: svc, limiter: limiter}
}

// Routes mounts all API routes. The auth middleware is passed in so tests
// can substitute a stub.
func (h *AdmissionHandler) Routes(auth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/health", HealthCheck)
	r.Get("/events", h.ListEvents)
	r.Get("/events/{id}", h.GetEvent)
	r.Post("/events/checkin/self", h.SelfCheckIn)

	r.Group(func(r chi.Router) {
		r.Use(auth)

		r.With(RequireRole(RoleOrganizer, RoleAdmin)).Post("/events", h.CreateEvent)
		r.With(RequireRole(RoleOrganizer, RoleAdmin)).Post("/events/invite", h.Invite)
		r.With(RequireRole(RoleOrganizer, RoleAdmin)).Get("/events/attendees", h.Attendees)
		r.With(RequireRole(RoleOrganizer, RoleAdmin)).Get("/events/export", h.ExportAttendees)
		r.Post("/events/checkin", h.CheckIn)

		r.Post("/registrations", h.Join)
		r.Delete("/registrations", h.CancelRegistration)
		r.Get("/registrations/me", h.MyEvents)
	})

	return r
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.MessageResponse{Message: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func eventIDParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("event_id")
	if raw == "" {
		return 0, errors.New("event_id is required")
	}
	return strconv.ParseInt(raw, 10, 64)
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
func (h *AdmissionHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
// Supports q, location, and category filters; only public, non-cancelled
// events are returned.
func (h *AdmissionHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	events, err := h.svc.SearchEvents(r.Context(), q.Get("q"), q.Get("location"), q.Get("category"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []*model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *AdmissionHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	event, err := h.svc.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// Invite handles POST /events/invite?event_id=N
// Adds people to a private event's invitation list.
func (h *AdmissionHandler) Invite(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event_id")
		return
	}

	var req model.InviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Emails) == 0 {
		writeError(w, http.StatusBadRequest, "emails are required")
		return
	}

	count, err := h.svc.Invite(r.Context(), eventID, req.Emails)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "invite failed")
		return
	}

	writeJSON(w, http.StatusOK, model.InviteResponse{Message: "invitations recorded", Count: count})
}

// ─── Registrations ────────────────────────────────────────────────────────────

// Join handles POST /registrations?event_id=N
// Performs a concurrency-safe registration; a full event lands the caller
// on the waitlist instead of failing.
func (h *AdmissionHandler) Join(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event_id")
		return
	}

	if h.limiter != nil && !h.limiter.Allow(r.Context(), p.Email) {
		writeError(w, http.StatusTooManyRequests, "too many registration attempts, slow down")
		return
	}

	var req model.JoinRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	reg, err := h.svc.Join(r.Context(), eventID, p.Email, req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, store.ErrAlreadyRegistered):
			writeError(w, http.StatusConflict, "you already have an active registration for this event")
		case errors.Is(err, service.ErrEventNotOpen):
			writeError(w, http.StatusConflict, "event is not open for registration")
		case errors.Is(err, service.ErrNotInvited):
			writeError(w, http.StatusForbidden, "this event is private and you are not invited")
		case errors.Is(err, service.ErrUnknownTier),
			errors.Is(err, service.ErrMissingField):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	resp := model.JoinResponse{Status: reg.Status}
	switch reg.Status {
	case model.StatusWaitlisted:
		resp.Message = fmt.Sprintf("Event is full. You are #%d on the waitlist.", reg.WaitlistPosition)
	default:
		resp.Message = "You have successfully registered!"
	}

	writeJSON(w, http.StatusCreated, resp)
}

// CancelRegistration handles DELETE /registrations?event_id=N
func (h *AdmissionHandler) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event_id")
		return
	}

	if err := h.svc.Cancel(r.Context(), eventID, p.Email); err != nil {
		switch {
		case errors.Is(err, store.ErrNoActiveRegistration):
			writeError(w, http.StatusNotFound, "no active registration for this event")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		default:
			writeError(w, http.StatusInternalServerError, "cancellation failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, model.MessageResponse{Message: "Registration cancelled"})
}

// MyEvents handles GET /registrations/me
func (h *AdmissionHandler) MyEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	events, err := h.svc.MyEvents(r.Context(), p.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list registrations")
		return
	}

	if events == nil {
		events = []*model.UserEvent{}
	}

	writeJSON(w, http.StatusOK, events)
}

// ─── Check-in ─────────────────────────────────────────────────────────────────

// CheckIn handles POST /events/checkin
// An authenticated staff scan. The body carries the scanned code and,
// for short-form codes, the attendee's email.
func (h *AdmissionHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req model.CheckinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	h.verify(w, r, service.VerifyRequest{
		Code:        req.Code,
		PersonEmail: req.Email,
		Method:      model.CheckinScanned,
	})
}

// SelfCheckIn handles POST /events/checkin/self
// A public kiosk check-in. With no code, the attendee is matched by email
// against events starting today.
func (h *AdmissionHandler) SelfCheckIn(w http.ResponseWriter, r *http.Request) {
	var req model.CheckinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	h.verify(w, r, service.VerifyRequest{
		Code:        req.Code,
		PersonEmail: req.Email,
		Method:      model.CheckinSelf,
	})
}

func (h *AdmissionHandler) verify(w http.ResponseWriter, r *http.Request, req service.VerifyRequest) {
	res, err := h.svc.Verify(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ticket.ErrInvalidFormat):
			writeError(w, http.StatusBadRequest, "invalid ticket code")
		case errors.Is(err, service.ErrTicketNotFound):
			writeError(w, http.StatusNotFound, "no matching registration")
		case errors.Is(err, store.ErrNotEligible):
			writeError(w, http.StatusConflict, "registration is not eligible for check-in")
		default:
			writeError(w, http.StatusInternalServerError, "check-in failed")
		}
		return
	}

	if res.AlreadyCheckedIn {
		writeJSON(w, http.StatusOK, model.MessageResponse{
			Message: fmt.Sprintf("%s is already checked in for %s", res.Registration.PersonEmail, res.Event.Title),
		})
		return
	}

	writeJSON(w, http.StatusOK, model.MessageResponse{
		Message: fmt.Sprintf("%s checked in for %s", res.Registration.PersonEmail, res.Event.Title),
	})
}

// ─── Attendees ────────────────────────────────────────────────────────────────

// Attendees handles GET /events/attendees?event_id=N
func (h *AdmissionHandler) Attendees(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event_id")
		return
	}

	attendees, err := h.svc.Attendees(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list attendees")
		return
	}

	if attendees == nil {
		attendees = []*model.Attendee{}
	}

	writeJSON(w, http.StatusOK, attendees)
}

// ExportAttendees handles GET /events/export?event_id=N
// Streams the attendee roster as a CSV attachment.
func (h *AdmissionHandler) ExportAttendees(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event_id")
		return
	}

	attendees, err := h.svc.Attendees(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to export attendees")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=attendees-%d.csv", eventID))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"email", "status", "ticket_type", "registered_at"})
	for _, a := range attendees {
		_ = cw.Write([]string{a.Email, string(a.Status), a.Tier, a.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	cw.Flush()
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
