// Package ticket issues and decodes the scannable ticket identifiers that
// bind a physical check-in attempt to a registration.
//
// Three wire forms are recognized:
//
//	evt:<eventID>:reg:<registrationID>   structured, issued by this package
//	event:<eventID>                      short, hand-typeable
//	.../events/<eventID>                 legacy URL path, decode-only
//
// The structured form carries the registration identifier for direct
// lookup; the short and legacy forms identify only the event, so the
// verifier resolves the registration through the presented person.
package ticket

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidFormat is returned for input that matches none of the known
// forms. Decoding is purely syntactic: invalid input is rejected without
// touching any store.
var ErrInvalidFormat = errors.New("invalid ticket format")

// Payload is the decoded content of a ticket identifier.
type Payload struct {
	EventID int64
	// RegistrationID is empty for the short and legacy forms.
	RegistrationID string
}

// New builds the structured identifier for a confirmed registration. The
// result is stable: encoding the same registration always yields the same
// string, so re-prints and re-scans stay idempotent.
func New(eventID int64, registrationID string) string {
	return fmt.Sprintf("evt:%d:reg:%s", eventID, registrationID)
}

// Decode parses any accepted wire form into a Payload.
func Decode(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Payload{}, ErrInvalidFormat
	}

	if strings.HasPrefix(raw, "evt:") {
		return decodeStructured(raw)
	}
	if strings.HasPrefix(raw, "event:") {
		return decodeShort(raw)
	}
	if strings.Contains(raw, "/events/") {
		return decodeLegacyURL(raw)
	}
	return Payload{}, ErrInvalidFormat
}

func decodeStructured(raw string) (Payload, error) {
	// evt:<id>:reg:<uuid>
	parts := strings.Split(raw, ":")
	if len(parts) != 4 || parts[0] != "evt" || parts[2] != "reg" {
		return Payload{}, ErrInvalidFormat
	}
	eventID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || eventID <= 0 {
		return Payload{}, ErrInvalidFormat
	}
	if _, err := uuid.Parse(parts[3]); err != nil {
		return Payload{}, ErrInvalidFormat
	}
	return Payload{EventID: eventID, RegistrationID: parts[3]}, nil
}

func decodeShort(raw string) (Payload, error) {
	idStr := strings.TrimPrefix(raw, "event:")
	eventID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || eventID <= 0 {
		return Payload{}, ErrInvalidFormat
	}
	return Payload{EventID: eventID}, nil
}

func decodeLegacyURL(raw string) (Payload, error) {
	// Accept anything whose path ends in /events/<id>, e.g.
	// https://host/events/42 or host/app/events/42?src=qr
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSuffix(raw, "/")
	i := strings.LastIndex(raw, "/events/")
	if i < 0 {
		return Payload{}, ErrInvalidFormat
	}
	idStr := raw[i+len("/events/"):]
	if strings.Contains(idStr, "/") {
		return Payload{}, ErrInvalidFormat
	}
	eventID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || eventID <= 0 {
		return Payload{}, ErrInvalidFormat
	}
	return Payload{EventID: eventID}, nil
}
