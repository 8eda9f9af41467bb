package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/eventpulse/admission/internal/ledger"
	"github.com/eventpulse/admission/internal/model"
	"github.com/eventpulse/admission/internal/notify"
	"github.com/eventpulse/admission/internal/store"
	"github.com/eventpulse/admission/internal/ticket"
)

// promote advances the earliest eligible waitlisted registration of the
// (event, tier) into the seat that was just released. It runs
// synchronously with the cancellation that freed the seat, so exactly one
// promotion is attempted per freed seat: the reservation is taken first
// and then offered to candidates in position order. A candidate that lost
// a race (cancelled concurrently) is skipped, never aborted on; if no
// candidate remains the seat is returned to the ledger.
func (s *Admission) promote(ctx context.Context, eventID int64, tier string) {
	token, err := s.ledger.Reserve(eventID, tier)
	if err != nil {
		// Another caller claimed the freed seat first; nothing to promote
		// with.
		if !errors.Is(err, ledger.ErrFull) {
			log.Printf("ERROR: promoter reserve for event %d tier %q: %v", eventID, tier, err)
		}
		return
	}

	for {
		candidate, err := s.store.NextWaitlisted(ctx, eventID, tier)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Printf("ERROR: promoter next waitlisted for event %d tier %q: %v", eventID, tier, err)
			}
			// Empty waitlist: give the seat back.
			_ = s.ledger.Release(eventID, tier, token)
			return
		}

		code := ticket.New(eventID, candidate.ID)
		err = s.store.Promote(ctx, candidate.ID, string(token), code)
		if errors.Is(err, store.ErrNotFound) {
			// Candidate vanished between selection and promotion; offer
			// the held seat to the next position.
			continue
		}
		if err != nil {
			log.Printf("ERROR: promote registration %s: %v", candidate.ID, err)
			_ = s.ledger.Release(eventID, tier, token)
			return
		}

		s.emit(notify.KeyPromoted, notify.Signal{
			Kind:        "promotion",
			EventID:     eventID,
			PersonEmail: candidate.PersonEmail,
			Status:      model.StatusRegistered,
			At:          time.Now().UTC(),
		})
		return
	}
}
