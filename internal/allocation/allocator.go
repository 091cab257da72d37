package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AllocateRequest struct {
	PatientID      string
	DoctorID       string
	SlotTime       time.Time
	Source         TokenSource
	PatientDetails *PatientDetails
}

type AllocateOutcome string

const (
	OutcomeAllocated      AllocateOutcome = "allocated"
	OutcomeWaitlisted     AllocateOutcome = "waitlisted"
	OutcomeDoctorNotFound AllocateOutcome = "doctor_not_found"
	OutcomeNoSlot         AllocateOutcome = "no_slot"
	OutcomeSlotCancelled  AllocateOutcome = "slot_cancelled"
	OutcomeDuplicate      AllocateOutcome = "duplicate_booking"
)

// AllocateResult is the outcome of an admission attempt. A full slot is not
// an error: Success is false and WaitlistPosition is set.
type AllocateResult struct {
	Success          bool
	Outcome          AllocateOutcome
	Token            *Token
	WaitlistEntry    *WaitlistEntry
	WaitlistPosition int
	Message          string
}

// Allocate admits a patient into the slot containing req.SlotTime or puts them
// on that slot's waitlist when it is full.
func (e *Engine) Allocate(ctx context.Context, req AllocateRequest) (*AllocateResult, error) {
	if !req.Source.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTokenSource, req.Source)
	}

	log := e.logger.With().Str("op", "allocate").Str("doctor_id", req.DoctorID).Str("patient_id", req.PatientID).Logger()

	if _, err := e.repo.GetDoctor(ctx, req.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return &AllocateResult{Outcome: OutcomeDoctorNotFound, Message: "Doctor not found"}, nil
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	at := req.SlotTime.UTC()
	slots, err := e.repo.ListSlotsByDoctorAndDate(ctx, req.DoctorID, at.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("list doctor slots: %w", err)
	}
	target := findSlotForTime(slots, at)
	if target == nil {
		return &AllocateResult{Outcome: OutcomeNoSlot, Message: "No slot found for the requested time"}, nil
	}

	var result *AllocateResult
	err = e.mutate(ctx, slotIDs([]TimeSlot{*target}), func(ctx context.Context, events *eventBatch) error {
		slot, err := e.repo.GetSlot(ctx, target.ID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if slot.Status == SlotCancelled {
			result = &AllocateResult{Outcome: OutcomeSlotCancelled, Message: "Slot is cancelled"}
			return nil
		}

		dup, err := e.hasActiveToken(ctx, req.PatientID, req.DoctorID)
		if err != nil {
			return err
		}
		if dup {
			return ErrDuplicateBooking
		}

		if err := e.EnsurePatient(ctx, req.PatientID, req.Source, req.PatientDetails); err != nil {
			return err
		}

		live, err := e.liveTokens(ctx, slot.ID)
		if err != nil {
			return err
		}

		if len(live) >= slot.MaxCapacity {
			entry, err := e.CreateWaitlistEntry(ctx, req.PatientID, req.DoctorID, &slot.ID, req.Source, req.PatientDetails)
			if err != nil {
				return err
			}
			position, err := e.waitlistPosition(ctx, req.DoctorID, slot.ID, entry)
			if err != nil {
				return err
			}
			events.add(EventTokenWaitlisted, nil, &slot.ID, map[string]any{
				"waitlist_entry_id": entry.ID.String(),
				"patient_id":        req.PatientID,
				"position":          position,
			})
			result = &AllocateResult{
				Outcome:          OutcomeWaitlisted,
				WaitlistEntry:    entry,
				WaitlistPosition: position,
				Message:          fmt.Sprintf("Slot is full. Added to waitlist at position %d", position),
			}
			return nil
		}

		token, err := e.admit(ctx, *slot, req.PatientID, req.Source, PriorityForSource(req.Source), false)
		if err != nil {
			return err
		}
		events.add(EventTokenAllocated, &token.ID, &slot.ID, map[string]any{
			"patient_id":   req.PatientID,
			"token_number": token.TokenNumber,
			"source":       string(req.Source),
			"position":     token.PositionInQueue,
		})
		result = &AllocateResult{
			Success: true,
			Outcome: OutcomeAllocated,
			Token:   token,
			Message: fmt.Sprintf("Token %s allocated", token.TokenNumber),
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateBooking) {
		log.Info().Msg("duplicate booking rejected")
		return &AllocateResult{Outcome: OutcomeDuplicate, Message: "Duplicate booking: patient already has an active token with this doctor"}, nil
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("slot_id", target.ID.String()).
		Bool("success", result.Success).
		Int("waitlist_position", result.WaitlistPosition).
		Msg(result.Message)
	return result, nil
}

// waitlistPosition is the entry's 1-based rank in its slot's sorted waitlist.
func (e *Engine) waitlistPosition(ctx context.Context, doctorID string, slotID uuid.UUID, entry *WaitlistEntry) (int, error) {
	entries, err := e.SortedWaitlist(ctx, doctorID, &slotID)
	if err != nil {
		return 0, err
	}
	for i, w := range entries {
		if w.ID == entry.ID {
			return i + 1, nil
		}
	}
	return len(entries) + 1, nil
}
