package allocation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Promotion struct {
	WaitlistEntryID uuid.UUID
	PatientID       string
	Token           Token
}

// ReallocationResult describes what happened to a freed seat. ReallocatedTo is
// nil when nobody was promoted.
type ReallocationResult struct {
	FreedSlotID   uuid.UUID
	ReallocatedTo *string
	PromotedToken *Token
	Promotions    []Promotion
}

// DecrementOccupancy lowers the slot's occupancy counter by one, never below zero.
func (e *Engine) DecrementOccupancy(ctx context.Context, slotID uuid.UUID) (*TimeSlot, error) {
	var slot *TimeSlot
	err := e.mutate(ctx, []uuid.UUID{slotID}, func(ctx context.Context, _ *eventBatch) error {
		var err error
		slot, err = e.decrementOccupancy(ctx, slotID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

func (e *Engine) decrementOccupancy(ctx context.Context, slotID uuid.UUID) (*TimeSlot, error) {
	slot, err := e.repo.AdjustSlotOccupancy(ctx, slotID, -1)
	if err != nil {
		return nil, fmt.Errorf("decrement occupancy: %w", err)
	}
	return slot, nil
}

// ReallocateFreedSlot promotes at most one waiting patient into the slot.
// Callers decrement occupancy first.
func (e *Engine) ReallocateFreedSlot(ctx context.Context, slotID uuid.UUID) (*ReallocationResult, error) {
	var result *ReallocationResult
	err := e.mutate(ctx, []uuid.UUID{slotID}, func(ctx context.Context, events *eventBatch) error {
		var err error
		result, err = e.reallocate(ctx, slotID, events)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) reallocate(ctx context.Context, slotID uuid.UUID, events *eventBatch) (*ReallocationResult, error) {
	result := &ReallocationResult{FreedSlotID: slotID}
	log := e.logger.With().Str("op", "reallocate").Str("slot_id", slotID.String()).Logger()

	slot, err := e.repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if slot.Status == SlotCancelled {
		log.Debug().Msg("slot cancelled, nothing to reallocate")
		return result, nil
	}

	for {
		candidate, err := e.NextWaitlistCandidate(ctx, slot.DoctorID, &slot.ID)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			log.Debug().Msg("waitlist empty")
			return result, nil
		}

		live, err := e.liveTokens(ctx, slot.ID)
		if err != nil {
			return nil, err
		}
		if len(live) >= slot.MaxCapacity {
			log.Debug().Int("live", len(live)).Msg("slot already full")
			return result, nil
		}

		// A candidate who got a token elsewhere meanwhile can no longer be promoted.
		dup, err := e.hasActiveToken(ctx, candidate.PatientID, slot.DoctorID)
		if err != nil {
			return nil, err
		}
		if dup {
			if err := e.setWaitlistStatus(ctx, candidate.ID, WaitlistExpired); err != nil {
				return nil, err
			}
			events.add(EventWaitlistExpired, nil, &slot.ID, map[string]any{
				"waitlist_entry_id": candidate.ID.String(),
				"patient_id":        candidate.PatientID,
				"reason":            "patient already holds an active token",
			})
			continue
		}

		if err := e.EnsurePatient(ctx, candidate.PatientID, candidate.TokenSource, candidate.PatientDetails); err != nil {
			return nil, err
		}
		token, err := e.admit(ctx, *slot, candidate.PatientID, candidate.TokenSource, candidate.Priority, false)
		if err != nil {
			return nil, err
		}
		if err := e.MarkPromoted(ctx, candidate.ID); err != nil {
			return nil, err
		}

		events.add(EventTokenPromoted, &token.ID, &slot.ID, map[string]any{
			"waitlist_entry_id": candidate.ID.String(),
			"patient_id":        candidate.PatientID,
			"token_number":      token.TokenNumber,
		})
		log.Info().Str("patient_id", candidate.PatientID).Str("token_number", token.TokenNumber).Msg("waitlist candidate promoted")

		result.ReallocatedTo = ptr(candidate.PatientID)
		result.PromotedToken = token
		result.Promotions = []Promotion{{
			WaitlistEntryID: candidate.ID,
			PatientID:       candidate.PatientID,
			Token:           *token,
		}}
		return result, nil
	}
}
