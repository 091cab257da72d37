package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AffectedSlot struct {
	SlotID          uuid.UUID
	StartTime       time.Time
	ActualStartTime time.Time
	EstimatedDelay  int
	Status          SlotStatus
}

type RescheduledPatient struct {
	PatientID        string
	TokenID          uuid.UUID
	TokenNumber      string
	SlotID           uuid.UUID
	PreviousEstimate time.Time
	NewEstimate      time.Time
}

type DelayResult struct {
	AffectedSlots       []AffectedSlot
	RescheduledPatients []RescheduledPatient
	NotificationsCount  int
	Reason              string
}

// AdjustSlotTiming applies a doctor delay to the slot and every later open
// slot that day. Each affected slot gets the same delay, not a running total.
func (e *Engine) AdjustSlotTiming(ctx context.Context, slotID uuid.UUID, delayMinutes int, reason string) (*DelayResult, error) {
	empty := &DelayResult{Reason: reason}
	if delayMinutes <= 0 {
		return empty, nil
	}

	slot, err := e.repo.GetSlot(ctx, slotID)
	if errors.Is(err, ErrSlotNotFound) {
		return empty, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}

	siblings, err := e.repo.ListSlotsByDoctorAndDate(ctx, slot.DoctorID, slot.Date)
	if err != nil {
		return nil, fmt.Errorf("list doctor slots: %w", err)
	}

	result := empty
	err = e.mutate(ctx, slotIDs(siblings), func(ctx context.Context, events *eventBatch) error {
		slots, err := e.repo.ListSlotsByDoctorAndDate(ctx, slot.DoctorID, slot.Date)
		if err != nil {
			return fmt.Errorf("list doctor slots: %w", err)
		}
		sortSlots(slots)

		var open []TimeSlot
		start := -1
		for _, s := range slots {
			if s.Status == SlotCancelled || s.Status == SlotCompleted {
				continue
			}
			if s.ID == slotID {
				start = len(open)
			}
			open = append(open, s)
		}
		if start < 0 {
			return nil
		}

		res := &DelayResult{Reason: reason}
		for _, s := range open[start:] {
			s.ActualStartTime = ptr(s.StartTime.Add(time.Duration(delayMinutes) * time.Minute))
			s.EstimatedDelay = delayMinutes
			if s.Status == SlotScheduled {
				s.Status = SlotDelayed
			}
			if err := e.repo.UpdateSlotTiming(ctx, s); err != nil {
				return fmt.Errorf("update slot timing: %w", err)
			}
			res.AffectedSlots = append(res.AffectedSlots, AffectedSlot{
				SlotID:          s.ID,
				StartTime:       s.StartTime,
				ActualStartTime: *s.ActualStartTime,
				EstimatedDelay:  s.EstimatedDelay,
				Status:          s.Status,
			})

			tokens, err := e.repo.ListTokensBySlot(ctx, s.ID)
			if err != nil {
				return fmt.Errorf("list slot tokens: %w", err)
			}
			for _, t := range tokens {
				if !t.Status.IsActive() {
					continue
				}
				previous := t.EstimatedConsultationTime
				t.EstimatedConsultationTime = EstimateConsultationTime(s, t.PositionInQueue)
				if err := e.repo.UpdateToken(ctx, t); err != nil {
					return fmt.Errorf("update token estimate: %w", err)
				}
				res.RescheduledPatients = append(res.RescheduledPatients, RescheduledPatient{
					PatientID:        t.PatientID,
					TokenID:          t.ID,
					TokenNumber:      t.TokenNumber,
					SlotID:           s.ID,
					PreviousEstimate: previous,
					NewEstimate:      t.EstimatedConsultationTime,
				})
				res.NotificationsCount++
			}

			events.add(EventSlotDelayed, nil, ptr(s.ID), map[string]any{
				"delay_minutes": delayMinutes,
				"reason":        reason,
				"status":        string(s.Status),
			})
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("op", "adjust_timing").
		Str("slot_id", slotID.String()).
		Int("delay_minutes", delayMinutes).
		Int("affected_slots", len(result.AffectedSlots)).
		Int("rescheduled", len(result.RescheduledPatients)).
		Msg("slot delay applied")
	return result, nil
}
