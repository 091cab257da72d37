package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EmergencyRequest struct {
	PatientID       string
	DoctorID        string
	PreferredSlotID *uuid.UUID
	PatientDetails  *PatientDetails
}

type AllocatedSlot struct {
	SlotID    uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Token     Token
}

// BumpedPatient records where an evicted patient went. Either NewToken is set
// or the patient was put on the doctor's waitlist.
type BumpedPatient struct {
	PatientID       string
	OriginalTokenID uuid.UUID
	NewSlotID       *uuid.UUID
	NewToken        *Token
	Waitlisted      bool
	WaitlistEntry   *WaitlistEntry
}

type EmergencyResult struct {
	Success        bool
	AllocatedSlot  *AllocatedSlot
	BumpedPatients []BumpedPatient
	Notifications  []string
	Message        string
}

// EmergencyInsert admits an emergency patient, evicting the least urgent
// occupant when the slot is full. The bump, the reschedule and the admission
// commit together or not at all.
func (e *Engine) EmergencyInsert(ctx context.Context, req EmergencyRequest) (*EmergencyResult, error) {
	log := e.logger.With().Str("op", "emergency").Str("doctor_id", req.DoctorID).Str("patient_id", req.PatientID).Logger()

	if _, err := e.repo.GetDoctor(ctx, req.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return &EmergencyResult{Message: "Doctor not found"}, nil
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	date := e.clock().Format(DateLayout)
	preferred, err := e.resolvePreferredSlot(ctx, req.DoctorID, req.PreferredSlotID)
	if err != nil {
		return nil, err
	}
	if preferred != nil {
		date = preferred.Date
	}

	slots, err := e.repo.ListSlotsByDoctorAndDate(ctx, req.DoctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list doctor slots: %w", err)
	}
	if len(slots) == 0 {
		return &EmergencyResult{Message: "No slot available for emergency insertion"}, nil
	}

	var result *EmergencyResult
	err = e.mutate(ctx, slotIDs(slots), func(ctx context.Context, events *eventBatch) error {
		slots, err := e.repo.ListSlotsByDoctorAndDate(ctx, req.DoctorID, date)
		if err != nil {
			return fmt.Errorf("list doctor slots: %w", err)
		}
		sortSlots(slots)

		target, err := e.emergencyTarget(ctx, req, slots)
		if err != nil {
			return err
		}
		if target == nil {
			result = &EmergencyResult{Message: "No slot available for emergency insertion"}
			return nil
		}

		if err := e.EnsurePatient(ctx, req.PatientID, SourceFollowUp, req.PatientDetails); err != nil {
			return err
		}

		live, err := e.liveTokens(ctx, target.ID)
		if err != nil {
			return err
		}

		result = &EmergencyResult{Success: true}

		if len(live) >= target.MaxCapacity {
			victim := selectBumpVictim(live)
			if victim == nil {
				result = &EmergencyResult{Message: "Slot full and no token to bump"}
				return nil
			}
			bumped, note, err := e.bump(ctx, *target, *victim, slots, events)
			if err != nil {
				return err
			}
			result.BumpedPatients = append(result.BumpedPatients, *bumped)
			result.Notifications = append(result.Notifications, note)
		}

		token, err := e.admit(ctx, *target, req.PatientID, SourceFollowUp, EmergencyPriority, true)
		if err != nil {
			return err
		}
		events.add(EventEmergencyAdmitted, &token.ID, &target.ID, map[string]any{
			"patient_id":   req.PatientID,
			"token_number": token.TokenNumber,
			"bumped":       len(result.BumpedPatients),
		})

		result.AllocatedSlot = &AllocatedSlot{
			SlotID:    target.ID,
			StartTime: target.StartTime,
			EndTime:   target.EndTime,
			Token:     *token,
		}
		result.Notifications = append(result.Notifications, fmt.Sprintf(
			"Emergency patient %s admitted to slot %s with token %s",
			req.PatientID, target.StartTime.Format("15:04"), token.TokenNumber))
		result.Message = "Emergency patient admitted"
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Bool("success", result.Success).Int("bumped", len(result.BumpedPatients)).Msg(result.Message)
	return result, nil
}

// resolvePreferredSlot returns the requested slot when it exists, belongs to
// the doctor and is not cancelled.
func (e *Engine) resolvePreferredSlot(ctx context.Context, doctorID string, slotID *uuid.UUID) (*TimeSlot, error) {
	if slotID == nil {
		return nil, nil
	}
	slot, err := e.repo.GetSlot(ctx, *slotID)
	if errors.Is(err, ErrSlotNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load preferred slot: %w", err)
	}
	if slot.DoctorID != doctorID || slot.Status == SlotCancelled {
		return nil, nil
	}
	return slot, nil
}

// emergencyTarget picks the preferred slot, else the current or next open
// slot, else the first open slot of the day.
func (e *Engine) emergencyTarget(ctx context.Context, req EmergencyRequest, slots []TimeSlot) (*TimeSlot, error) {
	preferred, err := e.resolvePreferredSlot(ctx, req.DoctorID, req.PreferredSlotID)
	if err != nil || preferred != nil {
		return preferred, err
	}

	now := e.clock()
	var open []TimeSlot
	for _, s := range slots {
		if s.Status != SlotCancelled && s.Status != SlotCompleted {
			open = append(open, s)
		}
	}
	if len(open) == 0 {
		return nil, nil
	}
	for i := range open {
		if open[i].EndTime.After(now) {
			return &open[i], nil
		}
	}
	return &open[0], nil
}

// selectBumpVictim picks the least urgent pending token, latest admitted first.
// Tokens already in consultation are never bumped.
func selectBumpVictim(live []Token) *Token {
	var victim *Token
	for i := range live {
		t := &live[i]
		if t.Status != TokenAllocated && t.Status != TokenWaiting {
			continue
		}
		if victim == nil {
			victim = t
			continue
		}
		if c := ComparePriority(t.Priority, victim.Priority); c != 0 {
			if c > 0 {
				victim = t
			}
			continue
		}
		if t.PositionInQueue > victim.PositionInQueue ||
			(t.PositionInQueue == victim.PositionInQueue && t.AllocatedAt.After(victim.AllocatedAt)) {
			victim = t
		}
	}
	return victim
}

// bump cancels the victim's token and moves them to the first later slot with
// room, or to the doctor's waitlist.
func (e *Engine) bump(ctx context.Context, target TimeSlot, victim Token, slots []TimeSlot, events *eventBatch) (*BumpedPatient, string, error) {
	victim.Status = TokenCancelled
	if err := e.repo.UpdateToken(ctx, victim); err != nil {
		return nil, "", fmt.Errorf("cancel bumped token: %w", err)
	}
	if _, err := e.decrementOccupancy(ctx, target.ID); err != nil {
		return nil, "", err
	}
	events.add(EventTokenBumped, &victim.ID, &target.ID, map[string]any{
		"patient_id":   victim.PatientID,
		"token_number": victim.TokenNumber,
	})

	bumped := &BumpedPatient{PatientID: victim.PatientID, OriginalTokenID: victim.ID}
	from := target.StartTime.Format("15:04")
	now := e.clock()

	for _, s := range slots {
		if s.ID == target.ID || s.Status == SlotCancelled || !s.EndTime.After(now) {
			continue
		}
		live, err := e.liveTokens(ctx, s.ID)
		if err != nil {
			return nil, "", err
		}
		if len(live) >= s.MaxCapacity {
			continue
		}

		token, err := e.admit(ctx, s, victim.PatientID, victim.TokenSource, victim.Priority, victim.IsEmergency)
		if err != nil {
			return nil, "", err
		}
		events.add(EventTokenRescheduled, &token.ID, &s.ID, map[string]any{
			"patient_id":     victim.PatientID,
			"previous_token": victim.ID.String(),
			"token_number":   token.TokenNumber,
			"previous_slot":  target.ID.String(),
		})
		bumped.NewSlotID = ptr(s.ID)
		bumped.NewToken = token
		note := fmt.Sprintf("Patient %s moved from slot %s to slot %s with token %s due to an emergency",
			victim.PatientID, from, s.StartTime.Format("15:04"), token.TokenNumber)
		return bumped, note, nil
	}

	entry, err := e.CreateWaitlistEntry(ctx, victim.PatientID, victim.DoctorID, nil, victim.TokenSource, nil)
	if err != nil {
		return nil, "", err
	}
	events.add(EventTokenWaitlisted, nil, nil, map[string]any{
		"waitlist_entry_id": entry.ID.String(),
		"patient_id":        victim.PatientID,
		"previous_token":    victim.ID.String(),
	})
	bumped.Waitlisted = true
	bumped.WaitlistEntry = entry
	note := fmt.Sprintf("Patient %s moved from slot %s to the waitlist due to an emergency", victim.PatientID, from)
	return bumped, note, nil
}
