package allocation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type SlotOverview struct {
	Slot            TimeSlot
	CurrentToken    *Token
	EstimatedDelay  int
	RemainingTokens int
	WaitlistCount   int
}

type ScheduleSlot struct {
	Slot           TimeSlot
	Tokens         []Token
	AvailableSeats int
	Waitlist       []WaitlistEntry
}

type Schedule struct {
	Doctor Doctor
	Date   string
	Slots  []ScheduleSlot
}

func (e *Engine) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	return e.repo.GetToken(ctx, id)
}

func (e *Engine) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return e.repo.ListDoctors(ctx)
}

// GetSlotStatus reports who is being seen now and how much is left in the slot.
func (e *Engine) GetSlotStatus(ctx context.Context, slotID uuid.UUID) (*SlotOverview, error) {
	slot, err := e.repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	tokens, err := e.repo.ListTokensBySlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("list slot tokens: %w", err)
	}
	sortTokensByPosition(tokens)

	overview := &SlotOverview{Slot: *slot, EstimatedDelay: slot.EstimatedDelay}
	for i := range tokens {
		t := tokens[i]
		if !t.Status.IsActive() {
			continue
		}
		overview.RemainingTokens++
		if overview.CurrentToken == nil && (t.Status == TokenAllocated || t.Status == TokenInConsultation) {
			overview.CurrentToken = &t
		}
	}

	waiting, err := e.SortedWaitlist(ctx, slot.DoctorID, &slot.ID)
	if err != nil {
		return nil, err
	}
	overview.WaitlistCount = len(waiting)
	return overview, nil
}

// DoctorSchedule lists the doctor's slots for a date with their tokens and
// waitlists.
func (e *Engine) DoctorSchedule(ctx context.Context, doctorID, date string) (*Schedule, error) {
	doctor, err := e.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	slots, err := e.repo.ListSlotsByDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list doctor slots: %w", err)
	}
	sortSlots(slots)

	schedule := &Schedule{Doctor: *doctor, Date: date, Slots: make([]ScheduleSlot, 0, len(slots))}
	for _, s := range slots {
		tokens, err := e.repo.ListTokensBySlot(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("list slot tokens: %w", err)
		}
		sortTokensByPosition(tokens)

		seated := 0
		for _, t := range tokens {
			if t.Status.HoldsSeat() {
				seated++
			}
		}

		waiting, err := e.SortedWaitlist(ctx, doctorID, &s.ID)
		if err != nil {
			return nil, err
		}

		schedule.Slots = append(schedule.Slots, ScheduleSlot{
			Slot:           s,
			Tokens:         tokens,
			AvailableSeats: max(s.MaxCapacity-seated, 0),
			Waitlist:       waiting,
		})
	}
	return schedule, nil
}

// ListWaitlist returns waiting entries in queue order. An empty doctorID and a
// nil priority match everything.
func (e *Engine) ListWaitlist(ctx context.Context, doctorID string, priority *int) ([]WaitlistEntry, error) {
	entries, err := e.repo.ListWaitlist(ctx, WaitlistFilter{DoctorID: doctorID, Status: WaitlistWaiting})
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	if priority != nil {
		filtered := entries[:0]
		for _, w := range entries {
			if w.Priority == *priority {
				filtered = append(filtered, w)
			}
		}
		entries = filtered
	}
	SortWaitlist(entries)
	return entries, nil
}
