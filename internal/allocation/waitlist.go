package allocation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// SortWaitlist orders entries by priority, then join time, then insertion order.
func SortWaitlist(entries []WaitlistEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if c := ComparePriority(a.Priority, b.Priority); c != 0 {
			return c < 0
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.Seq < b.Seq
	})
}

// SortedWaitlist returns the waiting entries for a doctor. A nil slot id
// returns entries for every slot of that doctor.
func (e *Engine) SortedWaitlist(ctx context.Context, doctorID string, preferredSlotID *uuid.UUID) ([]WaitlistEntry, error) {
	entries, err := e.repo.ListWaitlist(ctx, WaitlistFilter{
		DoctorID: doctorID,
		SlotID:   preferredSlotID,
		Status:   WaitlistWaiting,
	})
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	SortWaitlist(entries)
	return entries, nil
}

func (e *Engine) NextWaitlistCandidate(ctx context.Context, doctorID string, preferredSlotID *uuid.UUID) (*WaitlistEntry, error) {
	entries, err := e.SortedWaitlist(ctx, doctorID, preferredSlotID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// MarkPromoted is a no-op for unknown entries.
func (e *Engine) MarkPromoted(ctx context.Context, entryID uuid.UUID) error {
	return e.setWaitlistStatus(ctx, entryID, WaitlistPromoted)
}

func (e *Engine) setWaitlistStatus(ctx context.Context, entryID uuid.UUID, status WaitlistStatus) error {
	err := e.repo.UpdateWaitlistStatus(ctx, entryID, status)
	if errors.Is(err, ErrWaitlistEntryNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update waitlist entry: %w", err)
	}
	return nil
}

func (e *Engine) CreateWaitlistEntry(ctx context.Context, patientID, doctorID string, preferredSlotID *uuid.UUID, source TokenSource, details *PatientDetails) (*WaitlistEntry, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTokenSource, source)
	}

	entry, err := e.repo.CreateWaitlistEntry(ctx, WaitlistEntry{
		ID:              uuid.New(),
		PatientID:       patientID,
		DoctorID:        doctorID,
		PreferredSlotID: preferredSlotID,
		TokenSource:     source,
		Priority:        PriorityForSource(source),
		JoinedAt:        e.clock(),
		Status:          WaitlistWaiting,
		PatientDetails:  details,
	})
	if err != nil {
		return nil, fmt.Errorf("create waitlist entry: %w", err)
	}
	return entry, nil
}
