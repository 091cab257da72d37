package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReleaseResult is returned when a token gives its seat back.
type ReleaseResult struct {
	Token        Token
	Reallocation *ReallocationResult
}

// CancelToken cancels an active token, frees its seat and offers the seat to
// the slot's waitlist.
func (e *Engine) CancelToken(ctx context.Context, tokenID uuid.UUID) (*ReleaseResult, error) {
	return e.release(ctx, tokenID, TokenCancelled, EventTokenCancelled)
}

// MarkNoShow is CancelToken for patients who never turned up. It is refused
// until the caller reports the grace period as expired.
func (e *Engine) MarkNoShow(ctx context.Context, tokenID uuid.UUID, gracePeriodExpired bool) (*ReleaseResult, error) {
	if !gracePeriodExpired {
		return nil, ErrGracePeriodActive
	}
	return e.release(ctx, tokenID, TokenNoShow, EventTokenNoShow)
}

func (e *Engine) release(ctx context.Context, tokenID uuid.UUID, status TokenStatus, eventType string) (*ReleaseResult, error) {
	token, err := e.repo.GetToken(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	var result *ReleaseResult
	err = e.mutate(ctx, []uuid.UUID{token.SlotID}, func(ctx context.Context, events *eventBatch) error {
		token, err := e.repo.GetToken(ctx, tokenID)
		if err != nil {
			return fmt.Errorf("load token: %w", err)
		}
		if !token.Status.IsActive() {
			return fmt.Errorf("%w: token is %s", ErrTokenNotActive, token.Status)
		}
		if status == TokenNoShow && token.Status == TokenInConsultation {
			return fmt.Errorf("%w: patient is already in consultation", ErrInvalidStatusTransition)
		}

		previous := token.Status
		token.Status = status
		if err := e.repo.UpdateToken(ctx, *token); err != nil {
			return fmt.Errorf("update token status: %w", err)
		}
		if _, err := e.decrementOccupancy(ctx, token.SlotID); err != nil {
			return err
		}
		events.add(eventType, &token.ID, &token.SlotID, map[string]any{
			"patient_id":      token.PatientID,
			"token_number":    token.TokenNumber,
			"previous_status": string(previous),
		})

		realloc, err := e.reallocate(ctx, token.SlotID, events)
		if err != nil {
			return err
		}
		result = &ReleaseResult{Token: *token, Reallocation: realloc}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("op", string(status)).
		Str("token_id", tokenID.String()).
		Str("slot_id", result.Token.SlotID.String()).
		Bool("reallocated", result.Reallocation.ReallocatedTo != nil).
		Msg("token released")
	return result, nil
}

// StartConsultation moves a pending token into consultation and marks the
// slot active.
func (e *Engine) StartConsultation(ctx context.Context, tokenID uuid.UUID) (*Token, error) {
	return e.transition(ctx, tokenID, EventConsultationStarted, func(ctx context.Context, t *Token, now time.Time) error {
		if t.Status != TokenAllocated && t.Status != TokenWaiting {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, t.Status, TokenInConsultation)
		}
		t.Status = TokenInConsultation
		t.ActualConsultationTime = &now

		slot, err := e.repo.GetSlot(ctx, t.SlotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if slot.Status == SlotScheduled || slot.Status == SlotDelayed {
			slot.Status = SlotActive
			if err := e.repo.UpdateSlotTiming(ctx, *slot); err != nil {
				return fmt.Errorf("activate slot: %w", err)
			}
		}
		return nil
	})
}

func (e *Engine) CompleteConsultation(ctx context.Context, tokenID uuid.UUID) (*Token, error) {
	return e.transition(ctx, tokenID, EventConsultationDone, func(_ context.Context, t *Token, now time.Time) error {
		if t.Status != TokenInConsultation {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, t.Status, TokenCompleted)
		}
		t.Status = TokenCompleted
		t.CompletedAt = &now
		return nil
	})
}

func (e *Engine) transition(ctx context.Context, tokenID uuid.UUID, eventType string, apply func(ctx context.Context, t *Token, now time.Time) error) (*Token, error) {
	token, err := e.repo.GetToken(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	var updated *Token
	err = e.mutate(ctx, []uuid.UUID{token.SlotID}, func(ctx context.Context, events *eventBatch) error {
		t, err := e.repo.GetToken(ctx, tokenID)
		if err != nil {
			return fmt.Errorf("load token: %w", err)
		}
		previous := t.Status
		if err := apply(ctx, t, e.clock()); err != nil {
			return err
		}
		if err := e.repo.UpdateToken(ctx, *t); err != nil {
			return fmt.Errorf("update token: %w", err)
		}
		events.add(eventType, &t.ID, &t.SlotID, map[string]any{
			"patient_id":      t.PatientID,
			"previous_status": string(previous),
			"status":          string(t.Status),
		})
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ExpireWaitlist expires waiting entries whose slot has ended. Entries without
// a preferred slot expire once the doctor's last slot on the day they joined
// has ended. It returns how many entries were expired.
func (e *Engine) ExpireWaitlist(ctx context.Context) (int, error) {
	now := e.clock()
	entries, err := e.repo.ListWaitlist(ctx, WaitlistFilter{Status: WaitlistWaiting})
	if err != nil {
		return 0, fmt.Errorf("list waitlist: %w", err)
	}

	lastEnd := make(map[string]time.Time)
	expired := 0
	for _, entry := range entries {
		var deadline time.Time
		if entry.PreferredSlotID != nil {
			slot, err := e.repo.GetSlot(ctx, *entry.PreferredSlotID)
			if err != nil && !errors.Is(err, ErrSlotNotFound) {
				return expired, fmt.Errorf("load slot: %w", err)
			}
			if slot != nil {
				deadline = slot.EndTime
			}
		} else {
			day := entry.JoinedAt.UTC().Format(DateLayout)
			key := entry.DoctorID + "|" + day
			end, ok := lastEnd[key]
			if !ok {
				end, err = e.lastSlotEnd(ctx, entry.DoctorID, day)
				if err != nil {
					return expired, err
				}
				lastEnd[key] = end
			}
			deadline = end
		}

		if !deadline.IsZero() && deadline.After(now) {
			continue
		}

		ok, err := e.expireEntry(ctx, entry)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		e.logger.Info().Str("op", "expire_waitlist").Int("expired", expired).Msg("waitlist entries expired")
	}
	return expired, nil
}

func (e *Engine) lastSlotEnd(ctx context.Context, doctorID, date string) (time.Time, error) {
	slots, err := e.repo.ListSlotsByDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("list doctor slots: %w", err)
	}
	var end time.Time
	for _, s := range slots {
		if s.EndTime.After(end) {
			end = s.EndTime
		}
	}
	return end, nil
}

// expireEntry re-checks the entry under its slot lock so a concurrent
// promotion wins.
func (e *Engine) expireEntry(ctx context.Context, entry WaitlistEntry) (bool, error) {
	var locks []uuid.UUID
	if entry.PreferredSlotID != nil {
		locks = append(locks, *entry.PreferredSlotID)
	}

	expired := false
	err := e.mutate(ctx, locks, func(ctx context.Context, events *eventBatch) error {
		current, err := e.repo.GetWaitlistEntry(ctx, entry.ID)
		if err != nil {
			return fmt.Errorf("load waitlist entry: %w", err)
		}
		if current.Status != WaitlistWaiting {
			return nil
		}
		if err := e.repo.UpdateWaitlistStatus(ctx, entry.ID, WaitlistExpired); err != nil {
			return fmt.Errorf("expire waitlist entry: %w", err)
		}
		events.add(EventWaitlistExpired, nil, entry.PreferredSlotID, map[string]any{
			"waitlist_entry_id": entry.ID.String(),
			"patient_id":        entry.PatientID,
			"reason":            "slot ended",
		})
		expired = true
		return nil
	})
	return expired, err
}
