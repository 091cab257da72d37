package allocation

import (
	"testing"
)

func TestDecrementOccupancyClampsAtZero(t *testing.T) {
	f := newFixture(t)
	slot := f.slots(t, "D1")[0]

	for i := 0; i < 2; i++ {
		got, err := f.engine.DecrementOccupancy(f.ctx, slot.ID)
		if err != nil {
			t.Fatalf("decrement: %v", err)
		}
		if got.CurrentOccupancy != 0 {
			t.Fatalf("expected occupancy 0, got %d", got.CurrentOccupancy)
		}
	}
}

func TestReallocateWithEmptyWaitlistIsNoop(t *testing.T) {
	f := newFixture(t)
	slot := f.slots(t, "D1")[0]

	paid := f.fill(t, "D1", at("09:00"), 9, SourcePaidPriority, "PAID")
	f.fill(t, "D1", at("09:00"), 1, SourceWalkIn, "WALK")

	victim := paid[0]
	victim.Status = TokenCancelled
	if err := f.repo.UpdateToken(f.ctx, victim); err != nil {
		t.Fatalf("cancel token: %v", err)
	}
	if _, err := f.engine.DecrementOccupancy(f.ctx, slot.ID); err != nil {
		t.Fatalf("decrement: %v", err)
	}

	res, err := f.engine.ReallocateFreedSlot(f.ctx, slot.ID)
	if err != nil {
		t.Fatalf("reallocate: %v", err)
	}
	if res.ReallocatedTo != nil || res.PromotedToken != nil || len(res.Promotions) != 0 {
		t.Fatalf("expected no promotion, got %+v", res)
	}
	if res.FreedSlotID != slot.ID {
		t.Fatalf("unexpected freed slot %s", res.FreedSlotID)
	}
	if got := f.slot(t, slot.ID).CurrentOccupancy; got != 9 {
		t.Fatalf("expected occupancy 9, got %d", got)
	}
}

func TestReallocatePromotesFIFOWithinPriority(t *testing.T) {
	f := newFixture(t)
	slot := f.slots(t, "D1")[0]
	tokens := f.fill(t, "D1", at("09:00"), 10, SourceOnlineBooking, "P")

	// Same clock instant for both: insertion order decides.
	if res := f.allocate(t, "P-wait-1", "D1", at("09:00"), SourceOnlineBooking); res.WaitlistPosition != 1 {
		t.Fatalf("expected P-wait-1 at position 1, got %d", res.WaitlistPosition)
	}
	if res := f.allocate(t, "P-wait-2", "D1", at("09:00"), SourceOnlineBooking); res.WaitlistPosition != 2 {
		t.Fatalf("expected P-wait-2 at position 2, got %d", res.WaitlistPosition)
	}

	cancelled := tokens[3]
	cancelled.Status = TokenCancelled
	if err := f.repo.UpdateToken(f.ctx, cancelled); err != nil {
		t.Fatalf("cancel token: %v", err)
	}
	if _, err := f.engine.DecrementOccupancy(f.ctx, slot.ID); err != nil {
		t.Fatalf("decrement: %v", err)
	}

	res, err := f.engine.ReallocateFreedSlot(f.ctx, slot.ID)
	if err != nil {
		t.Fatalf("reallocate: %v", err)
	}
	if res.ReallocatedTo == nil || *res.ReallocatedTo != "P-wait-1" {
		t.Fatalf("expected P-wait-1 promoted, got %+v", res.ReallocatedTo)
	}
	if len(res.Promotions) != 1 {
		t.Fatalf("exactly one promotion per call, got %d", len(res.Promotions))
	}

	promoted := res.PromotedToken
	if promoted.PositionInQueue != 10 || promoted.TokenNumber != "D1-S1-T10" || promoted.Priority != 2 {
		t.Fatalf("unexpected promoted token %+v", promoted)
	}
	if !promoted.EstimatedConsultationTime.Equal(EstimateConsultationTime(f.slot(t, slot.ID), 10)) {
		t.Fatalf("promoted ETA does not match the shared estimator")
	}
	if got := f.slot(t, slot.ID).CurrentOccupancy; got != 10 {
		t.Fatalf("expected occupancy back at 10, got %d", got)
	}
	if got := f.liveCount(t, slot.ID); got != 10 {
		t.Fatalf("expected 10 live tokens, got %d", got)
	}

	remaining, _ := f.engine.SortedWaitlist(f.ctx, "D1", &slot.ID)
	if len(remaining) != 1 || remaining[0].PatientID != "P-wait-2" {
		t.Fatalf("P-wait-2 should still be waiting, got %+v", remaining)
	}
}

func TestReallocateDoesNotOverfillSlot(t *testing.T) {
	f := newFixture(t)
	slot := f.slots(t, "D1")[0]
	f.fill(t, "D1", at("09:00"), 10, SourceWalkIn, "P")
	f.allocate(t, "P-wait", "D1", at("09:00"), SourceWalkIn)

	res, err := f.engine.ReallocateFreedSlot(f.ctx, slot.ID)
	if err != nil {
		t.Fatalf("reallocate: %v", err)
	}
	if res.ReallocatedTo != nil {
		t.Fatalf("a full slot must not accept a promotion, got %s", *res.ReallocatedTo)
	}
	if got := f.liveCount(t, slot.ID); got != 10 {
		t.Fatalf("expected 10 live tokens, got %d", got)
	}
}

func TestReallocateSkipsCandidateWithActiveToken(t *testing.T) {
	f := newFixture(t)
	slots := f.slots(t, "D1")
	tokens := f.fill(t, "D1", at("09:00"), 10, SourceWalkIn, "P")

	f.allocate(t, "P-x", "D1", at("09:00"), SourcePaidPriority)
	f.allocate(t, "P-y", "D1", at("09:00"), SourceWalkIn)
	if res := f.allocate(t, "P-x", "D1", at("10:00"), SourceWalkIn); !res.Success {
		t.Fatalf("P-x should get a seat in the next slot: %s", res.Message)
	}

	res, err := f.engine.CancelToken(f.ctx, tokens[0].ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Reallocation.ReallocatedTo == nil || *res.Reallocation.ReallocatedTo != "P-y" {
		t.Fatalf("expected P-y promoted after skipping P-x, got %+v", res.Reallocation.ReallocatedTo)
	}

	entries, _ := f.repo.ListWaitlist(f.ctx, WaitlistFilter{DoctorID: "D1", SlotID: &slots[0].ID})
	for _, e := range entries {
		if e.PatientID == "P-x" && e.Status != WaitlistExpired {
			t.Fatalf("P-x entry should be expired, got %s", e.Status)
		}
	}
}
