package allocation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestAllocateFillsSlotThenWaitlists(t *testing.T) {
	f := newFixture(t)
	slot := f.slots(t, "D1")[0]

	tokens := f.fill(t, "D1", at("09:00"), 10, SourceWalkIn, "P")
	for i, tok := range tokens {
		if tok.PositionInQueue != i+1 {
			t.Fatalf("token %d: expected position %d, got %d", i, i+1, tok.PositionInQueue)
		}
		if want := fmt.Sprintf("D1-S1-T%02d", i+1); tok.TokenNumber != want {
			t.Fatalf("token %d: expected number %s, got %s", i, want, tok.TokenNumber)
		}
		if tok.Priority != 3 || tok.Status != TokenAllocated {
			t.Fatalf("token %d: unexpected priority/status %d/%s", i, tok.Priority, tok.Status)
		}
	}

	for _, source := range TokenSources {
		res := f.allocate(t, "P-extra-"+string(source), "D1", at("09:30"), source)
		if res.Success {
			t.Fatalf("%s: expected the full slot to refuse admission", source)
		}
		if res.WaitlistPosition < 1 || res.WaitlistEntry == nil {
			t.Fatalf("%s: expected a waitlist position, got %+v", source, res)
		}
	}

	if got := f.liveCount(t, slot.ID); got != 10 {
		t.Fatalf("expected 10 live tokens, got %d", got)
	}
	if got := f.slot(t, slot.ID).CurrentOccupancy; got != 10 {
		t.Fatalf("expected occupancy 10, got %d", got)
	}
}

func TestAllocateWaitlistPositionFollowsPriority(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "D1", at("09:00"), 10, SourceWalkIn, "P")

	first := f.allocate(t, "W-walk", "D1", at("09:00"), SourceWalkIn)
	second := f.allocate(t, "W-online", "D1", at("09:00"), SourceOnlineBooking)
	third := f.allocate(t, "W-paid", "D1", at("09:00"), SourcePaidPriority)

	if first.WaitlistPosition != 1 || second.WaitlistPosition != 1 || third.WaitlistPosition != 1 {
		t.Fatalf("each more urgent entry should jump the queue, got %d/%d/%d",
			first.WaitlistPosition, second.WaitlistPosition, third.WaitlistPosition)
	}

	slotID := f.slots(t, "D1")[0].ID
	entries, err := f.engine.SortedWaitlist(f.ctx, "D1", &slotID)
	if err != nil {
		t.Fatalf("sorted waitlist: %v", err)
	}
	var order []string
	for _, e := range entries {
		order = append(order, e.PatientID)
	}
	if got := strings.Join(order, ","); got != "W-paid,W-online,W-walk" {
		t.Fatalf("unexpected waitlist order %s", got)
	}
}

func TestAllocateRejectsDuplicateBooking(t *testing.T) {
	f := newFixture(t)

	if res := f.allocate(t, "P-1", "D1", at("09:00"), SourceOnlineBooking); !res.Success {
		t.Fatalf("first booking failed: %s", res.Message)
	}

	for _, slotTime := range []string{"09:10", "11:00"} {
		res := f.allocate(t, "P-1", "D1", at(slotTime), SourceWalkIn)
		if res.Success || !strings.Contains(res.Message, "Duplicate") {
			t.Fatalf("%s: expected duplicate rejection, got %+v", slotTime, res)
		}
	}

	if res := f.allocate(t, "P-1", "D2", at("11:00"), SourceWalkIn); !res.Success {
		t.Fatalf("booking another doctor should be allowed: %s", res.Message)
	}
}

func TestAllocateValidation(t *testing.T) {
	f := newFixture(t)

	res := f.allocate(t, "P-1", "D9", at("09:00"), SourceWalkIn)
	if res.Success || !strings.Contains(strings.ToLower(res.Message), "doctor") {
		t.Fatalf("expected unknown doctor rejection, got %+v", res)
	}

	res = f.allocate(t, "P-1", "D1", at("08:30"), SourceWalkIn)
	if res.Success || !strings.Contains(res.Message, "No slot") {
		t.Fatalf("expected no-slot rejection, got %+v", res)
	}

	res = f.allocate(t, "P-1", "D1", at("13:00"), SourceWalkIn)
	if res.Success {
		t.Fatalf("end of working hours belongs to no slot, got %+v", res)
	}

	slot := f.slots(t, "D1")[1]
	slot.Status = SlotCancelled
	if err := f.repo.UpdateSlotTiming(f.ctx, slot); err != nil {
		t.Fatalf("cancel slot: %v", err)
	}
	res = f.allocate(t, "P-1", "D1", at("10:30"), SourceWalkIn)
	if res.Success || !strings.Contains(res.Message, "cancelled") {
		t.Fatalf("expected cancelled-slot rejection, got %+v", res)
	}

	_, err := f.engine.Allocate(f.ctx, AllocateRequest{PatientID: "P-1", DoctorID: "D1", SlotTime: at("09:00"), Source: "vip"})
	if !errors.Is(err, ErrInvalidTokenSource) {
		t.Fatalf("expected ErrInvalidTokenSource, got %v", err)
	}
}

func TestAllocateSlotBoundaryIsHalfOpen(t *testing.T) {
	f := newFixture(t)
	slots := f.slots(t, "D1")

	res := f.allocate(t, "P-1", "D1", at("10:00"), SourceWalkIn)
	if !res.Success {
		t.Fatalf("allocate: %s", res.Message)
	}
	if res.Token.SlotID != slots[1].ID {
		t.Fatalf("10:00 should resolve to the 10:00 slot, got %s", res.Token.SlotID)
	}
	if !res.Token.EstimatedConsultationTime.Equal(at("10:06")) {
		t.Fatalf("expected ETA 10:06, got %s", res.Token.EstimatedConsultationTime.Format("15:04"))
	}
}

func TestAllocateStoresPatientDetails(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Allocate(f.ctx, AllocateRequest{
		PatientID:      "P-1",
		DoctorID:       "D1",
		SlotTime:       at("09:00"),
		Source:         SourceFollowUp,
		PatientDetails: &PatientDetails{Name: "Asha Rao", Phone: "9800000000", Email: "asha@example.com"},
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	p, err := f.repo.GetPatient(f.ctx, "P-1")
	if err != nil {
		t.Fatalf("get patient: %v", err)
	}
	if p.Name != "Asha Rao" || !p.IsFollowUp || p.Email == nil || *p.Email != "asha@example.com" {
		t.Fatalf("unexpected patient %+v", p)
	}
}

func TestAllocateConcurrentNeverOverbooks(t *testing.T) {
	f := newFixture(t)
	slot := f.slots(t, "D1")[0]

	const workers = 50
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		admitted   int
		waitlisted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Allocate(f.ctx, AllocateRequest{
				PatientID: fmt.Sprintf("P-%d", i),
				DoctorID:  "D1",
				SlotTime:  at("09:45"),
				Source:    TokenSources[i%len(TokenSources)],
			})
			if err != nil {
				t.Errorf("allocate %d: %v", i, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Success {
				admitted++
			} else if res.WaitlistPosition > 0 {
				waitlisted++
			}
		}(i)
	}
	wg.Wait()

	if admitted != slot.MaxCapacity {
		t.Fatalf("expected %d admissions, got %d", slot.MaxCapacity, admitted)
	}
	if waitlisted != workers-slot.MaxCapacity {
		t.Fatalf("expected %d waitlisted, got %d", workers-slot.MaxCapacity, waitlisted)
	}
	if got := f.liveCount(t, slot.ID); got != slot.MaxCapacity {
		t.Fatalf("expected %d live tokens, got %d", slot.MaxCapacity, got)
	}
	if got := f.slot(t, slot.ID).CurrentOccupancy; got != slot.MaxCapacity {
		t.Fatalf("occupancy drifted from live count: %d", got)
	}

	seen := make(map[int]bool)
	tokens, _ := f.repo.ListTokensBySlot(f.ctx, slot.ID)
	for _, tok := range tokens {
		if seen[tok.PositionInQueue] {
			t.Fatalf("position %d assigned twice", tok.PositionInQueue)
		}
		seen[tok.PositionInQueue] = true
	}
}
