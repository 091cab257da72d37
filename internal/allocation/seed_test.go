package allocation

import (
	"testing"
)

func TestGenerateDaySlots(t *testing.T) {
	tests := []struct {
		name    string
		doctor  Doctor
		want    int
		wantErr bool
	}{
		{"default roster D1", DefaultDoctors()[0], 4, false},
		{"default roster D2", DefaultDoctors()[1], 5, false},
		{"overrun dropped", Doctor{ID: "X", SlotDuration: 45, MaxPatientsPerSlot: 4, WorkingHours: WorkingHours{Start: "09:00", End: "10:00"}}, 1, false},
		{"bad hours", Doctor{ID: "X", SlotDuration: 30, WorkingHours: WorkingHours{Start: "9am", End: "10:00"}}, 0, true},
		{"zero duration", Doctor{ID: "X", WorkingHours: WorkingHours{Start: "09:00", End: "10:00"}}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots, err := GenerateDaySlots(tt.doctor, testDate)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if len(slots) != tt.want {
				t.Fatalf("expected %d slots, got %d", tt.want, len(slots))
			}
			for i, s := range slots {
				if s.MaxCapacity != tt.doctor.MaxPatientsPerSlot || s.Status != SlotScheduled || s.Date != testDate {
					t.Fatalf("slot %d malformed: %+v", i, s)
				}
				if i > 0 && !s.StartTime.Equal(slots[i-1].EndTime) {
					t.Fatalf("slot %d does not follow the previous one", i)
				}
			}
		})
	}
}

func TestSeedDayIsIdempotent(t *testing.T) {
	f := newFixture(t)

	created, err := f.engine.SeedDay(f.ctx, DefaultDoctors(), testDate)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if created != 0 {
		t.Fatalf("second seed should create nothing, created %d", created)
	}

	doctors, err := f.engine.ListDoctors(f.ctx)
	if err != nil || len(doctors) != 3 || doctors[0].ID != "D1" {
		t.Fatalf("unexpected doctors %+v (%v)", doctors, err)
	}
	if got := len(f.slots(t, "D3")); got != 3 {
		t.Fatalf("expected 3 slots for D3, got %d", got)
	}

	if _, err := f.engine.SeedDay(f.ctx, DefaultDoctors(), "15-01-2025"); err == nil {
		t.Fatalf("expected an invalid date to be rejected")
	}
}
