package allocation

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/db"
	redisclient "github.com/hackgods/opd-token-allocation/internal/redis"
)

// newPgRepository connects to POSTGRES_TEST_DSN, applies migrations and empties
// every table. The test is skipped when the variable is unset.
func newPgRepository(t *testing.T) *PgRepository {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE token_events, waitlist_entries, tokens, time_slots, patients, doctors`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return NewPgRepository(pool)
}

func TestPgRepositoryAllocationFlow(t *testing.T) {
	repo := newPgRepository(t)
	ctx := context.Background()
	clock := &testClock{now: at("08:00")}
	engine := NewEngine(repo, redisclient.NewLocalSlotLocker(0), WithClock(clock.Now))

	if _, err := engine.SeedDay(ctx, DefaultDoctors(), testDate); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var tokens []Token
	for i := 0; i < 10; i++ {
		res, err := engine.Allocate(ctx, AllocateRequest{
			PatientID:      "PG-" + uuid.NewString()[:8],
			DoctorID:       "D1",
			SlotTime:       at("09:00"),
			Source:         SourceWalkIn,
			PatientDetails: &PatientDetails{Name: "Test Patient"},
		})
		if err != nil || !res.Success {
			t.Fatalf("allocate %d: %v %+v", i, err, res)
		}
		tokens = append(tokens, *res.Token)
	}

	res, err := engine.Allocate(ctx, AllocateRequest{PatientID: "PG-wait", DoctorID: "D1", SlotTime: at("09:00"), Source: SourceWalkIn})
	if err != nil || res.Success || res.WaitlistPosition != 1 {
		t.Fatalf("expected waitlisting, got %+v (%v)", res, err)
	}

	loaded, err := repo.GetToken(ctx, tokens[4].ID)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if loaded.TokenNumber != tokens[4].TokenNumber || !loaded.EstimatedConsultationTime.Equal(tokens[4].EstimatedConsultationTime) {
		t.Fatalf("round trip mismatch: %+v vs %+v", loaded, tokens[4])
	}

	released, err := engine.CancelToken(ctx, tokens[0].ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if released.Reallocation.ReallocatedTo == nil || *released.Reallocation.ReallocatedTo != "PG-wait" {
		t.Fatalf("expected PG-wait promoted, got %+v", released.Reallocation)
	}

	emg, err := engine.EmergencyInsert(ctx, EmergencyRequest{PatientID: "PG-emg", DoctorID: "D1", PreferredSlotID: &tokens[0].SlotID})
	if err != nil || !emg.Success || len(emg.BumpedPatients) != 1 {
		t.Fatalf("emergency: %+v (%v)", emg, err)
	}

	slot, err := repo.GetSlot(ctx, tokens[0].SlotID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if slot.CurrentOccupancy != 10 || slot.Date != testDate {
		t.Fatalf("unexpected slot after emergency %+v", slot)
	}
}

func TestPgRepositoryMapsDuplicateActiveToken(t *testing.T) {
	repo := newPgRepository(t)
	ctx := context.Background()

	doctor := DefaultDoctors()[0]
	if err := repo.SaveDoctor(ctx, doctor); err != nil {
		t.Fatalf("save doctor: %v", err)
	}
	slots, err := GenerateDaySlots(doctor, testDate)
	if err != nil {
		t.Fatalf("generate slots: %v", err)
	}
	if err := repo.CreateSlot(ctx, slots[0]); err != nil {
		t.Fatalf("create slot: %v", err)
	}

	token := Token{
		ID:                        uuid.New(),
		TokenNumber:               "D1-S1-T01",
		PatientID:                 "P-dup",
		DoctorID:                  doctor.ID,
		SlotID:                    slots[0].ID,
		TokenSource:               SourceWalkIn,
		Priority:                  3,
		Status:                    TokenAllocated,
		AllocatedAt:               time.Now().UTC(),
		EstimatedConsultationTime: slots[0].StartTime,
		PositionInQueue:           1,
	}
	if err := repo.CreateToken(ctx, token); err != nil {
		t.Fatalf("create token: %v", err)
	}

	token.ID = uuid.New()
	if err := repo.CreateToken(ctx, token); !errors.Is(err, ErrDuplicateBooking) {
		t.Fatalf("expected ErrDuplicateBooking, got %v", err)
	}

	token.IsEmergency = true
	if err := repo.CreateToken(ctx, token); err != nil {
		t.Fatalf("emergency tokens are exempt from the index: %v", err)
	}

	if _, err := repo.GetToken(ctx, uuid.New()); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}
