package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/api"
)

type simSlot struct {
	ID        uuid.UUID
	DoctorID  string
	StartTime time.Time
}

type simPatient struct {
	ID      string
	Details api.PatientDetailsRequest
}

// DataPool is the shared working set: the day's slots, a fixed patient
// population and the tokens handed out so far.
type DataPool struct {
	Slots    []simSlot
	Patients []simPatient

	mu     sync.Mutex
	tokens []uuid.UUID
}

func (dp *DataPool) AddToken(id uuid.UUID) {
	dp.mu.Lock()
	dp.tokens = append(dp.tokens, id)
	dp.mu.Unlock()
}

// TakeToken removes and returns a random token so two workers never release
// the same one.
func (dp *DataPool) TakeToken(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.tokens) == 0 {
		return uuid.Nil, false
	}
	i := rng.Intn(len(dp.tokens))
	id := dp.tokens[i]
	dp.tokens[i] = dp.tokens[len(dp.tokens)-1]
	dp.tokens = dp.tokens[:len(dp.tokens)-1]
	return id, true
}

func (dp *DataPool) PeekToken(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.tokens) == 0 {
		return uuid.Nil, false
	}
	return dp.tokens[rng.Intn(len(dp.tokens))], true
}

func loadDataPool(ctx context.Context, c *apiClient, cfg SimConfig) (*DataPool, []string, error) {
	doctors, err := c.doctors(ctx)
	if err != nil {
		return nil, nil, err
	}

	dp := &DataPool{}
	var doctorIDs []string
	for _, d := range doctors {
		sched, err := c.schedule(ctx, d.ID, cfg.Date)
		if err != nil {
			return nil, nil, err
		}
		for _, s := range sched.Slots {
			if s.Slot.Status == "cancelled" {
				continue
			}
			dp.Slots = append(dp.Slots, simSlot{ID: s.Slot.ID, DoctorID: d.ID, StartTime: s.Slot.StartTime})
		}
		if len(sched.Slots) > 0 {
			doctorIDs = append(doctorIDs, d.ID)
		}
	}
	if len(dp.Slots) == 0 {
		return nil, nil, fmt.Errorf("no slots found for %s, run the seeder first", cfg.Date)
	}

	dp.Patients = fakePatients(gofakeit.New(uint64(time.Now().UnixNano())), cfg.Patients)
	return dp, doctorIDs, nil
}

func fakePatients(f *gofakeit.Faker, count int) []simPatient {
	patients := make([]simPatient, 0, count)
	for i := 1; i <= count; i++ {
		patients = append(patients, simPatient{
			ID: fmt.Sprintf("SIM%05d", i),
			Details: api.PatientDetailsRequest{
				Name:  f.Name(),
				Phone: f.Phone(),
				Email: f.Email(),
			},
		})
	}
	return patients
}
