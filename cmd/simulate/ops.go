package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/api"
)

type OperationMix struct {
	Allocate  float64
	Cancel    float64
	NoShow    float64
	Emergency float64
	Delay     float64
	Read      float64
}

func (m *OperationMix) normalize() error {
	weights := []*float64{&m.Allocate, &m.Cancel, &m.NoShow, &m.Emergency, &m.Delay, &m.Read}
	total := 0.0
	for _, w := range weights {
		if *w < 0 {
			return fmt.Errorf("operation shares must not be negative")
		}
		total += *w
	}
	if total == 0 {
		return fmt.Errorf("at least one operation share must be positive")
	}
	for _, w := range weights {
		*w /= total
	}
	return nil
}

type operation int

const (
	opAllocate operation = iota
	opCancel
	opNoShow
	opEmergency
	opDelay
	opRead
)

// pick maps r in [0,1) onto the cumulative shares.
func (m OperationMix) pick(r float64) operation {
	for _, c := range []struct {
		share float64
		op    operation
	}{
		{m.Allocate, opAllocate},
		{m.Cancel, opCancel},
		{m.NoShow, opNoShow},
		{m.Emergency, opEmergency},
		{m.Delay, opDelay},
	} {
		if r < c.share {
			return c.op
		}
		r -= c.share
	}
	return opRead
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch s.config.Mix.pick(rng.Float64()) {
		case opAllocate:
			s.doAllocate(ctx, rng)
		case opCancel:
			s.doCancel(ctx, rng)
		case opNoShow:
			s.doNoShow(ctx, rng)
		case opEmergency:
			s.doEmergency(ctx, rng)
		case opDelay:
			s.doDelay(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

func (s *Simulator) randomPatient(rng *rand.Rand) simPatient {
	return s.pool.Patients[rng.Intn(len(s.pool.Patients))]
}

func (s *Simulator) randomSlot(rng *rand.Rand) simSlot {
	return s.pool.Slots[rng.Intn(len(s.pool.Slots))]
}

func (s *Simulator) doAllocate(ctx context.Context, rng *rand.Rand) {
	slot := s.randomSlot(rng)
	patient := s.randomPatient(rng)
	source := allocation.TokenSources[rng.Intn(len(allocation.TokenSources))]
	details := patient.Details

	req := api.AllocateTokenRequest{
		PatientID:      patient.ID,
		DoctorID:       slot.DoctorID,
		SlotTime:       slot.StartTime.Add(time.Duration(rng.Intn(30)) * time.Minute).Format(time.RFC3339),
		TokenSource:    string(source),
		PatientDetails: &details,
	}

	var out api.AllocateResponse
	status, latency, err := s.client.do(ctx, http.MethodPost, "/tokens/allocate", req, &out)
	if ctx.Err() != nil {
		return
	}

	success := err == nil && (status == http.StatusCreated || status == http.StatusAccepted)
	if success && out.Token != nil {
		s.pool.AddToken(out.Token.ID)
	}
	if status == http.StatusAccepted {
		atomic.AddInt64(&s.metrics.Waitlisted, 1)
	}
	s.metrics.Allocate.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeToken(rng)
	if !ok {
		return
	}
	status, latency, err := s.client.do(ctx, http.MethodPost, fmt.Sprintf("/tokens/%s/cancel", id), nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doNoShow(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.TakeToken(rng)
	if !ok {
		return
	}
	body := api.NoShowRequest{GracePeriodExpired: true}
	status, latency, err := s.client.do(ctx, http.MethodPost, fmt.Sprintf("/tokens/%s/no-show", id), body, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.NoShow.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doEmergency(ctx context.Context, rng *rand.Rand) {
	slot := s.randomSlot(rng)
	patient := s.randomPatient(rng)
	details := patient.Details

	req := api.EmergencyRequest{
		PatientID:       "EM-" + patient.ID,
		DoctorID:        slot.DoctorID,
		PreferredSlotID: slot.ID.String(),
		PatientDetails:  &details,
	}

	var out api.EmergencyResponse
	status, latency, err := s.client.do(ctx, http.MethodPost, "/tokens/emergency", req, &out)
	if ctx.Err() != nil {
		return
	}

	success := err == nil && status == http.StatusCreated
	if success {
		if out.AllocatedSlot != nil {
			s.pool.AddToken(out.AllocatedSlot.Token.ID)
		}
		for _, b := range out.BumpedPatients {
			if b.NewToken != nil {
				s.pool.AddToken(b.NewToken.ID)
			}
		}
		atomic.AddInt64(&s.metrics.Bumped, int64(len(out.BumpedPatients)))
	}
	s.metrics.Emergency.Record(latency, success, status == http.StatusConflict || status == http.StatusUnprocessableEntity)
}

func (s *Simulator) doDelay(ctx context.Context, rng *rand.Rand) {
	slot := s.randomSlot(rng)
	body := api.AdjustTimingRequest{DelayMinutes: 1 + rng.Intn(5), Reason: "simulated overrun"}

	status, latency, err := s.client.do(ctx, http.MethodPatch, fmt.Sprintf("/slots/%s/timing", slot.ID), body, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Delay.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	path := fmt.Sprintf("/slots/%s/status", s.randomSlot(rng).ID)
	if rng.Intn(2) == 0 {
		if id, ok := s.pool.PeekToken(rng); ok {
			path = fmt.Sprintf("/tokens/%s", id)
		}
	}

	status, latency, err := s.client.do(ctx, http.MethodGet, path, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Read.Record(latency, err == nil && status == http.StatusOK, false)
}
