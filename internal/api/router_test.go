package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	redisclient "github.com/hackgods/opd-token-allocation/internal/redis"
)

var testNow = time.Date(2025, time.January, 15, 8, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, postgres, redis Pinger) *httptest.Server {
	t.Helper()
	repo := allocation.NewMemoryRepository()
	now := func() time.Time { return testNow }
	engine := allocation.NewEngine(repo, redisclient.NewLocalSlotLocker(0), allocation.WithClock(now))
	if _, err := engine.SeedDay(context.Background(), allocation.DefaultDoctors(), "2025-01-15"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Engine:   engine,
		Postgres: postgres,
		Redis:    redis,
		Logger:   zerolog.Nop(),
		Env:      "test",
		Now:      now,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func allocateBody(patientID, slotTime, source string) AllocateTokenRequest {
	return AllocateTokenRequest{PatientID: patientID, DoctorID: "D1", SlotTime: slotTime, TokenSource: source}
}

func TestAllocateAndFetchToken(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	var created AllocateResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/tokens/allocate", allocateBody("P-1", "2025-01-15T09:10:00Z", "online_booking"), &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
	if !created.Success || created.Token == nil || created.Token.TokenNumber != "D1-S1-T01" {
		t.Fatalf("unexpected allocation %+v", created)
	}

	var fetched TokenResponse
	resp = doJSON(t, http.MethodGet, srv.URL+"/tokens/"+created.Token.ID.String(), nil, &fetched)
	if resp.StatusCode != http.StatusOK || fetched.TokenNumber != created.Token.TokenNumber {
		t.Fatalf("unexpected fetch %d %+v", resp.StatusCode, fetched)
	}

	var dup AllocateResponse
	resp = doJSON(t, http.MethodPost, srv.URL+"/tokens/allocate", allocateBody("P-1", "2025-01-15T11:10:00Z", "walk_in"), &dup)
	if resp.StatusCode != http.StatusConflict || dup.Outcome != "duplicate_booking" {
		t.Fatalf("expected duplicate conflict, got %d %+v", resp.StatusCode, dup)
	}
}

func TestAllocateValidation(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	tests := []struct {
		name string
		body AllocateTokenRequest
		want int
		code string
	}{
		{"bad source", allocateBody("P-1", "2025-01-15T09:00:00Z", "vip"), http.StatusBadRequest, "invalid_token_source"},
		{"bad time", allocateBody("P-1", "nine o'clock", "walk_in"), http.StatusBadRequest, "invalid_slot_time"},
		{"missing patient", allocateBody("", "2025-01-15T09:00:00Z", "walk_in"), http.StatusBadRequest, "missing_fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp ErrorResponse
			resp := doJSON(t, http.MethodPost, srv.URL+"/tokens/allocate", tt.body, &errResp)
			if resp.StatusCode != tt.want || errResp.Error != tt.code {
				t.Fatalf("expected %d/%s, got %d/%s", tt.want, tt.code, resp.StatusCode, errResp.Error)
			}
		})
	}

	var res AllocateResponse
	body := allocateBody("P-1", "2025-01-15T09:00:00Z", "walk_in")
	body.DoctorID = "D9"
	resp := doJSON(t, http.MethodPost, srv.URL+"/tokens/allocate", body, &res)
	if resp.StatusCode != http.StatusNotFound || res.Outcome != "doctor_not_found" {
		t.Fatalf("expected doctor not found, got %d %+v", resp.StatusCode, res)
	}

	var errResp ErrorResponse
	resp = doJSON(t, http.MethodGet, srv.URL+"/tokens/not-a-uuid", nil, &errResp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad id, got %d", resp.StatusCode)
	}
}

func TestWaitlistCancelAndSchedule(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	var first AllocateResponse
	for i := 1; i <= 10; i++ {
		var res AllocateResponse
		doJSON(t, http.MethodPost, srv.URL+"/tokens/allocate", allocateBody(fmt.Sprintf("P-%d", i), "2025-01-15T09:00:00Z", "walk_in"), &res)
		if i == 1 {
			first = res
		}
	}

	var waitlisted AllocateResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/tokens/allocate", allocateBody("P-wait", "2025-01-15T09:00:00Z", "paid_priority"), &waitlisted)
	if resp.StatusCode != http.StatusAccepted || waitlisted.WaitlistPosition != 1 {
		t.Fatalf("expected waitlisting, got %d %+v", resp.StatusCode, waitlisted)
	}

	var entries []WaitlistEntryResponse
	doJSON(t, http.MethodGet, srv.URL+"/waitlist?doctor_id=D1&priority=1", nil, &entries)
	if len(entries) != 1 || entries[0].PatientID != "P-wait" {
		t.Fatalf("unexpected waitlist %+v", entries)
	}

	var released ReleaseResponse
	resp = doJSON(t, http.MethodPost, srv.URL+"/tokens/"+first.Token.ID.String()+"/cancel", nil, &released)
	if resp.StatusCode != http.StatusOK || released.Reallocation.ReallocatedTo == nil || *released.Reallocation.ReallocatedTo != "P-wait" {
		t.Fatalf("expected P-wait promoted, got %d %+v", resp.StatusCode, released)
	}

	var errResp ErrorResponse
	resp = doJSON(t, http.MethodPost, srv.URL+"/tokens/"+first.Token.ID.String()+"/cancel", nil, &errResp)
	if resp.StatusCode != http.StatusConflict || errResp.Error != "token_not_active" {
		t.Fatalf("expected 409 token_not_active, got %d %+v", resp.StatusCode, errResp)
	}

	var schedule ScheduleResponse
	resp = doJSON(t, http.MethodGet, srv.URL+"/doctors/D1/schedule", nil, &schedule)
	if resp.StatusCode != http.StatusOK || schedule.Date != "2025-01-15" || len(schedule.Slots) != 4 {
		t.Fatalf("unexpected schedule %d %+v", resp.StatusCode, schedule)
	}
	if schedule.Slots[0].AvailableSeats != 0 || len(schedule.Slots[0].Tokens) != 11 {
		t.Fatalf("unexpected first slot %+v", schedule.Slots[0])
	}

	var status SlotStatusResponse
	doJSON(t, http.MethodGet, srv.URL+"/slots/"+first.Token.SlotID.String()+"/status", nil, &status)
	if status.RemainingTokens != 10 || status.CurrentToken == nil || status.CurrentToken.PatientID != "P-2" {
		t.Fatalf("unexpected slot status %+v", status)
	}
}

func TestEmergencyAndDelayEndpoints(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	var slotID string
	for i := 1; i <= 10; i++ {
		var res AllocateResponse
		doJSON(t, http.MethodPost, srv.URL+"/tokens/allocate", allocateBody(fmt.Sprintf("P-%d", i), "2025-01-15T09:00:00Z", "walk_in"), &res)
		slotID = res.Token.SlotID.String()
	}

	var emg EmergencyResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/tokens/emergency", EmergencyRequest{PatientID: "P-EMG", DoctorID: "D1", PreferredSlotID: slotID}, &emg)
	if resp.StatusCode != http.StatusCreated || !emg.Success || len(emg.BumpedPatients) != 1 {
		t.Fatalf("unexpected emergency response %d %+v", resp.StatusCode, emg)
	}
	if emg.BumpedPatients[0].PatientID != "P-10" || emg.BumpedPatients[0].NewSlot == "waitlist" {
		t.Fatalf("expected P-10 rescheduled to a later slot, got %+v", emg.BumpedPatients[0])
	}

	var delay DelayResponse
	resp = doJSON(t, http.MethodPatch, srv.URL+"/slots/"+slotID+"/timing", AdjustTimingRequest{DelayMinutes: 20, Reason: "Doctor late"}, &delay)
	if resp.StatusCode != http.StatusOK || len(delay.AffectedSlots) != 4 || delay.NotificationsCount != 11 {
		t.Fatalf("unexpected delay response %d %+v", resp.StatusCode, delay)
	}

	var realloc ReallocationResponse
	resp = doJSON(t, http.MethodPost, srv.URL+"/slots/"+slotID+"/reallocate", nil, &realloc)
	if resp.StatusCode != http.StatusOK || realloc.ReallocatedTo != nil {
		t.Fatalf("expected a no-op reallocation, got %d %+v", resp.StatusCode, realloc)
	}
}

func TestHealthEndpoints(t *testing.T) {
	down := PingFunc(func(context.Context) error { return errors.New("down") })
	up := PingFunc(func(context.Context) error { return nil })

	tests := []struct {
		name     string
		postgres Pinger
		redis    Pinger
		want     int
		status   string
	}{
		{"all up", up, up, http.StatusOK, "ok"},
		{"memory backends", nil, nil, http.StatusOK, "ok"},
		{"redis down", up, down, http.StatusOK, "degraded"},
		{"postgres down", down, up, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.postgres, tt.redis)
			var ready ReadinessResponse
			resp := doJSON(t, http.MethodGet, srv.URL+"/health/ready", nil, &ready)
			if resp.StatusCode != tt.want || ready.Status != tt.status {
				t.Fatalf("expected %d/%s, got %d/%s", tt.want, tt.status, resp.StatusCode, ready.Status)
			}
		})
	}

	srv := newTestServer(t, nil, nil)
	var live LivenessResponse
	if resp := doJSON(t, http.MethodGet, srv.URL+"/health/live", nil, &live); resp.StatusCode != http.StatusOK || live.Status != "ok" {
		t.Fatalf("unexpected liveness %d %+v", resp.StatusCode, live)
	}
}
