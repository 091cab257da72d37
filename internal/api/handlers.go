package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
)

func allocateTokenHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AllocateTokenRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if req.PatientID == "" || req.DoctorID == "" {
			writeError(w, http.StatusBadRequest, "missing_fields", "patient_id and doctor_id are required")
			return
		}
		slotTime, err := time.Parse(time.RFC3339, req.SlotTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_time", "slot_time must be an RFC3339 timestamp")
			return
		}
		source, err := allocation.ParseTokenSource(req.TokenSource)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_token_source", err.Error())
			return
		}

		res, err := engine.Allocate(r.Context(), allocation.AllocateRequest{
			PatientID:      req.PatientID,
			DoctorID:       req.DoctorID,
			SlotTime:       slotTime,
			Source:         source,
			PatientDetails: toPatientDetails(req.PatientDetails),
		})
		if err != nil {
			handleEngineError(w, err)
			return
		}

		resp := AllocateResponse{
			Success:          res.Success,
			Outcome:          string(res.Outcome),
			WaitlistPosition: res.WaitlistPosition,
			Message:          res.Message,
		}
		if res.Token != nil {
			tok := toTokenResponse(*res.Token)
			resp.Token = &tok
		}
		if res.WaitlistEntry != nil {
			entry := toWaitlistResponse(*res.WaitlistEntry)
			resp.WaitlistEntry = &entry
		}

		writeJSON(w, allocateStatus(res.Outcome), resp)
	}
}

func allocateStatus(outcome allocation.AllocateOutcome) int {
	switch outcome {
	case allocation.OutcomeAllocated:
		return http.StatusCreated
	case allocation.OutcomeWaitlisted:
		return http.StatusAccepted
	case allocation.OutcomeDoctorNotFound, allocation.OutcomeNoSlot:
		return http.StatusNotFound
	case allocation.OutcomeDuplicate, allocation.OutcomeSlotCancelled:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func getTokenHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_token_id")
		if !ok {
			return
		}

		token, err := engine.GetToken(r.Context(), id)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTokenResponse(*token))
	}
}

func cancelTokenHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_token_id")
		if !ok {
			return
		}

		res, err := engine.CancelToken(r.Context(), id)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ReleaseResponse{
			Token:        toTokenResponse(res.Token),
			Reallocation: toReallocationResponse(res.Reallocation),
		})
	}
}

func noShowHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_token_id")
		if !ok {
			return
		}
		var req NoShowRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := engine.MarkNoShow(r.Context(), id, req.GracePeriodExpired)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ReleaseResponse{
			Token:        toTokenResponse(res.Token),
			Reallocation: toReallocationResponse(res.Reallocation),
		})
	}
}

func startConsultationHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_token_id")
		if !ok {
			return
		}
		token, err := engine.StartConsultation(r.Context(), id)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTokenResponse(*token))
	}
}

func completeConsultationHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_token_id")
		if !ok {
			return
		}
		token, err := engine.CompleteConsultation(r.Context(), id)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTokenResponse(*token))
	}
}

func emergencyHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EmergencyRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.PatientID == "" || req.DoctorID == "" {
			writeError(w, http.StatusBadRequest, "missing_fields", "patient_id and doctor_id are required")
			return
		}

		var preferred *uuid.UUID
		if req.PreferredSlotID != "" {
			id, err := uuid.Parse(req.PreferredSlotID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "preferred_slot_id must be a valid UUID")
				return
			}
			preferred = &id
		}

		res, err := engine.EmergencyInsert(r.Context(), allocation.EmergencyRequest{
			PatientID:       req.PatientID,
			DoctorID:        req.DoctorID,
			PreferredSlotID: preferred,
			PatientDetails:  toPatientDetails(req.PatientDetails),
		})
		if err != nil {
			handleEngineError(w, err)
			return
		}

		status := http.StatusCreated
		if !res.Success {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, toEmergencyResponse(res))
	}
}

func reallocateSlotHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_slot_id")
		if !ok {
			return
		}
		res, err := engine.ReallocateFreedSlot(r.Context(), id)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toReallocationResponse(res))
	}
}

func adjustTimingHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_slot_id")
		if !ok {
			return
		}
		var req AdjustTimingRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		res, err := engine.AdjustSlotTiming(r.Context(), id, req.DelayMinutes, req.Reason)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDelayResponse(res))
	}
}

func slotStatusHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_slot_id")
		if !ok {
			return
		}
		overview, err := engine.GetSlotStatus(r.Context(), id)
		if err != nil {
			handleEngineError(w, err)
			return
		}

		resp := SlotStatusResponse{
			Slot:            toSlotResponse(overview.Slot),
			EstimatedDelay:  overview.EstimatedDelay,
			RemainingTokens: overview.RemainingTokens,
			WaitlistCount:   overview.WaitlistCount,
		}
		if overview.CurrentToken != nil {
			tok := toTokenResponse(*overview.CurrentToken)
			resp.CurrentToken = &tok
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listDoctorsHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := engine.ListDoctors(r.Context())
		if err != nil {
			handleEngineError(w, err)
			return
		}
		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, toDoctorResponse(d))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func doctorScheduleHandler(engine *allocation.Engine, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = now().UTC().Format(allocation.DateLayout)
		} else if _, err := time.Parse(allocation.DateLayout, date); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		schedule, err := engine.DoctorSchedule(r.Context(), chi.URLParam(r, "id"), date)
		if err != nil {
			handleEngineError(w, err)
			return
		}

		resp := ScheduleResponse{
			Doctor: toDoctorResponse(schedule.Doctor),
			Date:   schedule.Date,
			Slots:  make([]ScheduleSlotResponse, 0, len(schedule.Slots)),
		}
		for _, s := range schedule.Slots {
			resp.Slots = append(resp.Slots, ScheduleSlotResponse{
				Slot:           toSlotResponse(s.Slot),
				Tokens:         toTokenResponses(s.Tokens),
				AvailableSeats: s.AvailableSeats,
				Waitlist:       toWaitlistResponses(s.Waitlist),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listWaitlistHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var priority *int
		if raw := r.URL.Query().Get("priority"); raw != "" {
			p, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_priority", "priority must be an integer")
				return
			}
			priority = &p
		}

		entries, err := engine.ListWaitlist(r.Context(), r.URL.Query().Get("doctor_id"), priority)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toWaitlistResponses(entries))
	}
}

func handleEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, allocation.ErrInvalidTokenSource):
		writeError(w, http.StatusBadRequest, "invalid_token_source", err.Error())
	case errors.Is(err, allocation.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, allocation.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, allocation.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, "token_not_found", err.Error())
	case errors.Is(err, allocation.ErrTokenNotActive):
		writeError(w, http.StatusConflict, "token_not_active", err.Error())
	case errors.Is(err, allocation.ErrGracePeriodActive):
		writeError(w, http.StatusConflict, "grace_period_active", err.Error())
	case errors.Is(err, allocation.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, allocation.ErrDuplicateBooking):
		writeError(w, http.StatusConflict, "duplicate_booking", err.Error())
	case errors.Is(err, allocation.ErrSlotBusy):
		writeError(w, http.StatusConflict, "slot_busy", "slot is being modified by another request, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func toPatientDetails(req *PatientDetailsRequest) *allocation.PatientDetails {
	if req == nil {
		return nil
	}
	return &allocation.PatientDetails{
		Name:  strings.TrimSpace(req.Name),
		Phone: strings.TrimSpace(req.Phone),
		Email: strings.TrimSpace(req.Email),
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
