package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
)

type PatientDetailsRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type AllocateTokenRequest struct {
	PatientID      string                 `json:"patient_id"`
	DoctorID       string                 `json:"doctor_id"`
	SlotTime       string                 `json:"slot_time"`
	TokenSource    string                 `json:"token_source"`
	PatientDetails *PatientDetailsRequest `json:"patient_details,omitempty"`
}

type EmergencyRequest struct {
	PatientID       string                 `json:"patient_id"`
	DoctorID        string                 `json:"doctor_id"`
	PreferredSlotID string                 `json:"preferred_slot_id,omitempty"`
	PatientDetails  *PatientDetailsRequest `json:"patient_details,omitempty"`
}

type NoShowRequest struct {
	GracePeriodExpired bool `json:"grace_period_expired"`
}

type AdjustTimingRequest struct {
	DelayMinutes int    `json:"delay_minutes"`
	Reason       string `json:"reason,omitempty"`
}

type TokenResponse struct {
	ID                        uuid.UUID  `json:"id"`
	TokenNumber               string     `json:"token_number"`
	PatientID                 string     `json:"patient_id"`
	DoctorID                  string     `json:"doctor_id"`
	SlotID                    uuid.UUID  `json:"slot_id"`
	TokenSource               string     `json:"token_source"`
	Priority                  int        `json:"priority"`
	Status                    string     `json:"status"`
	AllocatedAt               time.Time  `json:"allocated_at"`
	EstimatedConsultationTime time.Time  `json:"estimated_consultation_time"`
	ActualConsultationTime    *time.Time `json:"actual_consultation_time,omitempty"`
	CompletedAt               *time.Time `json:"completed_at,omitempty"`
	PositionInQueue           int        `json:"position_in_queue"`
	IsEmergency               bool       `json:"is_emergency"`
}

type SlotResponse struct {
	ID               uuid.UUID  `json:"id"`
	DoctorID         string     `json:"doctor_id"`
	Date             string     `json:"date"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          time.Time  `json:"end_time"`
	MaxCapacity      int        `json:"max_capacity"`
	CurrentOccupancy int        `json:"current_occupancy"`
	Status           string     `json:"status"`
	ActualStartTime  *time.Time `json:"actual_start_time,omitempty"`
	EstimatedDelay   int        `json:"estimated_delay"`
}

type WaitlistEntryResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       string     `json:"patient_id"`
	DoctorID        string     `json:"doctor_id"`
	PreferredSlotID *uuid.UUID `json:"preferred_slot_id"`
	TokenSource     string     `json:"token_source"`
	Priority        int        `json:"priority"`
	JoinedAt        time.Time  `json:"joined_at"`
	Status          string     `json:"status"`
}

type DoctorResponse struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Specialization     string `json:"specialization"`
	SlotDuration       int    `json:"slot_duration"`
	MaxPatientsPerSlot int    `json:"max_patients_per_slot"`
	WorkingStart       string `json:"working_start"`
	WorkingEnd         string `json:"working_end"`
}

type AllocateResponse struct {
	Success          bool                   `json:"success"`
	Outcome          string                 `json:"outcome"`
	Token            *TokenResponse         `json:"token,omitempty"`
	WaitlistPosition int                    `json:"waitlist_position,omitempty"`
	WaitlistEntry    *WaitlistEntryResponse `json:"waitlist_entry,omitempty"`
	Message          string                 `json:"message"`
}

type ReallocationResponse struct {
	FreedSlotID   uuid.UUID       `json:"freed_slot_id"`
	ReallocatedTo *string         `json:"reallocated_to"`
	PromotedToken *TokenResponse  `json:"promoted_token,omitempty"`
	Promotions    []TokenResponse `json:"promotions"`
}

type ReleaseResponse struct {
	Token        TokenResponse        `json:"token"`
	Reallocation ReallocationResponse `json:"reallocation"`
}

type BumpedPatientResponse struct {
	PatientID       string         `json:"patient_id"`
	OriginalTokenID uuid.UUID      `json:"original_token_id"`
	NewSlot         string         `json:"new_slot"`
	NewToken        *TokenResponse `json:"new_token,omitempty"`
}

type AllocatedSlotResponse struct {
	SlotID    uuid.UUID     `json:"slot_id"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Token     TokenResponse `json:"token"`
}

type EmergencyResponse struct {
	Success        bool                    `json:"success"`
	AllocatedSlot  *AllocatedSlotResponse  `json:"allocated_slot,omitempty"`
	BumpedPatients []BumpedPatientResponse `json:"bumped_patients"`
	Notifications  []string                `json:"notifications"`
	Message        string                  `json:"message,omitempty"`
}

type AffectedSlotResponse struct {
	SlotID          uuid.UUID `json:"slot_id"`
	StartTime       time.Time `json:"start_time"`
	ActualStartTime time.Time `json:"actual_start_time"`
	EstimatedDelay  int       `json:"estimated_delay"`
	Status          string    `json:"status"`
}

type RescheduledPatientResponse struct {
	PatientID        string    `json:"patient_id"`
	TokenID          uuid.UUID `json:"token_id"`
	TokenNumber      string    `json:"token_number"`
	SlotID           uuid.UUID `json:"slot_id"`
	PreviousEstimate time.Time `json:"previous_estimate"`
	NewEstimate      time.Time `json:"new_estimate"`
}

type DelayResponse struct {
	AffectedSlots       []AffectedSlotResponse       `json:"affected_slots"`
	RescheduledPatients []RescheduledPatientResponse `json:"rescheduled_patients"`
	NotificationsCount  int                          `json:"notifications_count"`
	Reason              string                       `json:"reason,omitempty"`
}

type SlotStatusResponse struct {
	Slot            SlotResponse   `json:"slot"`
	CurrentToken    *TokenResponse `json:"current_token"`
	EstimatedDelay  int            `json:"estimated_delay"`
	RemainingTokens int            `json:"remaining_tokens"`
	WaitlistCount   int            `json:"waitlist_count"`
}

type ScheduleSlotResponse struct {
	Slot           SlotResponse            `json:"slot"`
	Tokens         []TokenResponse         `json:"tokens"`
	AvailableSeats int                     `json:"available_seats"`
	Waitlist       []WaitlistEntryResponse `json:"waitlist"`
}

type ScheduleResponse struct {
	Doctor DoctorResponse         `json:"doctor"`
	Date   string                 `json:"date"`
	Slots  []ScheduleSlotResponse `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toTokenResponse(t allocation.Token) TokenResponse {
	return TokenResponse{
		ID:                        t.ID,
		TokenNumber:               t.TokenNumber,
		PatientID:                 t.PatientID,
		DoctorID:                  t.DoctorID,
		SlotID:                    t.SlotID,
		TokenSource:               string(t.TokenSource),
		Priority:                  t.Priority,
		Status:                    string(t.Status),
		AllocatedAt:               t.AllocatedAt,
		EstimatedConsultationTime: t.EstimatedConsultationTime,
		ActualConsultationTime:    t.ActualConsultationTime,
		CompletedAt:               t.CompletedAt,
		PositionInQueue:           t.PositionInQueue,
		IsEmergency:               t.IsEmergency,
	}
}

func toTokenResponses(tokens []allocation.Token) []TokenResponse {
	out := make([]TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, toTokenResponse(t))
	}
	return out
}

func toSlotResponse(s allocation.TimeSlot) SlotResponse {
	return SlotResponse{
		ID:               s.ID,
		DoctorID:         s.DoctorID,
		Date:             s.Date,
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		MaxCapacity:      s.MaxCapacity,
		CurrentOccupancy: s.CurrentOccupancy,
		Status:           string(s.Status),
		ActualStartTime:  s.ActualStartTime,
		EstimatedDelay:   s.EstimatedDelay,
	}
}

func toWaitlistResponse(e allocation.WaitlistEntry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:              e.ID,
		PatientID:       e.PatientID,
		DoctorID:        e.DoctorID,
		PreferredSlotID: e.PreferredSlotID,
		TokenSource:     string(e.TokenSource),
		Priority:        e.Priority,
		JoinedAt:        e.JoinedAt,
		Status:          string(e.Status),
	}
}

func toWaitlistResponses(entries []allocation.WaitlistEntry) []WaitlistEntryResponse {
	out := make([]WaitlistEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toWaitlistResponse(e))
	}
	return out
}

func toDoctorResponse(d allocation.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:                 d.ID,
		Name:               d.Name,
		Specialization:     d.Specialization,
		SlotDuration:       d.SlotDuration,
		MaxPatientsPerSlot: d.MaxPatientsPerSlot,
		WorkingStart:       d.WorkingHours.Start,
		WorkingEnd:         d.WorkingHours.End,
	}
}

func toReallocationResponse(r *allocation.ReallocationResult) ReallocationResponse {
	resp := ReallocationResponse{
		FreedSlotID:   r.FreedSlotID,
		ReallocatedTo: r.ReallocatedTo,
		Promotions:    make([]TokenResponse, 0, len(r.Promotions)),
	}
	if r.PromotedToken != nil {
		tok := toTokenResponse(*r.PromotedToken)
		resp.PromotedToken = &tok
	}
	for _, p := range r.Promotions {
		resp.Promotions = append(resp.Promotions, toTokenResponse(p.Token))
	}
	return resp
}

func toEmergencyResponse(r *allocation.EmergencyResult) EmergencyResponse {
	resp := EmergencyResponse{
		Success:        r.Success,
		BumpedPatients: make([]BumpedPatientResponse, 0, len(r.BumpedPatients)),
		Notifications:  r.Notifications,
		Message:        r.Message,
	}
	if resp.Notifications == nil {
		resp.Notifications = []string{}
	}
	if r.AllocatedSlot != nil {
		resp.AllocatedSlot = &AllocatedSlotResponse{
			SlotID:    r.AllocatedSlot.SlotID,
			StartTime: r.AllocatedSlot.StartTime,
			EndTime:   r.AllocatedSlot.EndTime,
			Token:     toTokenResponse(r.AllocatedSlot.Token),
		}
	}
	for _, b := range r.BumpedPatients {
		bp := BumpedPatientResponse{PatientID: b.PatientID, OriginalTokenID: b.OriginalTokenID, NewSlot: "waitlist"}
		if b.NewSlotID != nil {
			bp.NewSlot = b.NewSlotID.String()
		}
		if b.NewToken != nil {
			tok := toTokenResponse(*b.NewToken)
			bp.NewToken = &tok
		}
		resp.BumpedPatients = append(resp.BumpedPatients, bp)
	}
	return resp
}

func toDelayResponse(r *allocation.DelayResult) DelayResponse {
	resp := DelayResponse{
		AffectedSlots:       make([]AffectedSlotResponse, 0, len(r.AffectedSlots)),
		RescheduledPatients: make([]RescheduledPatientResponse, 0, len(r.RescheduledPatients)),
		NotificationsCount:  r.NotificationsCount,
		Reason:              r.Reason,
	}
	for _, s := range r.AffectedSlots {
		resp.AffectedSlots = append(resp.AffectedSlots, AffectedSlotResponse{
			SlotID:          s.SlotID,
			StartTime:       s.StartTime,
			ActualStartTime: s.ActualStartTime,
			EstimatedDelay:  s.EstimatedDelay,
			Status:          string(s.Status),
		})
	}
	for _, p := range r.RescheduledPatients {
		resp.RescheduledPatients = append(resp.RescheduledPatients, RescheduledPatientResponse{
			PatientID:        p.PatientID,
			TokenID:          p.TokenID,
			TokenNumber:      p.TokenNumber,
			SlotID:           p.SlotID,
			PreviousEstimate: p.PreviousEstimate,
			NewEstimate:      p.NewEstimate,
		})
	}
	return resp
}
