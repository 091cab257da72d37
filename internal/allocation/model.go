package allocation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-date format slots are grouped by.
const DateLayout = "2006-01-02"

type TokenSource string

const (
	SourceOnlineBooking TokenSource = "online_booking"
	SourceWalkIn        TokenSource = "walk_in"
	SourcePaidPriority  TokenSource = "paid_priority"
	SourceFollowUp      TokenSource = "follow_up"
)

// TokenSources lists every accepted origin.
var TokenSources = []TokenSource{SourceOnlineBooking, SourceWalkIn, SourcePaidPriority, SourceFollowUp}

func (s TokenSource) Valid() bool {
	switch s {
	case SourceOnlineBooking, SourceWalkIn, SourcePaidPriority, SourceFollowUp:
		return true
	}
	return false
}

// ParseTokenSource rejects anything outside the four known origins.
func ParseTokenSource(raw string) (TokenSource, error) {
	s := TokenSource(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTokenSource, raw)
	}
	return s, nil
}

type TokenStatus string

const (
	TokenAllocated      TokenStatus = "allocated"
	TokenWaiting        TokenStatus = "waiting"
	TokenInConsultation TokenStatus = "in_consultation"
	TokenCompleted      TokenStatus = "completed"
	TokenCancelled      TokenStatus = "cancelled"
	TokenNoShow         TokenStatus = "no_show"
)

// HoldsSeat reports whether the token counts against slot capacity.
// Only cancelled and no-show tokens give their seat back.
func (s TokenStatus) HoldsSeat() bool {
	return s != TokenCancelled && s != TokenNoShow
}

// IsActive reports whether the token is still pending or being served.
func (s TokenStatus) IsActive() bool {
	switch s {
	case TokenAllocated, TokenWaiting, TokenInConsultation:
		return true
	}
	return false
}

type SlotStatus string

const (
	SlotScheduled SlotStatus = "scheduled"
	SlotActive    SlotStatus = "active"
	SlotDelayed   SlotStatus = "delayed"
	SlotCompleted SlotStatus = "completed"
	SlotCancelled SlotStatus = "cancelled"
)

type WaitlistStatus string

const (
	WaitlistWaiting  WaitlistStatus = "waiting"
	WaitlistPromoted WaitlistStatus = "promoted"
	WaitlistExpired  WaitlistStatus = "expired"
)

// WorkingHours is a daily window in HH:MM, interpreted as UTC.
type WorkingHours struct {
	Start string
	End   string
}

type Doctor struct {
	ID                 string
	Name               string
	Specialization     string
	SlotDuration       int // minutes
	MaxPatientsPerSlot int
	WorkingHours       WorkingHours
}

type Patient struct {
	ID            string
	Name          string
	Phone         string
	Email         *string
	IsFollowUp    bool
	PreviousVisit *time.Time
}

// PatientDetails is the contact info a caller may attach to a booking.
type PatientDetails struct {
	Name  string
	Phone string
	Email string
}

type TimeSlot struct {
	ID               uuid.UUID
	DoctorID         string
	Date             string
	StartTime        time.Time
	EndTime          time.Time
	MaxCapacity      int
	CurrentOccupancy int
	Status           SlotStatus
	ActualStartTime  *time.Time
	EstimatedDelay   int // minutes
}

// Contains reports whether t falls in [StartTime, EndTime).
func (s TimeSlot) Contains(t time.Time) bool {
	return !t.Before(s.StartTime) && t.Before(s.EndTime)
}

type Token struct {
	ID                        uuid.UUID
	TokenNumber               string
	PatientID                 string
	DoctorID                  string
	SlotID                    uuid.UUID
	TokenSource               TokenSource
	Priority                  int
	Status                    TokenStatus
	AllocatedAt               time.Time
	EstimatedConsultationTime time.Time
	ActualConsultationTime    *time.Time
	CompletedAt               *time.Time
	PositionInQueue           int
	IsEmergency               bool
}

type WaitlistEntry struct {
	ID              uuid.UUID
	Seq             int64 // insertion order, last tie-break after JoinedAt
	PatientID       string
	DoctorID        string
	PreferredSlotID *uuid.UUID
	TokenSource     TokenSource
	Priority        int
	JoinedAt        time.Time
	Status          WaitlistStatus
	PatientDetails  *PatientDetails
}

type EventLog struct {
	ID        int64
	EventType string
	TokenID   *uuid.UUID
	SlotID    *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
