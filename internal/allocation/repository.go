package allocation

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound        = errors.New("doctor not found")
	ErrPatientNotFound       = errors.New("patient not found")
	ErrSlotNotFound          = errors.New("slot not found")
	ErrTokenNotFound         = errors.New("token not found")
	ErrWaitlistEntryNotFound = errors.New("waitlist entry not found")

	// ErrDuplicateBooking is returned by repositories when a second active
	// booked token would exist for the same patient and doctor.
	ErrDuplicateBooking = errors.New("patient already has an active token for this doctor")
)

// WaitlistFilter narrows ListWaitlist. Zero values match everything.
type WaitlistFilter struct {
	DoctorID string
	SlotID   *uuid.UUID
	Status   WaitlistStatus
}

// Repository is every storage operation the engine needs.
type Repository interface {
	// WithinTx runs fn atomically. Nested calls join the outer transaction.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetDoctor(ctx context.Context, id string) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	SaveDoctor(ctx context.Context, d Doctor) error

	GetPatient(ctx context.Context, id string) (*Patient, error)
	CreatePatient(ctx context.Context, p Patient) error

	GetSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	ListSlotsByDoctorAndDate(ctx context.Context, doctorID, date string) ([]TimeSlot, error)
	CreateSlot(ctx context.Context, s TimeSlot) error
	// UpdateSlotTiming persists status, actual start time and estimated delay.
	UpdateSlotTiming(ctx context.Context, s TimeSlot) error
	// AdjustSlotOccupancy adds delta to the occupancy counter, floored at 0.
	AdjustSlotOccupancy(ctx context.Context, id uuid.UUID, delta int) (*TimeSlot, error)

	GetToken(ctx context.Context, id uuid.UUID) (*Token, error)
	ListTokensBySlot(ctx context.Context, slotID uuid.UUID) ([]Token, error)
	ListTokensByPatient(ctx context.Context, patientID string) ([]Token, error)
	CreateToken(ctx context.Context, t Token) error
	UpdateToken(ctx context.Context, t Token) error

	GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	ListWaitlist(ctx context.Context, f WaitlistFilter) ([]WaitlistEntry, error)
	CreateWaitlistEntry(ctx context.Context, e WaitlistEntry) (*WaitlistEntry, error)
	UpdateWaitlistStatus(ctx context.Context, id uuid.UUID, status WaitlistStatus) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
