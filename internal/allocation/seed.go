package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultDoctors is the OPD roster used when seeding a fresh environment.
func DefaultDoctors() []Doctor {
	return []Doctor{
		{
			ID:                 "D1",
			Name:               "Dr. Sharma",
			Specialization:     "General Medicine",
			SlotDuration:       60,
			MaxPatientsPerSlot: 10,
			WorkingHours:       WorkingHours{Start: "09:00", End: "13:00"},
		},
		{
			ID:                 "D2",
			Name:               "Dr. Patel",
			Specialization:     "Cardiology",
			SlotDuration:       60,
			MaxPatientsPerSlot: 8,
			WorkingHours:       WorkingHours{Start: "10:00", End: "15:00"},
		},
		{
			ID:                 "D3",
			Name:               "Dr. Singh",
			Specialization:     "Orthopedics",
			SlotDuration:       60,
			MaxPatientsPerSlot: 12,
			WorkingHours:       WorkingHours{Start: "09:00", End: "12:00"},
		},
	}
}

// GenerateDaySlots cuts the doctor's working window on date into consecutive
// slots. A trailing slot that would overrun the window is dropped.
func GenerateDaySlots(doctor Doctor, date string) ([]TimeSlot, error) {
	if doctor.SlotDuration <= 0 {
		return nil, fmt.Errorf("doctor %s: slot duration must be positive", doctor.ID)
	}
	start, err := time.ParseInLocation(DateLayout+" 15:04", date+" "+doctor.WorkingHours.Start, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("doctor %s: parse working start: %w", doctor.ID, err)
	}
	end, err := time.ParseInLocation(DateLayout+" 15:04", date+" "+doctor.WorkingHours.End, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("doctor %s: parse working end: %w", doctor.ID, err)
	}

	step := time.Duration(doctor.SlotDuration) * time.Minute
	var slots []TimeSlot
	for t := start; !t.Add(step).After(end); t = t.Add(step) {
		slots = append(slots, TimeSlot{
			ID:          uuid.New(),
			DoctorID:    doctor.ID,
			Date:        date,
			StartTime:   t,
			EndTime:     t.Add(step),
			MaxCapacity: doctor.MaxPatientsPerSlot,
			Status:      SlotScheduled,
		})
	}
	return slots, nil
}

// SeedDay saves the doctors and creates their slots for date. Doctors that
// already have slots on that date are left alone. It returns the number of
// slots created.
func (e *Engine) SeedDay(ctx context.Context, doctors []Doctor, date string) (int, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}

	created := 0
	err := e.repo.WithinTx(ctx, func(ctx context.Context) error {
		for _, d := range doctors {
			if err := e.repo.SaveDoctor(ctx, d); err != nil {
				return err
			}
			existing, err := e.repo.ListSlotsByDoctorAndDate(ctx, d.ID, date)
			if err != nil {
				return fmt.Errorf("list doctor slots: %w", err)
			}
			if len(existing) > 0 {
				continue
			}

			slots, err := GenerateDaySlots(d, date)
			if err != nil {
				return err
			}
			for _, s := range slots {
				if err := e.repo.CreateSlot(ctx, s); err != nil {
					return err
				}
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.logger.Info().Str("op", "seed_day").Str("date", date).Int("doctors", len(doctors)).Int("slots", created).Msg("day seeded")
	return created, nil
}

// EnsurePatient records the patient on first booking when contact details
// were supplied. Existing patients are not touched.
func (e *Engine) EnsurePatient(ctx context.Context, patientID string, source TokenSource, details *PatientDetails) error {
	if details == nil {
		return nil
	}
	p := Patient{
		ID:         patientID,
		Name:       details.Name,
		Phone:      details.Phone,
		IsFollowUp: source == SourceFollowUp,
	}
	if details.Email != "" {
		p.Email = ptr(details.Email)
	}
	if err := e.repo.CreatePatient(ctx, p); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}
