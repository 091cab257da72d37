package main

import (
	"fmt"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
)

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Medicine",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// Working windows fake doctors are drawn from. Each divides evenly into 30
// and 60 minute slots.
var windows = []allocation.WorkingHours{
	{Start: "08:00", End: "12:00"},
	{Start: "09:00", End: "13:00"},
	{Start: "10:00", End: "16:00"},
	{Start: "14:00", End: "18:00"},
}

// fakeRoster generates doctors with IDs FD01, FD02, ... so reruns upsert the
// same rows.
func fakeRoster(f *gofakeit.Faker, count int) []allocation.Doctor {
	doctors := make([]allocation.Doctor, 0, count)
	for i := 1; i <= count; i++ {
		duration := 60
		if f.Bool() {
			duration = 30
		}
		doctors = append(doctors, allocation.Doctor{
			ID:                 fmt.Sprintf("FD%02d", i),
			Name:               "Dr. " + f.LastName(),
			Specialization:     specializations[f.Number(0, len(specializations)-1)],
			SlotDuration:       duration,
			MaxPatientsPerSlot: f.Number(4, 15),
			WorkingHours:       windows[f.Number(0, len(windows)-1)],
		})
	}
	return doctors
}

func fakePatients(f *gofakeit.Faker, count int) []allocation.Patient {
	patients := make([]allocation.Patient, 0, count)
	for i := 1; i <= count; i++ {
		p := allocation.Patient{
			ID:         fmt.Sprintf("P%05d", i),
			Name:       f.Name(),
			Phone:      f.Phone(),
			IsFollowUp: f.Number(1, 10) <= 2,
		}
		if f.Bool() {
			email := f.Email()
			p.Email = &email
		}
		patients = append(patients, p)
	}
	return patients
}
