package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/opd-token-allocation/internal/db"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

func (r *PgRepository) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// Helpers

const slotColumns = `id, doctor_id, to_char(slot_date, 'YYYY-MM-DD'), start_time, end_time,
	max_capacity, current_occupancy, status, actual_start_time, estimated_delay`

const tokenColumns = `id, token_number, patient_id, doctor_id, slot_id, token_source, priority, status,
	allocated_at, estimated_consultation_time, actual_consultation_time, completed_at,
	position_in_queue, is_emergency`

const waitlistColumns = `id, seq, patient_id, doctor_id, preferred_slot_id, token_source, priority,
	joined_at, status, patient_name, patient_phone, patient_email`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialization,
		&d.SlotDuration,
		&d.MaxPatientsPerSlot,
		&d.WorkingHours.Start,
		&d.WorkingHours.End,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.IsFollowUp, &p.PreviousVisit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.MaxCapacity,
		&s.CurrentOccupancy,
		&s.Status,
		&s.ActualStartTime,
		&s.EstimatedDelay,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()
	if s.ActualStartTime != nil {
		t := s.ActualStartTime.UTC()
		s.ActualStartTime = &t
	}
	return &s, nil
}

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	err := row.Scan(
		&t.ID,
		&t.TokenNumber,
		&t.PatientID,
		&t.DoctorID,
		&t.SlotID,
		&t.TokenSource,
		&t.Priority,
		&t.Status,
		&t.AllocatedAt,
		&t.EstimatedConsultationTime,
		&t.ActualConsultationTime,
		&t.CompletedAt,
		&t.PositionInQueue,
		&t.IsEmergency,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	t.AllocatedAt = t.AllocatedAt.UTC()
	t.EstimatedConsultationTime = t.EstimatedConsultationTime.UTC()
	return &t, nil
}

func scanWaitlistEntry(row pgx.Row) (*WaitlistEntry, error) {
	var e WaitlistEntry
	var name, phone, email *string
	err := row.Scan(
		&e.ID,
		&e.Seq,
		&e.PatientID,
		&e.DoctorID,
		&e.PreferredSlotID,
		&e.TokenSource,
		&e.Priority,
		&e.JoinedAt,
		&e.Status,
		&name,
		&phone,
		&email,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, err
	}
	e.JoinedAt = e.JoinedAt.UTC()
	if name != nil || phone != nil || email != nil {
		e.PatientDetails = &PatientDetails{Name: deref(name), Phone: deref(phone), Email: deref(email)}
	}
	return &e, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func mapTokenWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateBooking
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Doctors

func (r *PgRepository) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, specialization, slot_duration_minutes, max_patients_per_slot, working_start, working_end
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, specialization, slot_duration_minutes, max_patients_per_slot, working_start, working_end
		FROM doctors
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDoctor)
}

func (r *PgRepository) SaveDoctor(ctx context.Context, d Doctor) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctors (id, name, specialization, slot_duration_minutes, max_patients_per_slot, working_start, working_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    specialization = EXCLUDED.specialization,
		    slot_duration_minutes = EXCLUDED.slot_duration_minutes,
		    max_patients_per_slot = EXCLUDED.max_patients_per_slot,
		    working_start = EXCLUDED.working_start,
		    working_end = EXCLUDED.working_end
	`, d.ID, d.Name, d.Specialization, d.SlotDuration, d.MaxPatientsPerSlot, d.WorkingHours.Start, d.WorkingHours.End)
	if err != nil {
		return fmt.Errorf("save doctor: %w", err)
	}
	return nil
}

// Patients

func (r *PgRepository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, phone, email, is_follow_up, previous_visit
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) CreatePatient(ctx context.Context, p Patient) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, name, phone, email, is_follow_up, previous_visit)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.Name, p.Phone, p.Email, p.IsFollowUp, p.PreviousVisit)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

// Slots

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlotsByDoctorAndDate(ctx context.Context, doctorID, date string) ([]TimeSlot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE doctor_id = $1 AND slot_date = $2::date
		ORDER BY start_time, id
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) CreateSlot(ctx context.Context, s TimeSlot) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO time_slots (id, doctor_id, slot_date, start_time, end_time, max_capacity,
		                        current_occupancy, status, actual_start_time, estimated_delay)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.DoctorID, s.Date, s.StartTime, s.EndTime, s.MaxCapacity,
		s.CurrentOccupancy, s.Status, s.ActualStartTime, s.EstimatedDelay)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateSlotTiming(ctx context.Context, s TimeSlot) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE time_slots
		SET status = $2,
		    actual_start_time = $3,
		    estimated_delay = $4,
		    updated_at = now()
		WHERE id = $1
	`, s.ID, s.Status, s.ActualStartTime, s.EstimatedDelay)
	if err != nil {
		return fmt.Errorf("update slot timing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) AdjustSlotOccupancy(ctx context.Context, id uuid.UUID, delta int) (*TimeSlot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE time_slots
		SET current_occupancy = GREATEST(current_occupancy + $2, 0),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotColumns, id, delta)
	return scanSlot(row)
}

// Tokens

func (r *PgRepository) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id)
	return scanToken(row)
}

func (r *PgRepository) ListTokensBySlot(ctx context.Context, slotID uuid.UUID) ([]Token, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE slot_id = $1
		ORDER BY position_in_queue, allocated_at
	`, slotID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanToken)
}

func (r *PgRepository) ListTokensByPatient(ctx context.Context, patientID string) ([]Token, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE patient_id = $1
		ORDER BY allocated_at
	`, patientID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanToken)
}

func (r *PgRepository) CreateToken(ctx context.Context, t Token) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, t.ID, t.TokenNumber, t.PatientID, t.DoctorID, t.SlotID, t.TokenSource, t.Priority, t.Status,
		t.AllocatedAt, t.EstimatedConsultationTime, t.ActualConsultationTime, t.CompletedAt,
		t.PositionInQueue, t.IsEmergency)
	if err != nil {
		return fmt.Errorf("insert token: %w", mapTokenWriteErr(err))
	}
	return nil
}

func (r *PgRepository) UpdateToken(ctx context.Context, t Token) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE tokens
		SET token_number = $2,
		    slot_id = $3,
		    status = $4,
		    estimated_consultation_time = $5,
		    actual_consultation_time = $6,
		    completed_at = $7,
		    position_in_queue = $8
		WHERE id = $1
	`, t.ID, t.TokenNumber, t.SlotID, t.Status, t.EstimatedConsultationTime,
		t.ActualConsultationTime, t.CompletedAt, t.PositionInQueue)
	if err != nil {
		return fmt.Errorf("update token: %w", mapTokenWriteErr(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// Waitlist

func (r *PgRepository) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = $1`, id)
	return scanWaitlistEntry(row)
}

func (r *PgRepository) ListWaitlist(ctx context.Context, f WaitlistFilter) ([]WaitlistEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE ($1 = '' OR doctor_id = $1)
		  AND ($2::uuid IS NULL OR preferred_slot_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY priority, joined_at, seq
	`, f.DoctorID, f.SlotID, string(f.Status))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWaitlistEntry)
}

func (r *PgRepository) CreateWaitlistEntry(ctx context.Context, e WaitlistEntry) (*WaitlistEntry, error) {
	var name, phone, email *string
	if e.PatientDetails != nil {
		name = nullable(e.PatientDetails.Name)
		phone = nullable(e.PatientDetails.Phone)
		email = nullable(e.PatientDetails.Email)
	}

	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO waitlist_entries (id, patient_id, doctor_id, preferred_slot_id, token_source, priority,
		                              joined_at, status, patient_name, patient_phone, patient_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+waitlistColumns,
		e.ID, e.PatientID, e.DoctorID, e.PreferredSlotID, e.TokenSource, e.Priority,
		e.JoinedAt, e.Status, name, phone, email)
	created, err := scanWaitlistEntry(row)
	if err != nil {
		return nil, fmt.Errorf("insert waitlist entry: %w", err)
	}
	return created, nil
}

func (r *PgRepository) UpdateWaitlistStatus(ctx context.Context, id uuid.UUID, status WaitlistStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE waitlist_entries SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update waitlist status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWaitlistEntryNotFound
	}
	return nil
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO token_events (event_type, token_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.TokenID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert token event: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
