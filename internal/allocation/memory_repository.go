package allocation

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process memory. Transactions are an
// undo journal replayed when the callback fails.
type MemoryRepository struct {
	mu       sync.RWMutex
	doctors  map[string]Doctor
	patients map[string]Patient
	slots    map[uuid.UUID]TimeSlot
	tokens   map[uuid.UUID]Token
	waitlist map[uuid.UUID]WaitlistEntry
	events   []EventLog
	seq      int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:  make(map[string]Doctor),
		patients: make(map[string]Patient),
		slots:    make(map[uuid.UUID]TimeSlot),
		tokens:   make(map[uuid.UUID]Token),
		waitlist: make(map[uuid.UUID]WaitlistEntry),
	}
}

type memTx struct {
	mu   sync.Mutex
	undo []func()
}

type memTxKey struct{}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		r.mu.Lock()
		tx.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		tx.mu.Unlock()
		r.mu.Unlock()
		return err
	}
	return nil
}

// journal records how to revert a write. Callers hold r.mu.
func (r *MemoryRepository) journal(ctx context.Context, undo func()) {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return
	}
	tx.mu.Lock()
	tx.undo = append(tx.undo, undo)
	tx.mu.Unlock()
}

func (r *MemoryRepository) GetDoctor(_ context.Context, id string) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) ListDoctors(_ context.Context) ([]Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Doctor, 0, len(r.doctors))
	for _, d := range r.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) SaveDoctor(ctx context.Context, d Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, existed := r.doctors[d.ID]
	r.journal(ctx, func() {
		if existed {
			r.doctors[d.ID] = prev
		} else {
			delete(r.doctors, d.ID)
		}
	})
	r.doctors[d.ID] = d
	return nil
}

func (r *MemoryRepository) GetPatient(_ context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

// CreatePatient is a no-op when the patient already exists.
func (r *MemoryRepository) CreatePatient(ctx context.Context, p Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.ID]; ok {
		return nil
	}
	r.journal(ctx, func() { delete(r.patients, p.ID) })
	r.patients[p.ID] = p
	return nil
}

func (r *MemoryRepository) GetSlot(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) ListSlotsByDoctorAndDate(_ context.Context, doctorID, date string) ([]TimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []TimeSlot
	for _, s := range r.slots {
		if s.DoctorID == doctorID && s.Date == date {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out, nil
}

func (r *MemoryRepository) CreateSlot(ctx context.Context, s TimeSlot) error {
	r.putSlot(ctx, s)
	return nil
}

func (r *MemoryRepository) UpdateSlotTiming(ctx context.Context, s TimeSlot) error {
	r.mu.RLock()
	cur, ok := r.slots[s.ID]
	r.mu.RUnlock()
	if !ok {
		return ErrSlotNotFound
	}
	cur.Status = s.Status
	cur.ActualStartTime = s.ActualStartTime
	cur.EstimatedDelay = s.EstimatedDelay
	r.putSlot(ctx, cur)
	return nil
}

func (r *MemoryRepository) AdjustSlotOccupancy(ctx context.Context, id uuid.UUID, delta int) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	prev := s
	r.journal(ctx, func() { r.slots[id] = prev })

	s.CurrentOccupancy += delta
	if s.CurrentOccupancy < 0 {
		s.CurrentOccupancy = 0
	}
	r.slots[id] = s
	return &s, nil
}

func (r *MemoryRepository) putSlot(ctx context.Context, s TimeSlot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, existed := r.slots[s.ID]
	r.journal(ctx, func() {
		if existed {
			r.slots[s.ID] = prev
		} else {
			delete(r.slots, s.ID)
		}
	})
	r.slots[s.ID] = s
}

func (r *MemoryRepository) GetToken(_ context.Context, id uuid.UUID) (*Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) ListTokensBySlot(_ context.Context, slotID uuid.UUID) ([]Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Token
	for _, t := range r.tokens {
		if t.SlotID == slotID {
			out = append(out, t)
		}
	}
	sortTokensByPosition(out)
	return out, nil
}

func (r *MemoryRepository) ListTokensByPatient(_ context.Context, patientID string) ([]Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Token
	for _, t := range r.tokens {
		if t.PatientID == patientID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AllocatedAt.Before(out[j].AllocatedAt) })
	return out, nil
}

func (r *MemoryRepository) CreateToken(ctx context.Context, t Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.violatesActiveTokenIndex(t) {
		return ErrDuplicateBooking
	}
	r.journal(ctx, func() { delete(r.tokens, t.ID) })
	r.tokens[t.ID] = t
	return nil
}

func (r *MemoryRepository) UpdateToken(ctx context.Context, t Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.tokens[t.ID]
	if !ok {
		return ErrTokenNotFound
	}
	if r.violatesActiveTokenIndex(t) {
		return ErrDuplicateBooking
	}
	r.journal(ctx, func() { r.tokens[t.ID] = prev })
	r.tokens[t.ID] = t
	return nil
}

// violatesActiveTokenIndex mirrors tokens_active_patient_doctor_uidx.
func (r *MemoryRepository) violatesActiveTokenIndex(t Token) bool {
	if t.IsEmergency || !t.Status.IsActive() {
		return false
	}
	for id, other := range r.tokens {
		if id == t.ID || other.IsEmergency || !other.Status.IsActive() {
			continue
		}
		if other.PatientID == t.PatientID && other.DoctorID == t.DoctorID {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) GetWaitlistEntry(_ context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.waitlist[id]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	return &e, nil
}

func (r *MemoryRepository) ListWaitlist(_ context.Context, f WaitlistFilter) ([]WaitlistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WaitlistEntry
	for _, e := range r.waitlist {
		if f.DoctorID != "" && e.DoctorID != f.DoctorID {
			continue
		}
		if f.SlotID != nil && (e.PreferredSlotID == nil || *e.PreferredSlotID != *f.SlotID) {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *MemoryRepository) CreateWaitlistEntry(ctx context.Context, e WaitlistEntry) (*WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.Seq = r.seq
	r.journal(ctx, func() { delete(r.waitlist, e.ID) })
	r.waitlist[e.ID] = e
	return &e, nil
}

func (r *MemoryRepository) UpdateWaitlistStatus(ctx context.Context, id uuid.UUID, status WaitlistStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.waitlist[id]
	if !ok {
		return ErrWaitlistEntryNotFound
	}
	prev := e
	r.journal(ctx, func() { r.waitlist[id] = prev })
	e.Status = status
	r.waitlist[id] = e
	return nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	n := len(r.events)
	r.journal(ctx, func() { r.events = r.events[:n] })
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the audit log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}
