package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/opd-token-allocation/internal/redis"
)

// AverageConsultationMinutes is the per-position offset used for ETAs.
const AverageConsultationMinutes = 6

const (
	EventTokenAllocated      = "TOKEN_ALLOCATED"
	EventTokenWaitlisted     = "TOKEN_WAITLISTED"
	EventTokenPromoted       = "TOKEN_PROMOTED"
	EventTokenCancelled      = "TOKEN_CANCELLED"
	EventTokenNoShow         = "TOKEN_NO_SHOW"
	EventTokenBumped         = "TOKEN_BUMPED"
	EventTokenRescheduled    = "TOKEN_RESCHEDULED"
	EventEmergencyAdmitted   = "EMERGENCY_ADMITTED"
	EventSlotDelayed         = "SLOT_DELAYED"
	EventConsultationStarted = "CONSULTATION_STARTED"
	EventConsultationDone    = "CONSULTATION_COMPLETED"
	EventWaitlistExpired     = "WAITLIST_EXPIRED"
)

var (
	ErrInvalidTokenSource      = errors.New("invalid token source")
	ErrTokenNotActive          = errors.New("token is not active")
	ErrGracePeriodActive       = errors.New("no-show grace period has not expired")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrSlotBusy                = errors.New("slot is being modified by another request, please retry")
)

// Engine runs every allocation operation. It keeps no state between calls;
// everything lives behind the repository.
type Engine struct {
	repo   Repository
	locker redisclient.Locker
	now    func() time.Time
	logger zerolog.Logger
}

type Option func(*Engine)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(repo Repository, locker redisclient.Locker, opts ...Option) *Engine {
	e := &Engine{
		repo:   repo,
		locker: locker,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// mutate runs fn under the slot locks and one repository transaction.
// Events recorded by fn are written only after the transaction commits.
func (e *Engine) mutate(ctx context.Context, slotIDs []uuid.UUID, fn func(ctx context.Context, events *eventBatch) error) error {
	events := &eventBatch{}

	err := e.locker.WithSlotLocks(ctx, slotIDs, func(lockCtx context.Context) error {
		return e.repo.WithinTx(lockCtx, func(txCtx context.Context) error {
			return fn(txCtx, events)
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return ErrSlotBusy
		}
		return err
	}

	e.flushEvents(ctx, events)
	return nil
}

type pendingEvent struct {
	eventType string
	tokenID   *uuid.UUID
	slotID    *uuid.UUID
	payload   map[string]any
}

type eventBatch struct {
	events []pendingEvent
}

func (b *eventBatch) add(eventType string, tokenID, slotID *uuid.UUID, payload map[string]any) {
	b.events = append(b.events, pendingEvent{
		eventType: eventType,
		tokenID:   tokenID,
		slotID:    slotID,
		payload:   payload,
	})
}

func (e *Engine) flushEvents(ctx context.Context, batch *eventBatch) {
	now := e.clock()
	for _, ev := range batch.events {
		body, err := json.Marshal(ev.payload)
		if err != nil {
			e.logger.Warn().Err(err).Str("event_type", ev.eventType).Msg("marshal event payload")
			continue
		}
		err = e.repo.InsertEvent(ctx, EventLog{
			EventType: ev.eventType,
			TokenID:   ev.tokenID,
			SlotID:    ev.slotID,
			Payload:   body,
			CreatedAt: now,
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("event_type", ev.eventType).Msg("write event log")
		}
	}
}

// liveTokens returns the tokens still holding a seat in the slot, by position.
func (e *Engine) liveTokens(ctx context.Context, slotID uuid.UUID) ([]Token, error) {
	tokens, err := e.repo.ListTokensBySlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("list slot tokens: %w", err)
	}
	live := tokens[:0]
	for _, t := range tokens {
		if t.Status.HoldsSeat() {
			live = append(live, t)
		}
	}
	sortTokensByPosition(live)
	return live, nil
}

func (e *Engine) hasActiveToken(ctx context.Context, patientID, doctorID string) (bool, error) {
	tokens, err := e.repo.ListTokensByPatient(ctx, patientID)
	if err != nil {
		return false, fmt.Errorf("list patient tokens: %w", err)
	}
	for _, t := range tokens {
		if t.DoctorID == doctorID && t.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

// admit seats a new token at the end of the slot and bumps the occupancy counter.
func (e *Engine) admit(ctx context.Context, slot TimeSlot, patientID string, source TokenSource, priority int, emergency bool) (*Token, error) {
	live, err := e.liveTokens(ctx, slot.ID)
	if err != nil {
		return nil, err
	}
	position := len(live) + 1

	number, err := e.tokenNumber(ctx, slot, position)
	if err != nil {
		return nil, err
	}

	token := Token{
		ID:                        uuid.New(),
		TokenNumber:               number,
		PatientID:                 patientID,
		DoctorID:                  slot.DoctorID,
		SlotID:                    slot.ID,
		TokenSource:               source,
		Priority:                  priority,
		Status:                    TokenAllocated,
		AllocatedAt:               e.clock(),
		EstimatedConsultationTime: EstimateConsultationTime(slot, position),
		PositionInQueue:           position,
		IsEmergency:               emergency,
	}
	if err := e.repo.CreateToken(ctx, token); err != nil {
		return nil, err
	}
	if _, err := e.repo.AdjustSlotOccupancy(ctx, slot.ID, 1); err != nil {
		return nil, fmt.Errorf("increment occupancy: %w", err)
	}
	return &token, nil
}

func (e *Engine) tokenNumber(ctx context.Context, slot TimeSlot, position int) (string, error) {
	slots, err := e.repo.ListSlotsByDoctorAndDate(ctx, slot.DoctorID, slot.Date)
	if err != nil {
		return "", fmt.Errorf("list doctor slots: %w", err)
	}
	sortSlots(slots)

	sequence := 1
	for i, s := range slots {
		if s.ID == slot.ID {
			sequence = i + 1
			break
		}
	}
	return FormatTokenNumber(slot.DoctorID, sequence, position), nil
}

// FormatTokenNumber renders {short code}-S{slot sequence}-T{position}.
func FormatTokenNumber(doctorID string, slotSequence, position int) string {
	return fmt.Sprintf("%s-S%d-T%02d", doctorShortCode(doctorID), slotSequence, position)
}

func doctorShortCode(doctorID string) string {
	var b strings.Builder
	for _, r := range doctorID {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
			if b.Len() == 2 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "D1"
	}
	return b.String()
}

// EstimateConsultationTime is the only ETA formula; every path that places a
// token uses it.
func EstimateConsultationTime(slot TimeSlot, position int) time.Time {
	base := slot.StartTime
	if slot.ActualStartTime != nil {
		base = *slot.ActualStartTime
	}
	offset := position*AverageConsultationMinutes + slot.EstimatedDelay
	return base.Add(time.Duration(offset) * time.Minute)
}

func findSlotForTime(slots []TimeSlot, at time.Time) *TimeSlot {
	for i := range slots {
		if slots[i].Contains(at) {
			return &slots[i]
		}
	}
	return nil
}

func sortSlots(slots []TimeSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if !slots[i].StartTime.Equal(slots[j].StartTime) {
			return slots[i].StartTime.Before(slots[j].StartTime)
		}
		return slots[i].ID.String() < slots[j].ID.String()
	})
}

func sortTokensByPosition(tokens []Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].PositionInQueue != tokens[j].PositionInQueue {
			return tokens[i].PositionInQueue < tokens[j].PositionInQueue
		}
		return tokens[i].AllocatedAt.Before(tokens[j].AllocatedAt)
	})
}

func slotIDs(slots []TimeSlot) []uuid.UUID {
	ids := make([]uuid.UUID, len(slots))
	for i, s := range slots {
		ids[i] = s.ID
	}
	return ids
}

func ptr[T any](v T) *T {
	return &v
}
