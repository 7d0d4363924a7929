package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/therabook/therabook/internal/domain/availability"
	"github.com/therabook/therabook/internal/domain/ledger"
	"github.com/therabook/therabook/internal/platform/db"
	"github.com/therabook/therabook/pkg/pagination"
)

// Directory is the slice of the identity domain booking needs.
type Directory interface {
	TherapistExists(ctx context.Context, id uuid.UUID) (bool, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// CoordinatorConfig tunes the booking transaction.
type CoordinatorConfig struct {
	SessionCost int // credits debited per booking
	Retries     int // attempts before surfacing a concurrency conflict
	GraceMin    int // how far into the past a slot start may lie
}

// Coordinator books sessions. Each booking runs as one serializable
// transaction covering the idempotency lookup, the overlap check, the
// session insert and the credit debit, so a session row and its ledger
// entry either both exist or neither does.
type Coordinator struct {
	sessions  Repository
	credits   ledger.Repository
	directory Directory
	tx        db.TxRunner
	cfg       CoordinatorConfig
	log       zerolog.Logger
	now       func() time.Time
}

func NewCoordinator(sessions Repository, credits ledger.Repository, directory Directory, tx db.TxRunner, cfg CoordinatorConfig, log zerolog.Logger) *Coordinator {
	if cfg.SessionCost <= 0 {
		cfg.SessionCost = 1
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &Coordinator{
		sessions:  sessions,
		credits:   credits,
		directory: directory,
		tx:        tx,
		cfg:       cfg,
		log:       log.With().Str("component", "booking").Logger(),
		now:       time.Now,
	}
}

// BookSlot books the requested slot and debits the patient exactly once.
// Replaying a request with the same idempotency key returns the session
// created the first time, without a second debit. Cancelling a session
// releases its key.
func (c *Coordinator) BookSlot(ctx context.Context, req BookingRequest) (*Session, error) {
	startMin, err := c.validateRequest(&req)
	if err != nil {
		return nil, err
	}

	exists, err := c.directory.TherapistExists(ctx, req.TherapistID)
	if err != nil {
		return nil, fmt.Errorf("check therapist: %w", err)
	}
	if !exists {
		return nil, ErrTherapistNotFound
	}
	exists, err = c.directory.PatientExists(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return nil, ErrPatientNotFound
	}

	key := req.IdempotencyKey
	if key == "" {
		key = deriveIdempotencyKey(req)
	}

	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		session, err := c.bookOnce(ctx, req, key, startMin)
		if err == nil {
			return session, nil
		}
		err = mapPgError(err)

		if errors.Is(err, ErrConcurrencyConflict) {
			c.log.Warn().
				Int("attempt", attempt).
				Str("therapist_id", req.TherapistID.String()).
				Msg("booking transaction conflicted, retrying")
			continue
		}
		if errors.Is(err, errIdempotentReplay) {
			// Another request with the same key committed first.
			return c.sessions.GetByIdempotencyKey(ctx, req.PatientID, key)
		}
		if errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ledger.ErrInsufficientCredits) {
			return nil, err
		}
		return nil, fmt.Errorf("book session: %w", err)
	}
	return nil, ErrConcurrencyConflict
}

func (c *Coordinator) bookOnce(ctx context.Context, req BookingRequest, key string, startMin int) (*Session, error) {
	var session *Session
	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := c.sessions.GetByIdempotencyKey(ctx, req.PatientID, key)
		if err == nil {
			session = existing
			return nil
		}
		if !errors.Is(err, ErrSessionNotFound) {
			return err
		}

		taken, err := c.sessions.AnyOverlap(ctx, req.TherapistID, req.Date, startMin, startMin+req.Duration)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotUnavailable
		}

		s := &Session{
			ID:             uuid.New(),
			PatientID:      req.PatientID,
			TherapistID:    req.TherapistID,
			Date:           req.Date,
			StartTime:      req.StartTime,
			StartMinute:    startMin,
			Duration:       req.Duration,
			SessionType:    req.SessionType,
			Status:         StatusScheduled,
			CreditCost:     c.cfg.SessionCost,
			IdempotencyKey: key,
		}
		if err := c.sessions.Create(ctx, s); err != nil {
			return err
		}
		if _, err := ledger.Apply(ctx, c.credits, req.PatientID, -c.cfg.SessionCost, ledger.ReasonBooking, &s.ID); err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Info().
		Str("session_id", session.ID.String()).
		Str("patient_id", session.PatientID.String()).
		Str("therapist_id", session.TherapistID.String()).
		Str("date", session.Date).
		Str("start", session.StartTime).
		Msg("session booked")
	return session, nil
}

// CancelSession moves the session to cancelled and refunds its credit cost
// in the same transaction. When patientID is non-nil the session must
// belong to that patient. Cancelling an already cancelled session is a
// no-op returning the existing session.
func (c *Coordinator) CancelSession(ctx context.Context, sessionID, patientID uuid.UUID, reason string) (*Session, error) {
	var session *Session
	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		s, err := c.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		if patientID != uuid.Nil && s.PatientID != patientID {
			return ErrWrongPatient
		}
		if s.Status == StatusCancelled {
			session = s
			return nil
		}
		if s.Status != StatusScheduled && s.Status != StatusConfirmed {
			return fmt.Errorf("%w: status is %s", ErrNotCancellable, s.Status)
		}

		var cancelReason *string
		if reason != "" {
			cancelReason = &reason
		}
		if err := c.sessions.UpdateStatus(ctx, s.ID, StatusCancelled, cancelReason); err != nil {
			return err
		}
		if _, err := ledger.Apply(ctx, c.credits, s.PatientID, s.CreditCost, ledger.ReasonRefund, &s.ID); err != nil {
			return err
		}

		s.Status = StatusCancelled
		s.CancelReason = cancelReason
		session = s
		return nil
	})
	if err != nil {
		return nil, mapPgError(err)
	}

	c.log.Info().
		Str("session_id", session.ID.String()).
		Str("patient_id", session.PatientID.String()).
		Msg("session cancelled")
	return session, nil
}

// TransitionStatus moves a session along the confirmed/in_progress/completed
// path. Cancellation is rejected here: it refunds credits and must go
// through CancelSession.
func (c *Coordinator) TransitionStatus(ctx context.Context, sessionID uuid.UUID, target string) (*Session, error) {
	if target == StatusCancelled {
		return nil, fmt.Errorf("%w: use the cancel operation", ErrInvalidTransition)
	}

	var session *Session
	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		s, err := c.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return err
		}
		allowed := false
		for _, next := range validStatusTransitions[s.Status] {
			if next == target {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, target)
		}
		if err := c.sessions.UpdateStatus(ctx, s.ID, target, nil); err != nil {
			return err
		}
		s.Status = target
		session = s
		return nil
	})
	if err != nil {
		return nil, mapPgError(err)
	}
	return session, nil
}

func (c *Coordinator) GetSession(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	return c.sessions.GetByID(ctx, sessionID)
}

func (c *Coordinator) ListPatientSessions(ctx context.Context, patientID uuid.UUID, status string, p pagination.Params) ([]*Session, int, error) {
	if status != "" && !activeStatuses[status] && status != StatusCompleted && status != StatusCancelled {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return c.sessions.ListByPatient(ctx, patientID, status, p)
}

func (c *Coordinator) ListTherapistSessions(ctx context.Context, therapistID uuid.UUID, date string, p pagination.Params) ([]*Session, int, error) {
	if date != "" {
		if _, err := availability.ParseDate(date); err != nil {
			return nil, 0, err
		}
	}
	return c.sessions.ListByTherapist(ctx, therapistID, date, p)
}

func (c *Coordinator) validateRequest(req *BookingRequest) (int, error) {
	if req.PatientID == uuid.Nil {
		return 0, fmt.Errorf("%w: patient id is required", ErrValidation)
	}
	if req.TherapistID == uuid.Nil {
		return 0, fmt.Errorf("%w: therapist id is required", ErrValidation)
	}
	date, err := availability.ParseDate(req.Date)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	startMin, err := availability.ParseClock(req.StartTime)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if req.Duration <= 0 {
		req.Duration = availability.DefaultSlotDuration
	}
	if startMin+req.Duration > 24*60 {
		return 0, fmt.Errorf("%w: session crosses midnight", ErrValidation)
	}
	if req.SessionType == "" {
		req.SessionType = "video"
	}
	if !validSessionTypes[req.SessionType] {
		return 0, fmt.Errorf("%w: invalid session type %q", ErrValidation, req.SessionType)
	}

	slotStart := date.Add(time.Duration(startMin) * time.Minute)
	grace := time.Duration(c.cfg.GraceMin) * time.Minute
	if slotStart.Before(c.now().UTC().Add(-grace)) {
		return 0, fmt.Errorf("%w: slot start is in the past", ErrValidation)
	}
	return startMin, nil
}

// deriveIdempotencyKey produces a stable key for clients that do not send
// one, so an identical retry lands on the same session.
func deriveIdempotencyKey(req BookingRequest) string {
	seed := fmt.Sprintf("%s|%s|%s|%s|%d",
		req.PatientID, req.TherapistID, req.Date, req.StartTime, req.Duration)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// errIdempotentReplay marks a unique violation on the idempotency index:
// the same key committed in a concurrent transaction.
var errIdempotentReplay = errors.New("idempotency key already committed")

// mapPgError folds driver-level failures into the package's sentinel
// errors. Serialization failures and deadlocks are retryable; constraint
// violations carry a definitive answer.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", ErrConcurrencyConflict, pgErr.Message)
	case "23P01":
		// Exclusion constraint on overlapping active sessions.
		return ErrSlotUnavailable
	case "23505":
		if pgErr.ConstraintName == "sessions_patient_idempotency_key" {
			return errIdempotentReplay
		}
		return fmt.Errorf("%w: %s", ErrConcurrencyConflict, pgErr.Message)
	}
	return err
}
