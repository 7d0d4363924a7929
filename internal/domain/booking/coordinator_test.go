package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/therabook/therabook/internal/domain/availability"
	"github.com/therabook/therabook/internal/domain/ledger"
	"github.com/therabook/therabook/pkg/pagination"
)

type mockSessionRepo struct {
	sessions   map[uuid.UUID]*Session
	createErrs []error // consumed one per Create call
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[uuid.UUID]*Session)}
}

func (m *mockSessionRepo) Create(_ context.Context, s *Session) error {
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) GetByIdempotencyKey(_ context.Context, patientID uuid.UUID, key string) (*Session, error) {
	for _, s := range m.sessions {
		if s.PatientID == patientID && s.IdempotencyKey == key && s.Status != StatusCancelled {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (m *mockSessionRepo) AnyOverlap(_ context.Context, therapistID uuid.UUID, date string, startMinute, endMinute int) (bool, error) {
	for _, s := range m.sessions {
		if s.TherapistID == therapistID && s.Date == date && s.Active() &&
			availability.Overlaps(startMinute, endMinute, s.StartMinute, s.StartMinute+s.Duration) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockSessionRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string, cancelReason *string) error {
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.Status = status
	s.CancelReason = cancelReason
	return nil
}

func (m *mockSessionRepo) ListByPatient(_ context.Context, patientID uuid.UUID, status string, _ pagination.Params) ([]*Session, int, error) {
	var out []*Session
	for _, s := range m.sessions {
		if s.PatientID == patientID && (status == "" || s.Status == status) {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

func (m *mockSessionRepo) ListByTherapist(_ context.Context, therapistID uuid.UUID, date string, _ pagination.Params) ([]*Session, int, error) {
	var out []*Session
	for _, s := range m.sessions {
		if s.TherapistID == therapistID && (date == "" || s.Date == date) {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

func (m *mockSessionRepo) ActiveIntervals(_ context.Context, therapistID uuid.UUID, startDate, endDate string) ([]availability.Interval, error) {
	var out []availability.Interval
	for _, s := range m.sessions {
		if s.TherapistID == therapistID && s.Active() && s.Date >= startDate && s.Date <= endDate {
			out = append(out, availability.Interval{Date: s.Date, StartMinute: s.StartMinute, EndMinute: s.StartMinute + s.Duration})
		}
	}
	return out, nil
}

func (m *mockSessionRepo) snapshot() map[uuid.UUID]*Session {
	snap := make(map[uuid.UUID]*Session, len(m.sessions))
	for id, s := range m.sessions {
		cp := *s
		snap[id] = &cp
	}
	return snap
}

type mockLedgerRepo struct {
	balances map[uuid.UUID]int
	entries  []*ledger.Entry
}

func newMockLedgerRepo() *mockLedgerRepo {
	return &mockLedgerRepo{balances: make(map[uuid.UUID]int)}
}

func (m *mockLedgerRepo) BalanceForUpdate(_ context.Context, patientID uuid.UUID) (int, error) {
	return m.balances[patientID], nil
}

func (m *mockLedgerRepo) SetBalance(_ context.Context, patientID uuid.UUID, balance int) error {
	m.balances[patientID] = balance
	return nil
}

func (m *mockLedgerRepo) Append(_ context.Context, e *ledger.Entry) error {
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockLedgerRepo) Balance(_ context.Context, patientID uuid.UUID) (int, error) {
	return m.balances[patientID], nil
}

func (m *mockLedgerRepo) ListByPatient(_ context.Context, patientID uuid.UUID, _ pagination.Params) ([]*ledger.Entry, int, error) {
	var out []*ledger.Entry
	for _, e := range m.entries {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

func (m *mockLedgerRepo) snapshot() (map[uuid.UUID]int, []*ledger.Entry) {
	balances := make(map[uuid.UUID]int, len(m.balances))
	for id, b := range m.balances {
		balances[id] = b
	}
	entries := make([]*ledger.Entry, len(m.entries))
	copy(entries, m.entries)
	return balances, entries
}

// mockTx runs fn directly and rolls the mock stores back when it fails,
// mirroring transactional behavior.
type mockTx struct {
	sessions *mockSessionRepo
	credits  *mockLedgerRepo
}

func (m *mockTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sessSnap := m.sessions.snapshot()
	balSnap, entrySnap := m.credits.snapshot()
	if err := fn(ctx); err != nil {
		m.sessions.sessions = sessSnap
		m.credits.balances = balSnap
		m.credits.entries = entrySnap
		return err
	}
	return nil
}

type mockBookingDirectory struct {
	therapists map[uuid.UUID]bool
	patients   map[uuid.UUID]bool
}

func (m *mockBookingDirectory) TherapistExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.therapists[id], nil
}

func (m *mockBookingDirectory) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.patients[id], nil
}

type fixture struct {
	coord    *Coordinator
	sessions *mockSessionRepo
	credits  *mockLedgerRepo

	patientID   uuid.UUID
	therapistID uuid.UUID
}

func newFixture(t *testing.T, balance int) *fixture {
	t.Helper()
	sessions := newMockSessionRepo()
	credits := newMockLedgerRepo()
	patientID := uuid.New()
	therapistID := uuid.New()
	credits.balances[patientID] = balance

	dir := &mockBookingDirectory{
		therapists: map[uuid.UUID]bool{therapistID: true},
		patients:   map[uuid.UUID]bool{patientID: true},
	}
	coord := NewCoordinator(sessions, credits, dir, &mockTx{sessions: sessions, credits: credits},
		CoordinatorConfig{SessionCost: 1, Retries: 3, GraceMin: 15}, zerolog.Nop())
	coord.now = func() time.Time {
		return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	return &fixture{coord: coord, sessions: sessions, credits: credits, patientID: patientID, therapistID: therapistID}
}

func (f *fixture) request() BookingRequest {
	return BookingRequest{
		PatientID:   f.patientID,
		TherapistID: f.therapistID,
		Date:        "2025-03-03",
		StartTime:   "09:00",
		Duration:    60,
		SessionType: "video",
	}
}

func TestBookSlot(t *testing.T) {
	f := newFixture(t, 2)

	session, err := f.coord.BookSlot(context.Background(), f.request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Status != StatusScheduled {
		t.Errorf("expected status scheduled, got %s", session.Status)
	}
	if session.StartMinute != 540 {
		t.Errorf("expected start minute 540, got %d", session.StartMinute)
	}
	if session.IdempotencyKey == "" {
		t.Error("expected a derived idempotency key")
	}
	if len(f.credits.entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(f.credits.entries))
	}
	entry := f.credits.entries[0]
	if entry.Delta != -1 || entry.Reason != ledger.ReasonBooking {
		t.Errorf("unexpected ledger entry: %+v", entry)
	}
	if entry.SessionID == nil || *entry.SessionID != session.ID {
		t.Error("ledger entry should reference the session")
	}
	if f.credits.balances[f.patientID] != 1 {
		t.Errorf("expected balance 1, got %d", f.credits.balances[f.patientID])
	}
}

func TestBookSlot_InsufficientCredits(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.coord.BookSlot(context.Background(), f.request())
	if !errors.Is(err, ledger.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if len(f.sessions.sessions) != 0 {
		t.Error("failed booking must not leave a session behind")
	}
	if len(f.credits.entries) != 0 {
		t.Error("failed booking must not write a ledger entry")
	}
}

func TestBookSlot_SlotUnavailable(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	if _, err := f.coord.BookSlot(ctx, f.request()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Second patient wants an overlapping window.
	otherPatient := uuid.New()
	f.credits.balances[otherPatient] = 5
	f.coord.directory.(*mockBookingDirectory).patients[otherPatient] = true

	req := f.request()
	req.PatientID = otherPatient
	req.StartTime = "09:30"
	_, err := f.coord.BookSlot(ctx, req)
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if f.credits.balances[otherPatient] != 5 {
		t.Error("rejected booking must not debit credits")
	}
}

func TestBookSlot_BackToBackAllowed(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	if _, err := f.coord.BookSlot(ctx, f.request()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := f.request()
	req.StartTime = "10:00"
	if _, err := f.coord.BookSlot(ctx, req); err != nil {
		t.Fatalf("back-to-back booking should succeed, got %v", err)
	}
}

func TestBookSlot_IdempotentReplay(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	req := f.request()
	req.IdempotencyKey = "client-key-1"

	first, err := f.coord.BookSlot(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.coord.BookSlot(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Error("replay should return the original session")
	}
	if len(f.credits.entries) != 1 {
		t.Fatalf("replay must not debit again, got %d entries", len(f.credits.entries))
	}
	if f.credits.balances[f.patientID] != 4 {
		t.Errorf("expected balance 4, got %d", f.credits.balances[f.patientID])
	}
}

func TestBookSlot_DerivedKeyReplay(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	first, err := f.coord.BookSlot(ctx, f.request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.coord.BookSlot(ctx, f.request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Error("identical request without a key should land on the same session")
	}
	if len(f.credits.entries) != 1 {
		t.Fatalf("expected a single debit, got %d entries", len(f.credits.entries))
	}
}

func serializationFailure() *pgconn.PgError {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
}

func TestBookSlot_RetriesSerializationFailure(t *testing.T) {
	f := newFixture(t, 5)
	f.sessions.createErrs = []error{serializationFailure(), serializationFailure()}

	session, err := f.coord.BookSlot(context.Background(), f.request())
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if session == nil || len(f.credits.entries) != 1 {
		t.Fatal("retried booking should commit exactly once")
	}
}

func TestBookSlot_RetriesExhausted(t *testing.T) {
	f := newFixture(t, 5)
	f.sessions.createErrs = []error{serializationFailure(), serializationFailure(), serializationFailure()}

	_, err := f.coord.BookSlot(context.Background(), f.request())
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if len(f.credits.entries) != 0 {
		t.Error("exhausted booking must not debit credits")
	}
}

func TestBookSlot_ExclusionViolationMapsToSlotUnavailable(t *testing.T) {
	f := newFixture(t, 5)
	f.sessions.createErrs = []error{&pgconn.PgError{Code: "23P01", Message: "conflicting key value"}}

	_, err := f.coord.BookSlot(context.Background(), f.request())
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestBookSlot_Validation(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*BookingRequest)
	}{
		{"missing patient", func(r *BookingRequest) { r.PatientID = uuid.Nil }},
		{"missing therapist", func(r *BookingRequest) { r.TherapistID = uuid.Nil }},
		{"bad date", func(r *BookingRequest) { r.Date = "03/03/2025" }},
		{"bad clock", func(r *BookingRequest) { r.StartTime = "9am" }},
		{"past slot", func(r *BookingRequest) { r.Date = "2025-02-01" }},
		{"crosses midnight", func(r *BookingRequest) { r.StartTime = "23:30"; r.Duration = 60 }},
		{"bad session type", func(r *BookingRequest) { r.SessionType = "carrier_pigeon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request()
			tt.mutate(&req)
			if _, err := f.coord.BookSlot(ctx, req); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
	if len(f.sessions.sessions) != 0 {
		t.Error("validation failures must not create sessions")
	}
}

func TestBookSlot_UnknownTherapist(t *testing.T) {
	f := newFixture(t, 5)
	req := f.request()
	req.TherapistID = uuid.New()

	if _, err := f.coord.BookSlot(context.Background(), req); !errors.Is(err, ErrTherapistNotFound) {
		t.Fatalf("expected ErrTherapistNotFound, got %v", err)
	}
}

func TestBookSlot_UnknownPatient(t *testing.T) {
	f := newFixture(t, 5)
	req := f.request()
	req.PatientID = uuid.New()
	f.credits.balances[req.PatientID] = 5

	if _, err := f.coord.BookSlot(context.Background(), req); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestCancelSession(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	session, err := f.coord.BookSlot(ctx, f.request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancelled, err := f.coord.CancelSession(ctx, session.ID, f.patientID, "feeling better")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected status cancelled, got %s", cancelled.Status)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "feeling better" {
		t.Error("expected cancel reason to be recorded")
	}
	if f.credits.balances[f.patientID] != 2 {
		t.Errorf("expected refund to restore balance 2, got %d", f.credits.balances[f.patientID])
	}
	if len(f.credits.entries) != 2 {
		t.Fatalf("expected debit and refund entries, got %d", len(f.credits.entries))
	}
	if f.credits.entries[1].Reason != ledger.ReasonRefund {
		t.Errorf("expected refund reason, got %s", f.credits.entries[1].Reason)
	}
}

func TestCancelSession_Idempotent(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	session, _ := f.coord.BookSlot(ctx, f.request())
	if _, err := f.coord.CancelSession(ctx, session.ID, f.patientID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := f.coord.CancelSession(ctx, session.ID, f.patientID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", again.Status)
	}
	if len(f.credits.entries) != 2 {
		t.Fatalf("second cancel must not refund again, got %d entries", len(f.credits.entries))
	}
}

func TestCancelSession_WrongPatient(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	session, _ := f.coord.BookSlot(ctx, f.request())
	if _, err := f.coord.CancelSession(ctx, session.ID, uuid.New(), ""); !errors.Is(err, ErrWrongPatient) {
		t.Fatalf("expected ErrWrongPatient, got %v", err)
	}
}

func TestCancelSession_CompletedNotCancellable(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	session, _ := f.coord.BookSlot(ctx, f.request())
	f.sessions.sessions[session.ID].Status = StatusCompleted

	if _, err := f.coord.CancelSession(ctx, session.ID, f.patientID, ""); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestCancelSession_FreesTheSlot(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	session, _ := f.coord.BookSlot(ctx, f.request())
	if _, err := f.coord.CancelSession(ctx, session.ID, f.patientID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Same patient, same slot, no client key: the derived key matches the
	// cancelled session, which must not be replayed.
	rebooked, err := f.coord.BookSlot(ctx, f.request())
	if err != nil {
		t.Fatalf("cancelled slot should be bookable again, got %v", err)
	}
	if rebooked.ID == session.ID {
		t.Fatal("rebooking returned the cancelled session instead of a new one")
	}
	if rebooked.Status != StatusScheduled {
		t.Errorf("expected status %s, got %s", StatusScheduled, rebooked.Status)
	}
	if got := len(f.credits.entries); got != 3 {
		t.Fatalf("expected debit, refund and second debit, got %d entries", got)
	}
	last := f.credits.entries[2]
	if last.Delta != -1 || last.SessionID == nil || *last.SessionID != rebooked.ID {
		t.Errorf("expected fresh debit for session %s, got %+v", rebooked.ID, last)
	}
	if f.credits.balances[f.patientID] != 4 {
		t.Errorf("expected balance 4, got %d", f.credits.balances[f.patientID])
	}
}

func TestTransitionStatus(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	session, _ := f.coord.BookSlot(ctx, f.request())

	for _, status := range []string{StatusConfirmed, StatusInProgress, StatusCompleted} {
		updated, err := f.coord.TransitionStatus(ctx, session.ID, status)
		if err != nil {
			t.Fatalf("transition to %s: unexpected error: %v", status, err)
		}
		if updated.Status != status {
			t.Errorf("expected %s, got %s", status, updated.Status)
		}
	}
}

func TestTransitionStatus_SkipsConfirmation(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	session, _ := f.coord.BookSlot(ctx, f.request())
	updated, err := f.coord.TransitionStatus(ctx, session.ID, StatusInProgress)
	if err != nil {
		t.Fatalf("scheduled session should start without confirmation, got %v", err)
	}
	if updated.Status != StatusInProgress {
		t.Errorf("expected %s, got %s", StatusInProgress, updated.Status)
	}
}

func TestTransitionStatus_InvalidJump(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	session, _ := f.coord.BookSlot(ctx, f.request())
	if _, err := f.coord.TransitionStatus(ctx, session.ID, StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionStatus_CancelRejected(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	session, _ := f.coord.BookSlot(ctx, f.request())
	if _, err := f.coord.TransitionStatus(ctx, session.ID, StatusCancelled); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestActiveIntervals_ExcludesCancelled(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	session, _ := f.coord.BookSlot(ctx, f.request())
	f.coord.CancelSession(ctx, session.ID, f.patientID, "")

	intervals, err := f.sessions.ActiveIntervals(ctx, f.therapistID, "2025-03-03", "2025-03-03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(intervals) != 0 {
		t.Fatalf("cancelled session must not reserve time, got %d intervals", len(intervals))
	}
}
