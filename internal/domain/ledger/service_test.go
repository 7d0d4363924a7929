package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/therabook/therabook/pkg/pagination"
)

type mockRepo struct {
	balances map[uuid.UUID]int
	entries  []*Entry
}

func newMockRepo() *mockRepo {
	return &mockRepo{balances: make(map[uuid.UUID]int)}
}

func (m *mockRepo) BalanceForUpdate(_ context.Context, patientID uuid.UUID) (int, error) {
	return m.balances[patientID], nil
}

func (m *mockRepo) SetBalance(_ context.Context, patientID uuid.UUID, balance int) error {
	m.balances[patientID] = balance
	return nil
}

func (m *mockRepo) Append(_ context.Context, e *Entry) error {
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockRepo) Balance(_ context.Context, patientID uuid.UUID) (int, error) {
	return m.balances[patientID], nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, p pagination.Params) ([]*Entry, int, error) {
	var out []*Entry
	for _, e := range m.entries {
		if e.PatientID == patientID {
			out = append(out, e)
		}
	}
	return out, len(out), nil
}

type passthroughTx struct{}

func (passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockPatients struct {
	patients map[uuid.UUID]bool
}

func (m *mockPatients) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.patients[id], nil
}

func newTestService(patientID uuid.UUID) (*Service, *mockRepo) {
	repo := newMockRepo()
	dir := &mockPatients{patients: map[uuid.UUID]bool{patientID: true}}
	return NewService(repo, dir, passthroughTx{}, zerolog.Nop()), repo
}

func TestCredit(t *testing.T) {
	patientID := uuid.New()
	svc, repo := newTestService(patientID)

	entry, err := svc.Credit(context.Background(), patientID, 5, ReasonPurchase)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Delta != 5 || entry.BalanceAfter != 5 {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if repo.balances[patientID] != 5 {
		t.Errorf("expected balance 5, got %d", repo.balances[patientID])
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(repo.entries))
	}
}

func TestCredit_DefaultsReasonToPurchase(t *testing.T) {
	patientID := uuid.New()
	svc, repo := newTestService(patientID)

	if _, err := svc.Credit(context.Background(), patientID, 3, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.entries[0].Reason != ReasonPurchase {
		t.Errorf("expected reason %q, got %q", ReasonPurchase, repo.entries[0].Reason)
	}
}

func TestCredit_RejectsNonPositiveAmount(t *testing.T) {
	patientID := uuid.New()
	svc, _ := newTestService(patientID)

	for _, amount := range []int{0, -5} {
		if _, err := svc.Credit(context.Background(), patientID, amount, ReasonPurchase); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Credit(%d): expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestCredit_RejectsDebitReasons(t *testing.T) {
	patientID := uuid.New()
	svc, _ := newTestService(patientID)

	if _, err := svc.Credit(context.Background(), patientID, 1, ReasonBooking); !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("expected ErrInvalidReason, got %v", err)
	}
}

func TestCredit_UnknownPatient(t *testing.T) {
	svc, _ := newTestService(uuid.New())

	if _, err := svc.Credit(context.Background(), uuid.New(), 1, ReasonPurchase); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestApply_DebitAndRefund(t *testing.T) {
	patientID := uuid.New()
	repo := newMockRepo()
	repo.balances[patientID] = 2
	sessionID := uuid.New()
	ctx := context.Background()

	entry, err := Apply(ctx, repo, patientID, -1, ReasonBooking, &sessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.BalanceAfter != 1 {
		t.Errorf("expected balance 1 after debit, got %d", entry.BalanceAfter)
	}
	if entry.SessionID == nil || *entry.SessionID != sessionID {
		t.Error("debit entry should reference the session")
	}

	refund, err := Apply(ctx, repo, patientID, 1, ReasonRefund, &sessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refund.BalanceAfter != 2 {
		t.Errorf("expected balance restored to 2, got %d", refund.BalanceAfter)
	}
}

func TestApply_BlocksNegativeBalance(t *testing.T) {
	patientID := uuid.New()
	repo := newMockRepo()
	repo.balances[patientID] = 0

	_, err := Apply(context.Background(), repo, patientID, -1, ReasonBooking, nil)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if len(repo.entries) != 0 {
		t.Error("rejected debit must not write an entry")
	}
}

func TestBalance_UnknownPatient(t *testing.T) {
	svc, _ := newTestService(uuid.New())
	if _, err := svc.Balance(context.Background(), uuid.New()); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}
