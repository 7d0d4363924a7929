package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Entry reasons. The ledger is append-only; a mistake is corrected by a
// compensating entry, never by editing history.
const (
	ReasonPurchase   = "purchase"
	ReasonBooking    = "booking_debit"
	ReasonRefund     = "cancellation_refund"
	ReasonAdjustment = "admin_adjustment"
)

// Entry maps to the credit_ledger table: one signed credit movement for a
// patient. BalanceAfter is the patient's balance once this entry applied,
// recorded so history reads never need to re-sum the ledger.
type Entry struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	Delta        int        `db:"delta" json:"delta"`
	BalanceAfter int        `db:"balance_after" json:"balance_after"`
	SessionID    *uuid.UUID `db:"session_id" json:"session_id,omitempty"`
	Reason       string     `db:"reason" json:"reason"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}
