package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntryType distinguishes debits from credits
type LedgerEntryType string

const (
	LedgerDebit  LedgerEntryType = "debit"
	LedgerCredit LedgerEntryType = "credit"
)

// LedgerEntry is one append-only row of a tenant's credit trail.
// BalanceAfter carries the running balance so the sequence is auditable
// without replaying it.
type LedgerEntry struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	TenantID     string          `db:"tenant_id" json:"tenant_id"`
	Type         LedgerEntryType `db:"type" json:"type"`
	Amount       int64           `db:"amount" json:"amount"`
	Operation    string          `db:"operation" json:"operation,omitempty"`
	BalanceAfter int64           `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
