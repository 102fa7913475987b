package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/veilflow/veilflow/common/db"
	"github.com/veilflow/veilflow/common/models"
)

// ErrInsufficientCredits is returned when a debit would take a tenant's
// balance below zero
var ErrInsufficientCredits = errors.New("insufficient credits")

// LedgerRepository handles the per-tenant credit balance and its
// append-only trail. Debits are linearised per tenant by the row lock the
// balance UPDATE takes inside the transaction.
type LedgerRepository struct {
	db *db.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(database *db.DB) *LedgerRepository {
	return &LedgerRepository{db: database}
}

// Balance returns a tenant's current credit balance
func (r *LedgerRepository) Balance(ctx context.Context, tenantID string) (int64, error) {
	query := `SELECT balance FROM credit_balances WHERE tenant_id = $1`

	var balance int64
	err := r.db.QueryRow(ctx, query, tenantID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

// Debit atomically subtracts credits and appends a ledger entry carrying
// the running balance. Returns ErrInsufficientCredits when the balance
// cannot cover the amount.
func (r *LedgerRepository) Debit(ctx context.Context, tenantID string, amount int64, operation string) error {
	return r.apply(ctx, tenantID, models.LedgerDebit, amount, operation)
}

// Credit atomically adds credits and appends a ledger entry
func (r *LedgerRepository) Credit(ctx context.Context, tenantID string, amount int64, operation string) error {
	return r.apply(ctx, tenantID, models.LedgerCredit, amount, operation)
}

func (r *LedgerRepository) apply(ctx context.Context, tenantID string, entryType models.LedgerEntryType, amount int64, operation string) error {
	if amount <= 0 {
		return fmt.Errorf("ledger amount must be positive, got %d", amount)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balanceAfter int64
	switch entryType {
	case models.LedgerDebit:
		err = tx.QueryRow(ctx, `
			UPDATE credit_balances
			SET balance = balance - $2, updated_at = now()
			WHERE tenant_id = $1 AND balance >= $2
			RETURNING balance
		`, tenantID, amount).Scan(&balanceAfter)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInsufficientCredits
		}
	case models.LedgerCredit:
		err = tx.QueryRow(ctx, `
			INSERT INTO credit_balances (tenant_id, balance, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (tenant_id)
			DO UPDATE SET balance = credit_balances.balance + $2, updated_at = now()
			RETURNING balance
		`, tenantID, amount).Scan(&balanceAfter)
	default:
		return fmt.Errorf("unknown ledger entry type: %s", entryType)
	}
	if err != nil {
		return fmt.Errorf("failed to apply %s: %w", entryType, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, tenant_id, type, amount, operation, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), tenantID, entryType, amount, operation, balanceAfter, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	return nil
}

// ListEntries retrieves a tenant's ledger trail, newest first
func (r *LedgerRepository) ListEntries(ctx context.Context, tenantID string, limit int) ([]*models.LedgerEntry, error) {
	query := `
		SELECT id, tenant_id, type, amount, operation, balance_after, created_at
		FROM ledger_entries
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		e := &models.LedgerEntry{}
		err := rows.Scan(&e.ID, &e.TenantID, &e.Type, &e.Amount, &e.Operation, &e.BalanceAfter, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}
