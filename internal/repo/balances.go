package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
)

// ApplyReferral credits a referrer and bumps its referral counters.
func (r *PostgresRepository) ApplyReferral(ctx context.Context, id, amount int64) (*ledger.Account, error) {
	const q = `
UPDATE accounts
SET credits = credits + $2,
    referral_count = referral_count + 1,
    referral_credits = referral_credits + $2,
    updated_at = NOW()
WHERE id = $1
RETURNING ` + accountColumns + `;
`
	return r.updateOne(ctx, "apply referral", q, id, amount)
}

// AddCredits adds amount credits to an account.
func (r *PostgresRepository) AddCredits(ctx context.Context, id, amount int64) (*ledger.Account, error) {
	const q = `
UPDATE accounts
SET credits = credits + $2, updated_at = NOW()
WHERE id = $1
RETURNING ` + accountColumns + `;
`
	return r.updateOne(ctx, "add credits", q, id, amount)
}

// DebitLookup is a conditional update; the balance check and the mutation
// happen in one statement.
func (r *PostgresRepository) DebitLookup(ctx context.Context, id int64) (*ledger.Account, error) {
	const q = `
UPDATE accounts
SET credits = credits - 1, search_count = search_count + 1, updated_at = NOW()
WHERE id = $1 AND credits >= 1
RETURNING ` + accountColumns + `;
`
	acc, err := scanAccount(r.pool.QueryRow(ctx, q, id))
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("debit lookup: %w", err)
	}
	if _, err := r.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return nil, ledger.ErrInsufficientCredits
}

// RefundLookup reverses DebitLookup.
func (r *PostgresRepository) RefundLookup(ctx context.Context, id int64) (*ledger.Account, error) {
	const q = `
UPDATE accounts
SET credits = credits + 1, search_count = GREATEST(search_count - 1, 0), updated_at = NOW()
WHERE id = $1
RETURNING ` + accountColumns + `;
`
	return r.updateOne(ctx, "refund lookup", q, id)
}

func (r *PostgresRepository) updateOne(ctx context.Context, op, q string, args ...any) (*ledger.Account, error) {
	acc, err := scanAccount(r.pool.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}
