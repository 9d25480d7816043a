package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
)

// -- Accounts --

func (r *SQLiteRepository) InsertAccountIfAbsent(ctx context.Context, acc ledger.Account) (*ledger.Account, bool, error) {
	// ON CONFLICT DO NOTHING returns no row when the id already exists.
	const q = `
INSERT INTO accounts (id, display_name, handle, credits, joined_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING
RETURNING ` + accountColumns + `;
`
	inserted, err := scanAccount(r.db.QueryRowContext(ctx, q, acc.ID, acc.DisplayName, acc.Handle, acc.Credits, acc.JoinedAt))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert account: %w", err)
	}

	existing, err := r.GetAccount(ctx, acc.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	const q = `
SELECT ` + accountColumns + `
FROM accounts
WHERE id = ?
LIMIT 1;
`
	acc, err := scanAccount(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

func (r *SQLiteRepository) ListAccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY joined_at ASC, id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account ids: %w", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

// -- Balances --

func (r *SQLiteRepository) ApplyReferral(ctx context.Context, id, amount int64) (*ledger.Account, error) {
	const q = `
UPDATE accounts
SET credits = credits + ?1,
    referral_count = referral_count + 1,
    referral_credits = referral_credits + ?1,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?2
RETURNING ` + accountColumns + `;
`
	return r.updateOne(ctx, "apply referral", q, amount, id)
}

func (r *SQLiteRepository) AddCredits(ctx context.Context, id, amount int64) (*ledger.Account, error) {
	const q = `
UPDATE accounts
SET credits = credits + ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?
RETURNING ` + accountColumns + `;
`
	return r.updateOne(ctx, "add credits", q, amount, id)
}

func (r *SQLiteRepository) DebitLookup(ctx context.Context, id int64) (*ledger.Account, error) {
	const q = `
UPDATE accounts
SET credits = credits - 1, search_count = search_count + 1, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND credits >= 1
RETURNING ` + accountColumns + `;
`
	acc, err := scanAccount(r.db.QueryRowContext(ctx, q, id))
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("debit lookup: %w", err)
	}
	if _, err := r.GetAccount(ctx, id); err != nil {
		return nil, err
	}
	return nil, ledger.ErrInsufficientCredits
}

func (r *SQLiteRepository) RefundLookup(ctx context.Context, id int64) (*ledger.Account, error) {
	const q = `
UPDATE accounts
SET credits = credits + 1, search_count = MAX(search_count - 1, 0), updated_at = CURRENT_TIMESTAMP
WHERE id = ?
RETURNING ` + accountColumns + `;
`
	return r.updateOne(ctx, "refund lookup", q, id)
}

func (r *SQLiteRepository) updateOne(ctx context.Context, op, q string, args ...any) (*ledger.Account, error) {
	acc, err := scanAccount(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acc, nil
}
