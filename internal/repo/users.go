package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
)

// GetAccount returns the account by Telegram user id.
func (r *PostgresRepository) GetAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	const q = `
SELECT ` + accountColumns + `
FROM accounts
WHERE id = $1
LIMIT 1;
`
	acc, err := scanAccount(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}

// ListAccountIDs returns every account id in join order.
func (r *PostgresRepository) ListAccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM accounts ORDER BY joined_at ASC, id ASC;`)
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

// CountAccounts returns the number of accounts.
func (r *PostgresRepository) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}
