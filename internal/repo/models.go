package repo

import (
	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
)

// accountColumns is the column list shared by every SQL query returning an account.
const accountColumns = `id, display_name, handle, credits, search_count, referral_count, referral_credits, joined_at`

// rowScanner is satisfied by pgx.Row, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*ledger.Account, error) {
	var acc ledger.Account
	if err := row.Scan(
		&acc.ID,
		&acc.DisplayName,
		&acc.Handle,
		&acc.Credits,
		&acc.SearchCount,
		&acc.ReferralCount,
		&acc.ReferralCredits,
		&acc.JoinedAt,
	); err != nil {
		return nil, err
	}
	acc.JoinedAt = acc.JoinedAt.UTC()
	return &acc, nil
}
