package ledger

import (
	"context"
	"time"
)

// Account is the per-user credit record.
type Account struct {
	ID              int64
	DisplayName     string
	Handle          string
	Credits         int64
	SearchCount     int64
	ReferralCount   int64
	ReferralCredits int64
	JoinedAt        time.Time
}

// Profile carries the informational fields captured at first contact.
type Profile struct {
	DisplayName string
	Handle      string
}

// Store is the durable account store. Every mutating method is a single
// atomic operation against one account key.
type Store interface {
	Close()
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error

	// InsertAccountIfAbsent inserts acc unless an account with the same id
	// exists. It returns the stored account and whether this call created it.
	InsertAccountIfAbsent(ctx context.Context, acc Account) (*Account, bool, error)
	GetAccount(ctx context.Context, id int64) (*Account, error)

	// ApplyReferral adds amount credits, one referral and amount referral credits.
	ApplyReferral(ctx context.Context, id, amount int64) (*Account, error)
	AddCredits(ctx context.Context, id, amount int64) (*Account, error)

	// DebitLookup takes one credit and counts one search, only when credits >= 1.
	DebitLookup(ctx context.Context, id int64) (*Account, error)
	// RefundLookup returns one credit and removes one search.
	RefundLookup(ctx context.Context, id int64) (*Account, error)

	ListAccountIDs(ctx context.Context) ([]int64, error)
	CountAccounts(ctx context.Context) (int64, error)
}
