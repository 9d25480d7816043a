package ledger

import "errors"

// Sentinel errors returned by the ledger and its stores.
var (
	ErrNotFound            = errors.New("ledger: account not found")
	ErrInvalidInput        = errors.New("ledger: invalid input")
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
)
