package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Titusvirous/ToxicInfoBot/internal/metrics"
)

// Config holds the credit amounts granted by the ledger.
type Config struct {
	InitialCredits int64
	ReferralCredit int64
}

// Service applies the credit accounting rules on top of a Store.
type Service struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Registration is the result of a first-contact registration.
type Registration struct {
	Account *Account
	IsNew   bool
	// Referrer is the referrer's account after payout, nil when nothing was paid.
	Referrer *Account
}

// NewService creates a ledger service.
func NewService(store Store, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "ledger"),
		metrics: m,
	}
}

// Config returns the credit amounts in effect.
func (s *Service) Config() Config {
	return s.cfg
}

// RegisterIfAbsent creates the account with the initial credits unless it exists.
func (s *Service) RegisterIfAbsent(ctx context.Context, userID int64, profile Profile) (*Account, bool, error) {
	if userID <= 0 {
		return nil, false, fmt.Errorf("register %d: %w", userID, ErrInvalidInput)
	}
	acc, created, err := s.store.InsertAccountIfAbsent(ctx, Account{
		ID:          userID,
		DisplayName: profile.DisplayName,
		Handle:      profile.Handle,
		Credits:     s.cfg.InitialCredits,
		JoinedAt:    time.Now().UTC(),
	})
	if err != nil {
		s.observe("register", err)
		return nil, false, fmt.Errorf("register %d: %w", userID, err)
	}
	if created {
		s.observe("register", nil)
		s.logger.Info("account registered", "user_id", userID, "credits", acc.Credits)
	}
	return acc, created, nil
}

// Register performs first-contact registration and, when this call created
// the account, pays the referral reward to referrerID. Self referrals,
// unknown referrers and repeated registrations pay nothing.
func (s *Service) Register(ctx context.Context, userID int64, profile Profile, referrerID int64) (Registration, error) {
	acc, created, err := s.RegisterIfAbsent(ctx, userID, profile)
	if err != nil {
		return Registration{}, err
	}
	reg := Registration{Account: acc, IsNew: created}
	if !created || referrerID <= 0 || referrerID == userID {
		return reg, nil
	}

	ref, err := s.GrantReferral(ctx, referrerID, s.cfg.ReferralCredit)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Debug("referrer not found", "user_id", userID, "referrer_id", referrerID)
	case err != nil:
		// The new account is already stored; the payout failure is reported
		// to the caller without undoing the registration.
		return reg, fmt.Errorf("referral payout to %d: %w", referrerID, err)
	default:
		reg.Referrer = ref
	}
	return reg, nil
}

// GrantReferral credits a referrer. It returns ErrNotFound when the referrer has no account.
func (s *Service) GrantReferral(ctx context.Context, referrerID, amount int64) (*Account, error) {
	if amount < 0 {
		return nil, fmt.Errorf("grant referral: %w", ErrInvalidInput)
	}
	acc, err := s.store.ApplyReferral(ctx, referrerID, amount)
	s.observe("referral", err)
	if err != nil {
		return nil, fmt.Errorf("grant referral to %d: %w", referrerID, err)
	}
	s.logger.Info("referral credited", "referrer_id", referrerID, "amount", amount, "credits", acc.Credits)
	return acc, nil
}

// AdminGrant adds amount credits to an existing account.
func (s *Service) AdminGrant(ctx context.Context, targetID, amount int64) (*Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("admin grant %d: %w", amount, ErrInvalidInput)
	}
	acc, err := s.store.AddCredits(ctx, targetID, amount)
	s.observe("admin_grant", err)
	if err != nil {
		return nil, fmt.Errorf("admin grant to %d: %w", targetID, err)
	}
	s.logger.Info("admin grant applied", "target_id", targetID, "amount", amount, "credits", acc.Credits)
	return acc, nil
}

// TryDebitForLookup reserves one credit for a lookup.
func (s *Service) TryDebitForLookup(ctx context.Context, userID int64) (*Account, error) {
	acc, err := s.store.DebitLookup(ctx, userID)
	s.observe("debit", err)
	if err != nil {
		return nil, fmt.Errorf("debit %d: %w", userID, err)
	}
	return acc, nil
}

// RefundLookup reverses one successful debit.
func (s *Service) RefundLookup(ctx context.Context, userID int64) (*Account, error) {
	acc, err := s.store.RefundLookup(ctx, userID)
	s.observe("refund", err)
	if err != nil {
		return nil, fmt.Errorf("refund %d: %w", userID, err)
	}
	return acc, nil
}

// Account loads one account.
func (s *Service) Account(ctx context.Context, userID int64) (*Account, error) {
	acc, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", userID, err)
	}
	return acc, nil
}

// AccountIDs returns a snapshot of every known account id.
func (s *Service) AccountIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.store.ListAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	return ids, nil
}

// CountAccounts returns the number of registered accounts.
func (s *Service) CountAccounts(ctx context.Context) (int64, error) {
	n, err := s.store.CountAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}

func (s *Service) observe(op string, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrInsufficientCredits):
		result = "insufficient"
	default:
		result = "error"
	}
	s.metrics.LedgerOperations.WithLabelValues(op, result).Inc()
}
