package convo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
	"github.com/Titusvirous/ToxicInfoBot/internal/tg"
)

const (
	keyTarget = "target"
	keyAmount = "amount"
	keyText   = "text"
)

// creditGrantFlow asks an admin for a target account and an amount, then
// adds the credits.
func (e *Engine) creditGrantFlow() *Flow {
	return &Flow{
		ID: FlowCreditGrant,
		Steps: []Step{
			{
				Prompt: func(Scratch) string { return msgGrantAskTarget },
				Handle: e.grantTargetStep,
			},
			{
				Prompt: func(s Scratch) string { return grantAskAmountText(s[keyTarget]) },
				Handle: grantAmountStep,
			},
		},
		Complete: e.completeGrant,
	}
}

func (e *Engine) grantTargetStep(ctx context.Context, msg tg.Message, s Scratch) (Outcome, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(msg.Text), 10, 64)
	if err != nil {
		return Reject(msgGrantInvalidTarget), nil
	}
	if _, err := e.ledger.Account(ctx, id); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return Reject(msgGrantUnknownTarget), nil
		}
		return Outcome{}, fmt.Errorf("check grant target %d: %w", id, err)
	}
	s[keyTarget] = strconv.FormatInt(id, 10)
	return Advance(s), nil
}

func grantAmountStep(_ context.Context, msg tg.Message, s Scratch) (Outcome, error) {
	amount, err := strconv.ParseInt(strings.TrimSpace(msg.Text), 10, 64)
	if err != nil || amount <= 0 {
		return Reject(msgGrantInvalidAmount), nil
	}
	s[keyAmount] = strconv.FormatInt(amount, 10)
	return Complete(s), nil
}

func (e *Engine) completeGrant(ctx context.Context, msg tg.Message, s Scratch) error {
	target, err := strconv.ParseInt(s[keyTarget], 10, 64)
	if err != nil {
		return fmt.Errorf("grant scratch target %q: %w", s[keyTarget], err)
	}
	amount, err := strconv.ParseInt(s[keyAmount], 10, 64)
	if err != nil {
		return fmt.Errorf("grant scratch amount %q: %w", s[keyAmount], err)
	}

	if _, err := e.ledger.AdminGrant(ctx, target, amount); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			e.reply(ctx, msg, msgGrantUnknownTarget, "")
			return nil
		}
		return err
	}
	e.logger.Info("admin granted credits", "admin_id", msg.UserID, "target_id", target, "amount", amount)

	e.reply(ctx, msg, grantDoneText(s[keyAmount], s[keyTarget]), "")
	e.notify(ctx, "admin_grant", target, grantNoticeText(s[keyAmount]))
	return nil
}
