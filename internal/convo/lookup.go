package convo

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
	"github.com/Titusvirous/ToxicInfoBot/internal/tg"
)

const refundTimeout = 10 * time.Second

var queryPattern = regexp.MustCompile(`^\d{10,}$`)

// handleLookup runs one metered lookup: debit, call, then refund on failure.
// The final balance is always reported.
func (e *Engine) handleLookup(ctx context.Context, msg tg.Message, query string) error {
	if !queryPattern.MatchString(query) {
		e.reply(ctx, msg, msgInvalidQuery, "")
		return nil
	}

	acc, err := e.ledger.Account(ctx, msg.UserID)
	if errors.Is(err, ledger.ErrNotFound) {
		e.send(ctx, msg.ChatID, msgRegisterFirst, tg.SendOptions{})
		return nil
	}
	if err != nil {
		return err
	}
	if acc.Credits < 1 {
		e.reply(ctx, msg, msgInsufficient, tg.ParseMarkdown)
		return nil
	}

	logger := e.logger.With("user_id", msg.UserID, "attempt_id", uuid.NewString())
	indicator := e.send(ctx, msg.ChatID, msgProcessing, tg.SendOptions{})

	if _, err := e.ledger.TryDebitForLookup(ctx, msg.UserID); err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			logger.Info("debit lost to a concurrent lookup")
			e.replace(ctx, msg.ChatID, indicator, msgLostDebitRace, "")
		} else {
			logger.Error("debit failed", "error", err)
			e.countError("lookup_debit")
			e.replace(ctx, msg.ChatID, indicator, msgGenericFailure, "")
		}
		e.reportBalance(ctx, msg)
		return nil
	}

	records, err := e.lookup.Lookup(ctx, query)
	if err == nil && len(records) > 0 {
		logger.Info("lookup succeeded", "records", len(records))
		if indicator != 0 {
			if derr := e.chat.DeleteMessage(ctx, msg.ChatID, indicator); derr != nil {
				logger.Debug("delete processing indicator failed", "error", derr)
			}
		}
		e.send(ctx, msg.ChatID, lookupSummaryText(len(records), query), tg.SendOptions{ParseMode: tg.ParseMarkdown})
		for i, r := range records {
			e.send(ctx, msg.ChatID, FormatRecord(r, i, len(records)), tg.SendOptions{ParseMode: tg.ParseMarkdown})
		}
	} else {
		logger.Info("lookup failed, refunding", "error", err)
		refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refundTimeout)
		if _, rerr := e.ledger.RefundLookup(refundCtx, msg.UserID); rerr != nil {
			logger.Error("refund failed", "error", rerr)
			e.countError("lookup_refund")
		}
		cancel()
		e.replace(ctx, msg.ChatID, indicator, msgLookupFailed, tg.ParseMarkdown)
	}

	e.reportBalance(ctx, msg)
	return nil
}

// replace edits the processing indicator, falling back to a new message.
func (e *Engine) replace(ctx context.Context, chatID int64, messageID int, text, parseMode string) {
	if messageID != 0 {
		err := e.chat.EditText(ctx, chatID, messageID, text, parseMode)
		if err == nil {
			return
		}
		e.logger.Debug("edit processing indicator failed", "chat_id", chatID, "error", err)
	}
	e.send(ctx, chatID, text, tg.SendOptions{ParseMode: parseMode})
}

func (e *Engine) reportBalance(ctx context.Context, msg tg.Message) {
	ctx = context.WithoutCancel(ctx)
	acc, err := e.ledger.Account(ctx, msg.UserID)
	if err != nil {
		e.logger.Error("load balance failed", "user_id", msg.UserID, "error", err)
		e.reply(ctx, msg, msgGenericFailure, "")
		return
	}
	e.reply(ctx, msg, balanceText(acc.Credits), tg.ParseMarkdown)
}
