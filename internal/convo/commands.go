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

func (e *Engine) handleTopLevel(ctx context.Context, msg tg.Message) error {
	text := strings.TrimSpace(msg.Text)
	cmd, args := splitCommand(text)
	admin := e.IsAdmin(msg.UserID)

	switch {
	case cmd == "start":
		return e.handleStart(ctx, msg, args)
	case cmd == "account" || text == ButtonAccount:
		return e.handleAccount(ctx, msg)
	case cmd == "help" || text == ButtonHelp:
		e.reply(ctx, msg, helpText(e.ledger.Config().ReferralCredit, e.cfg.SupportContact), tg.ParseMarkdown)
		return nil
	case cmd == "refer" || text == ButtonRefer:
		return e.handleRefer(ctx, msg)
	case cmd == "buy" || text == ButtonBuy:
		e.reply(ctx, msg, buyText(e.cfg.SupportContact), tg.ParseMarkdown)
		return nil
	case cmd == "cancel":
		e.reply(ctx, msg, msgNothingToCancel, "")
		return nil
	case admin && (cmd == "members" || text == ButtonMemberStat):
		total, err := e.ledger.CountAccounts(ctx)
		if err != nil {
			return err
		}
		e.reply(ctx, msg, memberStatusText(total), tg.ParseMarkdown)
		return nil
	case admin && (cmd == "addcredit" || text == ButtonAddCredit):
		return e.startFlow(ctx, msg, FlowCreditGrant)
	case admin && (cmd == "broadcast" || text == ButtonBroadcast):
		return e.startFlow(ctx, msg, FlowBroadcast)
	case cmd != "":
		e.reply(ctx, msg, msgInvalidQuery, "")
		return nil
	default:
		return e.handleLookup(ctx, msg, text)
	}
}

func (e *Engine) handleStart(ctx context.Context, msg tg.Message, args string) error {
	profile := ledger.Profile{DisplayName: msg.FirstName, Handle: msg.Username}
	reg, err := e.ledger.Register(ctx, msg.UserID, profile, parseReferrer(args))
	if err != nil {
		if reg.Account == nil {
			return err
		}
		// Registration stored; only the referral payout failed.
		e.logger.Error("referral payout failed", "user_id", msg.UserID, "error", err)
		e.countError("referral")
	}

	if reg.Referrer != nil {
		e.notify(ctx, "referral", reg.Referrer.ID, referralNoticeText(reg.Referrer.Credits))
	}
	if reg.IsNew {
		alert := newMemberAlertText(msg)
		for _, adminID := range e.cfg.AdminIDs {
			e.notify(ctx, "new_member", adminID, alert)
		}
		e.send(ctx, msg.ChatID, welcomeNewText(msg.FirstName, reg.Account.Credits), tg.SendOptions{ParseMode: tg.ParseMarkdown})
	}
	e.reply(ctx, msg, dashboardText(reg.Account), tg.ParseMarkdown)
	return nil
}

func (e *Engine) handleAccount(ctx context.Context, msg tg.Message) error {
	acc, err := e.ledger.Account(ctx, msg.UserID)
	if errors.Is(err, ledger.ErrNotFound) {
		e.send(ctx, msg.ChatID, msgRegisterFirst, tg.SendOptions{})
		return nil
	}
	if err != nil {
		return err
	}
	e.reply(ctx, msg, accountText(msg.FirstName, acc), tg.ParseMarkdown)
	return nil
}

func (e *Engine) handleRefer(ctx context.Context, msg tg.Message) error {
	acc, err := e.ledger.Account(ctx, msg.UserID)
	if errors.Is(err, ledger.ErrNotFound) {
		e.send(ctx, msg.ChatID, msgRegisterFirst, tg.SendOptions{})
		return nil
	}
	if err != nil {
		return err
	}
	link := fmt.Sprintf("https://t.me/%s?start=%d", e.chat.BotUsername(), msg.UserID)
	e.reply(ctx, msg, referText(acc, link, e.ledger.Config()), tg.ParseMarkdown)
	return nil
}

// parseReferrer reads the /start payload. Anything but a positive id is
// treated as no referrer.
func parseReferrer(args string) int64 {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
