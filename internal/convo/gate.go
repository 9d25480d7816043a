package convo

import (
	"context"

	"github.com/Titusvirous/ToxicInfoBot/internal/tg"
)

// checkAccess allows the sender only when they belong to the configured
// channel. Any error checking membership denies access.
func (e *Engine) checkAccess(ctx context.Context, msg tg.Message) bool {
	status, err := e.chat.GetMembership(ctx, e.cfg.Channel, msg.UserID)
	if err != nil {
		e.logger.Warn("membership check failed", "user_id", msg.UserID, "channel", e.cfg.Channel, "error", err)
		e.countGate("error")
		e.send(ctx, msg.ChatID, msgGateError, tg.SendOptions{})
		return false
	}
	if !memberAllowed(status) {
		e.countGate("deny")
		e.send(ctx, msg.ChatID, accessDeniedText(e.cfg.Channel), tg.SendOptions{ParseMode: tg.ParseMarkdown})
		return false
	}
	e.countGate("allow")
	return true
}

func memberAllowed(status tg.MemberStatus) bool {
	switch status {
	case tg.StatusMember, tg.StatusAdministrator, tg.StatusCreator:
		return true
	default:
		return false
	}
}

func (e *Engine) countGate(decision string) {
	if e.metrics != nil {
		e.metrics.GateDecisions.WithLabelValues(decision).Inc()
	}
}
