package convo

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
	"github.com/Titusvirous/ToxicInfoBot/internal/metrics"
	"github.com/Titusvirous/ToxicInfoBot/internal/numinfo"
	"github.com/Titusvirous/ToxicInfoBot/internal/tg"
)

// Messenger is the subset of the chat transport the engine talks to.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, opts tg.SendOptions) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text, parseMode string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	GetMembership(ctx context.Context, channel string, userID int64) (tg.MemberStatus, error)
	BotUsername() string
}

// Lookuper resolves a phone number to subscriber records.
type Lookuper interface {
	Lookup(ctx context.Context, number string) ([]numinfo.Record, error)
}

// Config holds the engine settings fixed at start.
type Config struct {
	Channel         string
	AdminIDs        []int64
	SupportContact  string
	FlowIdleTimeout time.Duration

	BroadcastRate        float64
	BroadcastConcurrency int
}

// Engine routes inbound messages to the active flow of the sender or to the
// top-level handlers.
type Engine struct {
	cfg      Config
	ledger   *ledger.Service
	lookup   Lookuper
	chat     Messenger
	sessions SessionStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	flows    map[FlowID]*Flow
	now      func() time.Time
}

// NewEngine wires the engine and registers its flows.
func NewEngine(cfg Config, ledgerSvc *ledger.Service, lookup Lookuper, chat Messenger, sessions SessionStore, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if cfg.BroadcastConcurrency <= 0 {
		cfg.BroadcastConcurrency = 1
	}
	if cfg.BroadcastRate <= 0 {
		cfg.BroadcastRate = 25
	}
	e := &Engine{
		cfg:      cfg,
		ledger:   ledgerSvc,
		lookup:   lookup,
		chat:     chat,
		sessions: sessions,
		logger:   logger.With("component", "convo"),
		metrics:  m,
		now:      time.Now,
	}
	e.flows = map[FlowID]*Flow{
		FlowCreditGrant: e.creditGrantFlow(),
		FlowBroadcast:   e.broadcastFlow(),
	}
	return e
}

// ProcessMessage handles one inbound message. Every error is turned into a
// chat reply here.
func (e *Engine) ProcessMessage(ctx context.Context, msg tg.Message) {
	state, err := e.sessions.Get(ctx, msg.UserID)
	if err != nil {
		e.fail(ctx, msg, "load session", err)
		return
	}
	if state != nil && e.expired(state) {
		// The message was meant for the expired step, so it is not handled
		// as a command or lookup.
		e.logger.Info("dropping idle flow", "user_id", msg.UserID, "flow", state.Flow, "updated_at", state.UpdatedAt)
		e.endFlow(ctx, msg, state.Flow, "expired")
		e.reply(ctx, msg, msgFlowExpired, "")
		return
	}
	if state != nil {
		e.runFlow(ctx, msg, state)
		return
	}

	if !e.IsAdmin(msg.UserID) && !e.checkAccess(ctx, msg) {
		return
	}
	if err := e.handleTopLevel(ctx, msg); err != nil {
		e.fail(ctx, msg, "handle message", err)
	}
}

// IsAdmin reports whether userID is a configured administrator.
func (e *Engine) IsAdmin(userID int64) bool {
	return slices.Contains(e.cfg.AdminIDs, userID)
}

func (e *Engine) expired(state *FlowState) bool {
	if e.cfg.FlowIdleTimeout <= 0 || state.UpdatedAt.IsZero() {
		return false
	}
	return e.now().Sub(state.UpdatedAt) > e.cfg.FlowIdleTimeout
}

func (e *Engine) startFlow(ctx context.Context, msg tg.Message, id FlowID) error {
	flow, ok := e.flows[id]
	if !ok || len(flow.Steps) == 0 {
		return errors.New("unknown flow " + string(id))
	}
	state := FlowState{Flow: id, Scratch: Scratch{}, UpdatedAt: e.now()}
	if err := e.sessions.Save(ctx, msg.UserID, state); err != nil {
		return err
	}
	e.countFlow(id, "start")
	e.send(ctx, msg.ChatID, flow.Steps[0].Prompt(state.Scratch), tg.SendOptions{ParseMode: tg.ParseMarkdown})
	return nil
}

func (e *Engine) runFlow(ctx context.Context, msg tg.Message, state *FlowState) {
	logger := e.logger.With("user_id", msg.UserID, "flow", state.Flow, "step", state.Step)

	flow, ok := e.flows[state.Flow]
	if !ok || state.Step < 0 || state.Step >= len(flow.Steps) {
		logger.Warn("discarding invalid flow state")
		e.endFlow(ctx, msg, state.Flow, "invalid")
		e.reply(ctx, msg, msgCancelled, "")
		return
	}
	if isCancel(msg.Text) {
		e.endFlow(ctx, msg, state.Flow, "cancel")
		e.reply(ctx, msg, msgCancelled, "")
		return
	}

	out, err := flow.Steps[state.Step].Handle(ctx, msg, state.Scratch.Clone())
	if err != nil {
		e.fail(ctx, msg, "flow step", err)
		return
	}

	switch out.Kind {
	case OutcomeReject:
		state.UpdatedAt = e.now()
		if err := e.sessions.Save(ctx, msg.UserID, *state); err != nil {
			logger.Warn("refresh flow state failed", "error", err)
		}
		e.countFlow(state.Flow, "reject")
		e.send(ctx, msg.ChatID, out.Reply, tg.SendOptions{})

	case OutcomeCancel:
		e.endFlow(ctx, msg, state.Flow, "cancel")
		e.reply(ctx, msg, msgCancelled, "")

	case OutcomeAdvance:
		next := state.Step + 1
		if next >= len(flow.Steps) {
			e.completeFlow(ctx, msg, flow, out.Scratch)
			return
		}
		newState := FlowState{Flow: state.Flow, Step: next, Scratch: out.Scratch, UpdatedAt: e.now()}
		if err := e.sessions.Save(ctx, msg.UserID, newState); err != nil {
			e.fail(ctx, msg, "save session", err)
			return
		}
		e.countFlow(state.Flow, "advance")
		e.send(ctx, msg.ChatID, flow.Steps[next].Prompt(out.Scratch), tg.SendOptions{ParseMode: tg.ParseMarkdown})

	case OutcomeComplete:
		e.completeFlow(ctx, msg, flow, out.Scratch)
	}
}

func (e *Engine) completeFlow(ctx context.Context, msg tg.Message, flow *Flow, s Scratch) {
	e.endFlow(ctx, msg, flow.ID, "complete")
	if err := flow.Complete(ctx, msg, s); err != nil {
		e.fail(ctx, msg, "complete "+string(flow.ID), err)
	}
}

func (e *Engine) endFlow(ctx context.Context, msg tg.Message, id FlowID, outcome string) {
	if err := e.sessions.Delete(ctx, msg.UserID); err != nil {
		e.logger.Error("delete flow state failed", "user_id", msg.UserID, "flow", id, "error", err)
	}
	e.countFlow(id, outcome)
}

func isCancel(text string) bool {
	cmd, _ := splitCommand(text)
	return cmd == "cancel"
}

// reply answers the sender with the main menu attached.
func (e *Engine) reply(ctx context.Context, msg tg.Message, text, parseMode string) {
	e.send(ctx, msg.ChatID, text, tg.SendOptions{ParseMode: parseMode, Keyboard: MainMenu(e.IsAdmin(msg.UserID))})
}

// send delivers a message to the current chat; failures are logged only.
func (e *Engine) send(ctx context.Context, chatID int64, text string, opts tg.SendOptions) int {
	id, err := e.chat.SendText(ctx, chatID, text, opts)
	if err != nil {
		e.logger.Warn("send failed", "chat_id", chatID, "error", err)
		return 0
	}
	return id
}

// notify is a best-effort message to a user other than the sender. Its
// failure never affects the operation that triggered it.
func (e *Engine) notify(ctx context.Context, kind string, chatID int64, text string) {
	if _, err := e.chat.SendText(ctx, chatID, text, tg.SendOptions{ParseMode: tg.ParseMarkdown}); err != nil {
		e.logger.Warn("notification failed", "kind", kind, "chat_id", chatID, "error", err)
		e.countError("notify")
	}
}

func (e *Engine) fail(ctx context.Context, msg tg.Message, op string, err error) {
	e.logger.Error("request failed", "op", op, "user_id", msg.UserID, "error", err)
	e.countError("convo")
	e.reply(ctx, msg, msgGenericFailure, "")
}

func (e *Engine) countFlow(id FlowID, outcome string) {
	if e.metrics != nil {
		e.metrics.FlowTransitions.WithLabelValues(string(id), outcome).Inc()
	}
}

func (e *Engine) countError(component string) {
	if e.metrics != nil {
		e.metrics.Errors.WithLabelValues(component).Inc()
	}
}

// splitCommand returns the lower-cased command name without the slash and
// any @botname suffix, plus the remaining arguments. cmd is empty for text
// that is not a command.
func splitCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest)
}
