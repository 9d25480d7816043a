package convo

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Titusvirous/ToxicInfoBot/internal/tg"
)

// BroadcastResult counts deliveries. Sent+Failed equals the recipient count.
type BroadcastResult struct {
	Sent   int64
	Failed int64
}

func (e *Engine) broadcastFlow() *Flow {
	return &Flow{
		ID: FlowBroadcast,
		Steps: []Step{
			{
				Prompt: func(Scratch) string { return msgBroadcastAsk },
				Handle: func(_ context.Context, msg tg.Message, s Scratch) (Outcome, error) {
					s[keyText] = msg.Text
					return Complete(s), nil
				},
			},
		},
		Complete: e.completeBroadcast,
	}
}

func (e *Engine) completeBroadcast(ctx context.Context, msg tg.Message, s Scratch) error {
	ids, err := e.ledger.AccountIDs(ctx)
	if err != nil {
		return err
	}
	e.send(ctx, msg.ChatID, broadcastStartText(len(ids)), tg.SendOptions{})

	res := e.Broadcast(ctx, ids, s[keyText])
	e.logger.Info("broadcast finished", "admin_id", msg.UserID, "recipients", len(ids), "sent", res.Sent, "failed", res.Failed)
	e.reply(ctx, msg, broadcastDoneText(res), tg.ParseMarkdown)
	return nil
}

// Broadcast sends text to every id with bounded concurrency and a global
// rate limit. A failed recipient never stops delivery to the others.
func (e *Engine) Broadcast(ctx context.Context, ids []int64, text string) BroadcastResult {
	limiter := rate.NewLimiter(rate.Limit(e.cfg.BroadcastRate), e.cfg.BroadcastConcurrency)
	var sent, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(e.cfg.BroadcastConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				failed.Add(1)
				e.countBroadcast("failed")
				return nil
			}
			if _, err := e.chat.SendText(ctx, id, text, tg.SendOptions{}); err != nil {
				e.logger.Debug("broadcast delivery failed", "chat_id", id, "error", err)
				failed.Add(1)
				e.countBroadcast("failed")
				return nil
			}
			sent.Add(1)
			e.countBroadcast("sent")
			return nil
		})
	}
	_ = g.Wait()

	return BroadcastResult{Sent: sent.Load(), Failed: failed.Load()}
}

func (e *Engine) countBroadcast(result string) {
	if e.metrics != nil {
		e.metrics.BroadcastDelivery.WithLabelValues(result).Inc()
	}
}
