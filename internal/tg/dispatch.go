package tg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/Titusvirous/ToxicInfoBot/internal/metrics"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

const defaultMaxBacklog = 64

// Dispatcher runs one serial worker per user, so messages of one user are
// handled in arrival order while different users proceed in parallel.
// A worker exits as soon as its queue is empty.
type Dispatcher struct {
	processor  MessageProcessor
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxBacklog int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queues map[int64][]Message
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher delivering to processor.
func NewDispatcher(processor MessageProcessor, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		processor:  processor,
		logger:     logger.With("component", "dispatcher"),
		metrics:    m,
		maxBacklog: defaultMaxBacklog,
		ctx:        ctx,
		cancel:     cancel,
		queues:     make(map[int64][]Message),
	}
}

// Submit enqueues msg on its sender's queue.
func (d *Dispatcher) Submit(msg Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	d.countIncoming(msg)

	queue, active := d.queues[msg.UserID]
	if len(queue) >= d.maxBacklog {
		d.logger.Warn("dropping message, user backlog full", "user_id", msg.UserID, "backlog", len(queue))
		if d.metrics != nil {
			d.metrics.Errors.WithLabelValues("dispatcher_backlog").Inc()
		}
		return fmt.Errorf("user %d backlog full", msg.UserID)
	}
	d.queues[msg.UserID] = append(queue, msg)
	if !active {
		d.wg.Add(1)
		go d.work(msg.UserID)
	}
	return nil
}

// Close stops accepting messages and waits for queued work to finish or for
// ctx to expire, whichever comes first. In-flight handlers see their context
// cancelled only when ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

func (d *Dispatcher) work(userID int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.queues[userID]
		if len(queue) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		msg := queue[0]
		queue[0] = Message{}
		d.queues[userID] = queue[1:]
		d.mu.Unlock()

		d.handle(msg)
	}
}

func (d *Dispatcher) handle(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("message handler panicked", "user_id", msg.UserID, "panic", r, "stack", string(debug.Stack()))
			if d.metrics != nil {
				d.metrics.Errors.WithLabelValues("dispatcher_panic").Inc()
			}
		}
	}()
	d.processor.ProcessMessage(d.ctx, msg)
}

func (d *Dispatcher) countIncoming(msg Message) {
	if d.metrics == nil {
		return
	}
	kind := "text"
	if len(msg.Text) > 0 && msg.Text[0] == '/' {
		kind = "command"
	}
	d.metrics.TGIncomingMessages.WithLabelValues(kind).Inc()
}
