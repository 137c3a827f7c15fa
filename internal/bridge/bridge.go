package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"zapbot/internal/bus"
	"zapbot/internal/domain"
	"zapbot/internal/metrics"
	"zapbot/internal/reply"
)

// Resolver returns the agent's reply to an inbound message.
type Resolver interface {
	Resolve(ctx context.Context, msg domain.InboundMessage) (*domain.AgentResponse, error)
}

// Bridge moves qualifying inbound messages to the agent backend and sends
// the replies back through the current transport session. Messages are
// processed one at a time by Run.
type Bridge struct {
	resolver   Resolver
	translator *reply.Translator
	options    reply.Options
	queue      *bus.InMemoryBus
	events     *bus.EventBus
	metrics    *metrics.Metrics
	logger     *slog.Logger

	mu     sync.RWMutex
	sender domain.Sender
}

type Config struct {
	// Resolver is nil in connectivity-only mode: messages are logged and
	// dropped without any backend call.
	Resolver     Resolver
	Translator   *reply.Translator
	ReplyOptions reply.Options
	Queue        *bus.InMemoryBus
	Events       *bus.EventBus
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

func New(cfg Config) *Bridge {
	if cfg.Translator == nil {
		cfg.Translator = reply.New(reply.Config{Metrics: cfg.Metrics, Logger: cfg.Logger})
	}
	if cfg.Queue == nil {
		cfg.Queue = bus.New(0, cfg.Logger)
	}
	return &Bridge{
		resolver:   cfg.Resolver,
		translator: cfg.Translator,
		options:    cfg.ReplyOptions,
		queue:      cfg.Queue,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// ConnectivityOnly reports whether the bridge runs without a backend.
func (b *Bridge) ConnectivityOnly() bool {
	return b.resolver == nil
}

// Attach makes s the session replies are sent through and subscribes to
// its inbound messages. A nil s detaches the previous session.
func (b *Bridge) Attach(s domain.Session) {
	if s != nil {
		s.OnInboundMessage(b.HandleInbound)
	}
	b.mu.Lock()
	b.sender = s
	b.mu.Unlock()
}

func (b *Bridge) currentSender() domain.Sender {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sender
}

// HandleInbound filters ev and queues the qualifying message. It is called
// from transport goroutines and never blocks on the backend.
func (b *Bridge) HandleInbound(ev domain.InboundEvent) {
	msg, reason := Filter(ev)
	if reason != "" {
		b.metrics.ObserveInbound(reason)
		b.logger.Debug("inbound ignored", "reason", reason)
		return
	}
	msg.TraceID = uuid.NewString()

	if !b.queue.Publish(msg) {
		b.metrics.ObserveInbound("queue_full")
		b.drop(msg, "queue_full")
	}
}

// Run processes queued messages until ctx is cancelled or the queue is
// closed.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("bridge started", "connectivity_only", b.ConnectivityOnly())
	inbound := b.queue.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			b.Process(ctx, msg)
		}
	}
}

// Process bridges one message. The backend exchange is not cancelled by
// ctx; the HTTP client timeout bounds it. Reply pacing stops when ctx is
// cancelled.
func (b *Bridge) Process(ctx context.Context, msg domain.InboundMessage) {
	if msg.TraceID == "" {
		msg.TraceID = uuid.NewString()
	}
	logger := b.logger.With("trace", msg.TraceID, "conversation", msg.ConversationID)

	if b.resolver == nil {
		b.metrics.ObserveInbound("connectivity_only")
		logger.Info("backend not configured, message not bridged", "text_len", len(msg.Text))
		return
	}

	resp, err := b.resolver.Resolve(context.WithoutCancel(ctx), msg)
	if err != nil {
		b.metrics.ObserveInbound("backend_error")
		logger.Error("bridge failed, message dropped", "err", err)
		b.drop(msg, "backend_error")
		return
	}

	ops := reply.Translate(resp, b.options)
	if len(ops) == 0 {
		b.metrics.ObserveInbound("no_reply")
		logger.Debug("agent returned nothing to send")
		return
	}

	sender := b.currentSender()
	if sender == nil {
		b.metrics.ObserveInbound("no_session")
		logger.Warn("no open session, reply dropped", "ops", len(ops))
		b.drop(msg, "no_session")
		return
	}

	res := b.translator.Deliver(ctx, sender, msg.ConversationID, ops)
	b.metrics.ObserveInbound("bridged")
	logger.Info("message bridged", "sent", res.Sent, "failed", res.Failed)
	b.events.Emit(bus.Event{
		Type:   bus.EventMessageBridged,
		Source: "bridge",
		Attrs: map[string]any{
			"trace":        msg.TraceID,
			"conversation": msg.ConversationID.String(),
			"sent":         res.Sent,
			"failed":       res.Failed,
		},
	})
}

func (b *Bridge) drop(msg domain.InboundMessage, reason string) {
	b.events.Emit(bus.Event{
		Type:   bus.EventMessageDropped,
		Source: "bridge",
		Attrs: map[string]any{
			"trace":        msg.TraceID,
			"conversation": msg.ConversationID.String(),
			"reason":       reason,
		},
	})
}
