package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zapbot/internal/domain"
	"zapbot/internal/metrics"
)

// DefaultChoiceHeader introduces a rendered choice prompt.
const DefaultChoiceHeader = "Escolha uma das opções:"

// DefaultPacing is the pause between the typing indicator and a block send.
const DefaultPacing = 800 * time.Millisecond

type OpKind int

const (
	OpText OpKind = iota
	OpImage
	OpAudio
)

func (k OpKind) String() string {
	switch k {
	case OpText:
		return "text"
	case OpImage:
		return "image"
	case OpAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Op is one outbound send. Paced ops are preceded by a typing indicator and
// the pacing pause.
type Op struct {
	Kind     OpKind
	Text     string
	URL      string
	Mimetype string
	Paced    bool
}

type Options struct {
	ChoiceHeader string
}

// Translate turns an agent reply into the ordered list of sends. A choice
// prompt becomes one numbered text op ahead of the blocks. Unknown blocks
// and empty text blocks produce nothing.
func Translate(resp *domain.AgentResponse, opts Options) []Op {
	if resp == nil {
		return nil
	}
	if opts.ChoiceHeader == "" {
		opts.ChoiceHeader = DefaultChoiceHeader
	}

	ops := make([]Op, 0, len(resp.Messages)+1)
	if resp.Input.IsChoice() && len(resp.Input.Items) > 0 {
		ops = append(ops, Op{Kind: OpText, Text: RenderChoice(opts.ChoiceHeader, resp.Input.Items)})
	}

	for _, b := range resp.Messages {
		switch b.Kind {
		case domain.BlockText:
			if strings.TrimSpace(b.Text) == "" {
				continue
			}
			ops = append(ops, Op{Kind: OpText, Text: b.Text, Paced: true})
		case domain.BlockImage:
			ops = append(ops, Op{Kind: OpImage, URL: b.URL, Paced: true})
		case domain.BlockAudio:
			ops = append(ops, Op{Kind: OpAudio, URL: b.URL, Mimetype: domain.AudioMimetype, Paced: true})
		}
	}
	return ops
}

// RenderChoice formats items as a header line followed by "n. label" lines.
func RenderChoice(header string, items []domain.ChoiceItem) string {
	var sb strings.Builder
	sb.WriteString(header)
	for i, item := range items {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, item.Label)
	}
	return sb.String()
}

// Result counts the outcome of a Deliver call.
type Result struct {
	Sent   int
	Failed int
}

// Translator delivers ops one at a time through a domain.Sender.
type Translator struct {
	pacing  time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Config struct {
	// Pacing defaults to DefaultPacing. Use a negative value for no pause.
	Pacing time.Duration
	// Sleep replaces the pacing pause; tests use it to record delays.
	Sleep   func(ctx context.Context, d time.Duration) error
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func New(cfg Config) *Translator {
	if cfg.Pacing == 0 {
		cfg.Pacing = DefaultPacing
	}
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Translator{
		pacing:  cfg.Pacing,
		sleep:   cfg.Sleep,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Deliver sends ops to a conversation in order. A failed presence update or
// send is logged and the remaining ops still go out. Delivery stops early
// only when ctx is cancelled during a pause.
func (t *Translator) Deliver(ctx context.Context, s domain.Sender, to domain.ConversationID, ops []Op) Result {
	var res Result
	typing := false

	for i, op := range ops {
		if op.Paced {
			if err := s.SendPresence(ctx, to, domain.PresenceComposing); err != nil {
				t.logger.Warn("presence update failed", "to", to, "err", err)
			}
			typing = true
			if err := t.sleep(ctx, t.pacing); err != nil {
				t.logger.Info("delivery interrupted",
					"to", to,
					"remaining", len(ops)-i,
					"err", err,
				)
				return res
			}
		}

		if err := t.send(ctx, s, to, op); err != nil {
			res.Failed++
			t.metrics.ObserveOutbound(op.Kind.String(), false)
			t.logger.Warn("send failed",
				"to", to,
				"kind", op.Kind.String(),
				"index", i,
				"err", err,
			)
			continue
		}
		res.Sent++
		t.metrics.ObserveOutbound(op.Kind.String(), true)
	}

	if typing {
		if err := s.SendPresence(ctx, to, domain.PresencePaused); err != nil {
			t.logger.Debug("presence reset failed", "to", to, "err", err)
		}
	}
	return res
}

func (t *Translator) send(ctx context.Context, s domain.Sender, to domain.ConversationID, op Op) error {
	switch op.Kind {
	case OpText:
		return s.SendText(ctx, to, op.Text)
	case OpImage:
		return s.SendImage(ctx, to, op.URL)
	case OpAudio:
		mimetype := op.Mimetype
		if mimetype == "" {
			mimetype = domain.AudioMimetype
		}
		return s.SendAudio(ctx, to, op.URL, mimetype)
	default:
		return fmt.Errorf("unsupported op kind %d", op.Kind)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
