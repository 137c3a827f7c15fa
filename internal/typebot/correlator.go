package typebot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"zapbot/internal/domain"
)

// Backend is the pair of session calls the correlator needs.
type Backend interface {
	Continue(ctx context.Context, sessionID, message string) (*domain.AgentResponse, error)
	Create(ctx context.Context, sessionID, message string, vars PrefilledVariables) (*domain.AgentResponse, error)
}

// Correlator maps conversations to backend sessions with continue-then-create:
// every message first tries to continue the conversation's session and any
// failure of that call starts a new session instead.
//
// No session table is kept. Whether a session exists is only ever decided
// by the backend, which also owns expiry. A transient continue failure on a
// live session therefore creates a duplicate session; the backend does not
// tell "not found" apart from other failures reliably enough to avoid it.
type Correlator struct {
	backend        Backend
	stripJIDSuffix bool
	noName         string
	logger         *slog.Logger
}

type CorrelatorConfig struct {
	Backend Backend
	// StripJIDSuffix keys sessions by the bare user id ("5511...") instead
	// of the full conversation id ("5511...@s.whatsapp.net").
	StripJIDSuffix    bool
	NoNamePlaceholder string
	Logger            *slog.Logger
}

func NewCorrelator(cfg CorrelatorConfig) *Correlator {
	if cfg.NoNamePlaceholder == "" {
		cfg.NoNamePlaceholder = "Sem Nome"
	}
	return &Correlator{
		backend:        cfg.Backend,
		stripJIDSuffix: cfg.StripJIDSuffix,
		noName:         cfg.NoNamePlaceholder,
		logger:         cfg.Logger,
	}
}

// SessionKey returns the backend session id for a conversation.
func (c *Correlator) SessionKey(id domain.ConversationID) string {
	if c.stripJIDSuffix {
		return id.User()
	}
	return string(id)
}

// Resolve forwards msg to the conversation's backend session and returns
// the agent's reply. It fails only when both continue and create fail.
func (c *Correlator) Resolve(ctx context.Context, msg domain.InboundMessage) (*domain.AgentResponse, error) {
	sessionID := c.SessionKey(msg.ConversationID)

	resp, contErr := c.backend.Continue(ctx, sessionID, msg.Text)
	if contErr == nil {
		return resp, nil
	}

	c.logger.Info("continue failed, creating session",
		"session", sessionID,
		"err", contErr,
	)

	name := strings.TrimSpace(msg.DisplayName)
	if name == "" {
		name = c.noName
	}
	resp, err := c.backend.Create(ctx, sessionID, msg.Text, PrefilledVariables{
		RemoteJID:   string(msg.ConversationID),
		UserMessage: msg.Text,
		PushName:    name,
	})
	if err != nil {
		return nil, fmt.Errorf("correlate session %s: %w", sessionID,
			errors.Join(fmt.Errorf("continue: %w", contErr), fmt.Errorf("create: %w", err)))
	}
	return resp, nil
}
