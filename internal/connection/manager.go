package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"zapbot/internal/bus"
	"zapbot/internal/domain"
	"zapbot/internal/metrics"
)

// ErrLoggedOut is returned by Run when the network invalidated the session.
// Stored credentials must be discarded before the next start.
var ErrLoggedOut = errors.New("connection: session logged out")

const eventBuffer = 32

// Status is a point-in-time view of the manager.
type Status struct {
	State      domain.ConnectionState `json:"state"`
	Since      time.Time              `json:"since"`
	Attempts   int                    `json:"attempts"`
	Reconnects int                    `json:"reconnects"`
	LastClose  string                 `json:"lastClose,omitempty"`
}

// Manager owns the transport connection. A single supervisor loop in Run
// establishes sessions, consumes their lifecycle events and schedules the
// reconnect after a transient close. Session callbacks only enqueue.
type Manager struct {
	transport domain.Transport
	creds     domain.CredentialStore
	policy    Policy
	onSession func(domain.Session)
	onQR      func(code string)
	after     func(d time.Duration) <-chan time.Time
	events    *bus.EventBus
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu     sync.RWMutex
	status Status
}

type Config struct {
	Transport   domain.Transport
	Credentials domain.CredentialStore
	Policy      Policy
	// OnSession receives every newly established session before it
	// connects, and nil once that session has closed.
	OnSession func(domain.Session)
	// OnQR displays a pairing code.
	OnQR    func(code string)
	Events  *bus.EventBus
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// After replaces time.After for the reconnect delay.
	After func(d time.Duration) <-chan time.Time
}

func NewManager(cfg Config) *Manager {
	if cfg.Policy.Delay <= 0 {
		cfg.Policy = Policy{Strategy: StrategyConstant, Delay: 5 * time.Second}
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	if cfg.OnSession == nil {
		cfg.OnSession = func(domain.Session) {}
	}
	if cfg.OnQR == nil {
		cfg.OnQR = func(string) {}
	}
	return &Manager{
		transport: cfg.Transport,
		creds:     cfg.Credentials,
		policy:    cfg.Policy,
		onSession: cfg.OnSession,
		onQR:      cfg.OnQR,
		after:     cfg.After,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		status:    Status{State: domain.StateDisconnected, Since: time.Now()},
	}
}

func (m *Manager) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Run keeps a session alive until ctx is cancelled or the session is logged
// out. It returns ctx.Err() or ErrLoggedOut.
func (m *Manager) Run(ctx context.Context) error {
	m.logStoredCredentials(ctx)

	for {
		reason := m.runSession(ctx)
		if ctx.Err() != nil {
			m.setState(domain.StateDisconnected)
			return ctx.Err()
		}

		m.mu.Lock()
		m.status.LastClose = reason.Kind.String() + ": " + reason.Detail
		m.mu.Unlock()

		if reason.Kind == domain.CloseLoggedOut {
			m.logger.Error("session logged out, not reconnecting; run `zapbot logout` and pair again",
				"detail", reason.Detail,
			)
			m.events.Emit(bus.Event{
				Type:   bus.EventLoggedOut,
				Source: "connection",
				Attrs:  map[string]any{"detail": reason.Detail},
			})
			return ErrLoggedOut
		}

		m.mu.Lock()
		m.status.Attempts++
		attempt := m.status.Attempts
		m.mu.Unlock()

		delay := m.policy.Backoff(attempt)
		m.metrics.ObserveReconnect(reason.Kind.String())
		m.logger.Warn("connection closed, reconnecting",
			"detail", reason.Detail,
			"attempt", attempt,
			"in", delay,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.after(delay):
		}

		m.mu.Lock()
		m.status.Reconnects++
		m.mu.Unlock()
	}
}

// runSession drives one session from establishment to close and reports
// why it ended. Failures to establish count as transient closes.
func (m *Manager) runSession(ctx context.Context) domain.CloseReason {
	m.setState(domain.StateConnecting)

	session, err := m.transport.Establish(ctx)
	if err != nil {
		m.setState(domain.StateDisconnected)
		return domain.CloseReason{Kind: domain.CloseTransient, Detail: "establish: " + err.Error()}
	}

	done := make(chan struct{})
	defer close(done)

	lifecycle := make(chan domain.LifecycleEvent, eventBuffer)
	session.OnLifecycleEvent(func(ev domain.LifecycleEvent) {
		select {
		case lifecycle <- ev:
		case <-done:
		}
	})
	m.onSession(session)

	if err := session.Connect(ctx); err != nil {
		m.closeSession(session)
		return domain.CloseReason{Kind: domain.CloseTransient, Detail: "connect: " + err.Error()}
	}

	for {
		select {
		case <-ctx.Done():
			m.closeSession(session)
			return domain.CloseReason{Kind: domain.CloseTransient, Detail: "shutdown"}
		case ev := <-lifecycle:
			if reason, closed := m.handle(ctx, ev); closed {
				m.closeSession(session)
				return reason
			}
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev domain.LifecycleEvent) (domain.CloseReason, bool) {
	switch ev.Type {
	case domain.EventQR:
		m.setState(domain.StateAwaitingPairing)
		m.events.Emit(bus.Event{Type: bus.EventPairingQR, Source: "connection"})
		m.onQR(ev.QRCode)

	case domain.EventOpen:
		m.mu.Lock()
		m.status.Attempts = 0
		m.mu.Unlock()
		m.setState(domain.StateOpen)
		m.logger.Info("connection open")

	case domain.EventCredentialsUpdated:
		err := m.creds.Save(ctx, ev.Credentials)
		m.metrics.ObserveCredentialSave(err == nil)
		if err != nil {
			m.logger.Error("save credentials failed", "err", err)
		} else {
			m.logger.Debug("credentials saved")
		}

	case domain.EventClose:
		return ev.Reason, true
	}
	return domain.CloseReason{}, false
}

func (m *Manager) closeSession(session domain.Session) {
	m.setState(domain.StateClosing)
	m.onSession(nil)
	if err := session.Close(); err != nil {
		m.logger.Debug("close session", "err", err)
	}
	m.setState(domain.StateDisconnected)
}

func (m *Manager) setState(s domain.ConnectionState) {
	m.mu.Lock()
	prev := m.status.State
	if prev != s {
		m.status.State = s
		m.status.Since = time.Now()
	}
	m.mu.Unlock()

	if prev == s {
		return
	}
	m.metrics.SetConnectionState(s)
	m.logger.Debug("connection state", "from", prev.String(), "to", s.String())
	m.events.Emit(bus.Event{
		Type:   bus.EventConnectionState,
		Source: "connection",
		Attrs:  map[string]any{"from": prev.String(), "to": s.String()},
	})
}

func (m *Manager) logStoredCredentials(ctx context.Context) {
	creds, err := m.creds.Load(ctx)
	switch {
	case err != nil:
		m.logger.Warn("load credentials failed, pairing may be required", "err", err)
	case creds == nil:
		m.logger.Info("no stored credentials, a pairing QR code will be shown")
	default:
		m.logger.Info("stored credentials found")
	}
}
