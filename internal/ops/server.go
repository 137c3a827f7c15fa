package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"zapbot/internal/bus"
	"zapbot/internal/connection"
	"zapbot/internal/domain"
	"zapbot/internal/metrics"
)

const recentEvents = 50

// StatusSource reports the connection status.
type StatusSource interface {
	Snapshot() connection.Status
}

// Server exposes health, status and metrics over HTTP for operators.
type Server struct {
	addr             string
	status           StatusSource
	events           *bus.EventBus
	metrics          *metrics.Metrics
	connectivityOnly bool
	logger           *slog.Logger
	server           *http.Server
}

type Config struct {
	Addr             string
	Status           StatusSource
	Events           *bus.EventBus
	Metrics          *metrics.Metrics
	ConnectivityOnly bool
	Logger           *slog.Logger
}

func New(cfg Config) *Server {
	return &Server{
		addr:             cfg.Addr,
		status:           cfg.Status,
		events:           cfg.Events,
		metrics:          cfg.Metrics,
		connectivityOnly: cfg.ConnectivityOnly,
		logger:           cfg.Logger,
	}
}

// Handler returns the router serving /healthz, /status and /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("ops server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("ops server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("ops server: %w", err)
	}
}

// healthz is 200 only while the transport connection is open.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.status.Snapshot()
	code := http.StatusOK
	if st.State != domain.StateOpen {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"state": st.State.String()})
}

type statusResponse struct {
	State            string      `json:"state"`
	Since            time.Time   `json:"since"`
	Attempts         int         `json:"attempts"`
	Reconnects       int         `json:"reconnects"`
	AwaitingPairing  bool        `json:"awaitingPairing"`
	LastClose        string      `json:"lastClose,omitempty"`
	ConnectivityOnly bool        `json:"connectivityOnly"`
	Events           []eventView `json:"events"`
}

type eventView struct {
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Time   time.Time      `json:"time"`
	Attrs  map[string]any `json:"attrs,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status.Snapshot()
	resp := statusResponse{
		State:            st.State.String(),
		Since:            st.Since,
		Attempts:         st.Attempts,
		Reconnects:       st.Reconnects,
		AwaitingPairing:  st.State == domain.StateAwaitingPairing,
		LastClose:        st.LastClose,
		ConnectivityOnly: s.connectivityOnly,
		Events:           []eventView{},
	}

	if s.events != nil {
		history := s.events.Replay("*", time.Time{})
		if len(history) > recentEvents {
			history = history[len(history)-recentEvents:]
		}
		for _, e := range history {
			resp.Events = append(resp.Events, eventView{Type: e.Type, Source: e.Source, Time: e.Time, Attrs: e.Attrs})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
