package ops

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"zapbot/internal/bus"
	"zapbot/internal/connection"
	"zapbot/internal/domain"
	"zapbot/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixedStatus connection.Status

func (f fixedStatus) Snapshot() connection.Status { return connection.Status(f) }

func newTestServer(state domain.ConnectionState, events *bus.EventBus, m *metrics.Metrics) *httptest.Server {
	s := New(Config{
		Status:  fixedStatus{State: state, Reconnects: 2},
		Events:  events,
		Metrics: m,
		Logger:  testLogger(),
	})
	return httptest.NewServer(s.Handler())
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		state domain.ConnectionState
		code  int
	}{
		{domain.StateOpen, http.StatusOK},
		{domain.StateConnecting, http.StatusServiceUnavailable},
		{domain.StateAwaitingPairing, http.StatusServiceUnavailable},
		{domain.StateDisconnected, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		srv := newTestServer(tt.state, nil, nil)
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		srv.Close()
		if resp.StatusCode != tt.code {
			t.Errorf("state %s: expected %d, got %d", tt.state, tt.code, resp.StatusCode)
		}
	}
}

func TestStatus(t *testing.T) {
	events := bus.NewEventBus(testLogger())
	events.Emit(bus.Event{Type: bus.EventConnectionState, Source: "connection", Attrs: map[string]any{"to": "open"}})
	events.Emit(bus.Event{Type: bus.EventMessageBridged, Source: "bridge"})

	srv := newTestServer(domain.StateOpen, events, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var got statusResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != "open" || got.Reconnects != 2 {
		t.Fatalf("unexpected status: %+v", got)
	}
	if len(got.Events) != 2 || got.Events[1].Type != bus.EventMessageBridged {
		t.Fatalf("unexpected events: %+v", got.Events)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New(nil)
	m.ObserveInbound("bridged")

	srv := newTestServer(domain.StateOpen, nil, m)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "bridged") {
		t.Fatalf("unexpected metrics response %d: %s", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	srv := newTestServer(domain.StateOpen, nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics, got %d", resp.StatusCode)
	}
}
