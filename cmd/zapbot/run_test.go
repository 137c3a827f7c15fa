package main

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"

	"zapbot/internal/bus"
	"zapbot/internal/config"
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewResolver_ConnectivityOnly(t *testing.T) {
	cfg := config.Defaults()
	if r := newResolver(cfg, nil); r != nil {
		t.Fatalf("expected nil resolver without a backend URL, got %T", r)
	}

	cfg.Backend.BaseURL = "http://typebot.local/api/v1/typebots/demo/startChat"
	if r := newResolver(cfg, nil); r == nil {
		t.Fatal("expected a resolver when a backend URL is set")
	}
}

func TestLogConnectionStates(t *testing.T) {
	var buf bytes.Buffer
	prev := logger
	logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	defer func() { logger = prev }()

	events := bus.NewEventBus(logger)
	logConnectionStates(events)
	events.Emit(bus.Event{Type: bus.EventConnectionState, Attrs: map[string]any{"from": "connecting", "to": "open"}})
	events.Emit(bus.Event{Type: bus.EventMessageBridged})

	out := buf.String()
	if !strings.Contains(out, "from=connecting") || !strings.Contains(out, "to=open") {
		t.Fatalf("expected transition in log, got %q", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected exactly one log line, got %q", out)
	}
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(config.GeneralConfig{LogLevel: "debug", LogFormat: "json"}, &buf)
	l.Debug("hello")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}

	buf.Reset()
	l = newLogger(config.GeneralConfig{LogLevel: "warn", LogFormat: "text"}, &buf)
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
}
