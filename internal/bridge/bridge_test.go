package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"zapbot/internal/bus"
	"zapbot/internal/domain"
	"zapbot/internal/reply"
	"zapbot/internal/typebot"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSession records outbound calls and lets tests inject inbound events.
type fakeSession struct {
	mu      sync.Mutex
	sends   []string
	inbound func(domain.InboundEvent)
}

func (s *fakeSession) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, call)
	return nil
}

func (s *fakeSession) SendText(_ context.Context, to domain.ConversationID, text string) error {
	return s.record(fmt.Sprintf("text %s %s", to, text))
}
func (s *fakeSession) SendImage(_ context.Context, to domain.ConversationID, url string) error {
	return s.record(fmt.Sprintf("image %s %s", to, url))
}
func (s *fakeSession) SendAudio(_ context.Context, to domain.ConversationID, url, _ string) error {
	return s.record(fmt.Sprintf("audio %s %s", to, url))
}
func (s *fakeSession) SendPresence(context.Context, domain.ConversationID, domain.Presence) error {
	return nil
}
func (s *fakeSession) OnInboundMessage(h func(domain.InboundEvent)) { s.inbound = h }
func (s *fakeSession) OnLifecycleEvent(func(domain.LifecycleEvent)) {}
func (s *fakeSession) Connect(context.Context) error                { return nil }
func (s *fakeSession) Close() error                                 { return nil }

func (s *fakeSession) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sends...)
}

type countingResolver struct {
	calls int
	resp  *domain.AgentResponse
	err   error
}

func (r *countingResolver) Resolve(context.Context, domain.InboundMessage) (*domain.AgentResponse, error) {
	r.calls++
	return r.resp, r.err
}

func noPause(context.Context, time.Duration) error { return nil }

func newTestBridge(r Resolver, events *bus.EventBus) (*Bridge, *bus.InMemoryBus) {
	q := bus.New(10, testLogger())
	b := New(Config{
		Resolver:   r,
		Translator: reply.New(reply.Config{Sleep: noPause, Logger: testLogger()}),
		Queue:      q,
		Events:     events,
		Logger:     testLogger(),
	})
	return b, q
}

// drain closes the queue and runs the worker until it has processed
// everything queued so far.
func drain(t *testing.T, b *Bridge, q *bus.InMemoryBus) {
	t.Helper()
	q.Close()
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func inbound(id, text, name string) domain.InboundEvent {
	return domain.InboundEvent{Messages: []domain.RawMessage{{
		RemoteID: domain.ConversationID(id), Conversation: text, PushName: name,
	}}}
}

// --- End to end ---

func TestBridge_NewConversationCreatesSession(t *testing.T) {
	var continues, creates int
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/continueChat"):
			continues++
			http.Error(w, `{"message":"Session not found"}`, http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, "/startChat"):
			creates++
			json.NewDecoder(r.Body).Decode(&created)
			w.Write([]byte(`{"messages":[{"type":"text","content":{"richText":[{"children":[{"text":"Olá"}]}]}}]}`))
		}
	}))
	defer srv.Close()

	client := typebot.NewClient(typebot.ClientConfig{
		BaseURL:     srv.URL,
		ContinueURL: "{baseUrl}/sessions/{sessionId}/continueChat",
		CreateURL:   "{baseUrl}/startChat",
		Logger:      testLogger(),
	})
	correlator := typebot.NewCorrelator(typebot.CorrelatorConfig{Backend: client, Logger: testLogger()})

	events := bus.NewEventBus(testLogger())
	b, q := newTestBridge(correlator, events)
	s := &fakeSession{}
	b.Attach(s)

	s.inbound(inbound("551199999999", "oi", "Ana"))
	drain(t, b, q)

	if continues != 1 || creates != 1 {
		t.Fatalf("expected continue then create, got %d continue, %d create", continues, creates)
	}
	if created["sessionId"] != "551199999999" {
		t.Fatalf("unexpected sessionId: %v", created["sessionId"])
	}
	vars, _ := created["prefilledVariables"].(map[string]any)
	if vars["pushName"] != "Ana" || vars["remoteJid"] != "551199999999" || vars["user_message"] != "oi" {
		t.Fatalf("unexpected prefilled variables: %v", vars)
	}

	got := s.calls()
	if len(got) != 1 || got[0] != "text 551199999999 Olá" {
		t.Fatalf("expected exactly one text send, got %q", got)
	}
	if len(events.Replay(bus.EventMessageBridged, time.Time{})) != 1 {
		t.Fatal("expected a bridged event")
	}
}

// --- Filtering and modes ---

func TestBridge_NoTextNeverResolves(t *testing.T) {
	r := &countingResolver{}
	b, q := newTestBridge(r, nil)
	s := &fakeSession{}
	b.Attach(s)

	s.inbound(domain.InboundEvent{Messages: []domain.RawMessage{{RemoteID: "5511"}}})
	s.inbound(domain.InboundEvent{})
	s.inbound(domain.InboundEvent{Messages: []domain.RawMessage{{RemoteID: "5511", FromMe: true, Conversation: "oi"}}})
	drain(t, b, q)

	if r.calls != 0 {
		t.Fatalf("resolver must not be invoked, got %d calls", r.calls)
	}
	if len(s.calls()) != 0 {
		t.Fatalf("expected no sends, got %q", s.calls())
	}
}

func TestBridge_ConnectivityOnly(t *testing.T) {
	b, q := newTestBridge(nil, nil)
	if !b.ConnectivityOnly() {
		t.Fatal("expected connectivity-only mode")
	}
	s := &fakeSession{}
	b.Attach(s)

	s.inbound(inbound("5511", "oi", "Ana"))
	drain(t, b, q)

	if len(s.calls()) != 0 {
		t.Fatalf("expected no sends, got %q", s.calls())
	}
}

func TestBridge_BackendFailureDropsMessage(t *testing.T) {
	r := &countingResolver{err: errors.New("both failed")}
	events := bus.NewEventBus(testLogger())
	b, q := newTestBridge(r, events)
	s := &fakeSession{}
	b.Attach(s)

	s.inbound(inbound("5511", "oi", ""))
	s.inbound(inbound("5511", "de novo", ""))
	drain(t, b, q)

	if r.calls != 2 {
		t.Fatalf("each message should be resolved once, got %d", r.calls)
	}
	if len(s.calls()) != 0 {
		t.Fatalf("expected no sends, got %q", s.calls())
	}
	if n := len(events.Replay(bus.EventMessageDropped, time.Time{})); n != 2 {
		t.Fatalf("expected 2 dropped events, got %d", n)
	}
}

func TestBridge_SequentialOrder(t *testing.T) {
	r := &countingResolver{resp: &domain.AgentResponse{Messages: []domain.ReplyBlock{
		domain.TextBlock("hi"),
		{Kind: domain.BlockUnknown, Type: "video"},
		domain.ImageBlock("http://x/y.png"),
		domain.AudioBlock("http://x/z.mp3"),
	}}}
	b, q := newTestBridge(r, nil)
	s := &fakeSession{}
	b.Attach(s)

	s.inbound(inbound("5511", "oi", ""))
	drain(t, b, q)

	want := []string{"text 5511 hi", "image 5511 http://x/y.png", "audio 5511 http://x/z.mp3"}
	got := s.calls()
	if len(got) != len(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestBridge_DetachedSessionDropsReply(t *testing.T) {
	r := &countingResolver{resp: &domain.AgentResponse{Messages: []domain.ReplyBlock{domain.TextBlock("hi")}}}
	b, q := newTestBridge(r, nil)
	s := &fakeSession{}
	b.Attach(s)

	s.inbound(inbound("5511", "oi", ""))
	b.Attach(nil)
	drain(t, b, q)

	if r.calls != 1 {
		t.Fatalf("expected resolve, got %d", r.calls)
	}
	if len(s.calls()) != 0 {
		t.Fatalf("detached session must not be used, got %q", s.calls())
	}
}

func TestBridge_RunStopsOnCancel(t *testing.T) {
	b, _ := newTestBridge(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
