package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	"zapbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recorder is a domain.Sender that logs every call, pauses included.
type recorder struct {
	calls   []string
	failOn  map[string]error
	pausing []time.Duration
}

func (r *recorder) record(call string) error {
	r.calls = append(r.calls, call)
	return r.failOn[call]
}

func (r *recorder) SendText(ctx context.Context, to domain.ConversationID, text string) error {
	return r.record(fmt.Sprintf("text %s %q", to, text))
}

func (r *recorder) SendImage(ctx context.Context, to domain.ConversationID, url string) error {
	return r.record(fmt.Sprintf("image %s %s", to, url))
}

func (r *recorder) SendAudio(ctx context.Context, to domain.ConversationID, url, mimetype string) error {
	return r.record(fmt.Sprintf("audio %s %s %s", to, url, mimetype))
}

func (r *recorder) SendPresence(ctx context.Context, to domain.ConversationID, p domain.Presence) error {
	return r.record(fmt.Sprintf("presence %s %s", to, p))
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.pausing = append(r.pausing, d)
	r.calls = append(r.calls, fmt.Sprintf("pause %s", d))
	return nil
}

func newTestTranslator(r *recorder) *Translator {
	return New(Config{Sleep: r.sleep, Logger: testLogger()})
}

func TestTranslate_ChoiceFirst(t *testing.T) {
	resp := &domain.AgentResponse{
		Messages: []domain.ReplyBlock{domain.TextBlock("hi")},
		Input: &domain.ChoicePrompt{
			Kind:  "choice input",
			Items: []domain.ChoiceItem{{Label: "A"}, {Label: "B"}},
		},
	}
	ops := Translate(resp, Options{ChoiceHeader: "Escolha:"})
	if len(ops) != 2 {
		t.Fatalf("expected 2 ops, got %d", len(ops))
	}
	want := Op{Kind: OpText, Text: "Escolha:\n1. A\n2. B"}
	if ops[0] != want {
		t.Fatalf("expected choice op %+v, got %+v", want, ops[0])
	}
	if ops[1].Text != "hi" || !ops[1].Paced {
		t.Fatalf("unexpected block op: %+v", ops[1])
	}
}

func TestTranslate_DefaultHeader(t *testing.T) {
	resp := &domain.AgentResponse{Input: &domain.ChoicePrompt{Kind: "choice", Items: []domain.ChoiceItem{{Label: "Sim"}}}}
	ops := Translate(resp, Options{})
	if len(ops) != 1 || ops[0].Text != DefaultChoiceHeader+"\n1. Sim" {
		t.Fatalf("unexpected ops: %+v", ops)
	}
}

func TestTranslate_SkipsUnknownAndEmpty(t *testing.T) {
	resp := &domain.AgentResponse{
		Messages: []domain.ReplyBlock{
			{Kind: domain.BlockUnknown, Type: "video"},
			domain.TextBlock("  "),
			domain.AudioBlock("http://x/a.mp3"),
		},
		Input: &domain.ChoicePrompt{Kind: "text input"},
	}
	ops := Translate(resp, Options{})
	if len(ops) != 1 {
		t.Fatalf("expected 1 op, got %+v", ops)
	}
	if ops[0].Kind != OpAudio || ops[0].Mimetype != "audio/mp4" {
		t.Fatalf("unexpected audio op: %+v", ops[0])
	}
}

func TestTranslate_Nil(t *testing.T) {
	if ops := Translate(nil, Options{}); ops != nil {
		t.Fatalf("expected nil, got %+v", ops)
	}
}

func TestDeliver_TextThenImage(t *testing.T) {
	r := &recorder{}
	resp := &domain.AgentResponse{Messages: []domain.ReplyBlock{
		domain.TextBlock("hi"),
		domain.ImageBlock("http://x/y.png"),
	}}

	res := newTestTranslator(r).Deliver(context.Background(), r, "5511", Translate(resp, Options{}))
	if res != (Result{Sent: 2}) {
		t.Fatalf("unexpected result: %+v", res)
	}

	want := []string{
		"presence 5511 composing",
		"pause 800ms",
		`text 5511 "hi"`,
		"presence 5511 composing",
		"pause 800ms",
		"image 5511 http://x/y.png",
		"presence 5511 paused",
	}
	if !reflect.DeepEqual(r.calls, want) {
		t.Fatalf("call order mismatch\n got: %q\nwant: %q", r.calls, want)
	}
}

func TestDeliver_ChoiceNotPaced(t *testing.T) {
	r := &recorder{}
	resp := &domain.AgentResponse{Input: &domain.ChoicePrompt{
		Kind:  "choice input",
		Items: []domain.ChoiceItem{{Label: "A"}, {Label: "B"}},
	}}

	newTestTranslator(r).Deliver(context.Background(), r, "5511", Translate(resp, Options{ChoiceHeader: "H"}))
	want := []string{`text 5511 "H\n1. A\n2. B"`}
	if !reflect.DeepEqual(r.calls, want) {
		t.Fatalf("got %q, want %q", r.calls, want)
	}
}

func TestDeliver_FailureDoesNotAbort(t *testing.T) {
	r := &recorder{failOn: map[string]error{
		`text 5511 "one"`: errors.New("socket closed"),
	}}
	ops := []Op{
		{Kind: OpText, Text: "one", Paced: true},
		{Kind: OpText, Text: "two", Paced: true},
	}
	res := newTestTranslator(r).Deliver(context.Background(), r, "5511", ops)
	if res != (Result{Sent: 1, Failed: 1}) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if r.calls[len(r.calls)-2] != `text 5511 "two"` {
		t.Fatalf("second send missing: %q", r.calls)
	}
}

func TestDeliver_PresenceFailureStillSends(t *testing.T) {
	r := &recorder{failOn: map[string]error{
		"presence 5511 composing": errors.New("no presence"),
	}}
	res := newTestTranslator(r).Deliver(context.Background(), r, "5511", []Op{{Kind: OpText, Text: "x", Paced: true}})
	if res.Sent != 1 {
		t.Fatalf("expected send despite presence failure, got %+v", res)
	}
}

func TestDeliver_CustomPacing(t *testing.T) {
	r := &recorder{}
	tr := New(Config{Pacing: 50 * time.Millisecond, Sleep: r.sleep, Logger: testLogger()})
	tr.Deliver(context.Background(), r, "5511", []Op{{Kind: OpText, Text: "x", Paced: true}})
	if len(r.pausing) != 1 || r.pausing[0] != 50*time.Millisecond {
		t.Fatalf("unexpected pauses: %v", r.pausing)
	}
}

func TestDeliver_CancelledDuringPause(t *testing.T) {
	r := &recorder{}
	tr := New(Config{Pacing: time.Hour, Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := tr.Deliver(ctx, r, "5511", []Op{{Kind: OpText, Text: "x", Paced: true}})
	if res.Sent != 0 {
		t.Fatalf("expected no sends after cancellation, got %+v", res)
	}
}
