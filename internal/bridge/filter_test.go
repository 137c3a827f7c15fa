package bridge

import (
	"testing"

	"zapbot/internal/domain"
)

func TestFilter(t *testing.T) {
	tests := []struct {
		name   string
		event  domain.InboundEvent
		reason string
		text   string
	}{
		{"empty event", domain.InboundEvent{}, DropEmpty, ""},
		{"from me", event(domain.RawMessage{RemoteID: "5511", FromMe: true, Conversation: "oi"}), DropFromMe, ""},
		{"status broadcast", event(domain.RawMessage{RemoteID: "status@broadcast", Conversation: "oi"}), DropBroadcast, ""},
		{"broadcast flag", event(domain.RawMessage{RemoteID: "123@broadcast", IsBroadcast: true, Conversation: "oi"}), DropBroadcast, ""},
		{"group", event(domain.RawMessage{RemoteID: "123@g.us", IsGroup: true, Conversation: "oi"}), DropGroup, ""},
		{"no text", event(domain.RawMessage{RemoteID: "5511"}), DropNoText, ""},
		{"blank text", event(domain.RawMessage{RemoteID: "5511", Conversation: "   "}), DropNoText, ""},
		{"conversation", event(domain.RawMessage{RemoteID: "5511", Conversation: "oi", ExtendedText: "x"}), "", "oi"},
		{"extended text", event(domain.RawMessage{RemoteID: "5511", ExtendedText: "link http://x"}), "", "link http://x"},
		{"image caption", event(domain.RawMessage{RemoteID: "5511", ImageCaption: "foto"}), "", "foto"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, reason := Filter(tt.event)
			if reason != tt.reason {
				t.Fatalf("expected reason %q, got %q", tt.reason, reason)
			}
			if msg.Text != tt.text {
				t.Fatalf("expected text %q, got %q", tt.text, msg.Text)
			}
		})
	}
}

func TestFilter_FirstMessageOnly(t *testing.T) {
	ev := domain.InboundEvent{Messages: []domain.RawMessage{
		{RemoteID: "5511", FromMe: true, Conversation: "mine"},
		{RemoteID: "5522", Conversation: "theirs"},
	}}
	if _, reason := Filter(ev); reason != DropFromMe {
		t.Fatalf("only the first message of an event may be bridged, got reason %q", reason)
	}

	ev.Messages[0], ev.Messages[1] = ev.Messages[1], ev.Messages[0]
	msg, reason := Filter(ev)
	if reason != "" || msg.ConversationID != "5522" || msg.Text != "theirs" {
		t.Fatalf("unexpected message: %+v reason=%q", msg, reason)
	}
}

func TestFilter_DisplayNameTrimmed(t *testing.T) {
	msg, reason := Filter(event(domain.RawMessage{RemoteID: "5511", PushName: " Ana ", Conversation: "oi"}))
	if reason != "" || msg.DisplayName != "Ana" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func event(m domain.RawMessage) domain.InboundEvent {
	return domain.InboundEvent{Messages: []domain.RawMessage{m}}
}
