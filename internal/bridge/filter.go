package bridge

import (
	"strings"

	"zapbot/internal/domain"
)

const statusBroadcast = "status@broadcast"

// Drop reasons reported in logs and metrics.
const (
	DropEmpty     = "empty"
	DropFromMe    = "from_me"
	DropBroadcast = "broadcast"
	DropGroup     = "group"
	DropNoText    = "no_text"
)

// Filter reduces an inbound event to the message the bridge acts on. Only
// the first message of an event is considered. A non-empty drop reason means
// the event is ignored.
func Filter(ev domain.InboundEvent) (domain.InboundMessage, string) {
	if len(ev.Messages) == 0 {
		return domain.InboundMessage{}, DropEmpty
	}
	raw := ev.Messages[0]

	switch {
	case raw.FromMe:
		return domain.InboundMessage{}, DropFromMe
	case raw.IsBroadcast || raw.RemoteID == statusBroadcast || strings.HasSuffix(string(raw.RemoteID), "@broadcast"):
		return domain.InboundMessage{}, DropBroadcast
	case raw.IsGroup:
		return domain.InboundMessage{}, DropGroup
	}

	text := ExtractText(raw)
	if text == "" {
		return domain.InboundMessage{}, DropNoText
	}
	return domain.InboundMessage{
		ConversationID: raw.RemoteID,
		Text:           text,
		DisplayName:    strings.TrimSpace(raw.PushName),
	}, ""
}

// ExtractText returns the first non-blank of the plain body, the extended
// text body and the image caption.
func ExtractText(m domain.RawMessage) string {
	for _, s := range []string{m.Conversation, m.ExtendedText, m.ImageCaption} {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return ""
}
