package domain

import "strings"

// ConversationID identifies a chat counterpart. It is both the recipient
// address on the transport and the session key on the agent backend.
type ConversationID string

func (c ConversationID) String() string { return string(c) }

// User returns the id without its "@server" suffix.
func (c ConversationID) User() string {
	s := string(c)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		return s[:i]
	}
	return s
}

// RawMessage is one transport message before filtering.
type RawMessage struct {
	RemoteID     ConversationID
	FromMe       bool
	IsGroup      bool
	IsBroadcast  bool
	PushName     string
	Conversation string // plain-text body
	ExtendedText string // extended-text body (links, quotes, mentions)
	ImageCaption string
}

// InboundEvent is what the transport hands to the bridge. It may carry
// several messages; only the first one is bridged.
type InboundEvent struct {
	Messages []RawMessage
}

// InboundMessage is a message that qualified for bridging.
type InboundMessage struct {
	ConversationID ConversationID
	Text           string
	DisplayName    string
	TraceID        string
}
