package domain

import "context"

// Presence is a chat presence indicator.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// AudioMimetype is the fixed encoding announced for voice replies.
const AudioMimetype = "audio/mp4"

// Sender issues outbound operations on the transport.
type Sender interface {
	SendText(ctx context.Context, to ConversationID, text string) error
	SendImage(ctx context.Context, to ConversationID, url string) error
	// SendAudio always sends a push-to-talk voice message.
	SendAudio(ctx context.Context, to ConversationID, url string, mimetype string) error
	SendPresence(ctx context.Context, to ConversationID, presence Presence) error
}

// Session is one authenticated transport connection. Handlers must be
// registered before Connect.
type Session interface {
	Sender
	OnLifecycleEvent(handler func(LifecycleEvent))
	OnInboundMessage(handler func(InboundEvent))
	Connect(ctx context.Context) error
	Close() error
}

// Transport creates sessions. Each reconnect establishes a fresh one.
type Transport interface {
	Establish(ctx context.Context) (Session, error)
}

// CredentialStore persists transport authentication state. Credentials are
// opaque to everything but the transport that produced them.
type CredentialStore interface {
	Load(ctx context.Context) (any, error)
	Save(ctx context.Context, creds any) error
	Reset(ctx context.Context) error
}
