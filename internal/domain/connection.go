package domain

// ConnectionState is the transport connection state owned by the lifecycle manager.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAwaitingPairing
	StateOpen
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingPairing:
		return "awaiting_pairing"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "invalid"
	}
}

// CloseKind classifies why a connection closed.
type CloseKind int

const (
	CloseTransient CloseKind = iota
	// CloseLoggedOut means the network invalidated the session. Stored
	// credentials are useless until an operator discards them.
	CloseLoggedOut
)

func (k CloseKind) String() string {
	if k == CloseLoggedOut {
		return "logged_out"
	}
	return "transient"
}

type CloseReason struct {
	Kind   CloseKind
	Detail string
}

type LifecycleEventType int

const (
	EventQR LifecycleEventType = iota
	EventOpen
	EventClose
	EventCredentialsUpdated
)

func (t LifecycleEventType) String() string {
	switch t {
	case EventQR:
		return "qr"
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventCredentialsUpdated:
		return "credentials_updated"
	default:
		return "unknown"
	}
}

// LifecycleEvent is emitted by a Session. Only the field matching Type is set.
type LifecycleEvent struct {
	Type        LifecycleEventType
	QRCode      string
	Reason      CloseReason
	Credentials any
}
