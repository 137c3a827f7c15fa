package whatsapp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"zapbot/internal/domain"
)

// ParseJID turns a conversation id into a JID. Bare numbers are taken as
// user ids on the default server.
func ParseJID(id domain.ConversationID) (types.JID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return types.JID{}, fmt.Errorf("empty conversation id")
	}
	if !strings.Contains(s, "@") {
		return types.NewJID(strings.TrimPrefix(s, "+"), types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return types.JID{}, fmt.Errorf("parse jid %q: %w", s, err)
	}
	return jid, nil
}

// RawFromEvent maps a whatsmeow message event onto the transport-neutral
// message the bridge filters.
func RawFromEvent(evt *events.Message) domain.RawMessage {
	info := evt.Info
	raw := domain.RawMessage{
		RemoteID:    domain.ConversationID(info.Chat.String()),
		FromMe:      info.IsFromMe,
		IsGroup:     info.IsGroup,
		IsBroadcast: info.Chat.Server == types.BroadcastServer,
		PushName:    info.PushName,
	}
	if msg := evt.Message; msg != nil {
		raw.Conversation = msg.GetConversation()
		raw.ExtendedText = msg.GetExtendedTextMessage().GetText()
		raw.ImageCaption = msg.GetImageMessage().GetCaption()
	}
	return raw
}

// CloseReasonFor classifies whatsmeow events that end a connection. The
// second result is false for every other event. Keepalive timeouts count as
// a close once no keepalive has succeeded for whatsmeow.KeepAliveMaxFailTime,
// since the client runs without its own auto reconnect.
func CloseReasonFor(evt interface{}) (domain.CloseReason, bool) {
	switch v := evt.(type) {
	case *events.KeepAliveTimeout:
		if v.LastSuccess.IsZero() || time.Since(v.LastSuccess) < whatsmeow.KeepAliveMaxFailTime {
			return domain.CloseReason{}, false
		}
		return domain.CloseReason{
			Kind:   domain.CloseTransient,
			Detail: fmt.Sprintf("keepalive failing for %s (%d errors)", time.Since(v.LastSuccess).Round(time.Second), v.ErrorCount),
		}, true
	case *events.LoggedOut:
		return domain.CloseReason{Kind: domain.CloseLoggedOut, Detail: "logged out: " + v.Reason.String()}, true
	case *events.ConnectFailure:
		kind := domain.CloseTransient
		if v.Reason.IsLoggedOut() {
			kind = domain.CloseLoggedOut
		}
		return domain.CloseReason{Kind: kind, Detail: fmt.Sprintf("connect failure: %s %s", v.Reason.String(), v.Message)}, true
	case *events.StreamReplaced:
		return domain.CloseReason{Kind: domain.CloseTransient, Detail: "stream replaced by another client"}, true
	case *events.TemporaryBan:
		return domain.CloseReason{Kind: domain.CloseTransient, Detail: "temporary ban: " + v.String()}, true
	case *events.ClientOutdated:
		return domain.CloseReason{Kind: domain.CloseTransient, Detail: "client version outdated"}, true
	case *events.Disconnected:
		return domain.CloseReason{Kind: domain.CloseTransient, Detail: "disconnected"}, true
	}
	return domain.CloseReason{}, false
}

// ParseVersion parses a "major.minor.patch" web client version.
func ParseVersion(s string) (store.WAVersionContainer, error) {
	var v store.WAVersionContainer
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return v, fmt.Errorf("version %q: want major.minor.patch", s)
	}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return v, fmt.Errorf("version %q: %w", s, err)
		}
		v[i] = uint32(n)
	}
	return v, nil
}

// DeviceName renders a client identity triple (os, browser, version) as the
// name shown in the phone's linked devices list.
func DeviceName(identity []string) string {
	if len(identity) < 2 {
		return ""
	}
	return fmt.Sprintf("%s (%s)", identity[1], identity[0])
}

// osVersion parses the identity's version component leniently; missing
// or non-numeric parts become zero.
func osVersion(identity []string) [3]uint32 {
	var v [3]uint32
	if len(identity) < 3 {
		return v
	}
	for i, p := range strings.SplitN(identity[2], ".", 3) {
		n, err := strconv.ParseUint(p, 10, 32)
		if err == nil {
			v[i] = uint32(n)
		}
	}
	return v
}
