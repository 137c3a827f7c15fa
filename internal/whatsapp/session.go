package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"zapbot/internal/domain"
)

// Session is one whatsmeow client connection. It implements domain.Session.
type Session struct {
	client         *whatsmeow.Client
	media          *MediaFetcher
	connectTimeout time.Duration
	logger         *slog.Logger

	mu        sync.RWMutex
	lifecycle func(domain.LifecycleEvent)
	inbound   func(domain.InboundEvent)

	handlerID uint32
	cancelQR  context.CancelFunc
	closeOnce sync.Once
}

func newSession(client *whatsmeow.Client, media *MediaFetcher, connectTimeout time.Duration, logger *slog.Logger) *Session {
	s := &Session{
		client:         client,
		media:          media,
		connectTimeout: connectTimeout,
		logger:         logger,
		lifecycle:      func(domain.LifecycleEvent) {},
		inbound:        func(domain.InboundEvent) {},
		cancelQR:       func() {},
	}
	s.handlerID = client.AddEventHandler(s.handleEvent)
	return s
}

func (s *Session) OnLifecycleEvent(handler func(domain.LifecycleEvent)) {
	s.mu.Lock()
	s.lifecycle = handler
	s.mu.Unlock()
}

func (s *Session) OnInboundMessage(handler func(domain.InboundEvent)) {
	s.mu.Lock()
	s.inbound = handler
	s.mu.Unlock()
}

func (s *Session) emit(ev domain.LifecycleEvent) {
	s.mu.RLock()
	h := s.lifecycle
	s.mu.RUnlock()
	h(ev)
}

// Connect opens the websocket. An unpaired device starts the QR pairing
// flow; each code is reported as an EventQR.
func (s *Session) Connect(ctx context.Context) error {
	if s.client.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		s.cancelQR = cancel
		qrChan, err := s.client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("get QR channel: %w", err)
		}
		go s.watchQR(qrChan)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.client.Connect() }()

	timer := time.NewTimer(s.connectTimeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		return nil
	case <-timer.C:
		s.client.Disconnect()
		return fmt.Errorf("connect: timed out after %s", s.connectTimeout)
	case <-ctx.Done():
		s.client.Disconnect()
		return ctx.Err()
	}
}

func (s *Session) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			s.emit(domain.LifecycleEvent{Type: domain.EventQR, QRCode: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			return
		case whatsmeow.QRChannelTimeout.Event:
			s.emit(domain.LifecycleEvent{
				Type:   domain.EventClose,
				Reason: domain.CloseReason{Kind: domain.CloseTransient, Detail: "pairing timed out"},
			})
			return
		case whatsmeow.QRChannelEventError:
			s.emit(domain.LifecycleEvent{
				Type:   domain.EventClose,
				Reason: domain.CloseReason{Kind: domain.CloseTransient, Detail: fmt.Sprintf("pairing failed: %v", item.Error)},
			})
			return
		default:
			s.emit(domain.LifecycleEvent{
				Type:   domain.EventClose,
				Reason: domain.CloseReason{Kind: domain.CloseTransient, Detail: "pairing: " + item.Event},
			})
			return
		}
	}
}

func (s *Session) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.mu.RLock()
		h := s.inbound
		s.mu.RUnlock()
		h(domain.InboundEvent{Messages: []domain.RawMessage{RawFromEvent(v)}})

	case *events.PairSuccess:
		s.logger.Info("device paired", "jid", v.ID.String(), "platform", v.Platform)
		s.emit(domain.LifecycleEvent{Type: domain.EventCredentialsUpdated, Credentials: s.client.Store})

	case *events.Connected:
		s.emit(domain.LifecycleEvent{Type: domain.EventCredentialsUpdated, Credentials: s.client.Store})
		s.emit(domain.LifecycleEvent{Type: domain.EventOpen})
		go s.announceAvailable()

	default:
		if reason, ok := CloseReasonFor(evt); ok {
			s.emit(domain.LifecycleEvent{Type: domain.EventClose, Reason: reason})
		}
	}
}

// announceAvailable marks the account online; chat presence updates are
// not delivered otherwise.
func (s *Session) announceAvailable() {
	if s.client.Store.PushName == "" {
		return
	}
	if err := s.client.SendPresence(types.PresenceAvailable); err != nil {
		s.logger.Debug("send available presence", "err", err)
	}
}

func (s *Session) SendText(ctx context.Context, to domain.ConversationID, text string) error {
	jid, err := ParseJID(to)
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

func (s *Session) SendImage(ctx context.Context, to domain.ConversationID, url string) error {
	jid, err := ParseJID(to)
	if err != nil {
		return err
	}
	media, err := s.media.Fetch(ctx, url)
	if err != nil {
		return err
	}
	up, err := s.client.Upload(ctx, media.Data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}

	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		Mimetype:      proto.String(media.Mimetype),
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}}
	if _, err := s.client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send image: %w", err)
	}
	return nil
}

// SendAudio sends url as a voice note announced with mimetype.
func (s *Session) SendAudio(ctx context.Context, to domain.ConversationID, url, mimetype string) error {
	jid, err := ParseJID(to)
	if err != nil {
		return err
	}
	media, err := s.media.Fetch(ctx, url)
	if err != nil {
		return err
	}
	up, err := s.client.Upload(ctx, media.Data, whatsmeow.MediaAudio)
	if err != nil {
		return fmt.Errorf("upload audio: %w", err)
	}

	msg := &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		Mimetype:      proto.String(mimetype),
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
		PTT:           proto.Bool(true),
	}}
	if _, err := s.client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

func (s *Session) SendPresence(ctx context.Context, to domain.ConversationID, presence domain.Presence) error {
	jid, err := ParseJID(to)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if presence == domain.PresenceComposing {
		state = types.ChatPresenceComposing
	}
	if err := s.client.SendChatPresence(jid, state, types.ChatPresenceMediaText); err != nil {
		return fmt.Errorf("send presence: %w", err)
	}
	return nil
}

// Close disconnects and detaches the session. It is safe to call more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancelQR()
		s.client.RemoveEventHandler(s.handlerID)
		s.client.Disconnect()
	})
	return nil
}
