package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"

	"zapbot/internal/domain"
)

// Transport establishes whatsmeow sessions for the stored device. It
// implements domain.Transport.
type Transport struct {
	store           *DeviceStore
	media           *MediaFetcher
	http            *http.Client
	protocolVersion string
	connectTimeout  time.Duration
	logger          *slog.Logger
}

type TransportConfig struct {
	Store *DeviceStore
	// ClientIdentity is (os, browser, version), shown on the phone.
	ClientIdentity []string
	// ProtocolVersion is "auto" to fetch the current web version on each
	// establish, or a pinned "a.b.c".
	ProtocolVersion string
	ConnectTimeout  time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if name := DeviceName(cfg.ClientIdentity); name != "" {
		store.SetOSInfo(name, osVersion(cfg.ClientIdentity))
	}
	return &Transport{
		store:           cfg.Store,
		media:           NewMediaFetcher(nil),
		http:            cfg.HTTPClient,
		protocolVersion: cfg.ProtocolVersion,
		connectTimeout:  cfg.ConnectTimeout,
		logger:          cfg.Logger,
	}
}

func (t *Transport) Establish(ctx context.Context) (domain.Session, error) {
	client, err := t.newClient()
	if err != nil {
		return nil, err
	}
	return newSession(client, t.media, t.connectTimeout, t.logger), nil
}

func (t *Transport) newClient() (*whatsmeow.Client, error) {
	if err := t.applyVersion(); err != nil {
		return nil, err
	}
	dev, err := t.store.Device()
	if err != nil {
		return nil, err
	}
	client := whatsmeow.NewClient(dev, NewLogger(t.logger, "whatsmeow"))
	client.EnableAutoReconnect = false
	return client, nil
}

func (t *Transport) applyVersion() error {
	switch t.protocolVersion {
	case "", "auto":
		latest, err := whatsmeow.GetLatestVersion(t.http)
		if err != nil {
			t.logger.Warn("fetch latest web version failed, using built-in", "err", err, "version", store.GetWAVersion().String())
			return nil
		}
		store.SetWAVersion(*latest)
		return nil
	default:
		v, err := ParseVersion(t.protocolVersion)
		if err != nil {
			return fmt.Errorf("protocol version: %w", err)
		}
		store.SetWAVersion(v)
		return nil
	}
}

// Unlink logs the device out on the server side, which also deletes it from
// the store. When the server cannot be reached the local credentials are
// removed anyway.
func (t *Transport) Unlink(ctx context.Context) error {
	dev, err := t.store.Device()
	if err != nil {
		return err
	}
	if dev.ID == nil {
		return nil
	}

	if err = t.logout(ctx); err == nil {
		return nil
	}
	t.logger.Warn("server-side logout failed, removing local credentials", "err", err)
	return t.store.Reset(ctx)
}

func (t *Transport) logout(ctx context.Context) error {
	client, err := t.newClient()
	if err != nil {
		return err
	}
	session := newSession(client, t.media, t.connectTimeout, t.logger)
	defer session.Close()

	opened := make(chan domain.LifecycleEvent, 1)
	session.OnLifecycleEvent(func(ev domain.LifecycleEvent) {
		if ev.Type == domain.EventOpen || ev.Type == domain.EventClose {
			select {
			case opened <- ev:
			default:
			}
		}
	})
	if err := session.Connect(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(t.connectTimeout)
	defer timer.Stop()
	select {
	case ev := <-opened:
		if ev.Type == domain.EventClose {
			return fmt.Errorf("connection closed: %s", ev.Reason.Detail)
		}
	case <-timer.C:
		return fmt.Errorf("login timed out after %s", t.connectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	return client.Logout()
}
