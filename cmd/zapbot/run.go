package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"zapbot/internal/bridge"
	"zapbot/internal/bus"
	"zapbot/internal/config"
	"zapbot/internal/connection"
	"zapbot/internal/metrics"
	"zapbot/internal/ops"
	"zapbot/internal/reply"
	"zapbot/internal/typebot"
	"zapbot/internal/whatsapp"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge (default)",
		Long:  "Connects to WhatsApp, pairing with a QR code when needed, and bridges messages to the backend. Press Ctrl+C to stop.",
		RunE:  runBridge,
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, found, err := loadConfig()
	if err != nil {
		return err
	}
	if !found {
		logger.Info("no config file, using defaults and environment", "path", resolveConfigPath())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := whatsapp.OpenStore(cfg.WhatsApp.StorePath, logger)
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	defer store.Close()

	policy, err := connection.ParsePolicy(cfg.Reconnect.Strategy, cfg.Reconnect.DelaySeconds, cfg.Reconnect.MaxDelaySeconds)
	if err != nil {
		return err
	}

	m := metrics.New(nil)
	events := bus.NewEventBus(logger)
	logConnectionStates(events)
	queue := bus.New(cfg.General.InboundBuffer, logger)

	br := bridge.New(bridge.Config{
		Resolver:     newResolver(cfg, m),
		Translator:   newTranslator(cfg, m),
		ReplyOptions: reply.Options{ChoiceHeader: cfg.Reply.ChoiceHeader},
		Queue:        queue,
		Events:       events,
		Metrics:      m,
		Logger:       logger,
	})

	transport := whatsapp.NewTransport(whatsapp.TransportConfig{
		Store:           store,
		ClientIdentity:  cfg.WhatsApp.ClientIdentity,
		ProtocolVersion: cfg.WhatsApp.ProtocolVersion,
		ConnectTimeout:  cfg.WhatsApp.ConnectTimeout(),
		Logger:          logger,
	})

	onQR := func(string) {
		logger.Warn("pairing required but whatsapp.printQR is off; enable it to link a device")
	}
	if cfg.WhatsApp.PrintQR {
		onQR = whatsapp.QRPrinter(os.Stdout)
	}

	manager := connection.NewManager(connection.Config{
		Transport:   transport,
		Credentials: store,
		Policy:      policy,
		OnSession:   br.Attach,
		OnQR:        onQR,
		Events:      events,
		Metrics:     m,
		Logger:      logger,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := br.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("bridge worker stopped", "err", err)
		}
	}()

	if cfg.Ops.Enabled {
		srv := ops.New(ops.Config{
			Addr:             cfg.Ops.Addr,
			Status:           manager,
			Events:           events,
			Metrics:          m,
			ConnectivityOnly: br.ConnectivityOnly(),
			Logger:           logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil {
				logger.Error("ops server error", "err", err)
			}
		}()
	}

	logger.Info("zapbot started. Press Ctrl+C to stop.", "version", version, "store", cfg.WhatsApp.StorePath)
	runErr := manager.Run(ctx)

	// Stop the bridge worker and ops server too when the manager gave up.
	stop()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
		queue.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
	}

	if errors.Is(runErr, connection.ErrLoggedOut) {
		return fmt.Errorf("%w: run 'zapbot logout' and start again to pair", runErr)
	}
	return nil
}

// logConnectionStates reports connection transitions at info level.
func logConnectionStates(events *bus.EventBus) {
	events.On(bus.EventConnectionState, func(e bus.Event) {
		logger.Info("whatsapp connection", "from", e.Attrs["from"], "to", e.Attrs["to"])
	})
}

// newResolver returns nil, selecting connectivity-only mode, when no
// backend URL is configured.
func newResolver(cfg *config.Config, m *metrics.Metrics) bridge.Resolver {
	if !cfg.BackendEnabled() {
		logger.Warn("backend.baseUrl (TYPEBOT_URL) not set; running in connectivity-only mode, messages will not be bridged")
		return nil
	}
	client := typebot.NewClient(typebot.ClientConfig{
		BaseURL:     cfg.Backend.BaseURL,
		ContinueURL: cfg.Backend.ContinueURL,
		CreateURL:   cfg.Backend.CreateURL,
		APIKey:      cfg.Backend.APIKey,
		Timeout:     cfg.Backend.Timeout(),
		Metrics:     m,
		Logger:      logger,
	})
	return typebot.NewCorrelator(typebot.CorrelatorConfig{
		Backend:           client,
		StripJIDSuffix:    cfg.Backend.StripJIDSuffix,
		NoNamePlaceholder: cfg.Backend.NoNamePlaceholder,
		Logger:            logger,
	})
}

func newTranslator(cfg *config.Config, m *metrics.Metrics) *reply.Translator {
	pacing := cfg.Reply.Pacing()
	if pacing == 0 {
		pacing = -1
	}
	return reply.New(reply.Config{Pacing: pacing, Metrics: m, Logger: logger})
}
