package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"zapbot/internal/config"
	"zapbot/internal/whatsapp"

	"go.mau.fi/whatsmeow/store"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, pairing and live connection status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, found, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("Config:      %s (loaded: %v)\n", resolveConfigPath(), found)
			if cfg.BackendEnabled() {
				fmt.Printf("Backend:     %s\n", config.Sanitize(cfg).Backend.BaseURL)
			} else {
				fmt.Printf("Backend:     not configured (connectivity-only mode)\n")
			}
			fmt.Printf("Store:       %s\n", cfg.WhatsApp.StorePath)

			st, err := whatsapp.OpenStore(cfg.WhatsApp.StorePath, logger)
			if err != nil {
				fmt.Printf("Paired:      unknown (%v)\n", err)
			} else {
				creds, err := st.Load(cmd.Context())
				switch {
				case err != nil:
					fmt.Printf("Paired:      unknown (%v)\n", err)
				case creds == nil:
					fmt.Printf("Paired:      no (a QR code is shown on next run)\n")
				default:
					dev := creds.(*store.Device)
					fmt.Printf("Paired:      yes (%s)\n", dev.ID.String())
				}
				st.Close()
			}

			if !cfg.Ops.Enabled {
				fmt.Printf("Connection:  unknown (ops server disabled)\n")
				return nil
			}
			state, err := fetchLiveState(cmd.Context(), cfg.Ops.Addr)
			if err != nil {
				fmt.Printf("Connection:  not running (%v)\n", err)
				return nil
			}
			fmt.Printf("Connection:  %s\n", state)
			return nil
		},
	}
}

func fetchLiveState(ctx context.Context, addr string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/status", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body struct {
		State      string `json:"state"`
		Reconnects int    `json:"reconnects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode status: %w", err)
	}
	return fmt.Sprintf("%s (%d reconnects)", body.State, body.Reconnects), nil
}
