package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"zapbot/internal/config"
	"zapbot/internal/whatsapp"

	"github.com/spf13/cobra"
	"go.mau.fi/whatsmeow"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your zapbot installation",
		Long: `Verifies that zapbot's configuration, credential store, backend and
WhatsApp connectivity are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("zapbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var passed, failed, warned int
			pass := func(check, detail string) { printPass(check, detail); passed++ }
			fail := func(check, detail string) { printFail(check, detail); failed++ }
			warn := func(check, detail string) { printWarn(check, detail); warned++ }

			// 1. Config file and validation
			cfg, found, err := config.LoadOrDefaults(cfgPath)
			switch {
			case err != nil:
				fail("Config", err.Error())
			case !found:
				warn("Config", fmt.Sprintf("not found at %s, using defaults and environment", cfgPath))
			default:
				pass("Config", cfgPath)
			}
			if cfg == nil {
				fmt.Printf("\nFix the config file, or run 'zapbot init' to create a default one.\n")
				return fmt.Errorf("config invalid")
			}

			// 2. Credential store
			st, err := whatsapp.OpenStore(cfg.WhatsApp.StorePath, logger)
			if err != nil {
				fail("Credential store", err.Error())
			} else {
				pass("Credential store", cfg.WhatsApp.StorePath)
				creds, err := st.Load(cmd.Context())
				switch {
				case err != nil:
					fail("Pairing", err.Error())
				case creds == nil:
					warn("Pairing", "no linked device yet, a QR code will be shown on start")
				default:
					pass("Pairing", "device linked")
				}
				st.Close()
			}

			// 3. Backend
			if !cfg.BackendEnabled() {
				warn("Backend", "not configured, connectivity-only mode")
			} else if err := checkBackend(cmd.Context(), cfg.Backend.BaseURL); err != nil {
				fail("Backend", err.Error())
			} else {
				pass("Backend", config.Sanitize(cfg).Backend.BaseURL)
			}

			// 4. WhatsApp web reachable
			if cfg.WhatsApp.ProtocolVersion == "auto" {
				latest, err := whatsmeow.GetLatestVersion(&http.Client{Timeout: 10 * time.Second})
				if err != nil {
					warn("WhatsApp web", fmt.Sprintf("cannot fetch current version: %v", err))
				} else {
					pass("WhatsApp web", "version "+latest.String())
				}
			} else {
				pass("WhatsApp web", "pinned version "+cfg.WhatsApp.ProtocolVersion)
			}

			// 5. Ops port
			if cfg.Ops.Enabled {
				if err := checkAddr(cfg.Ops.Addr); err != nil {
					warn("Ops address", fmt.Sprintf("%s may be in use: %v", cfg.Ops.Addr, err))
				} else {
					pass("Ops address", cfg.Ops.Addr+" available")
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running zapbot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nzapbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! zapbot is ready to run.\n")
			}
			return nil
		},
	}
}

// checkBackend only checks that the backend answers HTTP at all; any
// status code counts as reachable.
func checkBackend(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Fprintf(os.Stdout, "  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Fprintf(os.Stdout, "  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Fprintf(os.Stdout, "  [WARN] %-20s %s\n", check, detail)
}
