package main

import (
	"context"
	"fmt"
	"time"

	"zapbot/internal/whatsapp"

	"github.com/spf13/cobra"
)

func logoutCmd() *cobra.Command {
	var localOnly bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Unlink the WhatsApp device and discard stored credentials",
		Long: `Unlinks this companion device from the phone and deletes the stored
credentials. Required after the session was logged out remotely; the next
run shows a new pairing QR code.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := whatsapp.OpenStore(cfg.WhatsApp.StorePath, logger)
			if err != nil {
				return fmt.Errorf("credential store: %w", err)
			}
			defer st.Close()

			if localOnly {
				if err := st.Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("Local credentials removed.")
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*cfg.WhatsApp.ConnectTimeout()+10*time.Second)
			defer cancel()

			transport := whatsapp.NewTransport(whatsapp.TransportConfig{
				Store:           st,
				ClientIdentity:  cfg.WhatsApp.ClientIdentity,
				ProtocolVersion: cfg.WhatsApp.ProtocolVersion,
				ConnectTimeout:  cfg.WhatsApp.ConnectTimeout(),
				Logger:          logger,
			})
			if err := transport.Unlink(ctx); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			fmt.Println("Logged out. Run 'zapbot' to pair again.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&localOnly, "local", false, "only delete local credentials, do not contact WhatsApp")
	return cmd
}
