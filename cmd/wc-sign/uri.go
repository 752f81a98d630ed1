package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"moff.io/walletconnect-sign/internal/starter"
	"moff.io/walletconnect-sign/pkg/errors"
)

func newURICmd() *cobra.Command {
	var (
		qrPath string
		wait   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "uri",
		Short: "Create a pairing and print its wc: uri",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			conf, err := loadConfig(path)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, conf)
			if err != nil {
				return err
			}
			defer a.close()
			defer starter.Stop(a.relay, a.client)
			if err := a.client.Start(ctx); err != nil {
				return err
			}
			settled := a.client.SessionSettled()
			defer settled.Cancel()

			_, uri, err := a.client.CreatePairing(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri.String())
			if qrPath != "" {
				if err := qrcode.WriteFile(uri.String(), qrcode.Medium, qrSize, qrPath); err != nil {
					return errors.Wrap(err, "write qr code")
				}
			}
			if wait <= 0 {
				return nil
			}
			select {
			case s := <-settled.C():
				fmt.Fprintf(cmd.OutOrStdout(), "session %s settled with %s\n", s.Topic, s.Peer.Metadata.Name)
				return nil
			case <-time.After(wait):
				return errors.New("no session settled in time")
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	cmd.Flags().StringVar(&qrPath, "qr", "", "also write the uri as a PNG qr code to this path")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait this long for a wallet to settle a session")
	return cmd
}

const qrSize = 256
