package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"moff.io/walletconnect-sign/pkg/errors"
	"moff.io/walletconnect-sign/pkg/log"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wc-sign",
		Short:         "WalletConnect v2 sign client",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringP("config", "c", "", "config file path, defaults are used when empty")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newURICmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return cmd
}
