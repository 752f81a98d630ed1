package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"moff.io/walletconnect-sign/internal/audit"
	"moff.io/walletconnect-sign/internal/cache"
	"moff.io/walletconnect-sign/internal/config"
	"moff.io/walletconnect-sign/internal/http"
	"moff.io/walletconnect-sign/internal/sign"
	"moff.io/walletconnect-sign/internal/starter"
	"moff.io/walletconnect-sign/pkg/common"
	"moff.io/walletconnect-sign/pkg/log"
	"moff.io/walletconnect-sign/pkg/log/middleware"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sign client with its HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			return serve(path)
		},
	}
}

func serve(path string) error {
	log.Infof("Starting app %s", version)
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

	var limiter middleware.Limiter
	if a.redis != nil {
		limiter = cache.NewLimiter(a.redis, conf.HTTP.RatePerSecond)
	}
	recorder := audit.NewRecorder(a.client, a.sinks...)
	elems := make([]starter.Startable, 0, 8)
	if a.trace != nil {
		elems = append(elems, a.trace)
	}
	for _, sink := range a.sinks {
		if s, ok := sink.(starter.Startable); ok {
			elems = append(elems, s)
		}
	}
	// recorder在client之前订阅，避免漏掉恢复期间的事件
	elems = append(elems, recorder, a.client, sign.NewSweeper(a.client, 0), http.NewServer(a.client, limiter))

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		starter.Stop(a.relay, a.client, recorder)
	}
	defer stop()
	if err := starter.Start(ctx, elems...); err != nil {
		return err
	}
	a.started = true
	if conf.Role == config.RoleWallet {
		go logProposals(ctx, a.client)
	}

	<-ctx.Done()
	log.Info("Shutting down...")
	stop()
	return nil
}

func logProposals(ctx context.Context, client *sign.Client) {
	sub := client.SessionProposals()
	defer sub.Cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			log.Infof("session proposal %d from %s for %s, approve with POST /proposals/%d/approve",
				e.Proposal.ID, e.Proposal.Proposer.Metadata.Name, common.MustGetJSONString(e.Proposal.OptionalNamespaces), e.Proposal.ID)
		}
	}
}
