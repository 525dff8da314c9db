package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Socheema/Framez-sub000/internal/auth"
	"github.com/Socheema/Framez-sub000/internal/config"
	"github.com/Socheema/Framez-sub000/internal/realtime"
	"github.com/Socheema/Framez-sub000/internal/relay"
	"github.com/Socheema/Framez-sub000/store"
)

var relayAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Serve Postgres change events to clients over websockets",
	Long: `relay listens on the Postgres notification channel fed by the change
triggers and forwards every row change to the websocket clients whose
filter matches it. Clients authenticate with the token issued by login.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := cfg.Relay.Addr
		if relayAddr != "" {
			addr = relayAddr
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		hub := realtime.NewHub(log.Named("hub"))
		defer hub.Close()

		authn := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		srv := relay.New(hub, authn, reg, log.Named("relay"))

		g, ctx := errgroup.WithContext(ctx)
		if cfg.Backend == config.BackendPostgres {
			listener := realtime.NewPGListener(cfg.Database.URL, store.NotifyChannel, hub, log.Named("pg"))
			g.Go(func() error { return listener.Run(ctx) })
		} else {
			log.Warn("memory backend has no change feed, the relay will stay idle")
		}
		g.Go(func() error { return srv.Run(ctx, addr) })
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVar(&relayAddr, "addr", "", "listen address (default from relay.addr)")
}
