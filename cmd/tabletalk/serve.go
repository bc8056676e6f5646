package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rahul/tabletalk/internal/gateway"
	"github.com/rahul/tabletalk/internal/observability"
	"github.com/rahul/tabletalk/internal/store"
	"github.com/rahul/tabletalk/pkg/config"
)

const (
	statusInterval    = time.Second
	heartbeatInterval = 30 * time.Second
)

func newServeCmd(c *cli) *cobra.Command {
	var dashboard bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer questions over the Telegram and Discord gateways",
		Long: `Run every enabled chat gateway until interrupted. Each chat keeps its own
conversation; transcripts are stored in memory.path when it is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			live := dashboard && observability.IsTerminal()

			var z *zap.Logger
			var err error
			if live {
				// Route all log output through the terminal mutex so it never
				// interrupts the dashboard's cursor save/restore sequence.
				z, err = observability.NewZapWriter(c.cfg.Logging.Level, c.cfg.Logging.Format, observability.NewTermWriter())
			} else {
				z, err = c.zapFor(cmd, "")
			}
			if err != nil {
				return err
			}

			a, err := c.newApp(cmd, z)
			if err != nil {
				return err
			}
			defer a.Close()

			var transcripts gateway.Transcripts
			if path := c.cfg.Memory.Path; path != "" {
				hs, err := store.NewHistoryStore(path)
				if err != nil {
					return err
				}
				defer hs.Close()
				transcripts = hs
			}

			messengers, err := c.gateways(a, transcripts, z)
			if err != nil {
				return err
			}

			if live {
				observability.InitializeTerminal(os.Stdout)
				defer observability.CleanupTerminal(os.Stdout)
			}
			return serve(cmd.Context(), messengers, a.logger, live)
		},
	}
	cmd.Flags().BoolVar(&dashboard, "dashboard", true, "draw the live status line when attached to a terminal")
	return cmd
}

// gateways connects every enabled chat gateway. Each gets its own session
// table and concurrency limit.
func (c *cli) gateways(a *app, transcripts gateway.Transcripts, z *zap.Logger) ([]gateway.Messenger, error) {
	window := c.cfg.Agent.HistoryWindow
	var ms []gateway.Messenger

	if gw, ok := c.cfg.GetGatewayConfig(config.GatewayTelegram); ok {
		sessions := gateway.NewSessions(a.orchestrator, transcripts, gw.MaxConcurrentTurns, window, z.Named("telegram"))
		tg, err := gateway.NewTelegramGateway(gw.Token, sessions, z.Named("telegram"))
		if err != nil {
			return nil, err
		}
		ms = append(ms, tg)
	}
	if gw, ok := c.cfg.GetGatewayConfig(config.GatewayDiscord); ok {
		sessions := gateway.NewSessions(a.orchestrator, transcripts, gw.MaxConcurrentTurns, window, z.Named("discord"))
		dc, err := gateway.NewDiscordGateway(gw.Token, sessions, z.Named("discord"))
		if err != nil {
			return nil, err
		}
		ms = append(ms, dc)
	}

	if len(ms) == 0 {
		return nil, errors.New("no gateway is enabled: set gateways.telegram or gateways.discord token and enabled")
	}
	return ms, nil
}

// serve runs the gateways with a heartbeat until ctx is done or any
// gateway stops on its own.
func serve(ctx context.Context, ms []gateway.Messenger, logger *observability.Logger, live bool) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, m := range ms {
		g.Go(func() error {
			err := m.Start(gctx)
			if err == nil && ctx.Err() == nil {
				err = errors.New("gateway stopped unexpectedly")
			}
			return err
		})
	}

	g.Go(func() error {
		observability.Heartbeat()
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				observability.Heartbeat()
				logger.LogHeartbeat()
			}
		}
	})

	if live {
		g.Go(func() error {
			ticker := time.NewTicker(statusInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					observability.PrintLiveStatus()
				}
			}
		})
	}

	err := g.Wait()
	logger.Zap().Info("gateway shut down")
	return err
}
