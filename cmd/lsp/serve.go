package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/775kkk/logic-signal-protector-sub000/internal/config"
	"github.com/775kkk/logic-signal-protector-sub000/internal/session"
	"github.com/775kkk/logic-signal-protector-sub000/internal/telegraph"
	discordadapter "github.com/775kkk/logic-signal-protector-sub000/internal/telegraph/discord"
	slackadapter "github.com/775kkk/logic-signal-protector-sub000/internal/telegraph/slack"
	"github.com/775kkk/logic-signal-protector-sub000/internal/webhook"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and chat bridge",
		Long: "Starts the HTTP webhook, the scheduled session sweep and, when telegraph.platform " +
			"is configured, the Slack or Discord chat bridge. Stops on SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to lsp config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)
	if port > 0 {
		cfg.Server.Port = port
	}

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	st, err := buildStack(cfg, gormDB, log)
	if err != nil {
		return err
	}

	sweeper, err := session.NewSweeper(session.SweeperOpts{
		Store:  st.sessions,
		Cron:   cfg.Router.SweepCron,
		Logger: log.Named("sweeper"),
	})
	if err != nil {
		return err
	}

	var daemon *telegraph.Daemon
	if cfg.Telegraph.Platform != "" {
		adapter, err := createAdapter(cfg, log)
		if err != nil {
			return err
		}
		daemon, err = telegraph.NewDaemon(telegraph.DaemonOpts{
			Adapter:         adapter,
			Handler:         st.router,
			AnnounceChannel: cfg.Telegraph.Channel,
			Logger:          log.Named("telegraph"),
		})
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return webhook.Start(gctx, webhook.StartOpts{
			EngineOpts: webhook.EngineOpts{
				Handler:  st.router,
				Commands: st.router,
				Logger:   log.Named("webhook"),
			},
			Port: cfg.Server.Port,
			Out:  cmd.OutOrStdout(),
		})
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	if daemon != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Chat bridge starting on %s\n", cfg.Telegraph.Platform)
		g.Go(func() error {
			return daemon.Run(gctx)
		})
	}
	return g.Wait()
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config, log *zap.Logger) (telegraph.Adapter, error) {
	switch cfg.Telegraph.Platform {
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Telegraph.Slack.AppToken,
			BotToken:  cfg.Telegraph.Slack.BotToken,
			ChannelID: cfg.Telegraph.Channel,
			Logger:    log.Named("slack"),
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Telegraph.Discord.BotToken,
			ChannelID: cfg.Telegraph.Channel,
			Logger:    log.Named("discord"),
		})
	default:
		return nil, fmt.Errorf("telegraph: unsupported platform %q", cfg.Telegraph.Platform)
	}
}
