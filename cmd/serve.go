package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"meshbot/pkg/channel"
	"meshbot/pkg/channel/bridge"
	"meshbot/pkg/channel/telegram"
	"meshbot/pkg/config"
	"meshbot/pkg/gateway"
	"meshbot/pkg/logger"
	"meshbot/pkg/stats"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot on the configured transports",
	Long:  "Connects to the companion radio bridge and any other enabled channels, answers keywords and commands, and serves health and readiness endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := appLogger.With("component", "cmd.serve")

		stack, err := gateway.NewStack(cfg, appLogger, gateway.StackOptions{})
		if err != nil {
			return fmt.Errorf("initialize bot: %w", err)
		}
		defer stack.Close()

		transports, err := enabledTransports(cfg, stack.Store(), appLogger)
		if err != nil {
			return err
		}

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := gateway.NewService(cfg, stack, transports, appLogger)
		if err != nil {
			return fmt.Errorf("initialize gateway: %w", err)
		}

		log.Info("Bot starting", "name", cfg.Bot.Name, "transports", transportNames(transports), "commands", stack.Registry().Len())
		if err := svc.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Bot runtime failed", "error", err)
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// enabledTransports builds every enabled transport. The bridge comes first so
// it is the primary lane when present.
func enabledTransports(cfg *config.Config, store *stats.Store, log *slog.Logger) ([]channel.Transport, error) {
	transports := make([]channel.Transport, 0, 2)

	if cfg.Channels.Bridge.Enabled {
		opts := bridge.Options{
			URL:            cfg.Channels.Bridge.URL,
			RequestTimeout: cfg.Channels.Bridge.RequestTimeout(),
			ReconnectDelay: cfg.Channels.Bridge.ReconnectDelay(),
			Logger:         log,
		}
		if store != nil {
			opts.Nodes = store
		}

		adapter, err := bridge.NewAdapter(opts)
		if err != nil {
			return nil, fmt.Errorf("configure bridge transport: %w", err)
		}
		transports = append(transports, adapter)
	}

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram transport: %w", err)
		}
		transports = append(transports, adapter)
	}

	if len(transports) == 0 {
		return nil, errors.New("no transports are enabled")
	}

	return transports, nil
}

func transportNames(transports []channel.Transport) string {
	names := make([]string, 0, len(transports))
	for _, transport := range transports {
		names = append(names, transport.Name())
	}

	return strings.Join(names, ",")
}
