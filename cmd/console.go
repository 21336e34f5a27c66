package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"meshbot/pkg/channel"
	"meshbot/pkg/channel/loopback"
	"meshbot/pkg/gateway"
	"meshbot/pkg/logger"
	"meshbot/pkg/ui/console"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	consoleSender  string
	consoleLogFile string
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Talk to the bot over a simulated radio link",
	Long:  "Runs the full bot against an in-process loopback transport and opens an interactive terminal. Type a message to DM the bot, or #channel text to post on a channel.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := loadConfigOrDefault()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		// The console picks a free status port so it can run next to serve.
		cfg.Gateway.Port = 0

		logs := io.Discard
		if consoleLogFile != "" {
			file, err := os.OpenFile(consoleLogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer file.Close()
			logs = file
		}
		appLogger, err := logger.NewWithWriter(cfg.Logging, logs)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		stack, err := gateway.NewStack(cfg, appLogger, gateway.StackOptions{})
		if err != nil {
			return fmt.Errorf("initialize bot: %w", err)
		}
		defer stack.Close()

		transmissions := make(chan loopback.Transmission, 64)
		transport := loopback.New(loopback.Options{
			SelfName: cfg.Bot.Name,
			OnTransmit: func(tx loopback.Transmission) {
				select {
				case transmissions <- tx:
				default:
					appLogger.Warn("Console is not keeping up, dropping transmission", "text", channel.Preview(tx.Text))
				}
			},
			Logger: appLogger,
		})

		svc, err := gateway.NewService(cfg, stack, []channel.Transport{transport}, appLogger)
		if err != nil {
			return fmt.Errorf("initialize gateway: %w", err)
		}

		signalCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		runCtx, cancel := context.WithCancel(signalCtx)
		defer cancel()

		group, groupCtx := errgroup.WithContext(runCtx)
		group.Go(func() error {
			return svc.Run(groupCtx)
		})
		group.Go(func() error {
			defer cancel()
			return console.Run(groupCtx, console.Options{
				BotName:       cfg.Bot.Name,
				Sender:        consoleSender,
				Channels:      cfg.ChannelMap,
				Commands:      stack.Registry().Names(),
				Inject:        transport.Inject,
				Transmissions: transmissions,
			})
		})

		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVar(&consoleSender, "as", "console", "node name the typed messages come from")
	consoleCmd.Flags().StringVar(&consoleLogFile, "log-file", "", "append bot logs to this file instead of discarding them")
}
