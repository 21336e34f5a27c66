/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"os"

	"meshbot/pkg/config"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshbot",
	Short: "Keyword and command bot for mesh radio networks",
	Long: `meshbot listens on a companion radio (and optionally Telegram), answers
keywords and commands, and paces every reply to fit the mesh's airtime.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $MESHBOT_CONFIG, ./config.json or ./config/config.json)")
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}

	return config.LoadConfig()
}

// loadConfigOrDefault runs with built-in defaults when no config file exists.
func loadConfigOrDefault() (*config.Config, error) {
	cfg, err := loadConfig()
	if errors.Is(err, config.ErrNotFound) {
		cfg = config.Default()
		if err := config.ApplyEnv(cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	return cfg, err
}
