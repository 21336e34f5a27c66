package cmd

import (
	"fmt"
	"time"

	"meshbot/pkg/connectivity"

	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check whether internet-dependent commands would run",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := loadConfigOrDefault()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		prober := connectivity.NewNetProber(cfg.Connectivity.TCPAddress, cfg.Connectivity.HTTPURLs, cfg.Connectivity.Timeout())

		started := time.Now()
		reachable := prober.Reachable(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), probeSummary(reachable, prober.TCPAddress, time.Since(started)))

		if !reachable {
			return fmt.Errorf("internet unreachable")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func probeSummary(reachable bool, tcpAddress string, elapsed time.Duration) string {
	state := "offline"
	if reachable {
		state = "online"
	}

	return fmt.Sprintf("%s (tcp %s, took %s)", state, tcpAddress, elapsed.Round(time.Millisecond))
}
