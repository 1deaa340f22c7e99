package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds connection flags for commands that talk to a running daemon.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := &cobra.Command{
		Use:   "faultgate",
		Short: "Resilience supervisor for external command execution",
		Long: "faultgate gates calls to an unreliable external command subsystem with a\n" +
			"persisted circuit breaker, a background health monitor, and adaptive\n" +
			"per-call timeouts learned from latency history.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "", "path to TOML config file")

	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(apiFlags),
		createStatsCommand(apiFlags),
		createCheckCommand(apiFlags),
		createFailuresCommand(apiFlags),
		createSweepCommand(globalFlags),
	)
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.URL, "api-url", "http://127.0.0.1:8420/api", "base URL of a running faultgate daemon")
	cmd.Flags().DurationVar(&f.Timeout, "api-timeout", 10*time.Second, "HTTP timeout for daemon requests")
}
