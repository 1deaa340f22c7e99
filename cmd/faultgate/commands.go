package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/faultgate"
	"github.com/loykin/faultgate/internal/store/factory"
)

func createStatusCommand(api *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show supervisor status (circuit state, health, latency)",
		RunE: func(_ *cobra.Command, _ []string) error {
			out, err := NewAPIClient(api.URL, api.Timeout).GetStatus()
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	addAPIFlags(cmd, api)
	return cmd
}

func createStatsCommand(api *APIFlags) *cobra.Command {
	var window string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-category execution statistics from the store",
		RunE: func(_ *cobra.Command, _ []string) error {
			out, err := NewAPIClient(api.URL, api.Timeout).GetStats(window)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&window, "window", "24h", "aggregation window, e.g. 1h, 24h, 168h")
	addAPIFlags(cmd, api)
	return cmd
}

func createCheckCommand(api *APIFlags) *cobra.Command {
	var override string
	cmd := &cobra.Command{
		Use:   "check <category>",
		Short: "Pre-flight a protected call: eligibility plus computed timeout",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			out, err := NewAPIClient(api.URL, api.Timeout).Check(args[0], override)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&override, "override", "", "caller-supplied timeout override, e.g. 45s")
	addAPIFlags(cmd, api)
	return cmd
}

func createFailuresCommand(api *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "List the failure taxonomy with retryability and hints",
		RunE: func(_ *cobra.Command, _ []string) error {
			out, err := NewAPIClient(api.URL, api.Timeout).GetFailures()
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	addAPIFlags(cmd, api)
	return cmd
}

// createSweepCommand runs a retention sweep against the configured store
// without starting the daemon. Useful after lowering retention or before
// backing up the database file.
func createSweepCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a retention sweep against the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := faultgate.DefaultConfig()
			if global.ConfigPath != "" {
				loaded, err := faultgate.LoadConfig(global.ConfigPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			st, err := factory.New(cfg.StoreSettings())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			ctx := context.Background()
			if err := st.EnsureSchema(ctx); err != nil {
				return err
			}
			outcomes, health, err := st.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d outcomes, %d health samples\n", outcomes, health)
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
