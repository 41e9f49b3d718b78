package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"callflow_backend/internal/bootstrap"
	"callflow_backend/platform/config"
	"callflow_backend/platform/logger"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

// runtimeLoader builds the processing runtime a command operates on.
type runtimeLoader func(ctx context.Context, opts bootstrap.Options) (*bootstrap.Runtime, error)

func main() {
	rootCmd := newRootCmd(loadRuntime)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(load runtimeLoader) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "callctl",
		Short: "Operate the call processing pipeline",
		Long: `callctl inspects stored calls and re-runs the processing pipeline.

It reads the same environment as the API (DATABASE_URL, REDIS_URL,
CLASSIFIER_API_KEY, CRM_BASE_URL, ...).`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newMigrateCmd(),
		newShowCmd(load),
		newPayloadCmd(load),
		newReprocessCmd(load),
		newReprocessStuckCmd(load),
	)
	return rootCmd
}

func loadRuntime(ctx context.Context, opts bootstrap.Options) (*bootstrap.Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.NewWithWriter(cfg.Env, os.Stderr)
	return bootstrap.Build(ctx, cfg, log, opts)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "callctl version %s\n", version)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
