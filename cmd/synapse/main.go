// Command synapse runs an agent topology from a YAML config file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/synapse-agents/synapse"
	"github.com/synapse-agents/synapse/config"
	"github.com/synapse-agents/synapse/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "synapse",
	Short: "Asynchronous agent message bus",
	Long: `Synapse runs a set of autonomous agents wired by keyword connections.
Agents activate when input lands in their cache, reason over it, and
publish results back onto the bus. Topologies are described in YAML.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the topology until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}

		logger := logging.New(&logging.Config{
			Level:  logging.ParseLevel(cfg.Logging.Level),
			Format: cfg.Logging.Format,
			Output: os.Stderr,
		})

		sys, err := synapse.New(cfg, func(o *synapse.Options) {
			o.Logger = logger
		})
		if err != nil {
			return err
		}
		defer sys.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("running topology", "config", configPath, "agents", len(cfg.Agents))
		return sys.Run(ctx)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a topology file without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d agents, %d connections, %d schedule entries\n",
			configPath, len(cfg.Agents), len(cfg.Connections), len(cfg.Schedule))
		return nil
	},
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List stored checkpoints for a topology",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		sys, err := synapse.New(cfg, func(o *synapse.Options) {
			o.Logger = logging.NoOpLogger{}
		})
		if err != nil {
			return err
		}
		defer sys.Close()

		names, err := sys.Checkpointer().List(cmd.Context())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no checkpoints")
			return nil
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "synapse.yaml", "topology config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log format (text, json)")
	rootCmd.AddCommand(runCmd, validateCmd, checkpointsCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
