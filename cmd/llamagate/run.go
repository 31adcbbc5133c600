package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"llamagate/llamagate/pkg/cli"
	"llamagate/llamagate/pkg/config"
	"llamagate/llamagate/pkg/server"
	"llamagate/llamagate/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway",
	Long: `Start the gateway with the specified configuration.

Configuration comes from the optional YAML file plus environment
variables (GATEWAY_PORT, BACKEND_HOST, AUTH_KEYS_FILE, and the rest);
environment values win.

Examples:
  # Environment-driven start
  llamagate run

  # Start with a config file
  llamagate run --config /etc/llamagate/config.yaml

  # Override the listen address
  llamagate run --listen 0.0.0.0:9000

  # Validate configuration without starting
  llamagate run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the gateway")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("loading config: %v", err))
	}

	if runFlags.listenAddress != "" {
		cfg.Gateway.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.LogLevel = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}

	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Telemetry.LogLevel,
		Format: cfg.Telemetry.LogFormat,
	})
	if err != nil {
		return cli.NewConfigError("telemetry", err.Error())
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		fmt.Printf("  listen:  %s\n", cfg.Gateway.ListenAddress)
		fmt.Printf("  backend: %s\n", cfg.Backend.Address())
		fmt.Printf("  auth:    %v (keys file %s)\n", cfg.Auth.Enabled, cfg.Auth.KeysFile)
		return nil
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}
