package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "llamagate",
	Short: "LlamaGate - security gateway for a local inference backend",
	Long: `LlamaGate is a reverse proxy that puts authentication, rate limiting,
and backpressure in front of a single local inference backend.

It accepts one HTTP/1.1 request per connection and provides:
  - Bearer-token authentication from a flat keys file, reloadable at runtime
  - Per-key rate limits over a trailing 60-second window
  - A concurrency gate that queues or sheds load toward the backend
  - Streaming request forwarding that keeps token streams flowing
  - CORS policy evaluation for browser clients
  - JSON or Prometheus-format metrics and a backend health probe`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (optional, env vars apply either way)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
