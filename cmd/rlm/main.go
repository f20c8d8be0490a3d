// Command rlm answers questions about documents too large for a prompt. The
// document is bound to `context` in a Python sandbox and a language model
// explores it by writing code, recursing into sub-queries through llm_query.
//
//	rlm run -f report.docx "Which endpoints accept file uploads?"
//	rlm needle --lines 100000 --run
//	rlm sessions ls
//	rlm mcp --transport stdio
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nevindra/rlm/internal/config"
	"github.com/nevindra/rlm/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "rlm",
	Short: "Recursive language model over a persistent Python sandbox",
	Long: `rlm loads a document into a sandboxed Python session and lets a language
model answer a query about it by writing and running code in rounds.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default $RLM_CONFIG or rlm.toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config selected by --config and applies --log-level.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.New(logging.ParseLevel(cfg.Log.Level))
}
