package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// defaultConfigPath is used when --config is not given.
const defaultConfigPath = "lsp.yaml"

var debugLogging bool

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lsp",
		Short: "Logic Signal Protector chat command router",
		Long: "lsp routes chat commands from Slack, Discord, HTTP webhooks and the terminal " +
			"to identity, market data and SQL console backends.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "enable debug logging")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newSwitchCmd())
	cmd.AddCommand(newUserCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lsp %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// newLogger builds the process logger. Logs go to stderr so command output
// stays clean.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debugLogging {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
