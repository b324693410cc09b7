package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/verdict/internal/config"
)

func main() {
	cfg := config.Load()
	logger, cleanup := config.SetupLogger(cfg.LogLevel, cfg.LogFile)
	defer cleanup()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(cfg, logger).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		cleanup()
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verdict",
		Short: "Classify turn-structured conversations",
		Long: `verdict parses tab-separated conversation transcripts, encodes each
conversation turn by turn, and produces a binary classification per
conversation.

Transcript format: one "<head>\t<turn text>" line per turn, where head is
"root" or the 0-based index of the turn being answered. A blank line ends a
conversation.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCmd(cfg, logger))
	cmd.AddCommand(newClassifyCmd(cfg, logger))
	return cmd
}
