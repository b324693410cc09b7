package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/verdict/internal/chat"
	"github.com/MikeSquared-Agency/verdict/internal/config"
	"github.com/MikeSquared-Agency/verdict/internal/runner"
	"github.com/MikeSquared-Agency/verdict/internal/slack"
)

const classifyLongDesc = `Classify every conversation in a transcript file or directory.

Results are stored and published when DATABASE_URL and KAFKA_BROKERS are set,
unless --dry-run is given. Progress is saved to VERDICT_STATE_PATH so an
interrupted run resumes where it stopped.

Gold labels ("0" or "1", one per conversation) enable loss and accuracy:
--labels for a single file, or <transcript>.labels sidecar files in a
directory. --gold forces one label onto every conversation.

Example:
  verdict classify --file chats.tsv --labels chats.gold
  verdict classify --dir ./transcripts --pattern '*.txt' --dry-run`

func newClassifyCmd(cfg config.Config, logger *slog.Logger) *cobra.Command {
	var (
		rc   runner.Config
		gold string
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify transcript files in batch",
		Long:  classifyLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if (rc.File == "") == (rc.Dir == "") {
				return fmt.Errorf("exactly one of --file or --dir is required")
			}
			if rc.LabelsPath != "" && rc.File == "" {
				return fmt.Errorf("--labels requires --file")
			}
			if gold != "" {
				l, err := chat.ParseLabel(gold)
				if err != nil {
					return fmt.Errorf("--gold: %w", err)
				}
				rc.GoldLabel = &l
			}
			if !cmd.Flags().Changed("state") {
				rc.StatePath = cfg.StatePath
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			p, err := buildPipeline(ctx, cfg, logger, !rc.DryRun)
			if err != nil {
				return err
			}
			defer p.Close()

			var notifier runner.Notifier
			if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
				notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
			}

			r := runner.NewRunner(rc, p.processor(cfg, logger), notifier, cmd.OutOrStdout(), logger).
				WithAccuracy(p.accuracy)
			sum, err := r.Run(ctx)
			if err != nil {
				return err
			}
			if len(sum.Failed) > 0 {
				return fmt.Errorf("%d of %d sources failed", len(sum.Failed), sum.Sources)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rc.File, "file", "", "transcript file to classify")
	cmd.Flags().StringVar(&rc.Dir, "dir", "", "directory of transcript files")
	cmd.Flags().StringVar(&rc.Pattern, "pattern", "*.tsv", "file name glob used with --dir")
	cmd.Flags().StringVar(&rc.LabelsPath, "labels", "", "gold labels file for --file")
	cmd.Flags().StringVar(&gold, "gold", "", "force gold label 0 or 1 on every conversation")
	cmd.Flags().BoolVar(&rc.DryRun, "dry-run", false, "classify without storing, publishing or saving state")
	cmd.Flags().StringVar(&rc.StatePath, "state", "", "resume state file (default $VERDICT_STATE_PATH)")
	return cmd
}
