// Package runner classifies transcript files in bulk, resuming from saved
// state after an interruption.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/verdict/internal/chat"
	"github.com/MikeSquared-Agency/verdict/internal/processor"
	"github.com/MikeSquared-Agency/verdict/internal/slack"
)

// LabelsSuffix marks a sidecar gold-label file: transcript.tsv pairs with
// transcript.tsv.labels.
const LabelsSuffix = ".labels"

// Config holds the classify command configuration.
type Config struct {
	File       string // classify a single file
	Dir        string // classify every matching file under Dir
	Pattern    string // base-name glob for Dir (default "*.tsv")
	LabelsPath string // gold labels for File; Dir uses sidecar files
	GoldLabel  *chat.Label
	DryRun     bool
	StatePath  string
}

// Processor classifies one transcript.
type Processor interface {
	Process(ctx context.Context, sourceRef string, src io.Reader, labels func(int) (chat.Label, bool)) (*processor.Run, error)
}

// Notifier receives the run summary. Failed sources go to a thread reply on
// the summary message.
type Notifier interface {
	PostRunSummary(ctx context.Context, s slack.RunSummary) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

// Accuracy is the accumulator the classifier feeds with labelled predictions.
type Accuracy interface {
	Metric(reset bool) float64
	Counts() (correct, total int64)
}

// Runner orchestrates a batch classification run.
type Runner struct {
	cfg      Config
	proc     Processor
	notifier Notifier
	accuracy Accuracy
	out      io.Writer
	logger   *slog.Logger
}

// NewRunner creates a runner. notifier may be nil.
func NewRunner(cfg Config, proc Processor, notifier Notifier, out io.Writer, logger *slog.Logger) *Runner {
	if cfg.Pattern == "" {
		cfg.Pattern = "*.tsv"
	}
	return &Runner{cfg: cfg, proc: proc, notifier: notifier, out: out, logger: logger}
}

// WithAccuracy reports per-run accuracy from acc, which must be the
// accumulator wired into the classifier. Without it accuracy is not reported.
func (r *Runner) WithAccuracy(acc Accuracy) *Runner {
	r.accuracy = acc
	return r
}

type pendingFile struct {
	path   string
	digest string
}

// Run classifies every pending file and returns the run summary.
func (r *Runner) Run(ctx context.Context) (*slack.RunSummary, error) {
	start := time.Now()

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	files, err := r.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	var pending []pendingFile
	for _, f := range files {
		digest, err := fileDigest(f)
		if err != nil {
			r.logger.Warn("failed to fingerprint file", "path", f, "error", err)
		}
		if state.Classified(f, digest) {
			continue
		}
		pending = append(pending, pendingFile{path: f, digest: digest})
	}
	r.logger.Info("files to classify", "total", len(files), "pending", len(pending), "dry_run", r.cfg.DryRun)

	sum := &slack.RunSummary{RunID: uuid.New().String(), DryRun: r.cfg.DryRun}
	state.StartRun(sum.RunID)
	if r.accuracy != nil {
		r.accuracy.Metric(true)
	}
	var t tally

	for _, pf := range pending {
		if err := ctx.Err(); err != nil {
			r.logger.Info("run interrupted, saving state")
			return r.finish(ctx, sum, &t, state, start), err
		}

		run, err := r.classifyFile(ctx, pf.path)
		if run != nil {
			t.add(run.Results)
		}
		sum.Sources++
		if err != nil {
			r.logger.Error("classification failed", "path", pf.path, "error", err)
			state.Fail(pf.path, err)
			sum.Failed = append(sum.Failed, pf.path)
			if ctx.Err() != nil {
				return r.finish(ctx, sum, &t, state, start), ctx.Err()
			}
			r.saveState(state)
			continue
		}

		state.Record(pf.path, pf.digest, sum.RunID, len(run.Results))
		r.saveState(state)
	}

	return r.finish(ctx, sum, &t, state, start), nil
}

func (r *Runner) classifyFile(ctx context.Context, path string) (*processor.Run, error) {
	labels, err := r.labelsFor(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	r.logger.Info("classifying file", "path", path)
	return r.proc.Process(ctx, path, f, labels)
}

// labelsFor resolves gold labels for path: a forced constant label wins,
// then an explicit labels file, then a sidecar file next to the transcript.
func (r *Runner) labelsFor(path string) (func(int) (chat.Label, bool), error) {
	if r.cfg.GoldLabel != nil {
		return chat.ConstantLabel(*r.cfg.GoldLabel), nil
	}

	labelsPath := r.cfg.LabelsPath
	if labelsPath == "" || r.cfg.File == "" {
		labelsPath = path + LabelsSuffix
		if _, err := os.Stat(labelsPath); errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
	}

	f, err := os.Open(labelsPath)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	labels, err := chat.ReadLabels(f)
	if err != nil {
		return nil, fmt.Errorf("read labels %s: %w", labelsPath, err)
	}
	return chat.LabelSlice(labels), nil
}

func (r *Runner) discoverFiles() ([]string, error) {
	if r.cfg.File != "" {
		path := expandHome(r.cfg.File)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return []string{path}, nil
	}
	if r.cfg.Dir == "" {
		return nil, fmt.Errorf("either a file or a directory is required")
	}

	dir := expandHome(r.cfg.Dir)
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(r.cfg.Pattern, d.Name())
		if err != nil {
			return err
		}
		if ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	slices.Sort(files)
	return files, nil
}

func (r *Runner) saveState(s *State) {
	if r.cfg.DryRun {
		return
	}
	if err := s.Save(); err != nil {
		r.logger.Warn("failed to save state", "path", s.Path(), "error", err)
	}
}

func (r *Runner) finish(ctx context.Context, sum *slack.RunSummary, t *tally, state *State, start time.Time) *slack.RunSummary {
	sum.Conversations = t.conversations
	sum.Predicted = t.predicted
	if r.accuracy != nil {
		_, total := r.accuracy.Counts()
		sum.Labelled = int(total)
		sum.Accuracy = r.accuracy.Metric(true)
	}
	if t.losses > 0 {
		sum.MeanLoss = t.lossSum / float64(t.losses)
	}
	sum.Duration = time.Since(start)

	state.FinishRun(sum, ctx.Err() != nil)
	r.saveState(state)

	r.logger.Info("classification run complete",
		"run_id", sum.RunID,
		"sources", sum.Sources,
		"conversations", sum.Conversations,
		"failed", len(sum.Failed),
		"accuracy", sum.Accuracy,
		"classified_total", state.Conversations(),
		"dry_run", sum.DryRun,
	)

	if r.out != nil {
		fmt.Fprintf(r.out, "\n=== Classification Summary ===\n")
		fmt.Fprintf(r.out, "Sources: %d (%d failed)\n", sum.Sources, len(sum.Failed))
		fmt.Fprintf(r.out, "Conversations: %d\n", sum.Conversations)
		fmt.Fprintf(r.out, "Predicted: %d negative, %d positive\n", sum.Predicted[0], sum.Predicted[1])
		if sum.Labelled > 0 {
			fmt.Fprintf(r.out, "Accuracy: %.4f over %d labelled (mean loss %.4f)\n", sum.Accuracy, sum.Labelled, sum.MeanLoss)
		}
		if sum.DryRun {
			fmt.Fprintf(r.out, "Mode: DRY RUN (state not saved)\n")
		}
	}

	if r.notifier != nil && sum.Sources > 0 {
		r.notify(context.WithoutCancel(ctx), sum)
	}
	return sum
}

func (r *Runner) notify(ctx context.Context, sum *slack.RunSummary) {
	ts, err := r.notifier.PostRunSummary(ctx, *sum)
	if err != nil {
		r.logger.Warn("failed to post run summary", "error", err)
		return
	}
	if len(sum.Failed) == 0 || ts == "" {
		return
	}
	if err := r.notifier.PostThread(ctx, ts, slack.FormatFailures(sum.Failed)); err != nil {
		r.logger.Warn("failed to post failed sources", "error", err)
	}
}

type tally struct {
	conversations int
	predicted     [2]int
	losses        int
	lossSum       float64
}

func (t *tally) add(results []processor.Result) {
	for _, res := range results {
		t.conversations++
		t.predicted[res.Predicted]++
		if res.Loss != nil {
			t.losses++
			t.lossSum += *res.Loss
		}
	}
}
