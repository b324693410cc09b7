// Package processor runs transcripts through the classifier and fans the
// results out to storage and event publishers.
package processor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/verdict/internal/chat"
	"github.com/MikeSquared-Agency/verdict/internal/hermes"
	"github.com/MikeSquared-Agency/verdict/internal/metrics"
	"github.com/MikeSquared-Agency/verdict/internal/model"
	"github.com/MikeSquared-Agency/verdict/internal/store"
)

// Classifier scores one conversation.
type Classifier interface {
	Classify(ctx context.Context, rec *chat.Record) (*model.Output, error)
}

// Publisher emits events. Both the NATS client and the Kafka sink satisfy it.
type Publisher interface {
	Publish(subject string, data any) error
}

// ClassificationWriter persists one classification.
type ClassificationWriter interface {
	WriteClassification(ctx context.Context, w store.ClassificationWrite) (uuid.UUID, error)
}

// Config wires a Processor. Classifier and Tokenizer are required.
type Config struct {
	Classifier  Classifier
	Tokenizer   chat.Tokenizer
	Store       ClassificationWriter
	Publishers  []Publisher
	Accuracy    *metrics.CategoricalAccuracy
	StrictHeads bool
	Pooler      string
	Encoder     string
	Logger      *slog.Logger
}

// Processor orchestrates verdict's classification pipeline.
type Processor struct {
	classifier Classifier
	tok        chat.Tokenizer
	store      ClassificationWriter
	publishers []Publisher
	accuracy   *metrics.CategoricalAccuracy
	strict     bool
	pooler     string
	encoder    string
	logger     *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats are running totals since start-up.
type Stats struct {
	Transcripts   int64   `json:"transcripts"`
	Conversations int64   `json:"conversations"`
	Failures      int64   `json:"failures"`
	Labelled      int64   `json:"labelled"`
	Accuracy      float64 `json:"accuracy"`
}

func New(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Processor{
		classifier: cfg.Classifier,
		tok:        cfg.Tokenizer,
		store:      cfg.Store,
		publishers: cfg.Publishers,
		accuracy:   cfg.Accuracy,
		strict:     cfg.StrictHeads,
		pooler:     cfg.Pooler,
		encoder:    cfg.Encoder,
		logger:     logger,
	}
}

// Result is the outcome for one conversation.
type Result struct {
	Ref       string     `json:"ref"`
	Index     int        `json:"index"`
	StartLine int        `json:"start_line"`
	Turns     int        `json:"turns"`
	Logits    [2]float64 `json:"logits"`
	Probs     [2]float64 `json:"probs"`
	Predicted int        `json:"predicted"`
	GoldLabel *int       `json:"gold_label,omitempty"`
	Loss      *float64   `json:"loss,omitempty"`
	StoredID  string     `json:"stored_id,omitempty"`
}

// Run is the outcome for one transcript.
type Run struct {
	RunID     uuid.UUID `json:"run_id"`
	SourceRef string    `json:"source_ref"`
	Results   []Result  `json:"results"`
}

// ConversationRef names conversation idx of sourceRef.
func ConversationRef(sourceRef string, idx int) string {
	return fmt.Sprintf("%s#conv-%d", sourceRef, idx)
}

// Process classifies every conversation in src. On error the returned Run
// holds the conversations completed before it.
func (p *Processor) Process(ctx context.Context, sourceRef string, src io.Reader, labels func(int) (chat.Label, bool)) (*Run, error) {
	run := &Run{RunID: uuid.New(), SourceRef: sourceRef}

	opts := []chat.ReaderOption{chat.WithLogger(p.logger)}
	if labels != nil {
		opts = append(opts, chat.WithLabelFunc(labels))
	}
	if p.strict {
		opts = append(opts, chat.WithStrictHeads())
	}

	p.bump(func(s *Stats) { s.Transcripts++ })

	rd := chat.NewReader(src, p.tok, opts...)
	for rd.Next() {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		res, err := p.processRecord(ctx, run, rd.Record())
		if err != nil {
			p.bump(func(s *Stats) { s.Failures++ })
			return run, err
		}
		run.Results = append(run.Results, *res)
	}
	if err := rd.Err(); err != nil {
		p.bump(func(s *Stats) { s.Failures++ })
		return run, fmt.Errorf("read %s after %d lines: %w", sourceRef, rd.Line(), err)
	}

	p.logger.Info("transcript classified",
		"source_ref", sourceRef,
		"run_id", run.RunID,
		"conversations", len(run.Results),
		"lines", rd.Line(),
	)
	return run, nil
}

func (p *Processor) processRecord(ctx context.Context, run *Run, rec *chat.Record) (*Result, error) {
	ref := ConversationRef(run.SourceRef, rec.Index())

	out, err := p.classifier.Classify(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", ref, err)
	}

	res := &Result{
		Ref:       ref,
		Index:     rec.Index(),
		StartLine: rec.StartLine(),
		Turns:     rec.Len(),
		Logits:    out.Logits,
		Probs:     out.Probs,
		Predicted: int(out.Predicted),
		Loss:      out.Loss,
	}
	if l, ok := rec.Label(); ok {
		gold := int(l)
		res.GoldLabel = &gold
	}

	p.bump(func(s *Stats) {
		s.Conversations++
		if res.GoldLabel != nil {
			s.Labelled++
		}
	})

	if p.store != nil {
		id, err := p.store.WriteClassification(ctx, p.toWrite(run, rec, res, out.Summary))
		if err != nil {
			// Persistence is best-effort; the result is still published.
			p.logger.Error("failed to store classification", "ref", ref, "error", err)
		} else {
			res.StoredID = id.String()
		}
	}

	p.publish(run, res)
	return res, nil
}

func (p *Processor) toWrite(run *Run, rec *chat.Record, res *Result, summary []float64) store.ClassificationWrite {
	heads := make([]string, rec.Len())
	lines := make([]string, rec.Len())
	for i := range heads {
		heads[i] = rec.Head(i).String()
		lines[i] = rec.Text(i)
	}
	return store.ClassificationWrite{
		RunID:      run.RunID,
		SourceRef:  run.SourceRef,
		Index:      res.Index,
		StartLine:  res.StartLine,
		Heads:      heads,
		Transcript: strings.Join(lines, "\n"),
		GoldLabel:  res.GoldLabel,
		Pooler:     p.pooler,
		Encoder:    p.encoder,
		Logits:     res.Logits,
		ProbPos:    res.Probs[1],
		Predicted:  res.Predicted,
		Loss:       res.Loss,
		Summary:    summary,
	}
}

func (p *Processor) publish(run *Run, res *Result) {
	if len(p.publishers) == 0 {
		return
	}
	ev := hermes.ConversationClassified{
		EventID:   uuid.New().String(),
		RunID:     run.RunID.String(),
		Ref:       res.Ref,
		SourceRef: run.SourceRef,
		Index:     res.Index,
		StartLine: res.StartLine,
		Turns:     res.Turns,
		Logits:    res.Logits,
		Probs:     res.Probs,
		Predicted: res.Predicted,
		GoldLabel: res.GoldLabel,
		Loss:      res.Loss,
		StoredID:  res.StoredID,
	}
	for _, pub := range p.publishers {
		if err := pub.Publish(hermes.SubjectConversationClassified, ev); err != nil {
			p.logger.Warn("failed to publish classification", "ref", res.Ref, "error", err)
		}
	}
}

// HandleTranscriptSubmitted is the NATS handler for verdict.transcript.submitted.
func (p *Processor) HandleTranscriptSubmitted(msg hermes.TranscriptSubmitted) {
	ctx := context.Background()

	labels, err := LabelsFromInts(msg.Labels)
	if err != nil {
		p.logger.Error("invalid labels in submission", "source_ref", msg.SourceRef, "error", err)
		return
	}

	sourceRef := msg.SourceRef
	if sourceRef == "" {
		sourceRef = "nats-" + uuid.New().String()[:8]
	}

	if _, err := p.Process(ctx, sourceRef, strings.NewReader(msg.Transcript), labels); err != nil {
		p.logger.Error("transcript processing failed", "source_ref", sourceRef, "error", err)
	}
}

// LabelsFromInts validates wire labels and turns them into a label function.
// An empty slice yields nil (no gold labels).
func LabelsFromInts(raw []int) (func(int) (chat.Label, bool), error) {
	if len(raw) == 0 {
		return nil, nil
	}
	labels := make([]chat.Label, len(raw))
	for i, v := range raw {
		switch v {
		case 0, 1:
			labels[i] = chat.Label(v)
		default:
			return nil, fmt.Errorf("label %d: want 0 or 1, got %d", i, v)
		}
	}
	return chat.LabelSlice(labels), nil
}

// Stats returns running totals, including accuracy over labelled conversations.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	s := p.stats
	p.mu.Unlock()
	if p.accuracy != nil {
		s.Accuracy = p.accuracy.Metric(false)
	}
	return s
}

func (p *Processor) bump(fn func(*Stats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.stats)
}
