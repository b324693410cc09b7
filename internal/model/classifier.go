// Package model implements the nested sequence encoder: turns are pooled into
// vectors, the vectors are encoded as a sequence, and a linear head scores the
// conversation.
package model

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/verdict/internal/chat"
	"github.com/MikeSquared-Agency/verdict/internal/metrics"
)

const defaultWorkers = 4

// Output is the result of classifying one conversation.
type Output struct {
	Logits    [NumClasses]float64
	Probs     [NumClasses]float64
	Predicted chat.Label
	// Loss is set only when the record carries a gold label.
	Loss    *float64
	Summary []float64
}

// Classifier composes a pooler, an encoder and a head.
type Classifier struct {
	pooler  TurnPooler
	encoder ConversationEncoder
	head    Head
	loss    metrics.LossFunc
	acc     metrics.Accumulator
	workers int
	logger  *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithWorkers bounds how many turns are pooled concurrently.
func WithWorkers(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLoss replaces the default cross-entropy loss.
func WithLoss(fn metrics.LossFunc) Option {
	return func(c *Classifier) { c.loss = fn }
}

// WithAccumulator receives the logits and gold label of every labelled record.
func WithAccumulator(a metrics.Accumulator) Option {
	return func(c *Classifier) { c.acc = a }
}

// WithLogger sets the debug log sink. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// New wires the three stages together, rejecting mismatched dimensions.
func New(pooler TurnPooler, encoder ConversationEncoder, head Head, opts ...Option) (*Classifier, error) {
	if pooler.Dim() != encoder.InputDim() {
		return nil, &ShapeError{Stage: "encoder input", Want: encoder.InputDim(), Got: pooler.Dim()}
	}
	if encoder.OutputDim() != head.InputDim() {
		return nil, &ShapeError{Stage: "head input", Want: head.InputDim(), Got: encoder.OutputDim()}
	}

	c := &Classifier{
		pooler:  pooler,
		encoder: encoder,
		head:    head,
		loss:    metrics.CrossEntropy,
		workers: defaultWorkers,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify scores one conversation. Turns are pooled concurrently and then
// encoded in their original order.
func (c *Classifier) Classify(ctx context.Context, rec *chat.Record) (*Output, error) {
	if rec == nil || rec.Len() == 0 {
		return nil, &InvalidRecordError{Reason: "conversation has no turns"}
	}

	vecs, err := c.poolTurns(ctx, rec)
	if err != nil {
		return nil, err
	}

	enc, err := c.encoder.Encode(vecs)
	if err != nil {
		return nil, fmt.Errorf("encode conversation: %w", err)
	}

	logits, err := c.head.Project(enc.Final)
	if err != nil {
		return nil, fmt.Errorf("project summary: %w", err)
	}
	if !allFinite(logits[:]) {
		return nil, fmt.Errorf("classify record %d: logits %v: %w", rec.Index(), logits, ErrNumeric)
	}

	out := &Output{
		Logits:    logits,
		Predicted: chat.Label(metrics.Argmax(logits[:])),
		Summary:   enc.Final,
	}
	copy(out.Probs[:], metrics.Softmax(logits[:]))

	if label, ok := rec.Label(); ok {
		loss := c.loss(logits[:], int(label))
		out.Loss = &loss
		if c.acc != nil {
			c.acc.Accumulate(logits[:], int(label))
		}
	}

	c.logger.Debug("conversation classified",
		"index", rec.Index(),
		"turns", rec.Len(),
		"predicted", int(out.Predicted),
	)
	return out, nil
}

func (c *Classifier) poolTurns(ctx context.Context, rec *chat.Record) ([][]float64, error) {
	dim := c.pooler.Dim()
	vecs := make([][]float64, rec.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i := range vecs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := c.pooler.Pool(gctx, rec.Turn(i))
			if err != nil {
				return fmt.Errorf("pool turn %d: %w", i, err)
			}
			if len(v) != dim {
				return &ShapeError{Stage: fmt.Sprintf("turn %d", i), Want: dim, Got: len(v)}
			}
			vecs[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vecs, nil
}

// Pooler returns the configured turn pooler.
func (c *Classifier) Pooler() TurnPooler { return c.pooler }

// Encoder returns the configured conversation encoder.
func (c *Classifier) Encoder() ConversationEncoder { return c.encoder }
