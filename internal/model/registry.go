package model

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MikeSquared-Agency/verdict/internal/embedding"
)

const (
	DefaultEmbeddingDim = 768
	DefaultHiddenSize   = 400
	DefaultBuckets      = 4096
)

// Spec names a pooler and encoder and sizes them.
type Spec struct {
	Pooler       string
	Encoder      string
	EmbeddingDim int
	HiddenSize   int
	Buckets      int
	Seed         uint64
	Workers      int
	// Embedder backs the "embedder" pooler.
	Embedder embedding.Embedder
}

func (s Spec) withDefaults() Spec {
	if s.Pooler == "" {
		s.Pooler = "mean"
	}
	if s.Encoder == "" {
		s.Encoder = "bilstm"
	}
	if s.EmbeddingDim <= 0 {
		s.EmbeddingDim = DefaultEmbeddingDim
	}
	if s.HiddenSize <= 0 {
		s.HiddenSize = DefaultHiddenSize
	}
	if s.Buckets <= 0 {
		s.Buckets = DefaultBuckets
	}
	return s
}

// PoolerFactory builds a named TurnPooler.
type PoolerFactory func(ctx context.Context, s Spec) (TurnPooler, error)

// EncoderFactory builds a named ConversationEncoder over inputDim-wide vectors.
type EncoderFactory func(s Spec, inputDim int) (ConversationEncoder, error)

// Registry maps configuration names to pooler and encoder factories.
type Registry struct {
	mu       sync.RWMutex
	poolers  map[string]PoolerFactory
	encoders map[string]EncoderFactory
}

func NewRegistry() *Registry {
	return &Registry{
		poolers:  make(map[string]PoolerFactory),
		encoders: make(map[string]EncoderFactory),
	}
}

// DefaultRegistry registers the built-in poolers (mean, cls, embedder) and
// encoders (lstm, bilstm, gru).
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterPooler("mean", func(_ context.Context, s Spec) (TurnPooler, error) {
		return NewMeanPooler(s.Seed, s.Buckets, s.EmbeddingDim), nil
	})
	r.RegisterPooler("cls", func(_ context.Context, s Spec) (TurnPooler, error) {
		return NewFirstTokenPooler(s.Seed, s.Buckets, s.EmbeddingDim), nil
	})
	r.RegisterPooler("embedder", func(_ context.Context, s Spec) (TurnPooler, error) {
		if s.Embedder == nil {
			return nil, fmt.Errorf("embedder pooler requires an embedder")
		}
		return NewEmbedderPooler(s.Embedder, s.EmbeddingDim), nil
	})

	r.RegisterEncoder("lstm", func(s Spec, in int) (ConversationEncoder, error) {
		return NewLSTM(s.Seed, in, s.HiddenSize, false), nil
	})
	r.RegisterEncoder("bilstm", func(s Spec, in int) (ConversationEncoder, error) {
		return NewLSTM(s.Seed, in, s.HiddenSize, true), nil
	})
	r.RegisterEncoder("gru", func(s Spec, in int) (ConversationEncoder, error) {
		return NewGRU(s.Seed, in, s.HiddenSize), nil
	})
	return r
}

func (r *Registry) RegisterPooler(name string, f PoolerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.poolers[name] = f
}

func (r *Registry) RegisterEncoder(name string, f EncoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[name] = f
}

// Poolers lists registered pooler names in sorted order.
func (r *Registry) Poolers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.poolers)
}

// Encoders lists registered encoder names in sorted order.
func (r *Registry) Encoders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.encoders)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Build constructs a Classifier from s. Extra options are applied after the
// worker bound from s.
func (r *Registry) Build(ctx context.Context, s Spec, opts ...Option) (*Classifier, error) {
	s = s.withDefaults()

	r.mu.RLock()
	pf, okP := r.poolers[s.Pooler]
	ef, okE := r.encoders[s.Encoder]
	r.mu.RUnlock()

	if !okP {
		return nil, fmt.Errorf("unknown pooler %q (have %v)", s.Pooler, r.Poolers())
	}
	if !okE {
		return nil, fmt.Errorf("unknown encoder %q (have %v)", s.Encoder, r.Encoders())
	}

	pooler, err := pf(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("build pooler %s: %w", s.Pooler, err)
	}
	encoder, err := ef(s, pooler.Dim())
	if err != nil {
		return nil, fmt.Errorf("build encoder %s: %w", s.Encoder, err)
	}
	head := NewLinear(s.Seed, encoder.OutputDim())

	return New(pooler, encoder, head, append([]Option{WithWorkers(s.Workers)}, opts...)...)
}
