// Package embedding provides text embedders that back the embedder turn pooler.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmbedding marks failures from an embedding backend.
var ErrEmbedding = errors.New("embedding failed")

// Embedder converts text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// Options selects and configures an embedding provider.
type Options struct {
	Provider string
	BaseURL  string
	Model    string
}

// New returns the embedder for opts.Provider.
func New(opts Options) (Embedder, error) {
	switch opts.Provider {
	case "", "ollama":
		return NewOllama(opts.BaseURL, opts.Model), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", opts.Provider)
	}
}
