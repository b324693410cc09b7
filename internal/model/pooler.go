package model

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/MikeSquared-Agency/verdict/internal/chat"
	"github.com/MikeSquared-Agency/verdict/internal/embedding"
)

// TurnPooler reduces one turn's tokens to a fixed-length vector.
// Implementations must be safe for concurrent use.
type TurnPooler interface {
	Pool(ctx context.Context, tokens []chat.Token) ([]float64, error)
	Dim() int
}

// hashedTable maps token text onto rows of a fixed embedding table.
type hashedTable struct {
	table *matrix
}

func newHashedTable(rng *rand.Rand, buckets, dim int) *hashedTable {
	return &hashedTable{table: xavier(rng, buckets, dim)}
}

func (h *hashedTable) lookup(text string) []float64 {
	f := fnv.New32a()
	f.Write([]byte(text))
	return h.table.row(int(f.Sum32() % uint32(h.table.rows)))
}

// MeanPooler averages hashed token embeddings.
type MeanPooler struct {
	emb *hashedTable
}

// NewMeanPooler creates a mean pooler with buckets hashed rows of width dim.
func NewMeanPooler(seed uint64, buckets, dim int) *MeanPooler {
	return &MeanPooler{emb: newHashedTable(newRand(seed, streamPooler), buckets, dim)}
}

func (p *MeanPooler) Dim() int { return p.emb.table.cols }

func (p *MeanPooler) Pool(_ context.Context, tokens []chat.Token) ([]float64, error) {
	if len(tokens) == 0 {
		return nil, &InvalidRecordError{Reason: "turn has no tokens"}
	}
	out := make([]float64, p.Dim())
	for _, tok := range tokens {
		for i, v := range p.emb.lookup(tok.Text) {
			out[i] += v
		}
	}
	n := float64(len(tokens))
	for i := range out {
		out[i] /= n
	}
	return out, nil
}

// FirstTokenPooler projects the first token's embedding through a dense
// layer with tanh activation.
type FirstTokenPooler struct {
	emb   *hashedTable
	dense *matrix
	bias  []float64
}

// NewFirstTokenPooler creates a first-token pooler of width dim.
func NewFirstTokenPooler(seed uint64, buckets, dim int) *FirstTokenPooler {
	rng := newRand(seed, streamPooler)
	return &FirstTokenPooler{
		emb:   newHashedTable(rng, buckets, dim),
		dense: xavier(rng, dim, dim),
		bias:  make([]float64, dim),
	}
}

func (p *FirstTokenPooler) Dim() int { return p.dense.rows }

func (p *FirstTokenPooler) Pool(_ context.Context, tokens []chat.Token) ([]float64, error) {
	if len(tokens) == 0 {
		return nil, &InvalidRecordError{Reason: "turn has no tokens"}
	}
	out := append([]float64(nil), p.bias...)
	p.dense.mulVecAdd(out, p.emb.lookup(tokens[0].Text))
	for i, v := range out {
		out[i] = math.Tanh(v)
	}
	return out, nil
}

// EmbedderPooler embeds the joined turn text with an external embedder.
type EmbedderPooler struct {
	embedder embedding.Embedder
	dim      int
}

// NewEmbedderPooler wraps e; every embedding it returns must have length dim.
func NewEmbedderPooler(e embedding.Embedder, dim int) *EmbedderPooler {
	return &EmbedderPooler{embedder: e, dim: dim}
}

func (p *EmbedderPooler) Dim() int { return p.dim }

func (p *EmbedderPooler) Pool(ctx context.Context, tokens []chat.Token) ([]float64, error) {
	if len(tokens) == 0 {
		return nil, &InvalidRecordError{Reason: "turn has no tokens"}
	}
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = tok.Text
	}

	vec, err := p.embedder.Embed(ctx, strings.Join(parts, " "))
	if err != nil {
		return nil, err
	}
	if len(vec) != p.dim {
		return nil, &ShapeError{Stage: "embedder", Want: p.dim, Got: len(vec)}
	}

	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out, nil
}
