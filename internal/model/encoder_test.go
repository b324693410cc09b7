package model

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/MikeSquared-Agency/verdict/internal/chat"
)

func sequence(n, dim int) [][]float64 {
	seq := make([][]float64, n)
	for i := range seq {
		seq[i] = make([]float64, dim)
		for j := range seq[i] {
			seq[i][j] = math.Sin(float64(i*dim + j))
		}
	}
	return seq
}

func TestEncoders_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		enc     ConversationEncoder
		wantOut int
	}{
		{"lstm", NewLSTM(1, 6, 4, false), 4},
		{"bilstm", NewLSTM(1, 6, 4, true), 8},
		{"gru", NewGRU(1, 6, 5), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.enc.OutputDim() != tt.wantOut {
				t.Fatalf("OutputDim = %d, want %d", tt.enc.OutputDim(), tt.wantOut)
			}
			enc, err := tt.enc.Encode(sequence(7, 6))
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(enc.States) != 7 {
				t.Errorf("expected 7 states, got %d", len(enc.States))
			}
			for i, s := range enc.States {
				if len(s) != tt.wantOut {
					t.Errorf("state %d width %d", i, len(s))
				}
				if !allFinite(s) {
					t.Errorf("state %d not finite", i)
				}
			}
			if len(enc.Final) != tt.wantOut {
				t.Errorf("final width %d", len(enc.Final))
			}
		})
	}
}

func TestLSTM_BidirectionalFinal(t *testing.T) {
	l := NewLSTM(3, 4, 3, true)
	enc, err := l.Encode(sequence(5, 4))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for j := 0; j < 3; j++ {
		if enc.Final[j] != enc.States[4][j] {
			t.Errorf("forward half of final should match last state")
		}
		if enc.Final[3+j] != enc.States[0][3+j] {
			t.Errorf("backward half of final should match first state")
		}
	}
}

func TestEncoders_RejectBadInput(t *testing.T) {
	for _, enc := range []ConversationEncoder{NewLSTM(1, 3, 2, false), NewGRU(1, 3, 2)} {
		if _, err := enc.Encode(nil); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("expected ErrInvalidRecord for empty sequence, got %v", err)
		}
		if _, err := enc.Encode([][]float64{{1, 2, 3}, {1, 2}}); !errors.Is(err, ErrShape) {
			t.Errorf("expected ErrShape, got %v", err)
		}
	}
}

func TestEncoders_OrderSensitive(t *testing.T) {
	seq := sequence(4, 3)
	rev := [][]float64{seq[3], seq[2], seq[1], seq[0]}
	l := NewLSTM(5, 3, 4, false)

	a, _ := l.Encode(seq)
	b, _ := l.Encode(rev)
	same := true
	for i := range a.Final {
		if a.Final[i] != b.Final[i] {
			same = false
		}
	}
	if same {
		t.Error("reordering turns should change the encoding")
	}
}

func TestLinear_Project(t *testing.T) {
	h := NewLinear(1, 3)
	if _, err := h.Project([]float64{1, 2}); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
	logits, err := h.Project([]float64{0, 0, 0})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if logits != [NumClasses]float64{0, 0} {
		t.Errorf("zero input with zero bias should give zero logits, got %v", logits)
	}
}

type stubEmbedder struct {
	vec  []float32
	text string
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.text = text
	return s.vec, nil
}

func (s *stubEmbedder) Close() error { return nil }

func TestPoolers(t *testing.T) {
	tokens := []chat.Token{{Text: "hello"}, {Text: "world"}}

	mean := NewMeanPooler(1, 16, 5)
	v, err := mean.Pool(context.Background(), tokens)
	if err != nil || len(v) != 5 {
		t.Fatalf("mean pool = %v, %v", v, err)
	}
	one, _ := mean.Pool(context.Background(), tokens[:1])
	two, _ := mean.Pool(context.Background(), []chat.Token{tokens[0], tokens[0]})
	for i := range one {
		if math.Abs(one[i]-two[i]) > 1e-12 {
			t.Errorf("mean of repeated token should equal the token embedding")
		}
	}

	cls := NewFirstTokenPooler(1, 16, 5)
	a, _ := cls.Pool(context.Background(), tokens)
	b, _ := cls.Pool(context.Background(), tokens[:1])
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("first-token pooler should ignore later tokens")
		}
		if a[i] <= -1 || a[i] >= 1 {
			t.Errorf("tanh output out of range: %f", a[i])
		}
	}

	for _, p := range []TurnPooler{mean, cls} {
		if _, err := p.Pool(context.Background(), nil); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("expected ErrInvalidRecord for empty turn, got %v", err)
		}
	}
}

func TestEmbedderPooler(t *testing.T) {
	stub := &stubEmbedder{vec: []float32{0.5, 0.25, 1}}
	p := NewEmbedderPooler(stub, 3)

	v, err := p.Pool(context.Background(), []chat.Token{{Text: "how"}, {Text: "are"}, {Text: "you"}})
	if err != nil {
		t.Fatalf("Pool: %v", err)
	}
	if stub.text != "how are you" {
		t.Errorf("embedded text = %q", stub.text)
	}
	if v[1] != 0.25 {
		t.Errorf("unexpected vector %v", v)
	}

	wrong := NewEmbedderPooler(stub, 4)
	if _, err := wrong.Pool(context.Background(), []chat.Token{{Text: "x"}}); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()

	if got := reg.Poolers(); len(got) != 3 || got[0] != "cls" {
		t.Errorf("Poolers = %v", got)
	}
	if got := reg.Encoders(); len(got) != 3 || got[0] != "bilstm" {
		t.Errorf("Encoders = %v", got)
	}

	ctx := context.Background()
	if _, err := reg.Build(ctx, Spec{Pooler: "max"}); err == nil {
		t.Error("expected unknown pooler error")
	}
	if _, err := reg.Build(ctx, Spec{Encoder: "transformer"}); err == nil {
		t.Error("expected unknown encoder error")
	}
	if _, err := reg.Build(ctx, Spec{Pooler: "embedder"}); err == nil {
		t.Error("expected error when embedder is missing")
	}

	c, err := reg.Build(ctx, Spec{Pooler: "embedder", Encoder: "lstm", EmbeddingDim: 3, HiddenSize: 2,
		Embedder: &stubEmbedder{vec: []float32{1, 0, 0}}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if c.Pooler().Dim() != 3 || c.Encoder().OutputDim() != 2 {
		t.Errorf("unexpected dims %d/%d", c.Pooler().Dim(), c.Encoder().OutputDim())
	}
}
