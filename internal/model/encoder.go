package model

import (
	"fmt"
	"math"
)

// Encoding is the output of a ConversationEncoder: one state per turn plus
// the summary state the head consumes.
type Encoding struct {
	States [][]float64
	Final  []float64
}

// ConversationEncoder runs sequentially over ordered turn vectors.
type ConversationEncoder interface {
	Encode(turns [][]float64) (*Encoding, error)
	InputDim() int
	OutputDim() int
}

func checkSequence(turns [][]float64, dim int) error {
	if len(turns) == 0 {
		return &InvalidRecordError{Reason: "empty turn sequence"}
	}
	for i, v := range turns {
		if len(v) != dim {
			return &ShapeError{Stage: fmt.Sprintf("encoder input %d", i), Want: dim, Got: len(v)}
		}
	}
	return nil
}

// lstmCell holds one direction's weights. Gate rows are ordered input,
// forget, candidate, output.
type lstmCell struct {
	hidden int
	wx     *matrix // 4H x D
	wh     *matrix // 4H x H
	bias   []float64
}

func newLSTMCell(enc *matrixSource, inputDim, hidden int) *lstmCell {
	c := &lstmCell{
		hidden: hidden,
		wx:     enc.xavier(4*hidden, inputDim),
		wh:     enc.xavier(4*hidden, hidden),
		bias:   make([]float64, 4*hidden),
	}
	for i := hidden; i < 2*hidden; i++ {
		c.bias[i] = 1.0
	}
	return c
}

// run returns the hidden state after each step of seq, visiting it forwards
// or backwards. States are indexed by position in seq either way.
func (c *lstmCell) run(seq [][]float64, reverse bool) [][]float64 {
	h := c.hidden
	hPrev := make([]float64, h)
	cPrev := make([]float64, h)
	gates := make([]float64, 4*h)
	states := make([][]float64, len(seq))

	for step := range seq {
		t := step
		if reverse {
			t = len(seq) - 1 - step
		}

		copy(gates, c.bias)
		c.wx.mulVecAdd(gates, seq[t])
		c.wh.mulVecAdd(gates, hPrev)

		hNext := make([]float64, h)
		cNext := make([]float64, h)
		for j := 0; j < h; j++ {
			in := sigmoid(gates[j])
			forget := sigmoid(gates[h+j])
			cand := math.Tanh(gates[2*h+j])
			out := sigmoid(gates[3*h+j])
			cNext[j] = forget*cPrev[j] + in*cand
			hNext[j] = out * math.Tanh(cNext[j])
		}
		states[t] = hNext
		hPrev, cPrev = hNext, cNext
	}
	return states
}

// LSTM is a single-layer LSTM conversation encoder. When bidirectional, each
// state is the forward state followed by the backward state, and Final is the
// last forward state followed by the backward state at the first turn.
type LSTM struct {
	inputDim int
	fwd      *lstmCell
	bwd      *lstmCell
}

// NewLSTM creates an LSTM over inputDim-wide turn vectors.
func NewLSTM(seed uint64, inputDim, hidden int, bidirectional bool) *LSTM {
	src := newMatrixSource(seed)
	l := &LSTM{inputDim: inputDim, fwd: newLSTMCell(src, inputDim, hidden)}
	if bidirectional {
		l.bwd = newLSTMCell(src, inputDim, hidden)
	}
	return l
}

func (l *LSTM) InputDim() int { return l.inputDim }

func (l *LSTM) OutputDim() int {
	if l.bwd != nil {
		return 2 * l.fwd.hidden
	}
	return l.fwd.hidden
}

func (l *LSTM) Encode(turns [][]float64) (*Encoding, error) {
	if err := checkSequence(turns, l.inputDim); err != nil {
		return nil, err
	}

	fwd := l.fwd.run(turns, false)
	last := len(turns) - 1
	if l.bwd == nil {
		return &Encoding{States: fwd, Final: fwd[last]}, nil
	}

	bwd := l.bwd.run(turns, true)
	states := make([][]float64, len(turns))
	for t := range turns {
		states[t] = append(append(make([]float64, 0, l.OutputDim()), fwd[t]...), bwd[t]...)
	}
	final := append(append(make([]float64, 0, l.OutputDim()), fwd[last]...), bwd[0]...)
	return &Encoding{States: states, Final: final}, nil
}

// GRU is a single-layer gated recurrent unit conversation encoder.
type GRU struct {
	inputDim int
	hidden   int
	wx       *matrix // 3H x D, rows ordered update, reset, candidate
	wh       *matrix // 3H x H
	bx       []float64
	bh       []float64
}

// NewGRU creates a GRU over inputDim-wide turn vectors.
func NewGRU(seed uint64, inputDim, hidden int) *GRU {
	src := newMatrixSource(seed)
	return &GRU{
		inputDim: inputDim,
		hidden:   hidden,
		wx:       src.xavier(3*hidden, inputDim),
		wh:       src.xavier(3*hidden, hidden),
		bx:       make([]float64, 3*hidden),
		bh:       make([]float64, 3*hidden),
	}
}

func (g *GRU) InputDim() int  { return g.inputDim }
func (g *GRU) OutputDim() int { return g.hidden }

func (g *GRU) Encode(turns [][]float64) (*Encoding, error) {
	if err := checkSequence(turns, g.inputDim); err != nil {
		return nil, err
	}

	h := g.hidden
	hPrev := make([]float64, h)
	gx := make([]float64, 3*h)
	gh := make([]float64, 3*h)
	states := make([][]float64, len(turns))

	for t, x := range turns {
		copy(gx, g.bx)
		copy(gh, g.bh)
		g.wx.mulVecAdd(gx, x)
		g.wh.mulVecAdd(gh, hPrev)

		hNext := make([]float64, h)
		for j := 0; j < h; j++ {
			z := sigmoid(gx[j] + gh[j])
			r := sigmoid(gx[h+j] + gh[h+j])
			n := math.Tanh(gx[2*h+j] + r*gh[2*h+j])
			hNext[j] = (1-z)*n + z*hPrev[j]
		}
		states[t] = hNext
		hPrev = hNext
	}
	return &Encoding{States: states, Final: hPrev}, nil
}
