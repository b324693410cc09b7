package model

import (
	"math"
	"math/rand/v2"
)

// Weight streams keep pooler, encoder and head initialisation independent
// for a given seed.
const (
	streamPooler uint64 = iota + 1
	streamEncoder
	streamHead
)

func newRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}

// matrix is a dense row-major rows x cols matrix.
type matrix struct {
	rows, cols int
	data       []float64
}

// xavier returns a rows x cols matrix drawn from the Xavier-uniform distribution.
func xavier(rng *rand.Rand, rows, cols int) *matrix {
	limit := math.Sqrt(6.0 / float64(rows+cols))
	m := &matrix{rows: rows, cols: cols, data: make([]float64, rows*cols)}
	for i := range m.data {
		m.data[i] = (rng.Float64()*2 - 1) * limit
	}
	return m
}

func (m *matrix) row(i int) []float64 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

// mulVecAdd computes dst += m·x. len(x) must equal m.cols and len(dst) m.rows.
func (m *matrix) mulVecAdd(dst, x []float64) {
	for i := 0; i < m.rows; i++ {
		row := m.row(i)
		sum := 0.0
		for j, v := range x {
			sum += row[j] * v
		}
		dst[i] += sum
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func allFinite(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// matrixSource draws successive weight matrices from one seeded stream.
type matrixSource struct {
	rng *rand.Rand
}

func newMatrixSource(seed uint64) *matrixSource {
	return &matrixSource{rng: newRand(seed, streamEncoder)}
}

func (s *matrixSource) xavier(rows, cols int) *matrix {
	return xavier(s.rng, rows, cols)
}
