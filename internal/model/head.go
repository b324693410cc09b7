package model

// NumClasses is the width of every classifier head's output.
const NumClasses = 2

// Head projects the conversation summary to class logits.
type Head interface {
	Project(summary []float64) ([NumClasses]float64, error)
	InputDim() int
}

// Linear is an affine H -> 2 projection.
type Linear struct {
	weights *matrix
	bias    []float64
}

// NewLinear creates a linear head over inputDim-wide summaries.
func NewLinear(seed uint64, inputDim int) *Linear {
	return &Linear{
		weights: xavier(newRand(seed, streamHead), NumClasses, inputDim),
		bias:    make([]float64, NumClasses),
	}
}

func (l *Linear) InputDim() int { return l.weights.cols }

func (l *Linear) Project(summary []float64) ([NumClasses]float64, error) {
	var logits [NumClasses]float64
	if len(summary) != l.weights.cols {
		return logits, &ShapeError{Stage: "head", Want: l.weights.cols, Got: len(summary)}
	}
	out := append([]float64(nil), l.bias...)
	l.weights.mulVecAdd(out, summary)
	copy(logits[:], out)
	return logits, nil
}
