// Package metrics provides the loss and accuracy collaborators used when a
// classification carries a gold label.
package metrics

import (
	"math"
	"sync"
)

// Accumulator receives one (logits, gold label) pair per labelled prediction.
type Accumulator interface {
	Accumulate(logits []float64, label int)
}

// LossFunc scores logits against a gold label.
type LossFunc func(logits []float64, label int) float64

// Softmax converts logits to probabilities, shifting by the max for stability.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	probs := make([]float64, len(logits))
	total := 0.0
	for i, v := range logits {
		probs[i] = math.Exp(v - maxVal)
		total += probs[i]
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs
}

// CrossEntropy returns -log(softmax(logits)[label]).
func CrossEntropy(logits []float64, label int) float64 {
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	expSum := 0.0
	for _, v := range logits {
		expSum += math.Exp(v - maxVal)
	}
	return math.Log(expSum) + maxVal - logits[label]
}

// Argmax returns the index of the largest logit; ties go to the lower index.
func Argmax(logits []float64) int {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return best
}

// CategoricalAccuracy counts argmax hits. All methods are safe for concurrent use.
type CategoricalAccuracy struct {
	mu      sync.Mutex
	correct int64
	total   int64
}

// NewCategoricalAccuracy creates an empty accuracy counter.
func NewCategoricalAccuracy() *CategoricalAccuracy {
	return &CategoricalAccuracy{}
}

func (a *CategoricalAccuracy) Accumulate(logits []float64, label int) {
	hit := Argmax(logits) == label

	a.mu.Lock()
	defer a.mu.Unlock()
	a.total++
	if hit {
		a.correct++
	}
}

// Metric returns the accuracy so far, optionally resetting the counters.
// It is 0 when nothing has been accumulated.
func (a *CategoricalAccuracy) Metric(reset bool) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var acc float64
	if a.total > 0 {
		acc = float64(a.correct) / float64(a.total)
	}
	if reset {
		a.correct, a.total = 0, 0
	}
	return acc
}

// Counts returns the raw hit and sample counts.
func (a *CategoricalAccuracy) Counts() (correct, total int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.correct, a.total
}
