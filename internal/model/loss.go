package model

import "math"

// BCEWithLogits returns the mean binary cross-entropy of labels under
// sigmoid(logits) and its gradient with respect to each logit. It never
// forms sigmoid(x) before the log, so extreme logits stay finite. An empty
// batch yields NaN.
func BCEWithLogits(logits, labels []float32) (float64, []float32) {
	n := len(logits)
	if n != len(labels) {
		panic("model: logits and labels differ in length")
	}
	grad := make([]float32, n)
	if n == 0 {
		return math.NaN(), grad
	}
	total := 0.0
	inv := 1 / float64(n)
	for i, l := range logits {
		x, z := float64(l), float64(labels[i])
		total += math.Max(x, 0) - x*z + math.Log1p(math.Exp(-math.Abs(x)))
		grad[i] = float32((sigmoid(x) - z) * inv)
	}
	return total * inv, grad
}

// Sigmoid maps a logit to a probability.
func Sigmoid(x float32) float32 { return float32(sigmoid(float64(x))) }

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
