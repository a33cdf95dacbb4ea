package nn

import (
	"math"
	"math/rand"
)

// FanMode selects which fan the variance is scaled by.
type FanMode int

const (
	FanIn FanMode = iota
	FanOut
	FanAvg
)

// Distribution selects the sampling distribution of an initializer.
type Distribution int

const (
	TruncatedNormal Distribution = iota
	Normal
	Uniform
)

// truncatedStddevFix is the stddev of a unit normal truncated to [-2, 2].
const truncatedStddevFix = 0.87962566103423978

// VarianceScaling draws weights with variance Scale/n where n is the fan
// picked by Mode.
type VarianceScaling struct {
	Scale        float64
	Mode         FanMode
	Distribution Distribution
}

// DefaultInitializer is fan-in scaling with a truncated normal.
func DefaultInitializer() VarianceScaling {
	return VarianceScaling{Scale: 1, Mode: FanIn, Distribution: TruncatedNormal}
}

// Fill writes freshly sampled weights into dst.
func (v VarianceScaling) Fill(dst []float32, fanIn, fanOut int, rng *rand.Rand) {
	n := float64(fanIn)
	switch v.Mode {
	case FanOut:
		n = float64(fanOut)
	case FanAvg:
		n = float64(fanIn+fanOut) / 2
	}
	if n < 1 {
		n = 1
	}
	scale := v.Scale
	if scale <= 0 {
		scale = 1
	}
	variance := scale / n
	switch v.Distribution {
	case Uniform:
		limit := math.Sqrt(3 * variance)
		for i := range dst {
			dst[i] = float32((rng.Float64()*2 - 1) * limit)
		}
	case Normal:
		stddev := math.Sqrt(variance)
		for i := range dst {
			dst[i] = float32(rng.NormFloat64() * stddev)
		}
	default:
		stddev := math.Sqrt(variance) / truncatedStddevFix
		for i := range dst {
			x := rng.NormFloat64()
			for math.Abs(x) > 2 {
				x = rng.NormFloat64()
			}
			dst[i] = float32(x * stddev)
		}
	}
}
