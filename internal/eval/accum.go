package eval

import (
	"math"

	"rastermath/internal/program"
	"rastermath/internal/rmerrors"
)

// accumState holds a single reducer's running accumulators (§4.6's
// a1/a2/a3), one instance per band (or per whole sub-extent, for the
// no-spatial-extent scalar-collapse case).
type accumState struct {
	kind       program.Kind
	a1, a2, a3 float64
}

func newAccum(kind program.Kind) *accumState {
	a := &accumState{kind: kind}
	a.reset()
	return a
}

func (a *accumState) reset() {
	switch a.kind {
	case program.BandMin:
		a.a1 = math.Inf(1)
	case program.BandMax:
		a.a1 = math.Inf(-1)
	default:
		a.a1, a.a2, a.a3 = 0, 0, 0
	}
}

// accumulate folds one more popped value into the accumulator, per
// the *_ACCUM rules in §4.6.
func (a *accumState) accumulate(v float64, failOnError bool) error {
	switch a.kind {
	case program.BandMin:
		a.a1 = math.Min(a.a1, v)
	case program.BandMax:
		a.a1 = math.Max(a.a1, v)
	case program.BandSum:
		a.a1 += v
	case program.BandMean:
		a.a1 += v
		a.a2++
	case program.BandGeomean:
		// Initialized to 0 (not 1) and combined with *=, which forces
		// the running product to stay zero forever; finalize then
		// divides as if for an arithmetic mean. A documented defect,
		// preserved rather than corrected.
		a.a1 *= v
		a.a2++
	case program.BandHarmean:
		if v == 0 {
			if failOnError {
				return rmerrors.NewComputationError("harmean", "division by zero in harmonic accumulation")
			}
			return nil
		}
		a.a1 += 1 / v
		a.a2++
	case program.BandStddev:
		a.a1 += v
		a.a2 += v * v
		a.a3++
	}
	return nil
}

// finalize drains the accumulator into the reducer's per-band queue
// entry, per §4.6's finalization rules.
func (a *accumState) finalize(defaultValue float64) float64 {
	switch a.kind {
	case program.BandMin, program.BandMax, program.BandSum:
		return a.a1
	case program.BandMean, program.BandGeomean:
		if a.a2 == 0 {
			return defaultValue
		}
		return a.a1 / a.a2
	case program.BandHarmean:
		if a.a1 == 0 || a.a2 == 0 {
			return defaultValue
		}
		return 1 / (a.a1 / a.a2)
	case program.BandStddev:
		if a.a3 <= 1 {
			return defaultValue
		}
		return math.Sqrt(math.Abs(a.a3*a.a2-a.a1*a.a1) / a.a3 / (a.a3 - 1))
	}
	return defaultValue
}
