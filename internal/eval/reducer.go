package eval

import (
	"rastermath/internal/program"
)

// reducerValue returns one band-wise reducer's value (§4.6). The
// sub-program is driven at most once per run, the first time its
// owning step is encountered; every later pixel just dequeues the
// next already-computed value.
func (e *Evaluator) reducerValue(s *program.Step) (float64, bool, error) {
	rd := s.Reducer
	if !rd.Populated {
		queue, err := e.driveReducer(s)
		if err != nil {
			return 0, false, err
		}
		rd.Queue = queue
		rd.Populated = true
		rd.NextIndex = 0
		rd.LastOuterBand = e.topBand()
	}

	if len(rd.Queue) == 0 {
		return 0, false, nil
	}
	if len(rd.Queue) == 1 {
		return rd.Queue[0], true, nil
	}

	// Per-band signature: advance the read cursor only when the
	// enclosing program has moved to a new outer band, not on every
	// pixel (a band holds Rows*Cols pixels, all sharing one value).
	if e.topBand() != rd.LastOuterBand {
		rd.LastOuterBand = e.topBand()
		if rd.NextIndex < len(rd.Queue)-1 {
			rd.NextIndex++
		}
	}
	return rd.Queue[rd.NextIndex], true, nil
}

// topBand returns the band index of the nearest enclosing drive3D
// call (the outer program's own band loop, never a reducer's inner
// one, since reducer drives never push beyond their own frame during
// a caller's dispatch).
func (e *Evaluator) topBand() int {
	if len(e.bandStack) == 0 {
		return 0
	}
	return e.bandStack[len(e.bandStack)-1]
}

// driveReducer runs a reducer's sub-program to completion and returns
// its result queue: a single value when the argument has no spatial
// extent (the scalar-collapse path — required so sum/stdev/etc. over a
// 1x1xN raster reduce directly across all N raw values in one pass),
// or one value per band when the argument has real rows/cols extent
// (the per-band-signature path — one accumulator reset per band).
func (e *Evaluator) driveReducer(s *program.Step) ([]float64, error) {
	rd := s.Reducer
	kind := s.Kind
	shape := program.Shape{Bands: rd.SubBands, Rows: rd.SubRows, Cols: rd.SubCols}

	if rd.SubRows == 1 && rd.SubCols == 1 {
		acc := newAccum(kind)
		err := e.drive3D(rd.SubProgram.Steps, shape, nil, func(band, row, col int, val float64) error {
			return acc.accumulate(val, e.opts.FailOnError)
		}, nil)
		if err != nil {
			return nil, err
		}
		return []float64{acc.finalize(e.opts.DefaultValue)}, nil
	}

	queue := make([]float64, 0, shape.Bands)
	var acc *accumState
	err := e.drive3D(
		rd.SubProgram.Steps,
		shape,
		func(band int) error {
			acc = newAccum(kind)
			return nil
		},
		func(band, row, col int, val float64) error {
			return acc.accumulate(val, e.opts.FailOnError)
		},
		func(band int) error {
			queue = append(queue, acc.finalize(e.opts.DefaultValue))
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return queue, nil
}
