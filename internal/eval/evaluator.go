package eval

import (
	"math"

	"rastermath/internal/program"
	"rastermath/internal/progress"
	"rastermath/internal/raster"
	"rastermath/internal/rmerrors"
)

// Options configures a run: the error policy and the angle unit
// trigonometric functions read/write in (§4.5/§7).
type Options struct {
	FailOnError  bool
	DefaultValue float64
	Radians      bool
}

// Result packages whichever of the three result shapes a program
// produced. Shape tells the caller which field to read.
type Result struct {
	Shape     program.Shape
	Scalar    float64
	Signature []float64
	Raster    raster.Handle
}

// Evaluator is the stack machine that walks one program's steps pixel
// by pixel (§4.5), recursing into reducer sub-programs as needed
// (§4.6). It is not safe for concurrent use — match the original's
// single-threaded cooperative model (§5).
type Evaluator struct {
	opts    Options
	tracker *progress.Tracker

	// bandStack tracks the outer band index of every in-flight drive3D
	// call (outermost first), so a reducer nested inside another
	// reducer's sub-program dequeues against the right enclosing band
	// instead of its own nested one.
	bandStack []int

	// workDone is the cumulative work-unit count reported to tracker,
	// shared across every drive3D call this Evaluator makes (outer run
	// plus any reducer sub-program runs) so it tracks Program.TotalWork's
	// additive outer-plus-one-time-work formula (§4.4/§5).
	workDone int64
}

// New returns an Evaluator. tracker may be nil to disable progress
// reporting and abort checks.
func New(opts Options, tracker *progress.Tracker) *Evaluator {
	if tracker == nil {
		tracker = progress.New(nil, nil, 0)
	}
	return &Evaluator{opts: opts, tracker: tracker}
}

// Execute drives prog's full 3-D iteration and returns its packaged
// result.
func (e *Evaluator) Execute(prog *program.Program) (Result, error) {
	tail := prog.Tail()
	shape := prog.Shape()

	var scalarVal float64
	var sigValues []float64

	onPixel := func(band, row, col int, val float64) error {
		switch tail.Kind {
		case program.ResultNumber:
			scalarVal = val
		case program.ResultSignature:
			sigValues = append(sigValues, val)
			if tail.Signature.Sink != nil && len(sigValues) == tail.Signature.BandCount {
				indices := make([]float64, len(sigValues))
				for i := range indices {
					indices[i] = float64(i + 1)
				}
				tail.Signature.Sink(append([]float64(nil), sigValues...), indices)
			}
		case program.ResultRaster:
			if tail.Raster.Accessor != nil {
				tail.Raster.Accessor.SetMagnitude(raster.Clamp(tail.Raster.Encoding, val))
			}
		}
		return nil
	}

	if err := e.drive3D(prog.Steps, shape, nil, onPixel, nil); err != nil {
		return Result{}, err
	}

	result := Result{Shape: shape}
	switch tail.Kind {
	case program.ResultNumber:
		result.Scalar = scalarVal
	case program.ResultSignature:
		result.Signature = sigValues
	case program.ResultRaster:
		result.Raster = tail.Raster.Handle
	}
	return result, nil
}

// drive3D is the shared 3-D driver used both for a program's outer
// run and for a reducer's nested sub-program run. allSteps may or may
// not end in a RESULT_* step; if it does, that step is excluded from
// the per-pixel stack machine (computeExpr) since its meaning is
// entirely the onPixel callback's job.
func (e *Evaluator) drive3D(
	allSteps []*program.Step,
	shape program.Shape,
	beforeBand func(band int) error,
	onPixel func(band, row, col int, val float64) error,
	afterBand func(band int) error,
) error {
	if err := initializeSteps(allSteps); err != nil {
		return err
	}
	exprSteps := allSteps
	if tail := allSteps[len(allSteps)-1]; isResultKind(tail.Kind) {
		exprSteps = allSteps[:len(allSteps)-1]
	}
	cursors := cursorSteps(allSteps)

	e.bandStack = append(e.bandStack, 0)
	defer func() { e.bandStack = e.bandStack[:len(e.bandStack)-1] }()

	for band := 0; band < shape.Bands; band++ {
		e.bandStack[len(e.bandStack)-1] = band
		if err := selectBand(cursors, band); err != nil {
			return err
		}
		if beforeBand != nil {
			if err := beforeBand(band); err != nil {
				return err
			}
		}
		for row := 0; row < shape.Rows; row++ {
			if e.tracker.Aborted() {
				return &rmerrors.AbortedError{}
			}
			for col := 0; col < shape.Cols; col++ {
				val, err := e.computeExpr(exprSteps)
				if err != nil {
					return err
				}
				if err := onPixel(band, row, col, val); err != nil {
					return err
				}
				if col != shape.Cols-1 {
					if err := advanceColumns(cursors); err != nil && e.opts.FailOnError {
						return err
					}
				}
			}
			// len(allSteps), not len(exprSteps): Program.TotalWork counts
			// every step in the program's list, including the trailing
			// RESULT_* step this driver excludes from computeExpr, so the
			// two must agree on what "len(steps)" means (§4.4).
			e.workDone += int64(shape.Cols) * int64(len(allSteps))
			e.tracker.Tick(e.workDone)
			if row != shape.Rows-1 {
				if err := advanceRows(cursors); err != nil && e.opts.FailOnError {
					return err
				}
			}
		}
		if afterBand != nil {
			if err := afterBand(band); err != nil {
				return err
			}
		}
	}
	return nil
}

func isResultKind(k program.Kind) bool {
	return k == program.ResultNumber || k == program.ResultSignature || k == program.ResultRaster
}

// computeExpr runs the stack machine over one pixel's worth of
// expression steps (§4.5). On a guard failure it substitutes the
// run's default value (or raises ComputationError if FailOnError) and
// stops evaluating the rest of the expression for this pixel.
func (e *Evaluator) computeExpr(steps []*program.Step) (float64, error) {
	if len(steps) == 0 {
		return 0, rmerrors.NewInternalInvariantError("empty program")
	}
	stack := make([]float64, 0, len(steps))
	for _, s := range steps {
		n := s.ArgCount
		if n > len(stack) {
			return 0, rmerrors.NewInternalInvariantError("stack underflow at step " + s.Description)
		}
		args := stack[len(stack)-n:]
		val, ok, err := e.dispatch(s, args)
		if err != nil {
			return 0, err
		}
		if !ok {
			if e.opts.FailOnError {
				return 0, rmerrors.NewComputationError(s.Description, "arithmetic guard failed")
			}
			return e.opts.DefaultValue, nil
		}
		stack = stack[:len(stack)-n]
		s.Value = val
		stack = append(stack, val)
	}
	return stack[len(stack)-1], nil
}

// dispatch computes one step's value given its already-popped
// arguments (§4.5's kind table), or (0, false, nil) when an arithmetic
// guard rejects the inputs.
func (e *Evaluator) dispatch(s *program.Step, args []float64) (float64, bool, error) {
	factor := angleFactor(e.opts.Radians)
	switch s.Kind {
	case program.Number:
		return s.Value, true, nil
	case program.Reference:
		return s.Ref.ValueRef().Value, true, nil
	case program.ValueRaster, program.ResultRaster:
		return s.Raster.CurrentValue(), true, nil
	case program.ValueAoi:
		return s.Aoi.CurrentValue(), true, nil

	case program.Negate:
		return -args[0], true, nil
	case program.Abs:
		return math.Abs(args[0]), true, nil
	case program.Not:
		if args[0] == 0 {
			return 1, true, nil
		}
		return 0, true, nil

	case program.Sqrt:
		v, ok := guardSqrt(args[0])
		return v, ok, nil
	case program.Exp:
		return math.Exp(args[0]), true, nil
	case program.Log:
		v, ok := guardLog(args[0])
		return v, ok, nil
	case program.Log10:
		v, ok := guardLog10(args[0])
		return v, ok, nil
	case program.Log2:
		v, ok := guardLog2(args[0])
		return v, ok, nil

	case program.Sin:
		return math.Sin(args[0] * factor), true, nil
	case program.Cos:
		return math.Cos(args[0] * factor), true, nil
	case program.Tan:
		return math.Tan(args[0] * factor), true, nil
	case program.Sinh:
		return math.Sinh(args[0]), true, nil
	case program.Cosh:
		return math.Cosh(args[0]), true, nil
	case program.Tanh:
		return math.Tanh(args[0]), true, nil
	case program.Asin:
		v, ok := guardAsin(args[0])
		return v / factor, ok, nil
	case program.Acos:
		v, ok := guardAcos(args[0])
		return v / factor, ok, nil
	case program.Atan:
		v, ok := guardAtan(args[0])
		return v / factor, ok, nil

	case program.Add:
		return args[0] + args[1], true, nil
	case program.Subtract:
		return args[0] - args[1], true, nil
	case program.Multiply:
		return args[0] * args[1], true, nil
	case program.Divide:
		v, ok := guardDivide(args[0], args[1])
		return v, ok, nil
	case program.Modulo:
		v, ok := guardModulo(args[0], args[1])
		return v, ok, nil
	case program.Exponentiate:
		v, ok := guardPow(args[0], args[1])
		return v, ok, nil
	case program.Atan2:
		v, ok := guardAtan2(args[0], args[1])
		return v / factor, ok, nil
	case program.Logn:
		v, ok := guardLogn(args[0], args[1])
		return v, ok, nil

	case program.Equals:
		return boolFloat(args[0] == args[1]), true, nil
	case program.NotEquals:
		return boolFloat(args[0] != args[1]), true, nil
	case program.LessThan:
		return boolFloat(args[0] < args[1]), true, nil
	case program.GreaterThan:
		return boolFloat(args[0] > args[1]), true, nil
	case program.LessOrEqual:
		return boolFloat(args[0] <= args[1]), true, nil
	case program.GreaterOrEqual:
		return boolFloat(args[0] >= args[1]), true, nil
	case program.And:
		return boolFloat(args[0] != 0 && args[1] != 0), true, nil
	case program.Or:
		return boolFloat(args[0] != 0 || args[1] != 0), true, nil

	case program.Clamp:
		value, lo, hi := args[0], args[1], args[2]
		return math.Max(lo, math.Min(value, hi)), true, nil

	default:
		if s.Kind.IsReducer() {
			return e.reducerValue(s)
		}
	}
	return 0, false, rmerrors.NewInternalInvariantError("unhandled step kind " + s.Kind.String())
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// initializeSteps opens every cursor-bearing step's accessor.
func initializeSteps(steps []*program.Step) error {
	for _, s := range steps {
		if err := s.Initialize(); err != nil {
			return err
		}
	}
	return nil
}

func cursorSteps(steps []*program.Step) []*program.Step {
	var out []*program.Step
	for _, s := range steps {
		switch s.Kind {
		case program.ValueRaster, program.ResultRaster, program.ValueAoi:
			out = append(out, s)
		}
	}
	return out
}

// selectBand repositions every raster cursor step to outer band
// localBand (relative to its own MinBand), reopening its accessor.
// Steps whose own band extent is 1 (broadcast across every outer
// band) stay pinned to their single band.
func selectBand(cursors []*program.Step, localBand int) error {
	for _, s := range cursors {
		if s.Kind == program.ValueAoi {
			continue
		}
		rs := s.Raster
		if rs.MaxBand == rs.MinBand {
			if err := rs.SelectBand(0); err != nil {
				return err
			}
			continue
		}
		if err := rs.SelectBand(localBand); err != nil {
			return err
		}
	}
	return nil
}

// advanceColumns/advanceRows advance every cursor step that actually
// varies along that dimension (§4.5: every NUMBER/COMPUTED_SIGNATURE/
// VALUE_AOI step visit advances the AOI's column cursor unconditionally —
// its own Cols/Rows still gate whether that's a no-op, exactly as for a
// raster cursor).
func advanceColumns(cursors []*program.Step) error {
	for _, s := range cursors {
		if s.Cols <= 1 {
			continue
		}
		if ok, err := s.NextColumn(); err != nil {
			return err
		} else if !ok {
			return rmerrors.NewShapeMismatchError(s.Description, "column cursor exhausted early")
		}
	}
	return nil
}

func advanceRows(cursors []*program.Step) error {
	for _, s := range cursors {
		if s.Rows <= 1 {
			continue
		}
		if ok, err := s.NextRow(); err != nil {
			return err
		} else if !ok {
			return rmerrors.NewShapeMismatchError(s.Description, "row cursor exhausted early")
		}
	}
	return nil
}
