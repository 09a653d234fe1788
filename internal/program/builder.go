package program

import (
	"fmt"

	"rastermath/internal/raster"
)

// Builder is the stateful collector the parser drives while walking a
// formula's parse tree (§4.3, grounded on ParseStackBuilder.cpp). Each
// Push* method appends one step and returns it so the parser can
// thread references (e.g. folding a previously built step into a
// REFERENCE during optimization happens later, in Program.Optimize).
type Builder struct {
	correlator raster.Correlator
	steps      []*Step
}

// NewBuilder returns a builder that resolves r1..r5/a1..a5 against c.
func NewBuilder(c raster.Correlator) *Builder {
	return &Builder{correlator: c}
}

// Steps returns the accumulated step list in emission order.
func (b *Builder) Steps() []*Step {
	return b.steps
}

// LastShape reports the shape of the most recently pushed step — the
// shape a caller uses to decide which kind of result step to append.
func (b *Builder) LastShape() Shape {
	last := b.steps[len(b.steps)-1]
	return Shape{last.Bands, last.Rows, last.Cols}
}

// FinalizeScalar appends a RESULT_NUMBER step consuming the program's
// last value. Used when LastShape is (1,1,1).
func (b *Builder) FinalizeScalar() *Program {
	s := newStep(ResultNumber, "result")
	b.push(s)
	return New(b.steps)
}

// FinalizeSignature appends a RESULT_SIGNATURE step consuming the
// program's last value once per band. sink, if non-nil, is invoked
// with the accumulated per-band values once the vector fills.
func (b *Builder) FinalizeSignature(sink func(values, indices []float64)) *Program {
	last := b.steps[len(b.steps)-1]
	s := newStep(ResultSignature, "result signature")
	s.Bands = last.Bands
	s.Signature = &SignatureState{BandCount: last.Bands, Sink: sink}
	b.push(s)
	return New(b.steps)
}

// FinalizeRaster appends a RESULT_RASTER step writing the program's
// last value into handle band-by-band, clamped to encoding. handle
// must already be sized to the program's result shape — the runner
// allocates and registers it once the shape is known, since the shape
// isn't known until parsing completes.
func (b *Builder) FinalizeRaster(handle raster.Handle, encoding raster.EncodingType) *Program {
	last := b.steps[len(b.steps)-1]
	s := newStep(ResultRaster, "result raster")
	s.Bands, s.Rows, s.Cols = last.Bands, last.Rows, last.Cols
	s.Raster = &RasterState{Handle: handle, MinBand: 0, MaxBand: last.Bands - 1, Encoding: encoding}
	b.push(s)
	return New(b.steps)
}

func (b *Builder) push(s *Step) *Step {
	b.steps = append(b.steps, s)
	return s
}

// Truncate discards every step from index n onward. Used by the parser
// to extract a reducer's argument sub-program: the argument is parsed
// straight onto the builder's main step list, then lifted off and
// truncated away once its extent is known (§4.3's sub-program
// extraction, done here via explicit scoping instead of the backward
// arity-walk the original describes, since the parser already knows
// exactly where the argument started).
func (b *Builder) Truncate(n int) {
	b.steps = b.steps[:n]
}

// PushNumber appends a literal NUMBER step.
func (b *Builder) PushNumber(v float64) *Step {
	s := newStep(Number, "number")
	s.Value = v
	return b.push(s)
}

// kindForUnary/kindForBinary/kindForTernary map the parser's function
// or operator name to a Kind. Unknown names are a parser bug, not a
// user error, so they panic rather than returning an error — matching
// the builder's "the grammar already validated this" contract.
var unaryKinds = map[string]Kind{
	"-": Negate, "neg": Negate, "abs": Abs, "sqrt": Sqrt, "acos": Acos,
	"cos": Cos, "asin": Asin, "sin": Sin, "atan": Atan, "tan": Tan,
	"cosh": Cosh, "sinh": Sinh, "tanh": Tanh, "exp": Exp,
	"log10": Log10, "log2": Log2, "log": Log, "!": Not, "not": Not,
}

var binaryKinds = map[string]Kind{
	"+": Add, "-": Subtract, "*": Multiply, "/": Divide, "%": Modulo,
	"^": Exponentiate, "atan2": Atan2, "logn": Logn,
	"=": Equals, "!=": NotEquals, "<": LessThan, ">": GreaterThan,
	"<=": LessOrEqual, ">=": GreaterOrEqual, "&": And, "|": Or,
}

var reducerKinds = map[string]Kind{
	"min": BandMin, "max": BandMax, "sum": BandSum, "mean": BandMean,
	"geomean": BandGeomean, "harmean": BandHarmean, "stdev": BandStddev,
}

// unifyDim resolves one shape dimension across two operands: equal
// extents pass through, a unit extent broadcasts to the other, and any
// other mismatch is a shape error (§3 shape inference / unification).
func unifyDim(a, b int) (int, error) {
	if a == b || b == 1 {
		return a, nil
	}
	if a == 1 {
		return b, nil
	}
	return 0, fmt.Errorf("incompatible extents %d and %d", a, b)
}

func unifyShape(a, b Shape) (Shape, error) {
	bands, err := unifyDim(a.Bands, b.Bands)
	if err != nil {
		return Shape{}, fmt.Errorf("band count: %w", err)
	}
	rows, err := unifyDim(a.Rows, b.Rows)
	if err != nil {
		return Shape{}, fmt.Errorf("row count: %w", err)
	}
	cols, err := unifyDim(a.Cols, b.Cols)
	if err != nil {
		return Shape{}, fmt.Errorf("column count: %w", err)
	}
	return Shape{bands, rows, cols}, nil
}

// PushUnary appends a unary operator/function step; its shape is its
// single argument's shape unchanged.
func (b *Builder) PushUnary(name string, argShape Shape) (*Step, Shape, error) {
	kind, ok := unaryKinds[name]
	if !ok {
		panic(fmt.Sprintf("program: unknown unary operator %q", name))
	}
	s := newStep(kind, name)
	s.Bands, s.Rows, s.Cols = argShape.Bands, argShape.Rows, argShape.Cols
	return b.push(s), argShape, nil
}

// PushBinary appends a binary operator/function step, unifying its two
// operand shapes (broadcasting unit extents, erroring on a genuine
// mismatch).
func (b *Builder) PushBinary(name string, lhsShape, rhsShape Shape) (*Step, Shape, error) {
	kind, ok := binaryKinds[name]
	if !ok {
		panic(fmt.Sprintf("program: unknown binary operator %q", name))
	}
	shape, err := unifyShape(lhsShape, rhsShape)
	if err != nil {
		return nil, Shape{}, err
	}
	s := newStep(kind, name)
	s.Bands, s.Rows, s.Cols = shape.Bands, shape.Rows, shape.Cols
	return b.push(s), shape, nil
}

// PushTernary appends the three-argument clamp(value, lo, hi) step,
// unifying all three operand shapes.
func (b *Builder) PushTernary(name string, valueShape, loShape, hiShape Shape) (*Step, Shape, error) {
	if name != "clamp" {
		panic(fmt.Sprintf("program: unknown ternary operator %q", name))
	}
	shape, err := unifyShape(valueShape, loShape)
	if err != nil {
		return nil, Shape{}, err
	}
	shape, err = unifyShape(shape, hiShape)
	if err != nil {
		return nil, Shape{}, err
	}
	s := newStep(Clamp, name)
	s.Bands, s.Rows, s.Cols = shape.Bands, shape.Rows, shape.Cols
	return b.push(s), shape, nil
}

// PushStat appends a band-wise reducer step whose argument is the
// already-built sub program argSteps (the parser builds the argument
// expression on this Builder, lifts its steps off with Truncate, then
// hands them here). The reducer step is kept separate from its
// sub-program — it is not appended to it — since evaluating the
// sub-program is exactly evaluating the argument, with no trailing
// reducer step to recurse into. A 1x1 argument reduces across all of
// its bands to one scalar; any other argument reduces to one value per
// band, shaped (bands, 1, 1).
func (b *Builder) PushStat(name string, argSteps []*Step, argShape Shape) *Step {
	kind, ok := reducerKinds[name]
	if !ok {
		panic(fmt.Sprintf("program: unknown reducer %q", name))
	}
	s := newStep(kind, name)
	if argShape.Rows != 1 || argShape.Cols != 1 {
		s.Bands = argShape.Bands
	}
	s.Reducer = &ReducerState{
		SubProgram: New(argSteps),
		SubBands:   argShape.Bands,
		SubRows:    argShape.Rows,
		SubCols:    argShape.Cols,
	}
	return b.push(s)
}

// Shape is the 3-tuple (bands, rows, cols) spec §3 uses for shape
// inference and unification.
type Shape struct {
	Bands, Rows, Cols int
}

// resolveRaster looks up "r<k>" and reports its handle, or false when
// no raster is registered there.
func (b *Builder) resolveRaster(index int) (raster.Handle, bool) {
	return b.correlator.Raster(index)
}

func (b *Builder) resolveAoi(index int) (raster.AoiHandle, bool) {
	return b.correlator.Aoi(index)
}

// PushFullRaster appends a VALUE_RASTER step spanning every band of
// r<index>, shaped (bands, rows, cols). The step's fallback-on-invalid
// value is left at zero; Runner.Execute overwrites every RasterState's
// DefaultValue with the run's configured default before driving the
// program, so it need not be threaded through every Push* call.
func (b *Builder) PushFullRaster(index int) (*Step, Shape, error) {
	h, ok := b.resolveRaster(index)
	if !ok {
		return nil, Shape{}, fmt.Errorf("r%d is not registered", index)
	}
	s := newStep(ValueRaster, fmt.Sprintf("r%d", index))
	s.Bands, s.Rows, s.Cols = h.BandCount(), h.RowCount(), h.ColumnCount()
	s.Raster = &RasterState{Handle: h, MinBand: 0, MaxBand: h.BandCount() - 1}
	setDataType(h, s)
	return b.push(s), Shape{s.Bands, s.Rows, s.Cols}, nil
}

// setDataType records a raster's encoding on a freshly built step so
// RESULT_RASTER write-back knows how to clamp.
func setDataType(h raster.Handle, s *Step) {
	s.Raster.Encoding = h.DataType()
	s.Raster.DefaultValue = 0
}

// PushRasterIndex appends a VALUE_RASTER step for a single band r<index>[n],
// shaped (1, rows, cols).
func (b *Builder) PushRasterIndex(index, band int) (*Step, Shape, error) {
	h, ok := b.resolveRaster(index)
	if !ok {
		return nil, Shape{}, fmt.Errorf("r%d is not registered", index)
	}
	if band < 0 || band >= h.BandCount() {
		return nil, Shape{}, fmt.Errorf("r%d has no band %d", index, band)
	}
	s := newStep(ValueRaster, fmt.Sprintf("r%d[%d]", index, band))
	s.Bands, s.Rows, s.Cols = 1, h.RowCount(), h.ColumnCount()
	s.Raster = &RasterState{Handle: h, MinBand: band, MaxBand: band}
	setDataType(h, s)
	return b.push(s), Shape{1, s.Rows, s.Cols}, nil
}

// PushRasterFullSlice appends r<index>[from:to] (both bounds given,
// 0-based, inclusive) — the r[m:n] subscript form.
func (b *Builder) PushRasterFullSlice(index, from, to int) (*Step, Shape, error) {
	h, ok := b.resolveRaster(index)
	if !ok {
		return nil, Shape{}, fmt.Errorf("r%d is not registered", index)
	}
	if from < 0 || to >= h.BandCount() || from > to {
		return nil, Shape{}, fmt.Errorf("r%d[%d:%d] is not a valid band slice", index, from, to)
	}
	s := newStep(ValueRaster, fmt.Sprintf("r%d[%d:%d]", index, from, to))
	s.Bands, s.Rows, s.Cols = to-from+1, h.RowCount(), h.ColumnCount()
	s.Raster = &RasterState{Handle: h, MinBand: from, MaxBand: to}
	setDataType(h, s)
	return b.push(s), Shape{s.Bands, s.Rows, s.Cols}, nil
}

// PushRasterNtoEndSlice appends r<index>[n:], spanning bands [n, count).
func (b *Builder) PushRasterNtoEndSlice(index, from int) (*Step, Shape, error) {
	h, ok := b.resolveRaster(index)
	if !ok {
		return nil, Shape{}, fmt.Errorf("r%d is not registered", index)
	}
	if from < 0 || from >= h.BandCount() {
		return nil, Shape{}, fmt.Errorf("r%d has no band %d", index, from)
	}
	s := newStep(ValueRaster, fmt.Sprintf("r%d[%d:]", index, from))
	s.Bands, s.Rows, s.Cols = h.BandCount()-from, h.RowCount(), h.ColumnCount()
	s.Raster = &RasterState{Handle: h, MinBand: from, MaxBand: h.BandCount() - 1}
	setDataType(h, s)
	return b.push(s), Shape{s.Bands, s.Rows, s.Cols}, nil
}

// PushRaster0toNSlice appends r<index>[:n], spanning bands [0, n).
func (b *Builder) PushRaster0toNSlice(index, to int) (*Step, Shape, error) {
	h, ok := b.resolveRaster(index)
	if !ok {
		return nil, Shape{}, fmt.Errorf("r%d is not registered", index)
	}
	if to <= 0 || to > h.BandCount() {
		return nil, Shape{}, fmt.Errorf("r%d has no band %d", index, to-1)
	}
	s := newStep(ValueRaster, fmt.Sprintf("r%d[:%d]", index, to))
	s.Bands, s.Rows, s.Cols = to, h.RowCount(), h.ColumnCount()
	s.Raster = &RasterState{Handle: h, MinBand: 0, MaxBand: to - 1}
	setDataType(h, s)
	return b.push(s), Shape{s.Bands, s.Rows, s.Cols}, nil
}

// PushAoi appends a VALUE_AOI step for a<index>, shaped from the
// mask's bounding box (rows = y2-y1, cols = x2-x1 — BoundingBox uses
// exclusive upper bounds). The original's ProcessStepAoi constructor
// computes this same extent into locals that shadow its own mRows/
// mColumns members, leaving the step's reported shape stuck at
// (1,1,1) regardless of the mask's real size — almost certainly a
// bug, and not one to carry forward silently: §9 asks for a
// product-owner call before preserving it, and absent that this
// builder takes the spec's stated fallback instead.
func (b *Builder) PushAoi(index int) (*Step, Shape, error) {
	h, ok := b.resolveAoi(index)
	if !ok {
		return nil, Shape{}, fmt.Errorf("a%d is not registered", index)
	}
	x1, y1, x2, y2 := h.BoundingBox()
	s := newStep(ValueAoi, fmt.Sprintf("a%d", index))
	s.Bands, s.Rows, s.Cols = 1, y2-y1, x2-x1
	s.Aoi = &AoiState{Handle: h, X1: x1, Y1: y1, X2: x2, Y2: y2}
	return b.push(s), Shape{s.Bands, s.Rows, s.Cols}, nil
}
