// Package program implements the step model (spec §3/§4.1), the
// builder the parser drives to assemble a program (§4.3), and the
// program itself: the ordered step list plus its shape, optimizer, and
// work estimator (§4.4). These three concerns are split across three
// files in one package because, like the original's ProcessStep /
// ParseStackBuilder / ProcessStack trio, they share a single mutable
// step list and are never used independently of one another.
package program

import "rastermath/internal/raster"

// Kind tags every step variant named in spec §3. Go has no tagged
// union, so Step carries kind-specific state in optional pointer
// fields (Raster, Aoi, Signature, Reducer) instead of subclassing —
// the "subclass virtual hooks" of the original become a dense switch
// in package eval keyed on Kind.
type Kind int

const (
	Number Kind = iota
	Negate
	Abs
	Sqrt
	Acos
	Cos
	Asin
	Sin
	Atan
	Tan
	Cosh
	Sinh
	Tanh
	Exp
	Log10
	Log2
	Log
	Not
	Add
	Subtract
	Multiply
	Divide
	Modulo
	Exponentiate
	Atan2
	Logn
	Equals
	NotEquals
	LessThan
	GreaterThan
	LessOrEqual
	GreaterOrEqual
	And
	Or
	Clamp
	ValueRaster
	ValueAoi
	ResultNumber
	ResultSignature
	ResultRaster
	Reference
	BandMin
	BandMax
	BandSum
	BandMean
	BandGeomean
	BandHarmean
	BandStddev
)

var kindNames = map[Kind]string{
	Number: "number", Negate: "negate", Abs: "abs", Sqrt: "sqrt", Acos: "acos",
	Cos: "cos", Asin: "asin", Sin: "sin", Atan: "atan", Tan: "tan", Cosh: "cosh",
	Sinh: "sinh", Tanh: "tanh", Exp: "exp", Log10: "log10", Log2: "log2", Log: "log",
	Not: "not", Add: "add", Subtract: "subtract", Multiply: "multiply", Divide: "divide",
	Modulo: "modulo", Exponentiate: "exponentiate", Atan2: "atan2", Logn: "logn",
	Equals: "equals", NotEquals: "not equals", LessThan: "less than", GreaterThan: "greater than",
	LessOrEqual: "less or equal", GreaterOrEqual: "greater or equal", And: "and", Or: "or",
	Clamp: "clamp", ValueRaster: "raster", ValueAoi: "aoi", ResultNumber: "result",
	ResultSignature: "result signature", ResultRaster: "result raster", Reference: "ref",
	BandMin: "min", BandMax: "max", BandSum: "sum", BandMean: "mean",
	BandGeomean: "geomean", BandHarmean: "harmean", BandStddev: "stdev",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// IsReducer reports whether k is one of the seven band-wise reducers.
func (k Kind) IsReducer() bool {
	switch k {
	case BandMin, BandMax, BandSum, BandMean, BandGeomean, BandHarmean, BandStddev:
		return true
	}
	return false
}

// defaultArity is the arg count a freshly built step of this kind
// carries before any builder override (§3: "arg arity, defaulting to
// 2").
func defaultArity(k Kind) int {
	switch k {
	case Number, ValueRaster, ValueAoi, Reference:
		return 0
	case ResultNumber, ResultSignature, ResultRaster:
		return 1
	case Negate, Abs, Sqrt, Acos, Cos, Asin, Sin, Atan, Tan, Cosh, Sinh, Tanh, Exp, Log10, Log2, Log, Not:
		return 1
	case Clamp:
		return 3
	default:
		if k.IsReducer() {
			return 0
		}
		return 2
	}
}

// RasterState is the VALUE_RASTER/RESULT_RASTER cursor: band range,
// position, open accessor, and the encoding used for write-back
// clamping.
type RasterState struct {
	Handle       raster.Handle
	MinBand      int
	MaxBand      int
	CurrentBand  int
	CurrentRow   int
	CurrentCol   int
	Accessor     raster.Accessor
	Encoding     raster.EncodingType
	DefaultValue float64
}

// AoiState is the VALUE_AOI cursor: mask, bounding box, and position.
type AoiState struct {
	Handle     raster.AoiHandle
	X1, Y1     int
	X2, Y2     int
	CurrentRow int
	CurrentCol int
}

// SignatureState accumulates one value per band for a RESULT_SIGNATURE
// step. Sink, if set, is invoked once the accumulated vector reaches
// BandCount — the Go analogue of committing "Raster Math Values" /
// "Raster Math Indices" back to an external Signature element.
type SignatureState struct {
	Values    []float64
	BandCount int
	Sink      func(values []float64, indices []float64)
}

// ReducerState holds a reducer's sub-program and its drive-once queue
// (§4.6). Populated flags whether the sub-program has already been
// driven for this run (reducers drive lazily, on first encounter, not
// eagerly at Initialize). NextIndex is the read cursor into Queue, and
// LastOuterBand is the enclosing program's band index the queue was
// last dequeued against, so a band change (not a pixel change) is what
// advances the cursor for the per-band-signature case.
type ReducerState struct {
	SubProgram *Program
	SubBands   int
	SubRows    int
	SubCols    int

	Populated     bool
	NextIndex     int
	LastOuterBand int
	Queue         []float64
}

// Step is one instruction in the linearized postfix program.
type Step struct {
	Kind              Kind
	Description       string
	Rows, Cols, Bands int
	ArgCount          int
	Value             float64

	Raster    *RasterState
	Aoi       *AoiState
	Signature *SignatureState
	Ref       *Step
	Reducer   *ReducerState
}

func newStep(kind Kind, description string) *Step {
	return &Step{
		Kind:        kind,
		Description: description,
		Rows:        1,
		Cols:        1,
		Bands:       1,
		ArgCount:    defaultArity(kind),
	}
}

// IsScalar reports whether every shape dimension is 1.
func (s *Step) IsScalar() bool {
	return s.Rows == 1 && s.Cols == 1 && s.Bands == 1
}

// IsSignature reports rows=cols=1, bands>1.
func (s *Step) IsSignature() bool {
	return s.Rows == 1 && s.Cols == 1 && s.Bands != 1
}

// ValueRef resolves the step whose live Value a REFERENCE step should
// observe (itself, for every non-reference step).
func (s *Step) ValueRef() *Step {
	if s.Kind == Reference {
		return s.Ref
	}
	return s
}

// Identity implements spec §3's identity relation: same kind, shape,
// arg count, and description, plus kind-specific extras.
func (s *Step) Identity(o *Step) bool {
	if s.Kind != o.Kind || s.Rows != o.Rows || s.Cols != o.Cols || s.Bands != o.Bands ||
		s.ArgCount != o.ArgCount || s.Description != o.Description {
		return false
	}
	switch s.Kind {
	case Number:
		return s.Value == o.Value
	case ValueRaster, ResultRaster:
		return s.Raster != nil && o.Raster != nil &&
			s.Raster.Handle == o.Raster.Handle &&
			s.Raster.MinBand == o.Raster.MinBand &&
			s.Raster.MaxBand == o.Raster.MaxBand
	case ValueAoi:
		return s.Aoi != nil && o.Aoi != nil && s.Aoi.Handle == o.Aoi.Handle
	case ResultSignature:
		return s.Signature != nil && o.Signature != nil && s.Signature == o.Signature
	default:
		if s.Kind.IsReducer() {
			return s.Reducer != nil && o.Reducer != nil && subProgramsMatch(s.Reducer.SubProgram, o.Reducer.SubProgram)
		}
		return true
	}
}

// subProgramsMatch compares two reducer sub-programs step-for-step,
// excluding the trailing reducer step (which isn't present in either
// slice — the sub-program is exactly the extracted argument).
func subProgramsMatch(a, b *Program) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Steps) != len(b.Steps) {
		return false
	}
	for i := range a.Steps {
		if !a.Steps[i].Identity(b.Steps[i]) {
			return false
		}
	}
	return true
}

// Initialize opens accessors/positions cursors at the start of a run.
func (s *Step) Initialize() error {
	switch s.Kind {
	case ValueRaster, ResultRaster:
		return s.Raster.initialize(s.Kind)
	case ValueAoi:
		s.Aoi.initialize()
	}
	return nil
}

// NextRow advances the step's row cursor. Returns false on a row/band
// mismatch so the caller can decide whether that's fatal (FailOnError).
func (s *Step) NextRow() (bool, error) {
	switch s.Kind {
	case ValueRaster, ResultRaster:
		return s.Raster.nextRow(s.Kind)
	case ValueAoi:
		s.Aoi.nextRow()
		return true, nil
	}
	return true, nil
}

// NextColumn advances the step's column cursor.
func (s *Step) NextColumn() (bool, error) {
	switch s.Kind {
	case ValueRaster, ResultRaster:
		return s.Raster.nextColumn(s.Kind)
	case ValueAoi:
		s.Aoi.nextColumn()
		return true, nil
	}
	return true, nil
}

func (r *RasterState) initialize(kind Kind) error {
	r.CurrentBand = r.MinBand
	if err := r.updateAccessor(); err != nil {
		return err
	}
	return nil
}

// SelectBand repositions the cursor to the band at MinBand+localBand
// and reopens its accessor there. Exported so package eval's outer
// band loop can drive a raster step's band cursor without reaching
// into unexported RasterState internals.
func (r *RasterState) SelectBand(localBand int) error {
	r.CurrentBand = r.MinBand + localBand
	return r.updateAccessor()
}

func (r *RasterState) updateAccessor() error {
	acc, err := r.Handle.OpenAccessor(r.CurrentBand)
	if err != nil {
		return err
	}
	r.Accessor = acc
	r.CurrentRow = 0
	r.CurrentCol = 0
	return nil
}

// CurrentValue reports the pixel under the cursor, or DefaultValue once
// the accessor is no longer valid.
func (r *RasterState) CurrentValue() float64 {
	if r.Accessor != nil && r.Accessor.Valid() {
		return r.Accessor.Magnitude()
	}
	return r.DefaultValue
}

func (r *RasterState) nextRow(kind Kind) (bool, error) {
	if r.CurrentRow == -1 {
		return false, nil
	}
	r.CurrentRow++
	if !r.Accessor.NextRow() {
		r.CurrentRow = -1
		r.CurrentCol = -1
		return false, nil
	}
	r.CurrentCol = 0
	return true, nil
}

func (r *RasterState) nextColumn(kind Kind) (bool, error) {
	if r.CurrentCol == -1 {
		return false, nil
	}
	if !r.Accessor.NextColumn() {
		r.CurrentCol = -1
		return false, nil
	}
	r.CurrentCol++
	return true, nil
}

func (a *AoiState) initialize() {
	a.CurrentRow = 0
	a.CurrentCol = 0
}

// CurrentValue reports 1 when the mask selects the cursor's pixel, else 0.
func (a *AoiState) CurrentValue() float64 {
	if a.Handle.Pixel(a.X1+a.CurrentCol, a.Y1+a.CurrentRow) {
		return 1.0
	}
	return 0.0
}

func (a *AoiState) nextRow() {
	a.CurrentRow++
	a.CurrentCol = 0
}

func (a *AoiState) nextColumn() {
	a.CurrentCol++
}

// oneTimeWork reports the work a reducer step's sub-program performs
// once per encounter rather than once per outer pixel (§4.4's
// totalWork formula). Recurses into the sub-program's own steps so a
// reducer nested inside another reducer's argument is accounted for
// too. Non-reducer steps contribute nothing.
func (s *Step) oneTimeWork() int64 {
	if !s.Kind.IsReducer() || s.Reducer == nil || s.Reducer.SubProgram == nil {
		return 0
	}
	rd := s.Reducer
	total := int64(rd.SubBands) * int64(rd.SubRows) * int64(rd.SubCols) * int64(len(rd.SubProgram.Steps))
	for _, child := range rd.SubProgram.Steps {
		total += child.oneTimeWork()
	}
	return total
}
