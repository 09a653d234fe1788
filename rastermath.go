// Package rastermath ties the formula compiler and evaluator together
// into a single entry point, mirroring the original's
// RasterMathRunner: hold the run's knobs and the raster/AOI registry,
// compile a formula, drive it to completion, and hand back a tagged
// Result. Display/dialog responsibilities are a non-goal (spec.md §1)
// and are dropped — the caller decides what to do with the Result.
package rastermath

import (
	"rastermath/internal/eval"
	"rastermath/internal/parser"
	"rastermath/internal/program"
	"rastermath/internal/progress"
	"rastermath/internal/raster"
	"rastermath/internal/rmerrors"
)

// ResultKind tags which field of Result carries the formula's output.
type ResultKind int

const (
	ResultScalar ResultKind = iota
	ResultSignature
	ResultRaster
)

// Result is the formula's output, shaped by the compiled program's
// tail step.
type Result struct {
	Kind      ResultKind
	Scalar    float64
	Signature []float64
	Raster    raster.Handle
}

// Runner holds the knobs the original's ProcessStack holds, plus the
// raster/AOI registry formulas resolve r1..r5/a1..a5 against. Exported
// fields are set directly by the embedding host, matching
// RasterMathRunner's plain setters — there is no config-file layer.
type Runner struct {
	Correlator raster.Correlator

	FailOnError    bool
	DefaultValue   float64
	Radians        bool
	ResultEncoding raster.EncodingType
	ResultLocation program.Location

	// Reporter and Abort are optional; both default to no-op when nil.
	Reporter progress.Reporter
	Abort    progress.AbortFunc

	// NewRasterResult allocates and registers the run's output raster
	// once its shape is known (after parsing, before evaluation). Only
	// consulted when the formula's result shape is a genuine raster
	// (not scalar or signature). A host with no raster-result use case
	// may leave this nil; Execute then reports a BadReferenceError if a
	// raster-shaped formula is actually given to it.
	NewRasterResult func(shape program.Shape, encoding raster.EncodingType) (raster.Handle, error)

	// SignatureSink, if set, receives a raster-math "Values"/"Indices"
	// pair once a signature result finishes computing (§6), mirroring
	// the original's write-back into an external Signature element.
	SignatureSink func(values, indices []float64)
}

// Execute compiles and runs one formula to completion.
func (r *Runner) Execute(formula string) (Result, error) {
	b := program.NewBuilder(r.Correlator)
	shape, err := parser.Parse(formula, b)
	if err != nil {
		return Result{}, err
	}

	switch {
	case shape.Bands == 1 && shape.Rows == 1 && shape.Cols == 1:
		return r.executeScalar(b)
	case shape.Rows == 1 && shape.Cols == 1:
		return r.executeSignature(b, shape)
	default:
		return r.executeRaster(b, shape)
	}
}

// executeScalar mirrors the original's executeScalar shortcut: total
// work is always 1, so there is no progress tracker to set up.
func (r *Runner) executeScalar(b *program.Builder) (Result, error) {
	prog := b.FinalizeScalar()
	prog.Optimize()
	r.applyDefaultValue(prog)
	res, err := r.evaluator(nil).Execute(prog)
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: ResultScalar, Scalar: res.Scalar}, nil
}

func (r *Runner) executeSignature(b *program.Builder, shape program.Shape) (Result, error) {
	prog := b.FinalizeSignature(r.SignatureSink)
	prog.Optimize()
	r.applyDefaultValue(prog)
	tracker := progress.New(r.Reporter, r.Abort, prog.TotalWork())
	res, err := r.evaluator(tracker).Execute(prog)
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: ResultSignature, Signature: res.Signature}, nil
}

func (r *Runner) executeRaster(b *program.Builder, shape program.Shape) (Result, error) {
	if r.NewRasterResult == nil {
		return Result{}, rmerrors.NewBadReferenceError("result", "this runner has no raster output sink configured")
	}
	out, err := r.NewRasterResult(shape, r.ResultEncoding)
	if err != nil {
		return Result{}, err
	}
	prog := b.FinalizeRaster(out, r.ResultEncoding)
	prog.Optimize()
	r.applyDefaultValue(prog)
	tracker := progress.New(r.Reporter, r.Abort, prog.TotalWork())
	res, err := r.evaluator(tracker).Execute(prog)
	if err != nil {
		return Result{}, err
	}
	return Result{Kind: ResultRaster, Raster: res.Raster}, nil
}

// applyDefaultValue overwrites every raster cursor's fallback-on-
// invalid value with the run's configured default, so Builder's Push*
// methods don't need DefaultValue threaded through every call site.
// Recurses into reducer sub-programs, which carry their own nested
// raster steps.
func (r *Runner) applyDefaultValue(prog *program.Program) {
	for _, s := range prog.Steps {
		if s.Raster != nil {
			s.Raster.DefaultValue = r.DefaultValue
		}
		if s.Reducer != nil && s.Reducer.SubProgram != nil {
			r.applyDefaultValue(s.Reducer.SubProgram)
		}
	}
}

func (r *Runner) evaluator(tracker *progress.Tracker) *eval.Evaluator {
	return eval.New(eval.Options{
		FailOnError:  r.FailOnError,
		DefaultValue: r.DefaultValue,
		Radians:      r.Radians,
	}, tracker)
}
