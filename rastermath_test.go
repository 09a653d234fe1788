package rastermath

import (
	"math"
	"testing"

	"rastermath/internal/memraster"
	"rastermath/internal/program"
	"rastermath/internal/raster"
)

// fakeReporter records every Tick call a run makes, for asserting on
// the progress package's throttling behavior end to end.
type fakeReporter struct {
	ticks []progressTick
}

type progressTick struct{ done, total int64 }

func (f *fakeReporter) Tick(done, total int64) {
	f.ticks = append(f.ticks, progressTick{done, total})
}

func newRunner(reg *memraster.Registry) *Runner {
	return &Runner{
		Correlator:     reg,
		ResultEncoding: raster.Flt8Bytes,
		NewRasterResult: func(shape program.Shape, encoding raster.EncodingType) (raster.Handle, error) {
			return memraster.NewZeroRaster(shape.Bands, shape.Rows, shape.Cols, encoding), nil
		},
	}
}

func oneByOneRaster(values ...float64) *memraster.Raster {
	bands := make([][]float64, len(values))
	for i, v := range values {
		bands[i] = []float64{v}
	}
	return memraster.NewRaster(bands, 1, 1, raster.Flt8Bytes)
}

func TestExecuteScalarArithmetic(t *testing.T) {
	reg := memraster.NewRegistry()
	r := newRunner(reg)
	res, err := r.Execute("2 + 3 * 4")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultScalar || res.Scalar != 14 {
		t.Fatalf("got %+v, want scalar 14", res)
	}
}

func TestExecuteSumReducer(t *testing.T) {
	reg := memraster.NewRegistry()
	reg.SetRaster(1, oneByOneRaster(1, 2, 3))
	r := newRunner(reg)
	res, err := r.Execute("sum(r1)")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultScalar || res.Scalar != 6 {
		t.Fatalf("got %+v, want scalar 6", res)
	}
}

func TestExecuteStdevReducer(t *testing.T) {
	reg := memraster.NewRegistry()
	reg.SetRaster(1, oneByOneRaster(1, 2, 3))
	r := newRunner(reg)
	res, err := r.Execute("stdev(r1)")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.Scalar-1.0) > 1e-9 {
		t.Fatalf("got stdev %v, want 1.0", res.Scalar)
	}
}

func TestExecuteHarmeanReducer(t *testing.T) {
	reg := memraster.NewRegistry()
	reg.SetRaster(1, oneByOneRaster(1, 2, 4))
	r := newRunner(reg)
	res, err := r.Execute("harmean(r1)")
	if err != nil {
		t.Fatal(err)
	}
	want := 3.0 / (1 + 0.5 + 0.25) // 12/7
	if math.Abs(res.Scalar-want) > 1e-9 {
		t.Fatalf("got harmean %v, want %v", res.Scalar, want)
	}
}

// GEOMEAN's accumulator starts at 0 and multiplies, a preserved
// defect that forces the result to 0.0 regardless of input.
func TestGeomeanAlwaysZeroDefect(t *testing.T) {
	reg := memraster.NewRegistry()
	reg.SetRaster(1, oneByOneRaster(2, 4, 8))
	r := newRunner(reg)
	res, err := r.Execute("geomean(r1)")
	if err != nil {
		t.Fatal(err)
	}
	if res.Scalar != 0.0 {
		t.Fatalf("got geomean %v, want the preserved defect value 0.0", res.Scalar)
	}
}

// ATAN(0) is mathematically valid (0) but the ported guard rejects
// v==0, so with FailOnError unset the run falls back to DefaultValue.
func TestAtanZeroGuardDefect(t *testing.T) {
	reg := memraster.NewRegistry()
	r := newRunner(reg)
	r.DefaultValue = -99
	res, err := r.Execute("atan(0)")
	if err != nil {
		t.Fatal(err)
	}
	if res.Scalar != -99 {
		t.Fatalf("got %v, want the configured default (atan(0) guard should reject 0)", res.Scalar)
	}
}

func TestAtanZeroGuardDefectFailsClosed(t *testing.T) {
	reg := memraster.NewRegistry()
	r := newRunner(reg)
	r.FailOnError = true
	if _, err := r.Execute("atan(0)"); err == nil {
		t.Fatal("expected atan(0) to raise a computation error under FailOnError")
	}
}

func TestAngleModeDegreesVsRadians(t *testing.T) {
	reg := memraster.NewRegistry()
	degrees := newRunner(reg)
	res, err := degrees.Execute("sin(90)")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.Scalar-1.0) > 1e-9 {
		t.Fatalf("sin(90) in degree mode = %v, want 1.0", res.Scalar)
	}

	radians := newRunner(reg)
	radians.Radians = true
	res, err = radians.Execute("sin(90)")
	if err != nil {
		t.Fatal(err)
	}
	want := math.Sin(90)
	if math.Abs(res.Scalar-want) > 1e-9 {
		t.Fatalf("sin(90) in radian mode = %v, want %v", res.Scalar, want)
	}
}

func TestDivideByZeroDefaultValue(t *testing.T) {
	reg := memraster.NewRegistry()
	r := newRunner(reg)
	r.DefaultValue = 7
	res, err := r.Execute("1 / 0")
	if err != nil {
		t.Fatal(err)
	}
	if res.Scalar != 7 {
		t.Fatalf("got %v, want the configured default 7", res.Scalar)
	}
}

func TestDivideByZeroFailsClosed(t *testing.T) {
	reg := memraster.NewRegistry()
	r := newRunner(reg)
	r.FailOnError = true
	if _, err := r.Execute("1 / 0"); err == nil {
		t.Fatal("expected 1/0 to raise a computation error under FailOnError")
	}
}

func TestExecuteSignatureResult(t *testing.T) {
	reg := memraster.NewRegistry()
	reg.SetRaster(1, memraster.NewRaster([][]float64{{1}, {2}, {3}}, 1, 1, raster.Flt8Bytes))
	r := newRunner(reg)
	res, err := r.Execute("r1 + 1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultSignature {
		t.Fatalf("got kind %v, want ResultSignature", res.Kind)
	}
	want := []float64{2, 3, 4}
	if len(res.Signature) != len(want) {
		t.Fatalf("got %v, want %v", res.Signature, want)
	}
	for i := range want {
		if res.Signature[i] != want[i] {
			t.Fatalf("got %v, want %v", res.Signature, want)
		}
	}
}

func TestExecuteRasterResult(t *testing.T) {
	reg := memraster.NewRegistry()
	reg.SetRaster(1, memraster.NewRaster([][]float64{{1, 2, 3, 4}}, 2, 2, raster.Flt8Bytes))
	r := newRunner(reg)
	res, err := r.Execute("r1 * 2")
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != ResultRaster {
		t.Fatalf("got kind %v, want ResultRaster", res.Kind)
	}
	mr := res.Raster.(*memraster.Raster)
	got := mr.Band(0)
	want := []float64{2, 4, 6, 8}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestExecuteRasterResultWithoutSinkFails(t *testing.T) {
	reg := memraster.NewRegistry()
	reg.SetRaster(1, memraster.NewRaster([][]float64{{1, 2, 3, 4}}, 2, 2, raster.Flt8Bytes))
	r := &Runner{Correlator: reg, ResultEncoding: raster.Flt8Bytes}
	if _, err := r.Execute("r1 * 2"); err == nil {
		t.Fatal("expected an error when NewRasterResult is not configured")
	}
}

// AOI masking (§8): a1 selects only cell (0,0) of its 2x2 bounding
// box, so multiplying r1 by a1 zeroes out every other pixel.
func TestAoiMasksNonSelectedPixels(t *testing.T) {
	reg := memraster.NewRegistry()
	reg.SetRaster(1, memraster.NewRaster([][]float64{{1, 2, 3, 4}}, 2, 2, raster.Flt8Bytes))
	reg.SetAoi(1, memraster.NewAoi(0, 0, 2, 2, []bool{true, false, false, false}))
	r := newRunner(reg)
	res, err := r.Execute("r1 * a1")
	if err != nil {
		t.Fatal(err)
	}
	mr := res.Raster.(*memraster.Raster)
	got := mr.Band(0)
	want := []float64{1, 0, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// Progress (§5/§8): a run large enough to cross the 2,000,000-work-
// unit throttle must emit a tick at each crossing and exactly one
// tick at 100% completion.
func TestProgressTicksOnThrottleAndAtCompletion(t *testing.T) {
	const rows, cols = 3, 300_000
	reg := memraster.NewRegistry()
	reg.SetRaster(1, memraster.NewRaster([][]float64{make([]float64, rows*cols)}, rows, cols, raster.Flt8Bytes))
	rep := &fakeReporter{}
	r := &Runner{
		Correlator:     reg,
		ResultEncoding: raster.Flt8Bytes,
		Reporter:       rep,
		NewRasterResult: func(shape program.Shape, encoding raster.EncodingType) (raster.Handle, error) {
			return memraster.NewZeroRaster(shape.Bands, shape.Rows, shape.Cols, encoding), nil
		},
	}
	if _, err := r.Execute("r1 + 1"); err != nil {
		t.Fatal(err)
	}
	if len(rep.ticks) == 0 {
		t.Fatal("expected at least one progress tick for a large run")
	}
	completions := 0
	for _, tk := range rep.ticks {
		if tk.done == tk.total {
			completions++
		}
	}
	if completions != 1 {
		t.Fatalf("got %d completion ticks, want exactly 1 (%+v)", completions, rep.ticks)
	}
	last := rep.ticks[len(rep.ticks)-1]
	if last.done != last.total {
		t.Fatalf("got final tick %+v, want the last tick to be the 100%% completion tick", last)
	}
}

// Optimize folds the repeated sum(r1) into a single reducer step plus
// a cheap REFERENCE read, but the visible result must be unaffected.
func TestCommonSubexpressionFoldingIsTransparent(t *testing.T) {
	reg := memraster.NewRegistry()
	reg.SetRaster(1, oneByOneRaster(1, 2, 3))
	r := newRunner(reg)
	res, err := r.Execute("sum(r1) + sum(r1)")
	if err != nil {
		t.Fatal(err)
	}
	if res.Scalar != 12 {
		t.Fatalf("got %v, want 12", res.Scalar)
	}
}

func TestClampFunction(t *testing.T) {
	reg := memraster.NewRegistry()
	r := newRunner(reg)
	res, err := r.Execute("clamp(5, 0, 3)")
	if err != nil {
		t.Fatal(err)
	}
	if res.Scalar != 3 {
		t.Fatalf("got %v, want 3", res.Scalar)
	}
}
