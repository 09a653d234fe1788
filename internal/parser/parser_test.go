package parser

import (
	"testing"

	"rastermath/internal/memraster"
	"rastermath/internal/program"
	"rastermath/internal/raster"
)

// testCorrelator returns a registry with r1 a 1x2x2 raster (values
// 1,2,3,4 row-major), r2 a 3-band 1x1 raster (values 10,20,30), and a1
// a 2x2 mask covering the same extent as r1.
func testCorrelator() *memraster.Registry {
	reg := memraster.NewRegistry()
	reg.SetRaster(1, memraster.NewRaster([][]float64{{1, 2, 3, 4}}, 2, 2, raster.Flt8Bytes))
	reg.SetRaster(2, memraster.NewRaster([][]float64{{10}, {20}, {30}}, 1, 1, raster.Flt8Bytes))
	reg.SetAoi(1, memraster.NewAoi(0, 0, 2, 2, []bool{true, false, false, true}))
	return reg
}

func parseString(t *testing.T, formula string) (program.Shape, *program.Builder) {
	t.Helper()
	b := program.NewBuilder(testCorrelator())
	shape, err := Parse(formula, b)
	if err != nil {
		t.Fatalf("Parse(%q) returned unexpected error: %v", formula, err)
	}
	return shape, b
}

func expectParseError(t *testing.T, formula string) {
	t.Helper()
	b := program.NewBuilder(testCorrelator())
	if _, err := Parse(formula, b); err == nil {
		t.Fatalf("Parse(%q) succeeded, want an error", formula)
	}
}

func TestPrecedenceExponentIsLeftAssoc(t *testing.T) {
	_, b := parseString(t, "2^3^2")
	last := b.Steps()[len(b.Steps())-1]
	if last.Kind != program.Exponentiate {
		t.Fatalf("expected a top-level ^ step, got %v", last.Kind)
	}
	// Left-assoc emits 2 3 ^ 2 ^: the step just before the outer ^ is its
	// right operand (2), and the one before that ends its left operand.
	lhs := b.Steps()[len(b.Steps())-3]
	if lhs.Kind != program.Exponentiate {
		t.Fatalf("expected left operand of the outer ^ to itself be ^ (left-assoc), got %v", lhs.Kind)
	}
}

func TestUnaryMinusBindsTighterThanExponent(t *testing.T) {
	// -3^2 parses as -(3^2), not (-3)^2, since expr4 (unary minus) wraps
	// expr3 which itself descends through expr2 (exponent).
	_, b := parseString(t, "-3^2")
	last := b.Steps()[len(b.Steps())-1]
	if last.Kind != program.Negate {
		t.Fatalf("expected top-level Negate, got %v", last.Kind)
	}
}

func TestRasterSubscriptForms(t *testing.T) {
	cases := []struct {
		formula  string
		wantKind program.Kind
		wantLo   int
		wantHi   int
	}{
		{"r1", program.ValueRaster, 0, 0},
		{"r2[1]", program.ValueRaster, 0, 0},
		{"r2[1:]", program.ValueRaster, 0, 2},
		{"r2[:2]", program.ValueRaster, 0, 1},
		{"r2[1:2]", program.ValueRaster, 0, 1},
	}
	for _, c := range cases {
		_, b := parseString(t, c.formula)
		last := b.Steps()[len(b.Steps())-1]
		if last.Kind != c.wantKind {
			t.Errorf("%q: got kind %v, want %v", c.formula, last.Kind, c.wantKind)
		}
		if last.Raster == nil {
			t.Fatalf("%q: expected a raster step", c.formula)
		}
		if last.Raster.MinBand != c.wantLo || last.Raster.MaxBand != c.wantHi {
			t.Errorf("%q: got band range [%d,%d], want [%d,%d]", c.formula, last.Raster.MinBand, last.Raster.MaxBand, c.wantLo, c.wantHi)
		}
	}
}

func TestReducerNames(t *testing.T) {
	names := []string{"min", "max", "mean", "avg", "geomean", "harmean", "sum", "stdev"}
	for _, name := range names {
		formula := name + "(r2)"
		_, b := parseString(t, formula)
		last := b.Steps()[len(b.Steps())-1]
		if !last.Kind.IsReducer() {
			t.Errorf("%q: expected a reducer step, got %v", formula, last.Kind)
		}
		if last.Reducer == nil || last.Reducer.SubProgram == nil {
			t.Fatalf("%q: reducer step missing its sub-program", formula)
		}
	}
}

func TestReducerAvgAliasesMean(t *testing.T) {
	_, b1 := parseString(t, "avg(r2)")
	_, b2 := parseString(t, "mean(r2)")
	last1 := b1.Steps()[len(b1.Steps())-1]
	last2 := b2.Steps()[len(b2.Steps())-1]
	if last1.Kind != last2.Kind {
		t.Fatalf("avg(r2) compiled to %v but mean(r2) compiled to %v", last1.Kind, last2.Kind)
	}
	if last1.Kind != program.BandMean {
		t.Fatalf("avg(r2) should compile to BandMean, got %v", last1.Kind)
	}
}

func TestScalarResultShape(t *testing.T) {
	shape, _ := parseString(t, "sum(r2) + 1")
	if shape != (program.Shape{Bands: 1, Rows: 1, Cols: 1}) {
		t.Fatalf("got shape %+v, want (1,1,1)", shape)
	}
}

func TestAngleModeIndependentOfParsing(t *testing.T) {
	// Angle mode is an Evaluator option, not a parser concern; sin(r2)
	// must parse identically either way.
	_, b := parseString(t, "sin(r2)")
	last := b.Steps()[len(b.Steps())-1]
	if last.Kind != program.Sin {
		t.Fatalf("got kind %v, want Sin", last.Kind)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"r1[1",      // unmatched bracket
		"(1 + 2",    // unmatched paren
		"1 + 2)",    // unexpected trailing input
		"1 +",       // missing rhs
		"@",         // unrecognized character
		"r1[1:2:3]", // malformed slice syntax
		"1 2",       // trailing input after a complete formula
		"sum(r1",    // unterminated function call
		"r9",        // ident shaped like a ref but out of 1-5 range falls to constant/function lookup and fails
	}
	for _, formula := range cases {
		expectParseError(t, formula)
	}
}

func TestUnregisteredRasterFails(t *testing.T) {
	expectParseError(t, "r3") // r3 not registered in testCorrelator
}

func TestOrAndKeywordAndSymbolForms(t *testing.T) {
	_, b1 := parseString(t, "1 and 1")
	_, b2 := parseString(t, "1 & 1")
	last1 := b1.Steps()[len(b1.Steps())-1]
	last2 := b2.Steps()[len(b2.Steps())-1]
	if last1.Kind != program.And || last2.Kind != program.And {
		t.Fatalf("expected both forms to compile to And, got %v and %v", last1.Kind, last2.Kind)
	}
}

func TestCaseSensitiveKeywords(t *testing.T) {
	// "AND"/"Sum" are not recognized spellings; the grammar is case
	// sensitive and its keywords are lowercase.
	expectParseError(t, "1 AND 1")
	expectParseError(t, "Sum(r2)")
}

func TestConstants(t *testing.T) {
	_, b := parseString(t, "pi + e")
	add := b.Steps()[len(b.Steps())-1]
	if add.Kind != program.Add {
		t.Fatalf("got kind %v, want Add", add.Kind)
	}
}

func TestClampTernary(t *testing.T) {
	_, b := parseString(t, "clamp(r1, 0, 1)")
	last := b.Steps()[len(b.Steps())-1]
	if last.Kind != program.Clamp {
		t.Fatalf("got kind %v, want Clamp", last.Kind)
	}
}

func TestAoiReference(t *testing.T) {
	shape, b := parseString(t, "a1")
	last := b.Steps()[len(b.Steps())-1]
	if last.Kind != program.ValueAoi {
		t.Fatalf("got kind %v, want ValueAoi", last.Kind)
	}
	// a1's bounding box is the 2x2 extent set up by testCorrelator.
	if shape != (program.Shape{Bands: 1, Rows: 2, Cols: 2}) {
		t.Fatalf("expected a1's real 2x2 bounding box shape, got %+v", shape)
	}
}
