package program

// Program is the linearized postfix step list the parser builds one
// formula into (§4.4, grounded on ProcessStack's step vector). It owns
// structural bookkeeping only — shape, total work, and common
// subexpression folding. The numeric stack machine that walks these
// steps pixel-by-pixel lives in package eval.
type Program struct {
	Steps []*Step
}

// New wraps an already-built step list.
func New(steps []*Step) *Program {
	return &Program{Steps: steps}
}

// Tail returns the program's final step, whose shape is the program's
// overall result shape and whose kind (RESULT_NUMBER/RESULT_SIGNATURE/
// RESULT_RASTER) decides how the runner packages the answer.
func (p *Program) Tail() *Step {
	return p.Steps[len(p.Steps)-1]
}

// Shape reports the program's declared result shape.
func (p *Program) Shape() Shape {
	t := p.Tail()
	return Shape{t.Bands, t.Rows, t.Cols}
}

// TotalWork estimates the number of work units a full run performs:
// the outer iteration space of the final step, visited once per step
// in the program (the stack machine re-walks every step at every
// pixel), plus each step's one-time work — nonzero only for reducers,
// whose sub-program drives once per encounter rather than once per
// outer pixel (§4.4). Used by the progress reporter to throttle ticks
// (§5).
func (p *Program) TotalWork() int64 {
	s := p.Tail()
	total := int64(s.Bands) * int64(s.Rows) * int64(s.Cols) * int64(len(p.Steps))
	for _, step := range p.Steps {
		total += step.oneTimeWork()
	}
	return total
}

// Optimize performs common-subexpression folding: any expensive step
// (VALUE_RASTER or a reducer) that is Identity-equal to an earlier one
// in the list is replaced in place with a REFERENCE step pointing at
// the first occurrence, so repeated subexpressions (e.g.
// "sum(r1)+sum(r1)") are computed once per pixel instead of twice
// (§4.4, grounded on ProcessStack::optimize). Other steps are never
// folded.
func (p *Program) Optimize() {
	var seen []*Step
	for i, s := range p.Steps {
		if s.Kind != ValueRaster && !s.Kind.IsReducer() {
			continue
		}
		var dup *Step
		for _, prior := range seen {
			if prior.Identity(s) {
				dup = prior
				break
			}
		}
		if dup != nil {
			p.Steps[i] = &Step{
				Kind:        Reference,
				Description: "ref:" + dup.Description,
				Rows:        s.Rows,
				Cols:        s.Cols,
				Bands:       s.Bands,
				ArgCount:    0,
				Ref:         dup,
			}
			continue
		}
		seen = append(seen, s)
	}
}
