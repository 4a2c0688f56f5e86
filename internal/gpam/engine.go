package gpam

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mind-engage/gpam/internal/ledger"
)

// Scope selects the enrollments an aggregate covers. The zero Scope is cumulative.
type Scope struct {
	Term string
}

// Cumulative covers every term.
var Cumulative = Scope{}

// TermScope covers one term. The term is normalized like CourseKey.Term.
func TermScope(term string) Scope { return Scope{Term: ledger.NormTerm(term)} }

func (s Scope) IsCumulative() bool { return s.Term == "" }

func (s Scope) String() string {
	if s.IsCumulative() {
		return "cumulative"
	}
	return "term " + s.Term
}

// Aggregate is one computed GPAM.
type Aggregate struct {
	StudentID  string
	Scope      Scope
	GPAM       decimal.Decimal // rounded to 2 places
	TotalUnits decimal.Decimal
	Graded     int
}

// Engine computes GPAM from the index and the median cache.
type Engine struct {
	idx     *CourseIndex
	medians *MedianCache
}

func NewEngine(idx *CourseIndex, medians *MedianCache) *Engine {
	return &Engine{idx: idx, medians: medians}
}

// Compute returns the student's GPAM for scope.
//
// Errors: ErrZeroUnits (recoverable) when the scope has no units; ErrInternalInconsistency
// when a graded enrollment's course key cannot be resolved by the median cache.
func (e *Engine) Compute(studentID string, scope Scope) (Aggregate, error) {
	total := decimal.Zero
	weighted := decimal.Zero
	graded := 0
	for _, r := range e.idx.ByStudent(studentID) {
		if !scope.IsCumulative() && r.TermKey() != scope.Term {
			continue
		}
		total = total.Add(r.Units)
		if !r.Graded() {
			continue
		}
		m, err := e.medians.Resolve(r.Key())
		if err != nil {
			return Aggregate{}, fmt.Errorf("%w: student %s line %d: %w", ErrInternalInconsistency, studentID, r.Line, err)
		}
		weighted = weighted.Add(m.Mul(r.Units))
		graded++
	}
	if total.IsZero() {
		return Aggregate{}, fmt.Errorf("%w: student %s, %s", ErrZeroUnits, studentID, scope)
	}
	return Aggregate{
		StudentID:  studentID,
		Scope:      scope,
		GPAM:       weighted.Div(total).Round(2),
		TotalUnits: total,
		Graded:     graded,
	}, nil
}
