package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CourseRecord is one enrollment row of the grade ledger.
type CourseRecord struct {
	StudentID    string
	Term         string
	Subject      string
	CourseNumber string
	SectionID    string
	Grade        string

	Units      decimal.Decimal
	GradePoint decimal.NullDecimal // Valid=false: ungraded / pass-no-pass

	CumulativeGPAM decimal.NullDecimal // output
	TermGPAM       decimal.NullDecimal // output

	Line int // 1-based line in the source file, 0 when built in memory

	raw       []string // source cells; nil when built in memory
	malformed bool     // kept only so the rewrite does not drop it
}

// Graded reports whether the record carries a grade point.
func (r *CourseRecord) Graded() bool { return r.GradePoint.Valid }

// TermKey returns the term normalized the way CourseKey stores it.
func (r *CourseRecord) TermKey() string { return NormTerm(r.Term) }

// Key returns the normalized course key of the record.
func (r *CourseRecord) Key() CourseKey {
	return NewCourseKey(r.Term, r.Subject, r.CourseNumber, r.SectionID)
}

// AdmittanceRecord is one roster entry. Presence is the only semantic.
type AdmittanceRecord struct {
	StudentID string
	Term      string
}

// CourseKey identifies one offering of a course in one term.
// Fields are stored trimmed and upper-cased; build it with NewCourseKey.
type CourseKey struct {
	Term         string
	Subject      string
	CourseNumber string
	SectionID    string
}

func NewCourseKey(term, subject, course, section string) CourseKey {
	return CourseKey{
		Term:         norm(term),
		Subject:      norm(subject),
		CourseNumber: norm(course),
		SectionID:    norm(section),
	}
}

func (k CourseKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Term, k.Subject, k.CourseNumber, k.SectionID)
}

// NormTerm normalizes a term code for comparison: "fa20 " and "FA20" are one term.
func NormTerm(term string) string { return norm(term) }

func norm(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
