package gpam

import (
	"strings"

	"github.com/mind-engage/gpam/internal/ledger"
)

// AdmittanceFilter answers roster membership. The roster is expected to be pre-filtered to
// the admission policy (admitted after the cutoff term); the filter compares nothing else.
type AdmittanceFilter struct {
	ids map[string]struct{}
}

func NewAdmittanceFilter(roster []ledger.AdmittanceRecord) *AdmittanceFilter {
	f := &AdmittanceFilter{ids: make(map[string]struct{}, len(roster))}
	for _, a := range roster {
		if id := strings.TrimSpace(a.StudentID); id != "" {
			f.ids[id] = struct{}{}
		}
	}
	return f
}

func (f *AdmittanceFilter) IsAdmitted(studentID string) bool {
	_, ok := f.ids[strings.TrimSpace(studentID)]
	return ok
}

// Len is the number of distinct students on the roster.
func (f *AdmittanceFilter) Len() int { return len(f.ids) }
