package gpam

import "github.com/mind-engage/gpam/internal/ledger"

// CourseIndex groups ledger rows by student and by course key. Built once, read-only after.
type CourseIndex struct {
	records   []*ledger.CourseRecord
	byStudent map[string][]*ledger.CourseRecord
	byKey     map[ledger.CourseKey][]*ledger.CourseRecord
	students  []string
	keys      []ledger.CourseKey
}

func NewCourseIndex(records []*ledger.CourseRecord) *CourseIndex {
	idx := &CourseIndex{
		records:   records,
		byStudent: make(map[string][]*ledger.CourseRecord),
		byKey:     make(map[ledger.CourseKey][]*ledger.CourseRecord),
	}
	for _, r := range records {
		if _, ok := idx.byStudent[r.StudentID]; !ok {
			idx.students = append(idx.students, r.StudentID)
		}
		idx.byStudent[r.StudentID] = append(idx.byStudent[r.StudentID], r)

		k := r.Key()
		if _, ok := idx.byKey[k]; !ok {
			idx.keys = append(idx.keys, k)
		}
		idx.byKey[k] = append(idx.byKey[k], r)
	}
	return idx
}

// ByStudent returns the student's rows in ledger order; nil for an unknown student.
func (x *CourseIndex) ByStudent(studentID string) []*ledger.CourseRecord {
	return x.byStudent[studentID]
}

// ByCourseKey returns every row of the offering. The key is normalized, so callers may pass
// a key built from raw cells of any case.
func (x *CourseIndex) ByCourseKey(key ledger.CourseKey) []*ledger.CourseRecord {
	return x.byKey[ledger.NewCourseKey(key.Term, key.Subject, key.CourseNumber, key.SectionID)]
}

// Has reports whether any row carries the key.
func (x *CourseIndex) Has(key ledger.CourseKey) bool {
	return len(x.ByCourseKey(key)) > 0
}

// Records returns all rows in ledger order.
func (x *CourseIndex) Records() []*ledger.CourseRecord { return x.records }

// Students returns student ids in first-seen order.
func (x *CourseIndex) Students() []string { return x.students }

// Keys returns course keys in first-seen order.
func (x *CourseIndex) Keys() []ledger.CourseKey { return x.keys }
