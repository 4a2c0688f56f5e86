package gpam

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mind-engage/gpam/internal/ledger"
)

var two = decimal.NewFromInt(2)

// MedianCache memoizes the median grade point of each course offering.
//
// Entries handed in as seed come from a persisted snapshot of an earlier run and are trusted
// as-is. Everything else is computed on first use and kept for the rest of the run. Not safe
// for concurrent use.
type MedianCache struct {
	idx      *CourseIndex
	values   map[ledger.CourseKey]decimal.Decimal
	computed int
	dirty    bool
}

func NewMedianCache(idx *CourseIndex, seed map[ledger.CourseKey]decimal.Decimal) *MedianCache {
	m := &MedianCache{idx: idx, values: make(map[ledger.CourseKey]decimal.Decimal, len(seed))}
	for k, v := range seed {
		m.values[normKey(k)] = v
	}
	return m
}

// MedianFor returns the median grade point of the offering, or 0 when it has no graded
// enrollment (an all pass/no-pass section does not differentiate anyone).
func (m *MedianCache) MedianFor(key ledger.CourseKey) decimal.Decimal {
	key = normKey(key)
	if v, ok := m.values[key]; ok {
		return v
	}
	v := median(gradePoints(m.idx.ByCourseKey(key)))
	m.values[key] = v
	m.computed++
	m.dirty = true
	return v
}

// Resolve is MedianFor for keys that must exist: a key that is neither cached nor indexed
// yields ErrMissingMedian instead of a silent zero.
func (m *MedianCache) Resolve(key ledger.CourseKey) (decimal.Decimal, error) {
	key = normKey(key)
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	if !m.idx.Has(key) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMissingMedian, key)
	}
	return m.MedianFor(key), nil
}

// Warm computes every indexed key that is not cached yet. It stops between keys when ctx is
// canceled; what was computed so far stays cached.
func (m *MedianCache) Warm(ctx context.Context) error {
	for _, k := range m.idx.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.MedianFor(k)
	}
	return nil
}

// Snapshot copies the cache for persistence.
func (m *MedianCache) Snapshot() map[ledger.CourseKey]decimal.Decimal {
	out := make(map[ledger.CourseKey]decimal.Decimal, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Len is the number of cached keys, seeded or computed.
func (m *MedianCache) Len() int { return len(m.values) }

// Computed is the number of keys computed (not seeded) during this run.
func (m *MedianCache) Computed() int { return m.computed }

// Dirty reports whether anything was computed since the last MarkClean.
func (m *MedianCache) Dirty() bool { return m.dirty }

func (m *MedianCache) MarkClean() { m.dirty = false }

func gradePoints(rows []*ledger.CourseRecord) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(rows))
	for _, r := range rows {
		if r.Graded() {
			out = append(out, r.GradePoint.Decimal)
		}
	}
	return out
}

// median sorts vs in place. Empty input is 0.
func median(vs []decimal.Decimal) decimal.Decimal {
	n := len(vs)
	if n == 0 {
		return decimal.Zero
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].LessThan(vs[j]) })
	if n%2 == 1 {
		return vs[n/2]
	}
	return vs[n/2-1].Add(vs[n/2]).Div(two)
}

func normKey(k ledger.CourseKey) ledger.CourseKey {
	return ledger.NewCourseKey(k.Term, k.Subject, k.CourseNumber, k.SectionID)
}
