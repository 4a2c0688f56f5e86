// Package sidefile keeps run state in files next to the inputs: the rewritten ledger and
// the course_medians.csv snapshot of the median cache.
package sidefile

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mind-engage/gpam/internal/ledger"
	"github.com/mind-engage/gpam/internal/storage"
)

// DefaultMediansName is the side file the registrar tooling has always used.
const DefaultMediansName = "course_medians.csv"

var mediansHeader = []string{"TERM", "SUBJ", "CRSE", "CLASS_ID", "MEDIAN"}

// MedianFile persists the median cache as CSV in a BlobStore.
type MedianFile struct {
	Store storage.BlobStore
	Key   string
}

// LoadMedians returns an empty map when the file does not exist yet.
func (f *MedianFile) LoadMedians(_ context.Context) (map[ledger.CourseKey]decimal.Decimal, error) {
	rc, err := f.Store.Get(f.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return map[ledger.CourseKey]decimal.Decimal{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("medians: open %s: %w", f.Key, err)
	}
	defer rc.Close()
	return readMedians(rc)
}

func (f *MedianFile) SaveMedians(_ context.Context, medians map[ledger.CourseKey]decimal.Decimal) error {
	var buf bytes.Buffer
	if err := writeMedians(&buf, medians); err != nil {
		return fmt.Errorf("medians: encode: %w", err)
	}
	if _, err := f.Store.Put(f.Key, &buf); err != nil {
		return fmt.Errorf("medians: write %s: %w", f.Key, err)
	}
	return nil
}

func readMedians(r io.Reader) (map[ledger.CourseKey]decimal.Decimal, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return map[ledger.CourseKey]decimal.Decimal{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("medians: header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToUpper(strings.Trim(strings.TrimSpace(h), `"`))] = i
	}
	for _, k := range mediansHeader {
		if _, ok := idx[k]; !ok {
			return nil, errors.New("medians: missing column: " + k)
		}
	}

	out := map[ledger.CourseKey]decimal.Decimal{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("medians: %w", err)
		}
		v, err := decimal.NewFromString(strings.TrimSpace(rec[idx["MEDIAN"]]))
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("medians: line %d: bad median %q", line, rec[idx["MEDIAN"]])
		}
		k := ledger.NewCourseKey(rec[idx["TERM"]], rec[idx["SUBJ"]], rec[idx["CRSE"]], rec[idx["CLASS_ID"]])
		out[k] = v
	}
	return out, nil
}

func writeMedians(w io.Writer, medians map[ledger.CourseKey]decimal.Decimal) error {
	keys := make([]ledger.CourseKey, 0, len(medians))
	for k := range medians {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	cw := csv.NewWriter(w)
	if err := cw.Write(mediansHeader); err != nil {
		return err
	}
	for _, k := range keys {
		if err := cw.Write([]string{k.Term, k.Subject, k.CourseNumber, k.SectionID, medians[k].String()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
