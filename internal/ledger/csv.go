package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// Column names as they appear in the registrar exports.
const (
	ColStudent    = "PIDM"
	ColTerm       = "TERM"
	ColSubject    = "SUBJ"
	ColCourse     = "CRSE"
	ColSection    = "CLASS_ID"
	ColUnits      = "UNITS"
	ColGrade      = "GRADE"
	ColGradePoint = "GRADE_PT"
	ColGPAM       = "GPAM"
	ColTermGPAM   = "TERM_GPAM"
)

// DefaultHeader is used when a ledger is built in memory rather than read.
var DefaultHeader = []string{
	ColStudent, ColTerm, ColSubject, ColCourse, ColSection,
	ColUnits, ColGrade, ColGradePoint, ColGPAM, ColTermGPAM,
}

// RowFault is a row-level input problem. The row is skipped, the rest of the file is kept.
type RowFault struct {
	Line int
	Err  error
}

func (f RowFault) Error() string { return fmt.Sprintf("line %d: %v", f.Line, f.Err) }

func (f RowFault) Unwrap() error { return f.Err }

// Ledger is the parsed grade ledger plus enough of the source layout to rewrite it.
type Ledger struct {
	Header  []string
	Records []*CourseRecord

	cols map[string]int
	rows []*CourseRecord // every data row of the source in order, malformed ones included
}

// NewLedger wraps in-memory records with the default header.
func NewLedger(records []*CourseRecord) *Ledger {
	h := append([]string(nil), DefaultHeader...)
	return &Ledger{Header: h, Records: records, cols: headerIndex(h)}
}

// ReadLedger parses a ledger CSV. Structural problems (unreadable header, missing required
// columns) are returned as an error; bad rows come back as faults.
func ReadLedger(r io.Reader) (*Ledger, []RowFault, error) {
	cr := newReader(r)
	hdr, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: read header: %w", err)
	}
	hdr = cleanHeader(hdr)
	idx := headerIndex(hdr)
	for _, k := range []string{ColStudent, ColTerm, ColSubject, ColCourse, ColSection, ColUnits, ColGradePoint} {
		if _, ok := idx[k]; !ok {
			return nil, nil, errors.New("ledger: missing column: " + k)
		}
	}

	l := &Ledger{Header: hdr, cols: idx}
	var faults []RowFault
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				faults = append(faults, RowFault{Line: pe.Line, Err: pe.Err})
				continue
			}
			return nil, nil, fmt.Errorf("ledger: read: %w", err)
		}
		line, _ := cr.FieldPos(0)
		row, err := l.parseRow(rec)
		if err != nil {
			faults = append(faults, RowFault{Line: line, Err: err})
			l.rows = append(l.rows, &CourseRecord{Line: line, raw: rec, malformed: true})
			continue
		}
		row.Line = line
		l.Records = append(l.Records, row)
		l.rows = append(l.rows, row)
	}
	return l, faults, nil
}

func (l *Ledger) parseRow(rec []string) (*CourseRecord, error) {
	if len(rec) != len(l.Header) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(l.Header), len(rec))
	}
	get := func(col string) string {
		if i, ok := l.cols[col]; ok {
			return cell(rec[i])
		}
		return ""
	}
	r := &CourseRecord{
		StudentID:    get(ColStudent),
		Term:         get(ColTerm),
		Subject:      get(ColSubject),
		CourseNumber: get(ColCourse),
		SectionID:    get(ColSection),
		Grade:        get(ColGrade),
		raw:          rec,
	}
	if r.StudentID == "" {
		return nil, errors.New("empty " + ColStudent)
	}
	if r.Term == "" {
		return nil, errors.New("empty " + ColTerm)
	}
	unitsText := get(ColUnits)
	units, err := decimal.NewFromString(unitsText)
	if err != nil {
		return nil, fmt.Errorf("units %q: not a number", unitsText)
	}
	if units.IsNegative() {
		return nil, fmt.Errorf("units %q: negative", unitsText)
	}
	r.Units = units

	if r.GradePoint, err = parseOptional(get(ColGradePoint)); err != nil {
		return nil, fmt.Errorf("%s: %w", ColGradePoint, err)
	}
	if r.CumulativeGPAM, err = parseOptional(get(ColGPAM)); err != nil {
		return nil, fmt.Errorf("%s: %w", ColGPAM, err)
	}
	if r.TermGPAM, err = parseOptional(get(ColTermGPAM)); err != nil {
		return nil, fmt.Errorf("%s: %w", ColTermGPAM, err)
	}
	return r, nil
}

// Write renders the ledger back to CSV. Input cells of rows that were read from a file are
// copied through verbatim, so unit counts and grade points keep their source text; only the
// output columns are rendered. Output columns are appended when the source lacked them.
// Malformed source rows are written back untouched.
func (l *Ledger) Write(w io.Writer) error {
	hdr := append([]string(nil), l.Header...)
	idx := headerIndex(hdr)
	for _, c := range []string{ColGPAM, ColTermGPAM} {
		if _, ok := idx[c]; !ok {
			idx[c] = len(hdr)
			hdr = append(hdr, c)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(hdr); err != nil {
		return err
	}
	rows := l.rows
	if rows == nil {
		rows = l.Records
	}
	for _, r := range rows {
		if r.malformed {
			raw := r.raw
			if len(raw) < len(hdr) {
				raw = make([]string, len(hdr))
				copy(raw, r.raw)
			}
			if err := cw.Write(raw); err != nil {
				return err
			}
			continue
		}
		row := make([]string, len(hdr))
		copy(row, r.raw)
		set := func(col, v string) {
			if i, ok := idx[col]; ok {
				row[i] = v
			}
		}
		if r.raw == nil {
			set(ColStudent, r.StudentID)
			set(ColTerm, r.Term)
			set(ColSubject, r.Subject)
			set(ColCourse, r.CourseNumber)
			set(ColSection, r.SectionID)
			set(ColGrade, r.Grade)
			set(ColUnits, r.Units.String())
			set(ColGradePoint, optionalCell(r.GradePoint))
		}
		set(ColGPAM, fixedCell(r.CumulativeGPAM))
		set(ColTermGPAM, fixedCell(r.TermGPAM))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadRoster parses the admittance roster. Only PIDM is required.
func ReadRoster(r io.Reader) ([]AdmittanceRecord, []RowFault, error) {
	cr := newReader(r)
	hdr, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("roster: read header: %w", err)
	}
	idx := headerIndex(cleanHeader(hdr))
	pi, ok := idx[ColStudent]
	if !ok {
		return nil, nil, errors.New("roster: missing column: " + ColStudent)
	}
	ti, hasTerm := idx[ColTerm]

	var (
		out    []AdmittanceRecord
		faults []RowFault
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				faults = append(faults, RowFault{Line: pe.Line, Err: pe.Err})
				continue
			}
			return nil, nil, fmt.Errorf("roster: read: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if pi >= len(rec) || cell(rec[pi]) == "" {
			faults = append(faults, RowFault{Line: line, Err: errors.New("empty " + ColStudent)})
			continue
		}
		a := AdmittanceRecord{StudentID: cell(rec[pi])}
		if hasTerm && ti < len(rec) {
			a.Term = cell(rec[ti])
		}
		out = append(out, a)
	}
	return out, faults, nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr
}

// cleanHeader strips the stray quoting registrar exports put around column names.
func cleanHeader(h []string) []string {
	out := make([]string, len(h))
	for i, s := range h {
		out[i] = strings.ToUpper(cell(s))
	}
	return out
}

func headerIndex(h []string) map[string]int {
	idx := make(map[string]int, len(h))
	for i, s := range h {
		if _, dup := idx[s]; !dup {
			idx[s] = i
		}
	}
	return idx
}

// cell trims whitespace and leftover quotes, so `""` reads as empty.
func cell(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func parseOptional(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%q: not a number", s)
	}
	return decimal.NewNullDecimal(d), nil
}

// optionalCell renders absent as empty.
func optionalCell(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// fixedCell renders an aggregate with two decimals; absent stays empty, zero is 0.00.
func fixedCell(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}
