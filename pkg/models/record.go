package models

import (
	"fmt"
	"strings"
)

// Record is an ordered mapping of column name to value. The column set is
// whatever the originating cursor, file or lookup produced.
//
// Values are normalised to nil, bool, int64, float64, string, time.Time,
// []byte or EncodedString.
type Record struct {
	cols []string
	vals map[string]any
}

// NewRecord builds a record from parallel column and value slices.
func NewRecord(cols []string, vals []any) *Record {
	r := &Record{
		cols: make([]string, 0, len(cols)),
		vals: make(map[string]any, len(cols)),
	}
	for i, c := range cols {
		var v any
		if i < len(vals) {
			v = vals[i]
		}
		r.Set(c, v)
	}
	return r
}

// RecordOf is a convenience constructor taking alternating name/value pairs.
func RecordOf(kv ...any) *Record {
	r := &Record{vals: make(map[string]any, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(fmt.Sprint(kv[i]), kv[i+1])
	}
	return r
}

func (r *Record) Get(col string) (any, bool) {
	v, ok := r.vals[col]
	return v, ok
}

// Set overwrites col in place or appends it as the last column.
func (r *Record) Set(col string, v any) {
	if r.vals == nil {
		r.vals = make(map[string]any)
	}
	if _, ok := r.vals[col]; !ok {
		r.cols = append(r.cols, col)
	}
	r.vals[col] = v
}

func (r *Record) Delete(col string) {
	if _, ok := r.vals[col]; !ok {
		return
	}
	delete(r.vals, col)
	for i, c := range r.cols {
		if c == col {
			r.cols = append(r.cols[:i], r.cols[i+1:]...)
			break
		}
	}
}

// Rename moves the value of from to to, keeping the column position of from.
// An existing column named to is replaced. Returns false when from is absent.
func (r *Record) Rename(from, to string) bool {
	v, ok := r.vals[from]
	if !ok {
		return false
	}
	if from == to {
		return true
	}
	r.Delete(to)
	for i, c := range r.cols {
		if c == from {
			r.cols[i] = to
			break
		}
	}
	delete(r.vals, from)
	r.vals[to] = v
	return true
}

// Columns returns a copy of the column names in order.
func (r *Record) Columns() []string {
	out := make([]string, len(r.cols))
	copy(out, r.cols)
	return out
}

// Values returns the values in column order.
func (r *Record) Values() []any {
	out := make([]any, len(r.cols))
	for i, c := range r.cols {
		out[i] = r.vals[c]
	}
	return out
}

func (r *Record) Len() int { return len(r.cols) }

// Map returns a shallow copy of the record as a plain map.
func (r *Record) Map() map[string]any {
	out := make(map[string]any, len(r.cols))
	for _, c := range r.cols {
		out[c] = r.vals[c]
	}
	return out
}

func (r *Record) Clone() *Record {
	return NewRecord(r.cols, r.Values())
}

// Merge returns a new record holding r's columns followed by the columns of
// other that r does not have. On a name collision other's value wins.
func (r *Record) Merge(other *Record) *Record {
	out := r.Clone()
	if other == nil {
		return out
	}
	for _, c := range other.cols {
		out.Set(c, other.vals[c])
	}
	return out
}

// SameColumns reports whether both records carry the same columns in the
// same order.
func (r *Record) SameColumns(other *Record) bool {
	if len(r.cols) != len(other.cols) {
		return false
	}
	for i := range r.cols {
		if r.cols[i] != other.cols[i] {
			return false
		}
	}
	return true
}

func (r *Record) String() string {
	parts := make([]string, len(r.cols))
	for i, c := range r.cols {
		parts[i] = fmt.Sprintf("%s:%v", c, r.vals[c])
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Chunk is a bounded, ordered group of records processed as one unit.
type Chunk []*Record

// EncodedString is a string already transcoded to a target character
// encoding. Text keeps the original value for writers that bind strings
// natively.
type EncodedString struct {
	Text     string
	Encoding string
	Data     []byte
}

func (e EncodedString) String() string { return e.Text }
