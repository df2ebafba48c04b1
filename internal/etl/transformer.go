package etl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BartekS5/xfer/pkg/models"
)

const (
	renamePrefix = "RENAME:"
	filterPrefix = "FILTER:"
)

// OpKind tags the variant held by an Operation.
type OpKind int

const (
	OpLiteral OpKind = iota
	OpRename
	OpFilter
	OpCompute
)

func (k OpKind) String() string {
	switch k {
	case OpLiteral:
		return "literal"
	case OpRename:
		return "rename"
	case OpFilter:
		return "filter"
	case OpCompute:
		return "compute"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

type (
	PredicateFunc func(r *models.Record) (bool, error)
	ComputeFunc   func(r *models.Record) (any, error)
)

// ErrMissingColumn is returned by Column when a record lacks the column.
var ErrMissingColumn = errors.New("missing column")

// Column reads col from r, failing when it is absent. Compute and filter
// functions use it so a missing field aborts the chunk.
func Column(r *models.Record, col string) (any, error) {
	v, ok := r.Get(col)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrMissingColumn, col)
	}
	return v, nil
}

// Operation is one entry of a TransformationSpec. Only the fields of its Kind
// are meaningful.
type Operation struct {
	Key       string
	Kind      OpKind
	Column    string
	Value     any
	Target    string
	Predicate PredicateFunc
	Compute   ComputeFunc
}

// TransformationSpec is an ordered set of operations keyed like the task
// file: "RENAME:<col>", "FILTER:<name>" or a plain column name. Re-adding a key
// replaces the operation without moving it.
type TransformationSpec struct {
	ops []Operation
}

func NewTransformationSpec() *TransformationSpec { return &TransformationSpec{} }

func (s *TransformationSpec) Literal(col string, v any) *TransformationSpec {
	s.put(Operation{Key: col, Kind: OpLiteral, Column: col, Value: v})
	return s
}

func (s *TransformationSpec) Rename(col, target string) *TransformationSpec {
	s.put(Operation{Key: renamePrefix + col, Kind: OpRename, Column: col, Target: target})
	return s
}

func (s *TransformationSpec) Filter(name string, p PredicateFunc) *TransformationSpec {
	s.put(Operation{Key: filterPrefix + name, Kind: OpFilter, Column: name, Predicate: p})
	return s
}

func (s *TransformationSpec) Compute(col string, f ComputeFunc) *TransformationSpec {
	s.put(Operation{Key: col, Kind: OpCompute, Column: col, Compute: f})
	return s
}

func (s *TransformationSpec) put(op Operation) {
	for i := range s.ops {
		if s.ops[i].Key == op.Key {
			s.ops[i] = op
			return
		}
	}
	s.ops = append(s.ops, op)
}

func (s *TransformationSpec) Operations() []Operation {
	if s == nil {
		return nil
	}
	out := make([]Operation, len(s.ops))
	copy(out, s.ops)
	return out
}

func (s *TransformationSpec) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ops)
}

func (s *TransformationSpec) Keys() []string {
	keys := make([]string, 0, s.Len())
	for _, op := range s.Operations() {
		keys = append(keys, op.Key)
	}
	return keys
}

// MergeSpecs merges static and templated operations. Templated entries
// replace static ones with the same key in place; new keys are appended.
func MergeSpecs(static, templated *TransformationSpec) *TransformationSpec {
	out := NewTransformationSpec()
	for _, op := range static.Operations() {
		out.put(op)
	}
	for _, op := range templated.Operations() {
		out.put(op)
	}
	return out
}

// SpecFromConfig builds a spec from a task file mapping. Values:
//
//	"RENAME:<col>": "<target>"
//	"FILTER:<name>": "<starlark expression>" or {expr: "..."}
//	"<col>": {expr: "..."}        compute
//	"<col>": {literal: <value>}   literal
//	"<col>": <scalar>             literal
func SpecFromConfig(m models.OrderedMap) (*TransformationSpec, error) {
	spec := NewTransformationSpec()
	for _, e := range m {
		switch {
		case strings.HasPrefix(e.Key, renamePrefix):
			target, ok := e.Value.(string)
			if !ok || target == "" {
				return nil, fmt.Errorf("%s: rename target must be a non-empty string", e.Key)
			}
			spec.Rename(strings.TrimPrefix(e.Key, renamePrefix), target)

		case strings.HasPrefix(e.Key, filterPrefix):
			src, ok := exprSource(e.Value)
			if !ok {
				if s, isStr := e.Value.(string); isStr {
					src, ok = s, true
				}
			}
			if !ok {
				return nil, fmt.Errorf("%s: filter must be an expression", e.Key)
			}
			name := strings.TrimPrefix(e.Key, filterPrefix)
			pred, err := CompileFilter(name, src)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", e.Key, err)
			}
			spec.Filter(name, pred)

		default:
			if src, ok := exprSource(e.Value); ok {
				fn, err := CompileCompute(e.Key, src)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", e.Key, err)
				}
				spec.Compute(e.Key, fn)
				continue
			}
			if m, ok := e.Value.(map[string]any); ok {
				if v, has := m["literal"]; has {
					spec.Literal(e.Key, v)
					continue
				}
				return nil, fmt.Errorf("%s: mapping value needs an expr or literal key", e.Key)
			}
			spec.Literal(e.Key, e.Value)
		}
	}
	return spec, nil
}

func exprSource(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	src, ok := m["expr"].(string)
	return src, ok && strings.TrimSpace(src) != ""
}

// TransformStage applies a TransformationSpec to chunks. It holds no state
// between chunks.
type TransformStage struct {
	spec *TransformationSpec
}

func NewTransformStage(spec *TransformationSpec) *TransformStage {
	return &TransformStage{spec: spec}
}

// Apply runs the operations on a copy of every record, in declaration order.
// Records failing a filter are dropped before later operations see them. A
// failing compute or filter function aborts the whole chunk.
func (t *TransformStage) Apply(chunk models.Chunk) (models.Chunk, error) {
	ops := t.spec.Operations()
	if len(ops) == 0 {
		return chunk, nil
	}

	out := make(models.Chunk, 0, len(chunk))
rows:
	for i, src := range chunk {
		rec := src.Clone()
		for _, op := range ops {
			switch op.Kind {
			case OpFilter:
				keep, err := op.Predicate(rec)
				if err != nil {
					return nil, transformErr(fmt.Sprintf("%s on record %d", op.Key, i), err)
				}
				if !keep {
					continue rows
				}
			case OpRename:
				rec.Rename(op.Column, op.Target)
			case OpLiteral:
				rec.Set(op.Column, op.Value)
			case OpCompute:
				v, err := op.Compute(rec)
				if err != nil {
					return nil, transformErr(fmt.Sprintf("%s on record %d", op.Key, i), err)
				}
				rec.Set(op.Column, v)
			default:
				return nil, transformErr(op.Key, fmt.Errorf("unknown operation %v", op.Kind))
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
