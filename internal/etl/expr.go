package etl

import (
	"fmt"
	"time"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/BartekS5/xfer/pkg/models"
	"github.com/BartekS5/xfer/pkg/utils"
)

const exprMaxSteps = uint64(100_000)

var exprPredeclared = starlark.StringDict{
	"time":        startime.Module,
	"to_datetime": starlark.NewBuiltin("to_datetime", builtinToDatetime),
	"to_int":      starlark.NewBuiltin("to_int", builtinToInt),
}

// to_datetime(v) parses ISO-like date strings; None stays None.
func builtinToDatetime(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if v == starlark.None {
		return starlark.None, nil
	}
	in, err := fromStarlark(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	t, err := utils.ConvertDateTime(in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return toStarlark(t), nil
}

// to_int(v) converts numeric strings and floats (truncating); None stays None.
func builtinToInt(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if v == starlark.None {
		return starlark.None, nil
	}
	in, err := fromStarlark(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	n, err := utils.ConvertToInt(in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.MakeInt(n), nil
}

// rowExpr is a Starlark expression compiled into `lambda row: (<src>)`.
// row is a dict of the record's current columns.
type rowExpr struct {
	name string
	fn   starlark.Callable
}

func compileRowExpr(name, src string) (*rowExpr, error) {
	thread := &starlark.Thread{Name: "compile-" + name}
	thread.SetMaxExecutionSteps(exprMaxSteps)

	prog := "fn = lambda row: (\n" + src + "\n)\n"
	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, name+".star", prog, exprPredeclared)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	fn, ok := globals["fn"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("compile expression %q: not callable", src)
	}
	return &rowExpr{name: name, fn: fn}, nil
}

func (e *rowExpr) eval(r *models.Record) (starlark.Value, error) {
	row := starlark.NewDict(r.Len())
	for _, c := range r.Columns() {
		v, _ := r.Get(c)
		if err := row.SetKey(starlark.String(c), toStarlark(v)); err != nil {
			return nil, err
		}
	}
	thread := &starlark.Thread{Name: e.name}
	thread.SetMaxExecutionSteps(exprMaxSteps)
	return starlark.Call(thread, e.fn, starlark.Tuple{row}, nil)
}

// CompileCompute compiles a Starlark expression into a ComputeFunc.
func CompileCompute(col, src string) (ComputeFunc, error) {
	e, err := compileRowExpr(col, src)
	if err != nil {
		return nil, err
	}
	return func(r *models.Record) (any, error) {
		v, err := e.eval(r)
		if err != nil {
			return nil, err
		}
		return fromStarlark(v)
	}, nil
}

// CompileFilter compiles a Starlark expression into a PredicateFunc using the
// truth value of the result.
func CompileFilter(name, src string) (PredicateFunc, error) {
	e, err := compileRowExpr(name, src)
	if err != nil {
		return nil, err
	}
	return func(r *models.Record) (bool, error) {
		v, err := e.eval(r)
		if err != nil {
			return false, err
		}
		return bool(v.Truth()), nil
	}, nil
}

func toStarlark(v any) starlark.Value {
	switch x := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(x)
	case int:
		return starlark.MakeInt(x)
	case int64:
		return starlark.MakeInt64(x)
	case uint64:
		return starlark.MakeUint64(x)
	case float64:
		return starlark.Float(x)
	case string:
		return starlark.String(x)
	case []byte:
		return starlark.Bytes(x)
	case time.Time:
		return startime.Time(x)
	case models.EncodedString:
		return starlark.String(x.Text)
	default:
		return starlark.String(fmt.Sprint(x))
	}
}

func fromStarlark(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		if n, ok := x.Int64(); ok {
			return n, nil
		}
		return x.String(), nil
	case starlark.Float:
		return float64(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Bytes:
		return []byte(x), nil
	case startime.Time:
		return time.Time(x), nil
	default:
		return nil, fmt.Errorf("unsupported expression result type %s", v.Type())
	}
}
