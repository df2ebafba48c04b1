package config

import (
	"fmt"
	"maps"
	"strings"
	"text/template"
	"time"

	"github.com/BartekS5/xfer/pkg/models"
)

// RunVars are the values available to templated task fields as {{ .ds }},
// {{ .ts }}, {{ .ds_nodash }}, {{ .run_id }} and {{ .var.<name> }}.
type RunVars struct {
	Time  time.Time
	RunID string
	Vars  map[string]string
}

func (v RunVars) data() map[string]any {
	t := v.Time
	if t.IsZero() {
		t = time.Now()
	}
	vars := v.Vars
	if vars == nil {
		vars = map[string]string{}
	}
	return map[string]any{
		"ds":        t.Format("2006-01-02"),
		"ds_nodash": t.Format("20060102"),
		"ts":        t.Format(time.RFC3339),
		"run_id":    v.RunID,
		"var":       vars,
	}
}

// ParseVars turns k=v pairs into a map.
func ParseVars(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

// RenderTask returns a copy of t with its templated fields rendered: the
// source query, file path and parameters, preoperators and their
// parameters, and transformations_templated.
func RenderTask(t models.TransferTask, vars RunVars) (models.TransferTask, error) {
	data := vars.data()
	r := renderer{data: data}

	t.Source.SQL = r.str("source.sql", t.Source.SQL)
	t.Source.Filter = r.str("source.filter", t.Source.Filter)
	t.Source.Params = r.params("source.params", t.Source.Params)
	if t.Source.File != nil {
		f := *t.Source.File
		f.Path = r.str("source.file.path", f.Path)
		t.Source.File = &f
	}
	t.DestPreoperator = r.str("dest_preoperator", t.DestPreoperator)
	t.DestPreoperatorParams = r.params("dest_preoperator_params", t.DestPreoperatorParams)
	t.DestNoMatchPreoperator = r.str("dest_no_match_preoperator", t.DestNoMatchPreoperator)
	t.DestNoMatchPreoperatorParams = r.params("dest_no_match_preoperator_params", t.DestNoMatchPreoperatorParams)

	if len(t.TransformationsTemplated) > 0 {
		out := make(models.OrderedMap, 0, len(t.TransformationsTemplated))
		for _, e := range t.TransformationsTemplated {
			out = out.With(e.Key, r.value("transformations_templated."+e.Key, e.Value))
		}
		t.TransformationsTemplated = out
	}

	if r.err != nil {
		return models.TransferTask{}, fmt.Errorf("task %s: %w", t.Name, r.err)
	}
	return t, nil
}

// renderer keeps the first error so call sites stay linear.
type renderer struct {
	data map[string]any
	err  error
}

func (r *renderer) str(name, s string) string {
	if r.err != nil || !strings.Contains(s, "{{") {
		return s
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(s)
	if err != nil {
		r.err = fmt.Errorf("parse %s: %w", name, err)
		return s
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, r.data); err != nil {
		r.err = fmt.Errorf("render %s: %w", name, err)
		return s
	}
	return b.String()
}

func (r *renderer) value(name string, v any) any {
	switch x := v.(type) {
	case string:
		return r.str(name, x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = r.value(name+"."+k, vv)
		}
		return out
	default:
		return v
	}
}

func (r *renderer) params(name string, p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := maps.Clone(p)
	for k, v := range out {
		out[k] = r.value(name+"."+k, v)
	}
	return out
}
