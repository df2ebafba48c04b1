package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BartekS5/xfer/pkg/models"
)

// LoadTasks reads and parses a task file. JSON files are accepted as YAML.
func LoadTasks(path string) (*models.TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file '%s': %w", path, err)
	}
	return ParseTasks(data)
}

func ParseTasks(data []byte) (*models.TaskFile, error) {
	var file models.TaskFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse task file: %w", err)
	}

	seen := make(map[string]bool, len(file.Tasks))
	for _, t := range file.Tasks {
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate task name %q", t.Name)
		}
		seen[t.Name] = true
	}
	return &file, nil
}

// SelectTasks returns the named tasks in the requested order, or every task
// when names is empty.
func SelectTasks(file *models.TaskFile, names []string) ([]models.TransferTask, error) {
	if len(names) == 0 {
		return file.Tasks, nil
	}
	out := make([]models.TransferTask, 0, len(names))
	for _, name := range names {
		t, err := FindTask(file, name)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func FindTask(file *models.TaskFile, name string) (*models.TransferTask, error) {
	for i := range file.Tasks {
		if file.Tasks[i].Name == name {
			return &file.Tasks[i], nil
		}
	}
	return nil, fmt.Errorf("could not find task with name '%s'", name)
}

// Issue is one validation finding.
type Issue struct {
	Path    string
	Message string
}

func (i Issue) String() string { return i.Path + ": " + i.Message }

// ValidateTask checks the structure of a task without opening connections.
// Expressions and encodings are checked by the engine constructors.
func ValidateTask(t *models.TransferTask) []Issue {
	var issues []Issue
	add := func(path, format string, args ...any) {
		issues = append(issues, Issue{Path: t.Name + "." + path, Message: fmt.Sprintf(format, args...)})
	}

	if t.Name == "" {
		add("name", "is required")
	}

	src := t.Source
	switch {
	case src.File != nil:
		if src.File.Path == "" {
			add("source.file.path", "is required")
		}
		if src.SQL != "" || src.Collection != "" {
			add("source", "file sources take no sql or collection")
		}
	case src.Collection != "":
		if src.Conn == "" {
			add("source.conn", "is required for a collection source")
		}
		if src.SQL != "" {
			add("source", "set either sql or collection, not both")
		}
	case src.SQL != "":
		if src.Conn == "" {
			add("source.conn", "is required for a sql source")
		}
	default:
		add("source", "needs sql, collection or file")
	}

	if t.Dest.Conn == "" {
		add("dest.conn", "is required")
	}
	if t.Dest.Table == "" {
		add("dest.table", "is required")
	}
	if m := t.Dest.Mode; m != "" && m != "bulk" && m != "rows" {
		add("dest.mode", "must be bulk or rows, got %q", m)
	}

	if t.RowsChunk < 0 {
		add("rows_chunk", "must be positive")
	}

	if t.HasLookup() {
		if t.LookupConn == "" {
			add("lookup_conn", "is required with lookup_sql")
		}
		if len(t.LookupSQLParams) == 0 {
			add("lookup_sql_params", "must bind at least one parameter")
		}
		for _, e := range t.LookupSQLParams {
			if s, ok := e.Value.(string); !ok || s == "" {
				add("lookup_sql_params."+e.Key, "must name a source column")
			}
		}
	} else {
		if t.LookupConn != "" || len(t.LookupSQLParams) > 0 {
			add("lookup_sql", "is required when lookup_conn or lookup_sql_params is set")
		}
		if t.DestNoMatch != nil {
			add("dest_no_match", "requires a lookup")
		}
	}

	if nm := t.DestNoMatch; nm != nil {
		if nm.Conn == "" {
			add("dest_no_match.conn", "is required")
		}
		if nm.Table == "" {
			add("dest_no_match.table", "is required")
		}
	} else if t.DestNoMatchPreoperator != "" {
		add("dest_no_match_preoperator", "is set without dest_no_match")
	}

	for _, e := range append(append(models.OrderedMap{}, t.Transformations...), t.TransformationsTemplated...) {
		if strings.TrimSpace(e.Key) == "" || e.Key == "RENAME:" || e.Key == "FILTER:" {
			add("transformations", "empty key")
		}
	}
	return issues
}

// Effective settings with defaults applied.

func RowsChunk(t *models.TransferTask, cfg *Config) int {
	if t.RowsChunk > 0 {
		return t.RowsChunk
	}
	if cfg != nil && cfg.DefaultRowsChunk > 0 {
		return cfg.DefaultRowsChunk
	}
	return 10000
}

func Tablock(t *models.TransferTask) bool { return boolOr(t.Tablock, true) }

func DictRows(t *models.TransferTask) bool { return boolOr(t.BulkInsertDictRows, true) }

// CharacterEncoding returns the configured sink encoding, or def when the task
// leaves it unset. An explicit empty string disables transcoding.
func CharacterEncoding(t *models.TransferTask, def string) string {
	if t.DestCharacterEncoding == nil {
		return def
	}
	return *t.DestCharacterEncoding
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
