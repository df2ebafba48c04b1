package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// TaskFile represents the root of a transfer definition file.
type TaskFile struct {
	Version     string            `yaml:"version" json:"version"`
	Connections map[string]string `yaml:"connections" json:"connections"`
	Tasks       []TransferTask    `yaml:"tasks" json:"tasks"`
}

// TransferTask describes one source → (lookup) → sink transfer.
type TransferTask struct {
	Name   string       `yaml:"name" json:"name"`
	Source SourceConfig `yaml:"source" json:"source"`

	LookupConn      string     `yaml:"lookup_conn" json:"lookup_conn"`
	LookupSQL       string     `yaml:"lookup_sql" json:"lookup_sql"`
	LookupSQLParams OrderedMap `yaml:"lookup_sql_params" json:"lookup_sql_params"`
	LookupCache     bool       `yaml:"lookup_cache" json:"lookup_cache"`

	Dest                         DestConfig     `yaml:"dest" json:"dest"`
	DestPreoperator              string         `yaml:"dest_preoperator" json:"dest_preoperator"`
	DestPreoperatorParams        map[string]any `yaml:"dest_preoperator_params" json:"dest_preoperator_params"`
	DestNoMatch                  *DestConfig    `yaml:"dest_no_match" json:"dest_no_match"`
	DestNoMatchPreoperator       string         `yaml:"dest_no_match_preoperator" json:"dest_no_match_preoperator"`
	DestNoMatchPreoperatorParams map[string]any `yaml:"dest_no_match_preoperator_params" json:"dest_no_match_preoperator_params"`

	RowsChunk             int               `yaml:"rows_chunk" json:"rows_chunk"`
	Tablock               *bool             `yaml:"tablock" json:"tablock"`
	DestCharacterEncoding *string           `yaml:"dest_character_encoding" json:"dest_character_encoding"`
	ColumnEncodings       map[string]string `yaml:"column_encodings" json:"column_encodings"`
	BulkInsertDictRows    *bool             `yaml:"bulk_insert_dict_rows" json:"bulk_insert_dict_rows"`

	Transformations          OrderedMap `yaml:"transformations" json:"transformations"`
	TransformationsTemplated OrderedMap `yaml:"transformations_templated" json:"transformations_templated"`
}

// HasLookup reports whether a lookup query is configured.
func (t *TransferTask) HasLookup() bool { return t.LookupSQL != "" }

type SourceConfig struct {
	Conn   string         `yaml:"conn" json:"conn"`
	SQL    string         `yaml:"sql" json:"sql"`
	Params map[string]any `yaml:"params" json:"params"`

	// Mongo sources read Collection ("db.collection") with an extended JSON filter.
	Collection string `yaml:"collection" json:"collection"`
	Filter     string `yaml:"filter" json:"filter"`

	File *FileConfig `yaml:"file" json:"file"`
}

type FileConfig struct {
	Path       string   `yaml:"path" json:"path"`
	Format     string   `yaml:"format" json:"format"` // csv, fixed, xlsx
	Delimiter  string   `yaml:"delimiter" json:"delimiter"`
	QuoteChar  string   `yaml:"quotechar" json:"quotechar"`
	SkipRows   int      `yaml:"skiprows" json:"skiprows"`
	SkipFooter int      `yaml:"skipfooter" json:"skipfooter"`
	Encoding   string   `yaml:"encoding" json:"encoding"`
	Names      []string `yaml:"names" json:"names"`
	Widths     []int    `yaml:"widths" json:"widths"`
	Sheet      string   `yaml:"sheet_name" json:"sheet_name"`
}

type DestConfig struct {
	Conn  string `yaml:"conn" json:"conn"`
	Table string `yaml:"table" json:"table"`
	Mode  string `yaml:"mode" json:"mode"` // bulk (default) or rows
}

// MapEntry is one key/value pair of an OrderedMap.
type MapEntry struct {
	Key   string
	Value any
}

// OrderedMap keeps the declaration order of a YAML/JSON mapping.
type OrderedMap []MapEntry

func (m *OrderedMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*m = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	out := make(OrderedMap, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var v any
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("line %d: %w", node.Content[i+1].Line, err)
		}
		out = out.With(node.Content[i].Value, v)
	}
	*m = out
	return nil
}

// With sets key, replacing an existing entry in place or appending a new one.
func (m OrderedMap) With(key string, v any) OrderedMap {
	for i := range m {
		if m[i].Key == key {
			m[i].Value = v
			return m
		}
	}
	return append(m, MapEntry{Key: key, Value: v})
}

func (m OrderedMap) Get(key string) (any, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// StringMap returns the entries whose values are strings.
func (m OrderedMap) StringMap() map[string]string {
	out := make(map[string]string, len(m))
	for _, e := range m {
		if s, ok := e.Value.(string); ok {
			out[e.Key] = s
		}
	}
	return out
}
