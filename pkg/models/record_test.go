package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRecordSetKeepsOrder(t *testing.T) {
	r := NewRecord([]string{"b", "a"}, []any{1, 2})
	r.Set("c", 3)
	r.Set("b", 10)

	assert.Equal(t, []string{"b", "a", "c"}, r.Columns())
	assert.Equal(t, []any{10, 2, 3}, r.Values())
	assert.Equal(t, 3, r.Len())
}

func TestRecordRename(t *testing.T) {
	r := RecordOf("id", 1, "name", "x", "old", true)
	assert.True(t, r.Rename("name", "old"))
	assert.Equal(t, []string{"id", "old"}, r.Columns())
	assert.Equal(t, "x", r.Map()["old"])

	assert.False(t, r.Rename("missing", "z"))
	assert.True(t, r.Rename("id", "id"))
}

func TestRecordMergeOtherWins(t *testing.T) {
	left := RecordOf("id", 1, "val", "a")
	right := RecordOf("val", "b", "extra", 2)

	m := left.Merge(right)
	assert.Equal(t, []string{"id", "val", "extra"}, m.Columns())
	assert.Equal(t, []any{1, "b", 2}, m.Values())
	assert.Equal(t, []any{1, "a"}, left.Values(), "inputs are untouched")
	assert.Equal(t, left.Values(), left.Merge(nil).Values())
}

func TestRecordCloneIsIndependent(t *testing.T) {
	r := RecordOf("a", 1)
	c := r.Clone()
	c.Set("a", 2)
	c.Delete("a")
	v, _ := r.Get("a")
	assert.Equal(t, 1, v)
	assert.True(t, r.SameColumns(RecordOf("a", 9)))
	assert.False(t, r.SameColumns(c))
	assert.Equal(t, "{a:1}", r.String())
}

func TestOrderedMapYAML(t *testing.T) {
	var doc struct {
		M OrderedMap `yaml:"m"`
		N OrderedMap `yaml:"n"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("m:\n  z: 1\n  a: two\n  m: {expr: x}\nn: ~\n"), &doc))

	require.Len(t, doc.M, 3)
	assert.Equal(t, "z", doc.M[0].Key)
	assert.Equal(t, map[string]any{"expr": "x"}, doc.M[2].Value)
	assert.Nil(t, doc.N)
	assert.Equal(t, map[string]string{"a": "two"}, doc.M.StringMap())

	v, ok := doc.M.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "two", v)

	doc.M = doc.M.With("z", 5).With("new", 6)
	assert.Equal(t, 5, doc.M[0].Value)
	assert.Equal(t, "new", doc.M[3].Key)

	assert.Error(t, yaml.Unmarshal([]byte("m: [1, 2]\n"), &doc))
}
