package etl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/xfer/pkg/models"
)

func lookupDB(t *testing.T) *CorrelatedLookup {
	t.Helper()
	db := openSQLite(t,
		"CREATE TABLE lkp (id INTEGER, val TEXT)",
		"INSERT INTO lkp VALUES (1, 'x')",
	)
	return NewCorrelatedLookup(db, "sqlite", "SELECT val FROM lkp WHERE id = @id")
}

func TestLookupSplitMatchedAndUnmatched(t *testing.T) {
	enricher := NewLookupEnricher(lookupDB(t), []Binding{{Param: "id", Column: "id"}}, true)

	split, err := enricher.Split(context.Background(), models.Chunk{
		models.RecordOf("id", int64(1)),
		models.RecordOf("id", int64(2)),
	})
	require.NoError(t, err)

	require.Len(t, split.Matched, 1)
	assert.Equal(t, []string{"id", "val"}, split.Matched[0].Columns())
	assert.Equal(t, []any{int64(1), "x"}, split.Matched[0].Values())

	require.Len(t, split.Unmatched, 1)
	assert.Equal(t, []any{int64(2)}, split.Unmatched[0].Values())
	assert.Equal(t, 1, split.NoMatch)
}

func TestLookupUnmatchedDroppedButCounted(t *testing.T) {
	enricher := NewLookupEnricher(lookupDB(t), []Binding{{Param: "id", Column: "id"}}, false)

	split, err := enricher.Split(context.Background(), idRecords(3))
	require.NoError(t, err)
	assert.Len(t, split.Matched, 1)
	assert.Empty(t, split.Unmatched)
	assert.Equal(t, 2, split.NoMatch)
}

func TestLookupTakesFirstRowOnly(t *testing.T) {
	db := openSQLite(t,
		"CREATE TABLE lkp (id INTEGER, val TEXT, seq INTEGER)",
		"INSERT INTO lkp VALUES (1, 'first', 1), (1, 'second', 2)",
	)
	l := NewCorrelatedLookup(db, "sqlite", "SELECT val FROM lkp WHERE id = @id ORDER BY seq")

	rows, err := l.Match(context.Background(), models.Chunk{models.RecordOf("id", int64(1))}, []Binding{{Param: "id", Column: "id"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"first"}, rows[0].Values())
}

func TestLookupColumnsOverrideSource(t *testing.T) {
	strategy := &mapLookup{rows: map[any]*models.Record{
		int64(1): models.RecordOf("name", "from lookup", "extra", int64(9)),
	}}
	enricher := NewLookupEnricher(strategy, []Binding{{Param: "id", Column: "id"}}, false)

	split, err := enricher.Split(context.Background(), models.Chunk{models.RecordOf("id", int64(1), "name", "from source")})
	require.NoError(t, err)
	require.Len(t, split.Matched, 1)
	assert.Equal(t, []string{"id", "name", "extra"}, split.Matched[0].Columns())
	v, _ := split.Matched[0].Get("name")
	assert.Equal(t, "from lookup", v)
}

func TestLookupSchemaDriftIsSurfaced(t *testing.T) {
	strategy := &mapLookup{rows: map[any]*models.Record{
		int64(1): models.RecordOf("val", "x"),
		int64(2): models.RecordOf("val", "y", "other", int64(1)),
	}}
	enricher := NewLookupEnricher(strategy, []Binding{{Param: "id", Column: "id"}}, false)

	_, err := enricher.Split(context.Background(), idRecords(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.ErrorIs(t, err, ErrSchemaDrift)
}

func TestLookupMissingBindingColumn(t *testing.T) {
	enricher := NewLookupEnricher(lookupDB(t), []Binding{{Param: "id", Column: "customer_id"}}, false)

	_, err := enricher.Split(context.Background(), idRecords(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryExecution)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestLookupBadQuery(t *testing.T) {
	db := openSQLite(t)
	enricher := NewLookupEnricher(NewCorrelatedLookup(db, "sqlite", "SELECT FROM nowhere WHERE"), []Binding{{Param: "id", Column: "id"}}, false)

	_, err := enricher.Split(context.Background(), idRecords(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryExecution)
}

func TestCachedLookupReusesResults(t *testing.T) {
	cached := NewCachedLookup(lookupDB(t))
	enricher := NewLookupEnricher(cached, []Binding{{Param: "id", Column: "id"}}, true)

	chunk := models.Chunk{
		models.RecordOf("id", int64(1)),
		models.RecordOf("id", int64(2)),
		models.RecordOf("id", int64(1)),
		models.RecordOf("id", int64(2)),
	}
	split, err := enricher.Split(context.Background(), chunk)
	require.NoError(t, err)
	assert.Len(t, split.Matched, 2)
	assert.Len(t, split.Unmatched, 2)

	hits, misses := cached.Stats()
	assert.Equal(t, 2, hits)
	assert.Equal(t, 2, misses)
	require.NoError(t, enricher.Close())
}

func TestHashParamsIgnoresMapOrder(t *testing.T) {
	assert.NotEqual(t,
		hashParams(sortedParams(map[string]any{"id": int64(1)})),
		hashParams(sortedParams(map[string]any{"id": "1"})))
	assert.Equal(t,
		hashParams(sortedParams(map[string]any{"a": 1, "b": 2})),
		hashParams(sortedParams(map[string]any{"b": 2, "a": 1})))
}

func TestCachedLookupHashCollisionsKeepRowsApart(t *testing.T) {
	db := openSQLite(t,
		"CREATE TABLE lkp (id, val TEXT)",
		"INSERT INTO lkp VALUES (1, 'int'), ('1', 'text'), (2, 'two')",
	)
	cached := NewCachedLookup(NewCorrelatedLookup(db, "sqlite", "SELECT val FROM lkp WHERE id = @id"))
	cached.hash = func([]boundParam) uint64 { return 7 }

	chunk := models.Chunk{
		models.RecordOf("id", int64(1)),
		models.RecordOf("id", "1"),
		models.RecordOf("id", int64(2)),
		models.RecordOf("id", "1"),
	}
	rows, err := cached.Match(context.Background(), chunk, []Binding{{Param: "id", Column: "id"}})
	require.NoError(t, err)
	require.Len(t, rows, 4)

	vals := make([]any, len(rows))
	for i, r := range rows {
		require.NotNil(t, r)
		vals[i], _ = r.Get("val")
	}
	assert.Equal(t, []any{"int", "text", "two", "text"}, vals)

	hits, misses := cached.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 3, misses)
	assert.Len(t, cached.cache[7], 3)
}

func TestParseBindings(t *testing.T) {
	b, err := ParseBindings(models.OrderedMap{{Key: "cust", Value: "CustomerID"}, {Key: "acct", Value: "Account"}})
	require.NoError(t, err)
	assert.Equal(t, []Binding{{Param: "cust", Column: "CustomerID"}, {Param: "acct", Column: "Account"}}, b)

	_, err = ParseBindings(models.OrderedMap{{Key: "cust", Value: 3}})
	assert.Error(t, err)
}
