package etl

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/xfer/pkg/models"
)

func TestSQLSourceFetchesInChunks(t *testing.T) {
	db := openSQLite(t,
		"CREATE TABLE src (id INTEGER, name TEXT, amount REAL)",
		"INSERT INTO src VALUES (1, 'a', 1.5), (2, 'b', NULL), (3, 'c', 3), (4, 'd', 4), (5, 'e', 5)",
	)
	src := NewSQLSource(db, "sqlite", "SELECT id, name, amount FROM src WHERE id >= @min ORDER BY id", map[string]any{"min": 2})

	cur, err := src.Open(context.Background())
	require.NoError(t, err)
	defer cur.Close()
	assert.Equal(t, []string{"id", "name", "amount"}, cur.Columns())

	var sizes []int
	var all models.Chunk
	for {
		chunk, err := cur.Fetch(context.Background(), 3)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		sizes = append(sizes, len(chunk))
		all = append(all, chunk...)
	}
	assert.Equal(t, []int{3, 1}, sizes)
	require.Len(t, all, 4)
	assert.Equal(t, []any{int64(2), "b", nil}, all[0].Values())

	chunk, err := cur.Fetch(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, chunk, "exhausted cursors stay exhausted")
}

func TestSQLSourceBadQuery(t *testing.T) {
	src := NewSQLSource(openSQLite(t), "sqlite", "SELECT * FROM missing_table", nil)
	_, err := src.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryExecution)
}

func TestRowInsertWriterNamedAndPositional(t *testing.T) {
	db := openSQLite(t, "CREATE TABLE dest (id INTEGER, name TEXT, amount REAL, at TEXT)")
	w := NewRowInsertWriter(db, "sqlite", 2)

	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	named := Batch{
		Table:   "dest",
		Columns: []string{"name", "id"},
		Rows: [][]any{
			{"O'Brien", int64(1)},
			{nil, int64(2)},
			{"x", int64(3)},
		},
		Named: true,
	}
	n, err := w.BulkInsert(context.Background(), named)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	positional := Batch{
		Table:   "dest",
		Columns: []string{"a", "b", "c", "d"},
		Rows:    [][]any{{int64(4), models.EncodedString{Text: "enc", Encoding: "latin-1"}, math.NaN(), at}},
	}
	n, err = w.BulkInsert(context.Background(), positional)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var name *string
	require.NoError(t, db.QueryRow("SELECT name FROM dest WHERE id = 1").Scan(&name))
	assert.Equal(t, "O'Brien", *name)
	require.NoError(t, db.QueryRow("SELECT name FROM dest WHERE id = 2").Scan(&name))
	assert.Nil(t, name)

	var (
		encName string
		amount  *float64
		atText  string
	)
	require.NoError(t, db.QueryRow("SELECT name, amount, at FROM dest WHERE id = 4").Scan(&encName, &amount, &atText))
	assert.Equal(t, "enc", encName)
	assert.Nil(t, amount)
	assert.Equal(t, "2024-05-06 07:08:09", atText)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM dest").Scan(&count))
	assert.Equal(t, 4, count)
}

func TestRowInsertWriterQuotesColumnNames(t *testing.T) {
	db := openSQLite(t, `CREATE TABLE dest ("order total" REAL, "select" TEXT)`)
	w := NewRowInsertWriter(db, "sqlite", 0)

	n, err := w.BulkInsert(context.Background(), Batch{
		Table:   "dest",
		Columns: []string{"select", "order total"},
		Rows:    [][]any{{"a", 1.5}},
		Named:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var total float64
	var sel string
	require.NoError(t, db.QueryRow(`SELECT "order total", "select" FROM dest`).Scan(&total, &sel))
	assert.Equal(t, 1.5, total)
	assert.Equal(t, "a", sel)
}

func TestRowInsertWriterRollsBackFailedBatch(t *testing.T) {
	db := openSQLite(t, "CREATE TABLE dest (id INTEGER NOT NULL)")
	w := NewRowInsertWriter(db, "sqlite", 0)

	_, err := w.BulkInsert(context.Background(), Batch{
		Table:   "dest",
		Columns: []string{"id"},
		Rows:    [][]any{{int64(1)}, {nil}},
		Named:   true,
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM dest").Scan(&count))
	assert.Zero(t, count)
}

func TestRowInsertWriterExecBindsParams(t *testing.T) {
	db := openSQLite(t,
		"CREATE TABLE dest (id INTEGER, day TEXT)",
		"INSERT INTO dest VALUES (1, '2024-01-01'), (2, '2024-01-02')",
	)
	w := NewRowInsertWriter(db, "sqlite", 0)

	require.NoError(t, w.Exec(context.Background(), "DELETE FROM dest WHERE day = @day", map[string]any{"day": "2024-01-01"}))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM dest").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLToSQLTransferEndToEnd(t *testing.T) {
	srcDB := openSQLite(t,
		"CREATE TABLE src (id INTEGER, name TEXT)",
		"INSERT INTO src VALUES (1, ' a '), (2, ' b '), (3, ' c ')",
	)
	lkpDB := openSQLite(t,
		"CREATE TABLE lkp (id INTEGER, region TEXT)",
		"INSERT INTO lkp VALUES (1, 'north'), (3, 'south')",
	)
	dstDB := openSQLite(t,
		"CREATE TABLE dest (id INTEGER, name TEXT, region TEXT)",
		"CREATE TABLE dest_nomatch (id INTEGER, name TEXT)",
		"INSERT INTO dest VALUES (99, 'stale', 'x')",
	)

	spec, err := SpecFromConfig(models.OrderedMap{{Key: "name", Value: map[string]any{"expr": "row['name'].strip()"}}})
	require.NoError(t, err)

	sink, err := NewBulkSink(NewRowInsertWriter(dstDB, "sqlite", 0), SinkConfig{Table: "dest", RowsChunk: 2, DictRows: true, Preoperator: "DELETE FROM dest"})
	require.NoError(t, err)
	noMatch, err := NewBulkSink(NewRowInsertWriter(dstDB, "sqlite", 0), SinkConfig{Table: "dest_nomatch", RowsChunk: 2, DictRows: true})
	require.NoError(t, err)

	c, err := NewTransferCoordinator(CoordinatorConfig{
		Task:        "e2e",
		Source:      NewSQLSource(srcDB, "sqlite", "SELECT id, name FROM src ORDER BY id", nil),
		Transform:   NewTransformStage(spec),
		Lookup:      NewLookupEnricher(NewCorrelatedLookup(lkpDB, "sqlite", "SELECT region FROM lkp WHERE id = @id"), []Binding{{Param: "id", Column: "id"}}, true),
		Sink:        sink,
		NoMatchSink: noMatch,
		RowsChunk:   2,
	})
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TransferResult{RowsTotal: 3, RowsTotalMatch: 2, RowsTotalNoMatch: 1}, res)

	rows, err := dstDB.Query("SELECT id, name, region FROM dest ORDER BY id")
	require.NoError(t, err)
	var got [][]any
	for rows.Next() {
		var (
			id           int64
			name, region string
		)
		require.NoError(t, rows.Scan(&id, &name, &region))
		got = append(got, []any{id, name, region})
	}
	require.NoError(t, rows.Err())
	rows.Close()
	assert.Equal(t, [][]any{{int64(1), "a", "north"}, {int64(3), "c", "south"}}, got)

	var name string
	require.NoError(t, dstDB.QueryRow("SELECT name FROM dest_nomatch WHERE id = 2").Scan(&name))
	assert.Equal(t, "b", name)

	require.NoError(t, c.Close())
}
