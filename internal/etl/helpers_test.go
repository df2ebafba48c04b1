package etl

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/BartekS5/xfer/pkg/models"
)

// events records the order of calls across fakes.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.log = append(e.log, s)
	e.mu.Unlock()
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type execCall struct {
	statement string
	params    map[string]any
}

// fakeWriter records batches. ack, when set, decides the acknowledged count.
type fakeWriter struct {
	name    string
	ev      *events
	execs   []execCall
	batches []Batch
	ack     func(b Batch) int64
	execErr error
	bulkErr error
	closed  bool
}

func (w *fakeWriter) Exec(_ context.Context, statement string, params map[string]any) error {
	w.ev.add(w.name + ":exec")
	w.execs = append(w.execs, execCall{statement, params})
	return w.execErr
}

func (w *fakeWriter) BulkInsert(_ context.Context, b Batch) (int64, error) {
	w.ev.add(w.name + ":bulk")
	if w.bulkErr != nil {
		return 0, w.bulkErr
	}
	w.batches = append(w.batches, b)
	if w.ack != nil {
		return w.ack(b), nil
	}
	return int64(len(b.Rows)), nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) batchSizes() []int {
	out := make([]int, len(w.batches))
	for i, b := range w.batches {
		out[i] = len(b.Rows)
	}
	return out
}

// sliceSource serves records from memory.
type sliceSource struct {
	ev      *events
	records models.Chunk
	openErr error
	opened  int
	closed  bool
	cursor  *sliceCursor
}

func (s *sliceSource) Open(context.Context) (Cursor, error) {
	s.ev.add("source:open")
	s.opened++
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.cursor = &sliceCursor{records: s.records}
	return s.cursor, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type sliceCursor struct {
	records models.Chunk
	pos     int
	fetches int
	closed  bool
}

func (c *sliceCursor) Fetch(_ context.Context, size int) (models.Chunk, error) {
	c.fetches++
	end := min(c.pos+size, len(c.records))
	out := c.records[c.pos:end]
	c.pos = end
	return out, nil
}

func (c *sliceCursor) Columns() []string {
	if len(c.records) == 0 {
		return nil
	}
	return c.records[0].Columns()
}

func (c *sliceCursor) Close() error {
	c.closed = true
	return nil
}

// mapLookup matches records by the value of one column.
type mapLookup struct {
	rows   map[any]*models.Record
	err    error
	closed bool
}

func (m *mapLookup) Match(_ context.Context, chunk models.Chunk, bindings []Binding) ([]*models.Record, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*models.Record, len(chunk))
	for i, rec := range chunk {
		params, err := bindLookupParams(rec, bindings)
		if err != nil {
			return nil, err
		}
		out[i] = m.rows[params[bindings[0].Param]]
	}
	return out, nil
}

func (m *mapLookup) Close() error {
	m.closed = true
	return nil
}

func idRecords(n int) models.Chunk {
	out := make(models.Chunk, n)
	for i := range out {
		out[i] = models.RecordOf("id", int64(i+1), "name", "row")
	}
	return out
}

// openSQLite returns a file-backed database so several connections share it.
func openSQLite(t *testing.T, ddl ...string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range ddl {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return db
}

var errBoom = errors.New("boom")
