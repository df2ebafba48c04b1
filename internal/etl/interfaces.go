package etl

import (
	"context"

	"github.com/BartekS5/xfer/pkg/models"
)

// RecordSource opens a forward-only cursor over a query or tabular file.
type RecordSource interface {
	Open(ctx context.Context) (Cursor, error)
}

// Cursor yields chunks of at most size records. An empty chunk signals
// exhaustion; the cursor cannot be rewound.
type Cursor interface {
	Fetch(ctx context.Context, size int) (models.Chunk, error)
	Columns() []string
	Close() error
}

// Batch is one bulk-write call. Columns always names the values in Rows;
// Named tells the writer whether to bind by column name or position.
type Batch struct {
	Table   string
	Columns []string
	Rows    [][]any
	Named   bool
	Tablock bool
}

// BulkWriter is a sink connection: it runs setup statements and writes whole
// batches, returning the acknowledged row count.
type BulkWriter interface {
	Exec(ctx context.Context, statement string, params map[string]any) error
	BulkInsert(ctx context.Context, b Batch) (int64, error)
	Close() error
}

// LookupStrategy resolves, for every record of a chunk, the first matching
// lookup row or nil. The returned slice is aligned with chunk.
type LookupStrategy interface {
	Match(ctx context.Context, chunk models.Chunk, bindings []Binding) ([]*models.Record, error)
	Close() error
}

// Binding maps a lookup parameter onto a source column.
type Binding struct {
	Param  string
	Column string
}
