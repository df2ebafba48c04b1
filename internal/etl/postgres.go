package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/BartekS5/xfer/pkg/models"
)

// PostgresWriter writes batches with COPY FROM on a native pgx connection.
type PostgresWriter struct {
	conn *pgx.Conn
}

// NewPostgresWriter takes ownership of conn.
func NewPostgresWriter(conn *pgx.Conn) *PostgresWriter {
	return &PostgresWriter{conn: conn}
}

func (w *PostgresWriter) Exec(ctx context.Context, statement string, params map[string]any) error {
	var args []any
	if len(params) > 0 {
		args = append(args, pgx.NamedArgs(params))
	}
	_, err := w.conn.Exec(ctx, statement, args...)
	return err
}

// BulkInsert copies b inside one transaction. With Tablock the table is locked
// in EXCLUSIVE mode first.
func (w *PostgresWriter) BulkInsert(ctx context.Context, b Batch) (int64, error) {
	if len(b.Rows) == 0 {
		return 0, nil
	}
	ident := splitIdentifier(b.Table)

	tx, err := w.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cols := b.Columns
	if !b.Named {
		if cols, err = pgTableColumns(ctx, tx, ident, len(b.Columns)); err != nil {
			return 0, err
		}
	}
	if b.Tablock {
		if _, err := tx.Exec(ctx, "LOCK TABLE "+ident.Sanitize()+" IN EXCLUSIVE MODE"); err != nil {
			return 0, fmt.Errorf("lock %s: %w", b.Table, err)
		}
	}

	rows := make([][]any, len(b.Rows))
	for i, row := range b.Rows {
		rows[i] = pgArgs(row)
	}
	n, err := tx.CopyFrom(ctx, ident, cols, pgx.CopyFromRows(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return 0, fmt.Errorf("copy into %s: %s (%s): %w", b.Table, pgErr.Detail, pgErr.SQLState(), err)
		}
		return 0, fmt.Errorf("copy into %s: %w", b.Table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func pgTableColumns(ctx context.Context, tx pgx.Tx, ident pgx.Identifier, n int) ([]string, error) {
	rows, err := tx.Query(ctx, "SELECT * FROM "+ident.Sanitize()+" LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", ident.Sanitize(), err)
	}
	fields := rows.FieldDescriptions()
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		cols = append(cols, f.Name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", ident.Sanitize(), err)
	}
	if len(cols) < n {
		return nil, fmt.Errorf("table %s has %d columns, batch has %d", ident.Sanitize(), len(cols), n)
	}
	return cols[:n], nil
}

// pgArgs binds transcoded strings as text; the server applies its own
// client encoding.
func pgArgs(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if es, ok := v.(models.EncodedString); ok {
			out[i] = es.Text
			continue
		}
		out[i] = v
	}
	return out
}

// splitIdentifier converts "schema.table" into a pgx.Identifier.
func splitIdentifier(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

func (w *PostgresWriter) Close() error { return w.conn.Close(context.Background()) }
