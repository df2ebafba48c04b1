package etl

import (
	"context"
	"database/sql"
	"fmt"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/BartekS5/xfer/pkg/database"
	"github.com/BartekS5/xfer/pkg/models"
)

// MSSQLWriter writes batches through the TDS bulk copy protocol.
type MSSQLWriter struct {
	db *sql.DB
}

// NewMSSQLWriter takes ownership of db.
func NewMSSQLWriter(db *sql.DB) *MSSQLWriter {
	return &MSSQLWriter{db: db}
}

func (w *MSSQLWriter) Exec(ctx context.Context, statement string, params map[string]any) error {
	_, err := w.db.ExecContext(ctx, statement, database.BindParams("sqlserver", params)...)
	return err
}

// BulkInsert copies b in one transaction. Positional batches are bound to the
// leading columns of the destination table.
func (w *MSSQLWriter) BulkInsert(ctx context.Context, b Batch) (int64, error) {
	if len(b.Rows) == 0 {
		return 0, nil
	}
	cols := b.Columns
	if !b.Named {
		var err error
		if cols, err = w.tableColumns(ctx, b.Table, len(b.Columns)); err != nil {
			return 0, err
		}
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(b.Table, mssql.BulkOptions{Tablock: b.Tablock}, cols...))
	if err != nil {
		rollback()
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i, row := range b.Rows {
		if _, err := stmt.ExecContext(ctx, mssqlArgs(row)...); err != nil {
			_ = stmt.Close()
			rollback()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func (w *MSSQLWriter) tableColumns(ctx context.Context, table string, n int) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, "SELECT TOP 0 * FROM "+table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	if len(cols) < n {
		return nil, fmt.Errorf("table %s has %d columns, batch has %d", table, len(cols), n)
	}
	return cols[:n], nil
}

// mssqlArgs hands transcoded strings to the driver as raw bytes so varchar and
// nvarchar columns receive the sink encoding unchanged.
func mssqlArgs(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if es, ok := v.(models.EncodedString); ok {
			out[i] = es.Data
			continue
		}
		out[i] = v
	}
	return out
}

func (w *MSSQLWriter) Close() error { return w.db.Close() }
