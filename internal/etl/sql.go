package etl

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/BartekS5/xfer/pkg/database"
	"github.com/BartekS5/xfer/pkg/logger"
	"github.com/BartekS5/xfer/pkg/models"
	"github.com/BartekS5/xfer/pkg/utils"
)

// SQLSource streams the result of a parameterised query.
type SQLSource struct {
	db     *sql.DB
	driver string
	query  string
	params map[string]any
}

// NewSQLSource takes ownership of db; Close closes it.
func NewSQLSource(db *sql.DB, driver, query string, params map[string]any) *SQLSource {
	return &SQLSource{db: db, driver: driver, query: query, params: params}
}

func (s *SQLSource) Open(ctx context.Context) (Cursor, error) {
	rows, err := s.db.QueryContext(ctx, s.query, database.BindParams(s.driver, s.params)...)
	if err != nil {
		return nil, queryErr("source query", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, queryErr("source columns", err)
	}
	logger.Debugf("source query opened with columns %v", cols)
	return &sqlCursor{rows: rows, cols: cols}, nil
}

func (s *SQLSource) Close() error { return s.db.Close() }

type sqlCursor struct {
	rows *sql.Rows
	cols []string
	done bool
}

func (c *sqlCursor) Columns() []string { return append([]string(nil), c.cols...) }

func (c *sqlCursor) Fetch(_ context.Context, size int) (models.Chunk, error) {
	if c.done {
		return nil, nil
	}
	chunk := make(models.Chunk, 0, size)
	for len(chunk) < size {
		if !c.rows.Next() {
			c.done = true
			if err := c.rows.Err(); err != nil {
				return nil, queryErr("source fetch", err)
			}
			break
		}
		rec, err := scanRecord(c.rows, c.cols)
		if err != nil {
			return nil, queryErr("source scan", err)
		}
		chunk = append(chunk, rec)
	}
	return chunk, nil
}

func (c *sqlCursor) Close() error { return c.rows.Close() }

func scanRecord(rows *sql.Rows, cols []string) (*models.Record, error) {
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range vals {
		vals[i] = utils.NormalizeValue(v)
	}
	return models.NewRecord(cols, vals), nil
}

// RowInsertWriter is the fallback sink for targets without a bulk API. Each
// row becomes one INSERT with inline literals; the transaction commits every
// CommitEvery rows.
type RowInsertWriter struct {
	db          *sql.DB
	driver      string
	commitEvery int
	layout      string
}

// NewRowInsertWriter takes ownership of db. commitEvery <= 0 commits once per
// batch.
func NewRowInsertWriter(db *sql.DB, driver string, commitEvery int) *RowInsertWriter {
	return &RowInsertWriter{db: db, driver: driver, commitEvery: commitEvery, layout: utils.DefaultDateTimeLayout}
}

// Exec runs statement outside any transaction.
func (w *RowInsertWriter) Exec(ctx context.Context, statement string, params map[string]any) error {
	_, err := w.db.ExecContext(ctx, statement, database.BindParams(w.driver, params)...)
	return err
}

func (w *RowInsertWriter) BulkInsert(ctx context.Context, b Batch) (int64, error) {
	if len(b.Rows) == 0 {
		return 0, nil
	}
	target := b.Table
	if b.Named {
		cols := make([]string, len(b.Columns))
		for i, c := range b.Columns {
			cols[i] = utils.QuoteIdent(w.driver, c)
		}
		target = fmt.Sprintf("%s (%s)", b.Table, strings.Join(cols, ", "))
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	var inserted int64
	for i, row := range b.Rows {
		lits := make([]string, len(row))
		for j, v := range row {
			lit, err := utils.SQLLiteral(w.driver, v, w.layout)
			if err != nil {
				rollback()
				return inserted, fmt.Errorf("row %d column %s: %w", i, b.Columns[j], err)
			}
			lits[j] = lit
		}
		stmt := fmt.Sprintf("INSERT INTO %s VALUES (%s)", target, strings.Join(lits, ", "))
		res, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			rollback()
			return inserted, fmt.Errorf("row %d: %w", i, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		} else {
			inserted++
		}

		if w.commitEvery > 0 && (i+1)%w.commitEvery == 0 && i+1 < len(b.Rows) {
			if err := tx.Commit(); err != nil {
				return inserted, fmt.Errorf("commit: %w", err)
			}
			logger.Debugf("committed %d rows into %s", i+1, b.Table)
			if tx, err = w.db.BeginTx(ctx, nil); err != nil {
				return inserted, fmt.Errorf("begin tx: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return inserted, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func (w *RowInsertWriter) Close() error { return w.db.Close() }
