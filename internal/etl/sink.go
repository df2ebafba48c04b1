package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	json "github.com/goccy/go-json"

	"github.com/BartekS5/xfer/internal/metrics"
	"github.com/BartekS5/xfer/pkg/logger"
	"github.com/BartekS5/xfer/pkg/models"
)

// DefaultRowsChunk is used when a task leaves rows_chunk unset.
const DefaultRowsChunk = 10000

// SinkConfig configures one destination table.
type SinkConfig struct {
	Task  string
	Table string

	RowsChunk int
	Tablock   bool

	// Encoding applies to every string value; empty disables transcoding.
	// ColumnEncodings may only repeat the same encoding.
	Encoding        string
	ColumnEncodings map[string]string

	// DictRows binds batches by column name instead of table position.
	DictRows bool

	Preoperator       string
	PreoperatorParams map[string]any
}

// BatchResult reports one bulk-write call.
type BatchResult struct {
	RowsSent         int64
	RowsAcknowledged int64
}

// BulkSink splits chunks into batches of at most RowsChunk records and writes
// each one with a single bulk call, verifying the acknowledged count.
type BulkSink struct {
	cfg     SinkConfig
	writer  BulkWriter
	charset *Charset

	preoperatorDone bool
}

// NewBulkSink validates cfg and takes ownership of w. An unknown or mixed
// character encoding is rejected here, before any data moves.
func NewBulkSink(w BulkWriter, cfg SinkConfig) (*BulkSink, error) {
	if cfg.Table == "" {
		return nil, errors.New("sink table is required")
	}
	if cfg.RowsChunk <= 0 {
		cfg.RowsChunk = DefaultRowsChunk
	}
	cs, err := resolveSinkCharset(cfg.Encoding, cfg.ColumnEncodings)
	if err != nil {
		return nil, err
	}
	return &BulkSink{cfg: cfg, writer: w, charset: cs}, nil
}

func (s *BulkSink) Table() string { return s.cfg.Table }

// RunPreoperator executes the configured setup statement. It runs at most
// once per sink; later calls are no-ops.
func (s *BulkSink) RunPreoperator(ctx context.Context) error {
	if s.preoperatorDone || s.cfg.Preoperator == "" {
		s.preoperatorDone = true
		return nil
	}
	s.preoperatorDone = true

	logger.Infof("running preoperator on %s", s.cfg.Table)
	start := time.Now()
	err := s.writer.Exec(ctx, s.cfg.Preoperator, s.cfg.PreoperatorParams)
	metrics.RecordStep(s.cfg.Task, "preoperator", err, time.Since(start))
	if err != nil {
		return queryErr("preoperator "+s.cfg.Table, err)
	}
	return nil
}

// Write sends chunk in batches and returns the acknowledged row count. A
// batch whose acknowledged count differs from the rows sent is logged and
// fails the call; no further batches are attempted.
func (s *BulkSink) Write(ctx context.Context, chunk models.Chunk) (int64, error) {
	if len(chunk) == 0 {
		return 0, nil
	}
	cols := chunk[0].Columns()

	var total int64
	for lo := 0; lo < len(chunk); lo += s.cfg.RowsChunk {
		hi := min(lo+s.cfg.RowsChunk, len(chunk))

		batch, err := s.buildBatch(chunk[lo:hi], cols, lo)
		if err != nil {
			return total, err
		}
		res, err := s.send(ctx, batch)
		if err != nil {
			return total, err
		}
		total += res.RowsAcknowledged
	}
	return total, nil
}

func (s *BulkSink) send(ctx context.Context, batch Batch) (BatchResult, error) {
	res := BatchResult{RowsSent: int64(len(batch.Rows))}

	start := time.Now()
	n, err := s.writer.BulkInsert(ctx, batch)
	metrics.RecordStep(s.cfg.Task, "bulk_insert", err, time.Since(start))
	metrics.RecordBatch(s.cfg.Task, s.cfg.Table)
	if err != nil {
		return res, queryErr("bulk insert "+s.cfg.Table, err)
	}
	res.RowsAcknowledged = n

	if res.RowsAcknowledged != res.RowsSent {
		s.logPayload(batch, res)
		return res, integrityErr("bulk insert "+s.cfg.Table,
			fmt.Errorf("sent %d rows, %d acknowledged", res.RowsSent, res.RowsAcknowledged))
	}
	logger.Debugf("inserted %d rows into %s", n, s.cfg.Table)
	return res, nil
}

// buildBatch converts records into positional rows. offset is the index of
// the first record within the chunk, used in error messages.
func (s *BulkSink) buildBatch(records models.Chunk, cols []string, offset int) (Batch, error) {
	b := Batch{
		Table:   s.cfg.Table,
		Columns: cols,
		Rows:    make([][]any, 0, len(records)),
		Named:   s.cfg.DictRows,
		Tablock: s.cfg.Tablock,
	}
	for i, rec := range records {
		if !sameColumns(rec.Columns(), cols) {
			return Batch{}, integrityErr("build batch "+s.cfg.Table, fmt.Errorf(
				"%w: record %d has columns %v, batch expects %v", ErrSchemaDrift, offset+i, rec.Columns(), cols))
		}
		row := rec.Values()
		for j, v := range row {
			enc, err := s.encode(v)
			if err != nil {
				return Batch{}, encodingErr("build batch "+s.cfg.Table,
					fmt.Errorf("record %d column %q: %w", offset+i, cols[j], err))
			}
			row[j] = enc
		}
		b.Rows = append(b.Rows, row)
	}
	return b, nil
}

func (s *BulkSink) encode(v any) (any, error) {
	switch x := v.(type) {
	case string:
		if s.charset == nil {
			return x, nil
		}
		return s.charset.Encode(x)
	case models.EncodedString:
		pre, err := LookupCharset(x.Encoding)
		if err != nil || pre.Name() != s.charset.Name() {
			return nil, fmt.Errorf("value pre-encoded as %q, sink encodes as %q", x.Encoding, s.charset.Name())
		}
		return x, nil
	default:
		return v, nil
	}
}

func (s *BulkSink) logPayload(b Batch, res BatchResult) {
	payload := make([]map[string]any, len(b.Rows))
	for i, row := range b.Rows {
		m := make(map[string]any, len(row))
		for j, v := range row {
			if es, ok := v.(models.EncodedString); ok {
				v = es.Text
			}
			m[b.Columns[j]] = v
		}
		payload[i] = m
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprint(payload))
	}
	_ = level.Error(logger.With("table", b.Table)).Log(
		"msg", "bulk insert integrity check failed",
		"sent", res.RowsSent,
		"acknowledged", res.RowsAcknowledged,
		"payload", string(data),
	)
}

func (s *BulkSink) Close() error { return s.writer.Close() }

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
