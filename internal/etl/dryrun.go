package etl

import (
	"context"

	"github.com/BartekS5/xfer/pkg/logger"
)

// DryRunWriter acknowledges every batch without writing anything.
type DryRunWriter struct{}

func (DryRunWriter) Exec(_ context.Context, statement string, params map[string]any) error {
	logger.Infof("[DRY RUN] would execute %q with params %v", statement, params)
	return nil
}

func (DryRunWriter) BulkInsert(_ context.Context, b Batch) (int64, error) {
	logger.Infof("[DRY RUN] would load %d records into %s", len(b.Rows), b.Table)
	return int64(len(b.Rows)), nil
}

func (DryRunWriter) Close() error { return nil }
