package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BartekS5/xfer/internal/metrics"
	"github.com/BartekS5/xfer/pkg/logger"
	"github.com/BartekS5/xfer/pkg/models"
)

// State is the lifecycle of a TransferCoordinator.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// TransferResult is the summary of one run. With a lookup configured
// RowsTotal == RowsTotalMatch + RowsTotalNoMatch; without one RowsTotal is
// the number of records left after transformation.
type TransferResult struct {
	RowsTotal        int64 `json:"rows_total"`
	RowsTotalMatch   int64 `json:"rows_total_match"`
	RowsTotalNoMatch int64 `json:"rows_total_no_match"`
}

// CoordinatorConfig wires the components of one transfer. Lookup and
// NoMatchSink are optional.
type CoordinatorConfig struct {
	Task        string
	Source      RecordSource
	Transform   *TransformStage
	Lookup      *LookupEnricher
	Sink        *BulkSink
	NoMatchSink *BulkSink
	RowsChunk   int

	// RunID identifies the run in logs; a random one is used when empty.
	RunID string
}

// TransferCoordinator runs source -> transform -> lookup -> sinks one chunk at
// a time. It owns every component handed to it and releases them in Close.
// A coordinator runs once.
type TransferCoordinator struct {
	cfg   CoordinatorConfig
	runID string
	state atomic.Int32
}

func NewTransferCoordinator(cfg CoordinatorConfig) (*TransferCoordinator, error) {
	if cfg.Source == nil {
		return nil, errors.New("coordinator needs a source")
	}
	if cfg.Sink == nil {
		return nil, errors.New("coordinator needs a sink")
	}
	if cfg.NoMatchSink != nil && cfg.Lookup == nil {
		return nil, errors.New("an unmatched sink requires a lookup")
	}
	if cfg.Transform == nil {
		cfg.Transform = NewTransformStage(nil)
	}
	if cfg.RowsChunk <= 0 {
		cfg.RowsChunk = DefaultRowsChunk
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &TransferCoordinator{cfg: cfg, runID: runID}, nil
}

func (c *TransferCoordinator) RunID() string { return c.runID }

func (c *TransferCoordinator) State() State { return State(c.state.Load()) }

// Run executes the transfer. Preoperators run before the source is opened.
// ctx is only consulted between chunks: once a chunk is fetched its lookups
// and writes complete even if ctx is cancelled. Batches committed before a
// failure stay committed.
func (c *TransferCoordinator) Run(ctx context.Context) (res TransferResult, err error) {
	if !c.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		return res, fmt.Errorf("transfer %s already %s", c.cfg.Task, c.State())
	}

	start := time.Now()
	logger.Infof("starting transfer %s run=%s rows_chunk=%d", c.cfg.Task, c.runID, c.cfg.RowsChunk)
	defer func() {
		metrics.RecordStep(c.cfg.Task, "transfer", err, time.Since(start))
		if err != nil {
			c.state.Store(int32(StateFailed))
			logger.Errorf("transfer %s run=%s failed: %v", c.cfg.Task, c.runID, err)
			return
		}
		c.state.Store(int32(StateCompleted))
	}()

	if err = c.cfg.Sink.RunPreoperator(ctx); err != nil {
		return res, err
	}
	if c.cfg.NoMatchSink != nil {
		if err = c.cfg.NoMatchSink.RunPreoperator(ctx); err != nil {
			return res, err
		}
	}

	cur, err := c.cfg.Source.Open(ctx)
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := cur.Close(); cerr != nil {
			logger.Warnf("closing source cursor: %v", cerr)
		}
	}()

	var read, filtered int64
	for {
		if err = ctx.Err(); err != nil {
			return res, fmt.Errorf("transfer %s cancelled between chunks: %w", c.cfg.Task, err)
		}
		chunkCtx := context.WithoutCancel(ctx)

		chunk, ferr := cur.Fetch(chunkCtx, c.cfg.RowsChunk)
		if ferr != nil {
			return res, ferr
		}
		if len(chunk) == 0 {
			break
		}
		read += int64(len(chunk))
		metrics.RecordRows(c.cfg.Task, "read", int64(len(chunk)))
		logger.Infof("total source rows: %d", read)

		out, terr := c.cfg.Transform.Apply(chunk)
		if terr != nil {
			return res, terr
		}
		dropped := int64(len(chunk) - len(out))
		filtered += dropped
		metrics.RecordRows(c.cfg.Task, "filtered", dropped)

		if err = c.writeChunk(chunkCtx, out, &res); err != nil {
			return res, err
		}
	}

	logger.Infof("total filtered out rows: %d", filtered)
	logger.Infof("finished transfer %s run=%s rows_total=%d rows_total_match=%d rows_total_no_match=%d in %s",
		c.cfg.Task, c.runID, res.RowsTotal, res.RowsTotalMatch, res.RowsTotalNoMatch, time.Since(start).Round(time.Millisecond))
	return res, nil
}

// writeChunk routes one transformed chunk and folds its counts into res.
func (c *TransferCoordinator) writeChunk(ctx context.Context, chunk models.Chunk, res *TransferResult) error {
	res.RowsTotal += int64(len(chunk))

	if c.cfg.Lookup == nil {
		n, err := c.cfg.Sink.Write(ctx, chunk)
		res.RowsTotalMatch += n
		metrics.RecordRows(c.cfg.Task, "written", n)
		if err != nil {
			return err
		}
		logger.Infof("total inserted into %s: %d rows", c.cfg.Sink.Table(), res.RowsTotalMatch)
		return nil
	}

	split, err := c.cfg.Lookup.Split(ctx, chunk)
	if err != nil {
		return err
	}
	metrics.RecordRows(c.cfg.Task, "matched", int64(len(split.Matched)))
	metrics.RecordRows(c.cfg.Task, "no_match", int64(split.NoMatch))

	n, err := c.cfg.Sink.Write(ctx, split.Matched)
	res.RowsTotalMatch += n
	metrics.RecordRows(c.cfg.Task, "written", n)
	if err != nil {
		return err
	}
	logger.Infof("total inserted into %s: %d rows", c.cfg.Sink.Table(), res.RowsTotalMatch)

	res.RowsTotalNoMatch += int64(split.NoMatch)
	if c.cfg.NoMatchSink != nil {
		n, err := c.cfg.NoMatchSink.Write(ctx, split.Unmatched)
		metrics.RecordRows(c.cfg.Task, "written", n)
		if err != nil {
			return err
		}
		logger.Infof("inserted %d unmatched rows into %s", n, c.cfg.NoMatchSink.Table())
	}
	return nil
}

// Close releases the source, lookup and sinks. It is safe to call after a
// failed or never-started run.
func (c *TransferCoordinator) Close() error {
	var errs []error
	if cl, ok := c.cfg.Source.(io.Closer); ok {
		errs = append(errs, cl.Close())
	}
	if c.cfg.Lookup != nil {
		errs = append(errs, c.cfg.Lookup.Close())
	}
	errs = append(errs, c.cfg.Sink.Close())
	if c.cfg.NoMatchSink != nil {
		errs = append(errs, c.cfg.NoMatchSink.Close())
	}
	return errors.Join(errs...)
}
