package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/BartekS5/xfer/internal/config"
	"github.com/BartekS5/xfer/internal/etl"
	"github.com/BartekS5/xfer/pkg/database"
	"github.com/BartekS5/xfer/pkg/logger"
	"github.com/BartekS5/xfer/pkg/models"
)

// builder turns a rendered task into a coordinator. Everything it opens is
// tracked so a failed build releases its connections.
type builder struct {
	cfg    *config.Config
	file   *models.TaskFile
	dryRun bool

	opened []io.Closer
}

func (b *builder) track(c io.Closer) { b.opened = append(b.opened, c) }

func (b *builder) release() {
	for i := len(b.opened) - 1; i >= 0; i-- {
		if err := b.opened[i].Close(); err != nil {
			logger.Warnf("closing partially built transfer: %v", err)
		}
	}
	b.opened = nil
}

func buildCoordinator(ctx context.Context, cfg *config.Config, file *models.TaskFile, task *models.TransferTask, runID string, dryRun bool) (c *etl.TransferCoordinator, err error) {
	b := &builder{cfg: cfg, file: file, dryRun: dryRun}
	defer func() {
		if err != nil {
			b.release()
		}
	}()

	if issues := config.ValidateTask(task); len(issues) > 0 {
		errs := make([]error, 0, len(issues))
		for _, is := range issues {
			errs = append(errs, errors.New(is.String()))
		}
		return nil, fmt.Errorf("invalid task %s: %w", task.Name, errors.Join(errs...))
	}

	rowsChunk := config.RowsChunk(task, cfg)

	static, err := etl.SpecFromConfig(task.Transformations)
	if err != nil {
		return nil, fmt.Errorf("task %s transformations: %w", task.Name, err)
	}
	templated, err := etl.SpecFromConfig(task.TransformationsTemplated)
	if err != nil {
		return nil, fmt.Errorf("task %s transformations_templated: %w", task.Name, err)
	}

	sink, err := b.sink(ctx, task, task.Dest, task.DestPreoperator, task.DestPreoperatorParams, rowsChunk)
	if err != nil {
		return nil, err
	}
	b.track(sink)

	var noMatch *etl.BulkSink
	if task.DestNoMatch != nil {
		noMatch, err = b.sink(ctx, task, *task.DestNoMatch, task.DestNoMatchPreoperator, task.DestNoMatchPreoperatorParams, rowsChunk)
		if err != nil {
			return nil, err
		}
		b.track(noMatch)
	}

	var lookup *etl.LookupEnricher
	if task.HasLookup() {
		lookup, err = b.lookup(ctx, task, noMatch != nil)
		if err != nil {
			return nil, err
		}
		b.track(lookup)
	}

	source, err := b.source(ctx, task)
	if err != nil {
		return nil, err
	}
	if cl, ok := source.(io.Closer); ok {
		b.track(cl)
	}

	return etl.NewTransferCoordinator(etl.CoordinatorConfig{
		Task:        task.Name,
		Source:      source,
		Transform:   etl.NewTransformStage(etl.MergeSpecs(static, templated)),
		Lookup:      lookup,
		Sink:        sink,
		NoMatchSink: noMatch,
		RowsChunk:   rowsChunk,
		RunID:       runID,
	})
}

func (b *builder) conn(id string) (database.Conn, error) {
	c, err := config.ResolveConn(b.file, id)
	if err != nil {
		return database.Conn{}, etl.ConnectivityError("resolve connection", err)
	}
	return c, nil
}

func (b *builder) source(ctx context.Context, task *models.TransferTask) (etl.RecordSource, error) {
	src := task.Source
	if src.File != nil {
		return etl.NewFileSource(*src.File)
	}

	c, err := b.conn(src.Conn)
	if err != nil {
		return nil, err
	}

	if src.Collection != "" {
		if c.Kind != database.KindMongo {
			return nil, fmt.Errorf("task %s: collection source needs a mongo connection, %s is %s", task.Name, c.ID, c.Kind)
		}
		client, err := database.ConnectMongo(ctx, c)
		if err != nil {
			return nil, etl.ConnectivityError("open source", err)
		}
		s, err := etl.NewMongoSource(client, src.Collection, src.Filter)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return s, nil
	}

	if !c.IsSQL() {
		return nil, fmt.Errorf("task %s: sql source needs a SQL connection, %s is %s", task.Name, c.ID, c.Kind)
	}
	db, err := database.ConnectSQL(ctx, c)
	if err != nil {
		return nil, etl.ConnectivityError("open source", err)
	}
	return etl.NewSQLSource(db, c.Driver, src.SQL, src.Params), nil
}

func (b *builder) lookup(ctx context.Context, task *models.TransferTask, keepUnmatched bool) (*etl.LookupEnricher, error) {
	bindings, err := etl.ParseBindings(task.LookupSQLParams)
	if err != nil {
		return nil, fmt.Errorf("task %s lookup_sql_params: %w", task.Name, err)
	}
	c, err := b.conn(task.LookupConn)
	if err != nil {
		return nil, err
	}
	if !c.IsSQL() {
		return nil, fmt.Errorf("task %s: lookup needs a SQL connection, %s is %s", task.Name, c.ID, c.Kind)
	}
	db, err := database.ConnectSQL(ctx, c)
	if err != nil {
		return nil, etl.ConnectivityError("open lookup", err)
	}

	correlated := etl.NewCorrelatedLookup(db, c.Driver, task.LookupSQL)
	var strategy etl.LookupStrategy = correlated
	if task.LookupCache {
		strategy = etl.NewCachedLookup(correlated)
	}
	return etl.NewLookupEnricher(strategy, bindings, keepUnmatched), nil
}

func (b *builder) sink(ctx context.Context, task *models.TransferTask, dest models.DestConfig, preop string, preopParams map[string]any, rowsChunk int) (*etl.BulkSink, error) {
	c, err := b.conn(dest.Conn)
	if err != nil {
		return nil, err
	}

	defaultEncoding := ""
	if c.Kind == database.KindSQLServer {
		defaultEncoding = etl.DefaultCharacterEncoding
	}
	scfg := etl.SinkConfig{
		Task:              task.Name,
		Table:             dest.Table,
		RowsChunk:         rowsChunk,
		Tablock:           config.Tablock(task),
		Encoding:          config.CharacterEncoding(task, defaultEncoding),
		ColumnEncodings:   task.ColumnEncodings,
		DictRows:          config.DictRows(task),
		Preoperator:       preop,
		PreoperatorParams: preopParams,
	}

	// Validate encodings before any connection is opened.
	if _, err := etl.NewBulkSink(etl.DryRunWriter{}, scfg); err != nil {
		return nil, err
	}

	w, err := b.writer(ctx, c, dest, rowsChunk)
	if err != nil {
		return nil, err
	}
	s, err := etl.NewBulkSink(w, scfg)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return s, nil
}

func (b *builder) writer(ctx context.Context, c database.Conn, dest models.DestConfig, rowsChunk int) (etl.BulkWriter, error) {
	if b.dryRun {
		return etl.DryRunWriter{}, nil
	}
	rowMode := dest.Mode == "rows"

	switch c.Kind {
	case database.KindMongo:
		client, err := database.ConnectMongo(ctx, c)
		if err != nil {
			return nil, etl.ConnectivityError("open sink", err)
		}
		w, err := etl.NewMongoWriter(client, dest.Table)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return w, nil
	case database.KindPostgres:
		if !rowMode {
			conn, err := database.ConnectPostgres(ctx, c)
			if err != nil {
				return nil, etl.ConnectivityError("open sink", err)
			}
			return etl.NewPostgresWriter(conn), nil
		}
	case database.KindSQLServer:
		if !rowMode {
			db, err := database.ConnectSQL(ctx, c)
			if err != nil {
				return nil, etl.ConnectivityError("open sink", err)
			}
			return etl.NewMSSQLWriter(db), nil
		}
	}

	db, err := database.ConnectSQL(ctx, c)
	if err != nil {
		return nil, etl.ConnectivityError("open sink", err)
	}
	return etl.NewRowInsertWriter(db, c.Driver, rowsChunk), nil
}
