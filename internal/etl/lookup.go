package etl

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"

	"github.com/zeebo/xxh3"

	"github.com/BartekS5/xfer/pkg/database"
	"github.com/BartekS5/xfer/pkg/models"
)

// Split is the outcome of enriching one chunk.
type Split struct {
	Matched   models.Chunk
	Unmatched models.Chunk

	// NoMatch counts every unmatched record, including those dropped when no
	// unmatched destination is configured.
	NoMatch int
}

// LookupEnricher joins each record of a chunk against a secondary source and
// routes it to the matched or unmatched stream.
type LookupEnricher struct {
	strategy      LookupStrategy
	bindings      []Binding
	keepUnmatched bool
}

func NewLookupEnricher(strategy LookupStrategy, bindings []Binding, keepUnmatched bool) *LookupEnricher {
	return &LookupEnricher{strategy: strategy, bindings: bindings, keepUnmatched: keepUnmatched}
}

// Split enriches chunk. Matched records carry the source columns followed by
// the lookup columns, lookup values winning on a name collision. The lookup
// column set of the first match fixes the chunk's shape; a later match with a
// different shape is reported as schema drift.
func (e *LookupEnricher) Split(ctx context.Context, chunk models.Chunk) (Split, error) {
	var out Split
	if len(chunk) == 0 {
		return out, nil
	}

	rows, err := e.strategy.Match(ctx, chunk, e.bindings)
	if err != nil {
		return Split{}, err
	}
	if len(rows) != len(chunk) {
		return Split{}, queryErr("lookup", fmt.Errorf("strategy returned %d results for %d records", len(rows), len(chunk)))
	}

	var shape *models.Record
	for i, rec := range chunk {
		row := rows[i]
		if row == nil {
			out.NoMatch++
			if e.keepUnmatched {
				out.Unmatched = append(out.Unmatched, rec)
			}
			continue
		}
		if shape == nil {
			shape = row
		} else if !row.SameColumns(shape) {
			return Split{}, integrityErr("lookup", fmt.Errorf("%w: record %d matched columns %v, chunk expects %v",
				ErrSchemaDrift, i, row.Columns(), shape.Columns()))
		}
		out.Matched = append(out.Matched, rec.Merge(row))
	}
	return out, nil
}

func (e *LookupEnricher) Close() error { return e.strategy.Close() }

// ParseBindings turns the lookup_sql_params mapping (parameter -> source
// column) into bindings, keeping declaration order.
func ParseBindings(m models.OrderedMap) ([]Binding, error) {
	out := make([]Binding, 0, len(m))
	for _, e := range m {
		col, ok := e.Value.(string)
		if !ok || col == "" {
			return nil, fmt.Errorf("lookup parameter %q must name a source column", e.Key)
		}
		out = append(out, Binding{Param: e.Key, Column: col})
	}
	return out, nil
}

func bindLookupParams(rec *models.Record, bindings []Binding) (map[string]any, error) {
	params := make(map[string]any, len(bindings))
	for _, b := range bindings {
		v, ok := rec.Get(b.Column)
		if !ok {
			return nil, fmt.Errorf("bind %s: %w %q", b.Param, ErrMissingColumn, b.Column)
		}
		params[b.Param] = v
	}
	return params, nil
}

// CorrelatedLookup runs the lookup query once per record and keeps only the
// first returned row. Ordering among several matches is the store's.
type CorrelatedLookup struct {
	db     *sql.DB
	driver string
	query  string
}

// NewCorrelatedLookup takes ownership of db; Close closes it.
func NewCorrelatedLookup(db *sql.DB, driver, query string) *CorrelatedLookup {
	return &CorrelatedLookup{db: db, driver: driver, query: query}
}

func (l *CorrelatedLookup) Match(ctx context.Context, chunk models.Chunk, bindings []Binding) ([]*models.Record, error) {
	out := make([]*models.Record, len(chunk))
	for i, rec := range chunk {
		params, err := bindLookupParams(rec, bindings)
		if err != nil {
			return nil, queryErr(fmt.Sprintf("lookup record %d", i), err)
		}
		row, err := l.first(ctx, params)
		if err != nil {
			return nil, err
		}
		out[i] = row
	}
	return out, nil
}

func (l *CorrelatedLookup) first(ctx context.Context, params map[string]any) (*models.Record, error) {
	rows, err := l.db.QueryContext(ctx, l.query, database.BindParams(l.driver, params)...)
	if err != nil {
		return nil, queryErr("lookup query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, queryErr("lookup columns", err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, queryErr("lookup query", err)
		}
		return nil, nil
	}
	rec, err := scanRecord(rows, cols)
	if err != nil {
		return nil, queryErr("lookup scan", err)
	}
	return rec, nil
}

func (l *CorrelatedLookup) Close() error { return l.db.Close() }

// CachedLookup memoises a CorrelatedLookup by bound parameter values for the
// duration of one run. It assumes the lookup source does not change while the
// run is in progress. Entries are bucketed by an xxh3 hash of the parameters;
// a hit also needs the typed parameter tuple to match.
type CachedLookup struct {
	inner  *CorrelatedLookup
	hash   func([]boundParam) uint64
	cache  map[uint64][]cachedRow
	hits   int
	misses int
}

type boundParam struct {
	name  string
	value any
}

type cachedRow struct {
	params []boundParam
	row    *models.Record
}

func NewCachedLookup(inner *CorrelatedLookup) *CachedLookup {
	return &CachedLookup{inner: inner, hash: hashParams, cache: make(map[uint64][]cachedRow)}
}

func (c *CachedLookup) Match(ctx context.Context, chunk models.Chunk, bindings []Binding) ([]*models.Record, error) {
	out := make([]*models.Record, len(chunk))
	for i, rec := range chunk {
		params, err := bindLookupParams(rec, bindings)
		if err != nil {
			return nil, queryErr(fmt.Sprintf("lookup record %d", i), err)
		}
		tuple := sortedParams(params)
		h := c.hash(tuple)
		if row, ok := c.get(h, tuple); ok {
			c.hits++
			out[i] = row
			continue
		}
		c.misses++
		row, err := c.inner.first(ctx, params)
		if err != nil {
			return nil, err
		}
		c.cache[h] = append(c.cache[h], cachedRow{params: tuple, row: row})
		out[i] = row
	}
	return out, nil
}

func (c *CachedLookup) get(h uint64, tuple []boundParam) (*models.Record, bool) {
	for _, e := range c.cache[h] {
		if sameParams(e.params, tuple) {
			return e.row, true
		}
	}
	return nil, false
}

// Stats returns cache hits and misses so far.
func (c *CachedLookup) Stats() (hits, misses int) { return c.hits, c.misses }

func (c *CachedLookup) Close() error { return c.inner.Close() }

func sortedParams(params map[string]any) []boundParam {
	out := make([]boundParam, 0, len(params))
	for n, v := range params {
		out = append(out, boundParam{name: n, value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// sameParams compares values by dynamic type and content, so int64(1) and
// "1" differ.
func sameParams(a, b []boundParam) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].name != b[i].name || !reflect.DeepEqual(a[i].value, b[i].value) {
			return false
		}
	}
	return true
}

func hashParams(tuple []boundParam) uint64 {
	h := xxh3.New()
	for _, p := range tuple {
		h.WriteString(p.name)
		fmt.Fprintf(h, "=%T:%v\x00", p.value, p.value)
	}
	return h.Sum64()
}
