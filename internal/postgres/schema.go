package postgres

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// columnsQuery lists a table's columns in ordinal order. A table with zero
// columns is treated as nonexistent.
const columnsQuery = `SELECT column_name, data_type, is_nullable, column_default
  FROM information_schema.columns
 WHERE table_schema = 'public' AND table_name = $1
 ORDER BY ordinal_position`

// schemaCache memoizes column metadata per table with a wall-clock TTL.
// Each entry carries its own lock so a reader never observes a
// half-written entry. The metadata query itself runs with no cache lock
// held; concurrent misses on the same table may each fetch, and the last
// result is installed.
type schemaCache struct {
	mu      sync.Mutex
	ttl     time.Duration // 0 = never expire
	entries map[string]*schemaEntry
}

type schemaEntry struct {
	mu        sync.Mutex
	filled    bool
	fetchedAt time.Time
	cols      []types.Column
}

func newSchemaCache(ttl time.Duration) *schemaCache {
	return &schemaCache{ttl: ttl, entries: make(map[string]*schemaEntry)}
}

func (c *schemaCache) setTTL(ttl time.Duration) {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

func (c *schemaCache) entry(key string) (*schemaEntry, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &schemaEntry{}
		c.entries[key] = e
	}
	return e, c.ttl
}

func (c *schemaCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func cacheKey(table string) string {
	return "public." + table
}

// SetSchemaCacheTTL adjusts cache expiry; ttl <= 0 disables expiry so
// entries live until explicit invalidation.
func (b *Backend) SetSchemaCacheTTL(ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	b.schema.setTTL(ttl)
}

// InvalidateSchema drops the cached column metadata for a table. Every DDL
// helper that changes a table's column shape calls this before returning.
func (b *Backend) InvalidateSchema(table string) {
	b.schema.invalidate(cacheKey(table))
}

// Columns returns the table's columns in ordinal order, serving from the
// cache while the entry is fresh. Returns ErrTableNotFound when the table
// has no columns.
func (b *Backend) Columns(ctx context.Context, table string) ([]types.Column, error) {
	e, ttl := b.schema.entry(cacheKey(table))
	e.mu.Lock()
	if e.filled && (ttl == 0 || now().Sub(e.fetchedAt) < ttl) {
		cols, err := cloneColumns(e.cols), e.missingErr(table)
		e.mu.Unlock()
		return cols, err
	}
	e.mu.Unlock()

	// Never hold the entry lock across statement execution: a transaction
	// owns the single connection for its whole scope, and a miss that
	// queued on it while holding the lock would wedge the transaction's
	// own lookups on the same table.
	cols, err := b.fetchColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cols = cols
	e.fetchedAt = now()
	e.filled = true
	missing := e.missingErr(table)
	e.mu.Unlock()
	return cloneColumns(cols), missing
}

// missingErr reports the zero-column case for an entry the caller holds.
func (e *schemaEntry) missingErr(table string) error {
	if len(e.cols) == 0 {
		return fmt.Errorf("%w: %q has no columns", types.ErrTableNotFound, table)
	}
	return nil
}

func (b *Backend) fetchColumns(ctx context.Context, table string) ([]types.Column, error) {
	q, release, err := b.exec(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	b.logSQL(columnsQuery, []any{table})
	rows, err := q.Query(ctx, columnsQuery, table)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var cols []types.Column
	for rows.Next() {
		var (
			col      types.Column
			nullable string
		)
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &col.Default); err != nil {
			return nil, fmt.Errorf("scanning column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return cols, nil
}

// HasColumn reports whether the table currently has the column, using the
// same cache as Columns. A missing table reports false without error so
// read-path filters stay no-ops.
func (b *Backend) HasColumn(ctx context.Context, table, column string) (bool, error) {
	cols, err := b.Columns(ctx, table)
	if err != nil {
		if errors.Is(err, types.ErrTableNotFound) {
			// No table, no column.
			return false, nil
		}
		return false, err
	}
	for _, c := range cols {
		if c.Name == column {
			return true, nil
		}
	}
	return false, nil
}

// columnSet returns the table's column names, failing with
// ErrTableNotFound for absent tables.
func (b *Backend) columnSet(ctx context.Context, table string) (map[string]struct{}, error) {
	cols, err := b.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		set[c.Name] = struct{}{}
	}
	return set, nil
}

func cloneColumns(cols []types.Column) []types.Column {
	if cols == nil {
		return nil
	}
	out := make([]types.Column, len(cols))
	copy(out, cols)
	return out
}

// inferSQLType maps a Go value onto the SQL type used when provisioning a
// column for it. The fallback is textual.
func inferSQLType(v any) string {
	switch v.(type) {
	case nil:
		return "TEXT"
	case bool:
		return "BOOLEAN"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE PRECISION"
	case time.Time:
		return "TIMESTAMPTZ"
	case []byte:
		return "BYTEA"
	case string:
		return "TEXT"
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return "JSONB"
	default:
		return "TEXT"
	}
}
