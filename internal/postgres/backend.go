// Package postgres implements the PostgreSQL storage backend for Tabula.
// The backend owns either a single persistent connection or a bounded
// pgx pool, translates dynamic operations into parameterized SQL, and
// memoizes schema introspection behind a TTL cache.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// executor is the minimal statement surface shared by pgx.Conn,
// pgxpool.Pool, pgxpool.Conn, and pgx.Tx. Operations resolve one per
// statement so ambient transactions stay on their own connection.
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// txBeginner is an executor that can open a transaction. Satisfied by
// pgx.Conn and pgxpool.Conn; faked in unit tests.
type txBeginner interface {
	executor
	Begin(ctx context.Context) (pgx.Tx, error)
}

// singleConn is the seam for single-connection mode.
type singleConn interface {
	txBeginner
	Close(ctx context.Context) error
}

// Backend implements types.Store over PostgreSQL.
type Backend struct {
	mu     sync.RWMutex // guards single, pool, cfg, logger
	connMu sync.Mutex   // serializes statement scopes in single-connection mode
	single singleConn
	pool   *pgxpool.Pool
	cfg    types.Config
	logger types.QueryLogger

	schema     *schemaCache
	hooks      *hookRegistry
	migrations []migration
}

// NewBackend creates an unconnected backend. Call Connect or ConnectPool
// before issuing operations.
func NewBackend() *Backend {
	return &Backend{
		schema: newSchemaCache(types.DefaultSchemaCacheTTL),
		hooks:  newHookRegistry(),
	}
}

// Connect opens a single persistent connection. Exactly one of Connect and
// ConnectPool may be active at a time.
func (b *Backend) Connect(ctx context.Context, cfg types.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.single != nil || b.pool != nil {
		return types.ErrAlreadyConnected
	}
	conn, err := pgx.Connect(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	b.single = conn
	b.cfg = cfg
	b.applyCacheTTLLocked(cfg)
	return nil
}

// ConnectPool opens a bounded connection pool.
func (b *Backend) ConnectPool(ctx context.Context, cfg types.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.single != nil || b.pool != nil {
		return types.ErrAlreadyConnected
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return fmt.Errorf("parsing pool config: %w", err)
	}
	minConns, maxConns := cfg.MinConns, cfg.MaxConns
	if minConns == 0 {
		minConns = types.DefaultMinConns
	}
	if maxConns == 0 {
		maxConns = types.DefaultMaxConns
	}
	pc.MinConns = int32(minConns)
	pc.MaxConns = int32(maxConns)
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return fmt.Errorf("creating pool: %w", err)
	}
	b.pool = pool
	b.cfg = cfg
	b.applyCacheTTLLocked(cfg)
	return nil
}

func (b *Backend) applyCacheTTLLocked(cfg types.Config) {
	switch {
	case cfg.SchemaCacheTTL > 0:
		b.schema.setTTL(cfg.SchemaCacheTTL)
	case cfg.SchemaCacheTTL < 0:
		b.schema.setTTL(0) // never expire
	default:
		b.schema.setTTL(types.DefaultSchemaCacheTTL)
	}
}

// Close releases the connection or pool. Idempotent.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
	if b.single != nil {
		if err := b.single.Close(ctx); err != nil {
			b.single = nil
			return fmt.Errorf("closing connection: %w", err)
		}
		b.single = nil
	}
	return nil
}

// Healthcheck issues SELECT 1 and reports reachability without raising.
func (b *Backend) Healthcheck(ctx context.Context) bool {
	_, _, err := b.queryScalar(ctx, "SELECT 1")
	return err == nil
}

// SetLogger installs or removes (nil) the query logger.
func (b *Backend) SetLogger(fn types.QueryLogger) {
	b.mu.Lock()
	b.logger = fn
	b.mu.Unlock()
}

// logSQL invokes the logger, if any. The logger must never disturb the
// primary operation, so panics are recovered and discarded.
func (b *Backend) logSQL(query string, args []any) {
	b.mu.RLock()
	fn := b.logger
	b.mu.RUnlock()
	if fn == nil {
		return
	}
	defer func() { _ = recover() }()
	fn(query, args)
}

// exec resolves the executor for one statement scope: the ambient
// transaction when present, otherwise the pool or the single connection.
// The returned release must be called when the scope ends.
func (b *Backend) exec(ctx context.Context) (executor, func(), error) {
	if tx := txFrom(ctx); tx != nil {
		return tx, func() {}, nil
	}
	b.mu.RLock()
	single, pool := b.single, b.pool
	b.mu.RUnlock()
	switch {
	case pool != nil:
		return pool, func() {}, nil
	case single != nil:
		b.connMu.Lock()
		return single, b.connMu.Unlock, nil
	default:
		return nil, nil, types.ErrNotConnected
	}
}

// acquireConn reserves a dedicated connection for a multi-statement scope
// (transaction or server-side cursor). Pool acquisition waits at most
// AcquireTimeout before failing with ErrPoolExhausted. In single-connection
// mode the one connection is held until release.
func (b *Backend) acquireConn(ctx context.Context) (txBeginner, func(), error) {
	b.mu.RLock()
	single, pool, cfg := b.single, b.pool, b.cfg
	b.mu.RUnlock()
	switch {
	case pool != nil:
		timeout := cfg.AcquireTimeout
		if timeout <= 0 {
			timeout = types.DefaultAcquireTimeout
		}
		acqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, err := pool.Acquire(acqCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, nil, fmt.Errorf("%w: no connection within %s", types.ErrPoolExhausted, timeout)
			}
			return nil, nil, fmt.Errorf("acquiring connection: %w", err)
		}
		return conn, conn.Release, nil
	case single != nil:
		b.connMu.Lock()
		return single, b.connMu.Unlock, nil
	default:
		return nil, nil, types.ErrNotConnected
	}
}

// execStmt runs one statement and returns its command tag.
func (b *Backend) execStmt(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	q, release, err := b.exec(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	defer release()
	b.logSQL(query, args)
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return tag, mapPgError(err)
	}
	return tag, nil
}

// queryMaps runs a query and collects every row as a column->value map.
// Statements producing no result set yield an empty slice.
func (b *Backend) queryMaps(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	q, release, err := b.exec(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	b.logSQL(query, args)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	out, err := rowsToMaps(rows)
	if err != nil {
		return nil, mapPgError(err)
	}
	return out, nil
}

// queryInt64s runs a single-column query and collects int64 values.
func (b *Backend) queryInt64s(ctx context.Context, query string, args ...any) ([]int64, error) {
	q, release, err := b.exec(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	b.logSQL(query, args)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	out := []int64{}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err)
	}
	return out, nil
}

// queryScalar runs a query and returns the first column of the first row.
// The second return reports whether any row was produced.
func (b *Backend) queryScalar(ctx context.Context, query string, args ...any) (any, bool, error) {
	q, release, err := b.exec(ctx)
	if err != nil {
		return nil, false, err
	}
	defer release()
	b.logSQL(query, args)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, false, mapPgError(err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, mapPgError(rows.Err())
	}
	vals, err := rows.Values()
	if err != nil {
		return nil, false, fmt.Errorf("reading scalar: %w", err)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, mapPgError(err)
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	return vals[0], true, nil
}

// rowsToMaps drains rows into column->value maps. Always closes rows.
func rowsToMaps(rows pgx.Rows) ([]map[string]any, error) {
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		fields := rows.FieldDescriptions()
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row values: %w", err)
		}
		m := make(map[string]any, len(fields))
		for i, fd := range fields {
			m[fd.Name] = vals[i]
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// mapPgError converts server errors to the package's sentinel kinds.
// Constraint violations (class 23) and missing tables/columns get stable
// sentinels; everything else passes through.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == "42P01":
		return fmt.Errorf("%w: %s", types.ErrTableNotFound, pgErr.Message)
	case pgErr.Code == "42703":
		return fmt.Errorf("%w: %s", types.ErrColumnNotFound, pgErr.Message)
	case strings.HasPrefix(pgErr.Code, "23"):
		return fmt.Errorf("%w: %s", types.ErrConstraintViolation, pgErr.Message)
	}
	return err
}

// now is the clock used for schema cache expiry; replaced in tests.
var now = time.Now
