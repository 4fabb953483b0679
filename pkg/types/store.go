package types

import (
	"context"
	"time"
)

// Connector owns the database connection lifecycle: either one persistent
// connection or a bounded pool, selected once per store.
type Connector interface {
	// Connect opens a single persistent connection.
	// Returns ErrAlreadyConnected when a mode is already configured.
	Connect(ctx context.Context, cfg Config) error

	// ConnectPool opens a bounded connection pool.
	// Returns ErrAlreadyConnected when a mode is already configured.
	ConnectPool(ctx context.Context, cfg Config) error

	// Close releases the connection or pool. Idempotent.
	Close(ctx context.Context) error

	// Healthcheck issues a trivial query and reports reachability without
	// returning an error.
	Healthcheck(ctx context.Context) bool

	// SetLogger installs or removes (nil) the query logger.
	SetLogger(fn QueryLogger)
}

// Transactor provides reentrant transaction scopes. All store operations
// invoked with the context passed to fn execute on the scope's connection.
type Transactor interface {
	// Transaction runs fn inside a transaction scope. The outermost call
	// opens a real transaction and commits on nil, rolls back on error.
	// A nested call creates a uniquely named savepoint instead: released
	// on success, rolled back to on failure without aborting the outer
	// transaction.
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Savepoint runs fn inside an explicit savepoint scope. Returns
	// ErrNoTransaction when no transaction is ambient.
	Savepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

// Inspector exposes cached schema introspection.
type Inspector interface {
	// Columns returns the table's columns in ordinal order, serving from a
	// TTL-bounded cache. A table with zero columns is treated as
	// nonexistent and yields ErrTableNotFound.
	Columns(ctx context.Context, table string) ([]Column, error)

	// HasColumn reports whether the table currently has the column.
	HasColumn(ctx context.Context, table, column string) (bool, error)

	// SetSchemaCacheTTL adjusts cache expiry; ttl <= 0 disables expiry.
	SetSchemaCacheTTL(ttl time.Duration)

	// InvalidateSchema drops the cache entry for a table.
	InvalidateSchema(table string)
}

// Definer covers the DDL surface. Every helper that changes a table's
// column shape invalidates that table's schema cache entry before
// returning.
type Definer interface {
	// CreateTable issues CREATE TABLE IF NOT EXISTS with an implicit
	// "id BIGSERIAL PRIMARY KEY" column. schema maps column -> SQL type.
	CreateTable(ctx context.Context, table string, schema map[string]string) error

	// DropTable issues DROP TABLE IF EXISTS, optionally CASCADE.
	DropTable(ctx context.Context, table string, cascade bool) error

	// EnsureColumns adds the given columns when absent.
	// columns maps column -> "SQLTYPE [DEFAULT ...] [NOT NULL]".
	EnsureColumns(ctx context.Context, table string, columns map[string]string) error

	DropColumn(ctx context.Context, table, column string) error
	RenameColumn(ctx context.Context, table, oldName, newName string) error

	// AddIndex creates an index named "<table>_<column>_idx" (or _uniq).
	AddIndex(ctx context.Context, table, column string, unique bool) error

	// AddUnique adds a unique constraint; an empty name derives
	// "<table>_<col>_..._uniq".
	AddUnique(ctx context.Context, table string, columns []string, name string) error

	DropConstraint(ctx context.Context, table, name string) error

	// AddForeignKey adds a foreign key constraint. refColumn defaults to
	// "id" and onDelete to "CASCADE" when empty; an empty name derives
	// "<table>_<column>_fk".
	AddForeignKey(ctx context.Context, table, column, refTable, refColumn, onDelete, name string) error

	// DropForeignKey drops the named constraint.
	DropForeignKey(ctx context.Context, table, name string) error

	// AddTimestamps adds created_at/updated_at columns and a trigger that
	// refreshes updated_at on UPDATE. Idempotent.
	AddTimestamps(ctx context.Context, table string) error

	// EnsureVersionColumn adds a BIGINT NOT NULL DEFAULT 0 column for
	// optimistic locking; an empty column defaults to "version".
	EnsureVersionColumn(ctx context.Context, table, column string) error

	// EnableAuditTrail creates the audit table (default "audit_log") and a
	// trigger capturing before/after row snapshots on insert, update, and
	// delete. Idempotent.
	EnableAuditTrail(ctx context.Context, table, auditTable string) error

	// VacuumAnalyze runs VACUUM ANALYZE, optionally scoped to one table.
	VacuumAnalyze(ctx context.Context, table string) error
}

// Reader covers the SELECT-based read paths. Read paths never fail for
// "no rows": collections come back empty and single-row lookups return a
// nil Row.
type Reader interface {
	// FindIDs returns matching ids, ordered and paged per opts.
	FindIDs(ctx context.Context, table string, opts FindOptions) ([]int64, error)

	// ListAllIDs returns every id in the table.
	ListAllIDs(ctx context.Context, table string, includeDeleted bool) ([]int64, error)

	// GetAll returns loaded rows for every matching id.
	GetAll(ctx context.Context, table string, opts FindOptions) ([]Row, error)

	// Paginate coerces page to minimum 1 and applies offset
	// (page-1)*perPage over the opts filter. perPage must be positive;
	// anything lower is an error rather than an unlimited fetch.
	Paginate(ctx context.Context, table string, page, perPage int, opts FindOptions) ([]Row, error)

	// PaginateWithCount additionally reports the total matching row count
	// under the same filter.
	PaginateWithCount(ctx context.Context, table string, page, perPage int, opts FindOptions) ([]Row, int64, error)

	// First returns the matching row with the smallest id, or nil.
	First(ctx context.Context, table string, conditions Conditions) (Row, error)

	// Last returns the matching row with the largest id, or nil.
	Last(ctx context.Context, table string, conditions Conditions) (Row, error)

	// GetBy returns an arbitrary matching row, or nil.
	GetBy(ctx context.Context, table string, conditions Conditions) (Row, error)

	// Count returns COUNT(*) under the opts filter (order and paging are
	// ignored).
	Count(ctx context.Context, table string, opts FindOptions) (int64, error)

	// Exists reports whether any non-deleted row matches.
	Exists(ctx context.Context, table string, conditions Conditions) (bool, error)

	// ExistsByID reports whether a non-deleted row with the id exists.
	ExistsByID(ctx context.Context, table string, id int64) (bool, error)

	// Aggregate computes fn(column) under the opts filter. fn must be one
	// of SUM, MIN, MAX, AVG, COUNT, or COUNT DISTINCT; anything else
	// yields ErrInvalidAggregate.
	Aggregate(ctx context.Context, table, fn, column string, opts FindOptions) (any, error)

	// Load constructs a Row for the id, fetching its column set and values
	// in one pass. Returns ErrRowNotFound when no such row exists.
	Load(ctx context.Context, table string, id int64) (Row, error)

	// GetOrCreate atomically finds a row matching conditions or creates
	// one from defaults merged with conditions. The second return reports
	// whether a row was created.
	GetOrCreate(ctx context.Context, table string, conditions Conditions, defaults map[string]any) (Row, bool, error)
}

// Writer covers the mutation pipeline: column auto-provisioning, hook
// execution, and statement construction. Zero rows affected on a
// conditional update or delete is a normal outcome, not an error.
type Writer interface {
	// Create inserts one record, provisioning missing columns first and
	// running before/after insert hooks around the INSERT.
	Create(ctx context.Context, table string, fields map[string]any, opts ...InsertOption) (Row, error)

	// Upsert performs INSERT ... ON CONFLICT (conflictColumns) DO UPDATE
	// and returns the resulting id. conflictColumns must name at least one
	// column backed by a unique constraint or index; an empty slice yields
	// ErrNoConflictColumns. A nil updateColumns defaults to all supplied
	// columns except the conflict columns and id.
	Upsert(ctx context.Context, table string, conflictColumns []string, values map[string]any, updateColumns []string, opts ...InsertOption) (int64, error)

	// BulkCreate inserts rows in one multi-row INSERT over the sorted
	// union of all keys, provisioning missing columns once. The returned
	// ids preserve input order; a row missing union keys supplies NULL.
	// Hooks run once per row.
	BulkCreate(ctx context.Context, table string, rows []map[string]any, opts ...InsertOption) ([]int64, error)

	// BulkUpdate updates many rows in one statement via
	// UPDATE ... FROM (VALUES ...). Rows must carry keyColumn. A nil
	// updateColumns defaults to the sorted union of row keys minus the
	// key. Returns the number of rows affected.
	BulkUpdate(ctx context.Context, table string, rows []map[string]any, keyColumn string, updateColumns []string) (int64, error)

	// UpdateWhere applies updates to all rows matching conditions and
	// returns the number of rows affected.
	UpdateWhere(ctx context.Context, table string, updates map[string]any, conditions Conditions) (int64, error)

	// DeleteWhere removes all rows matching conditions and returns the
	// number of rows affected.
	DeleteWhere(ctx context.Context, table string, conditions Conditions) (int64, error)

	// PurgeSoftDeletedOlderThan physically removes soft-deleted rows whose
	// deleted_at is older than age, provisioning the soft-delete columns
	// when absent.
	PurgeSoftDeletedOlderThan(ctx context.Context, table string, age time.Duration) (int64, error)

	// RegisterBeforeInsert adds a before-insert hook for a table, or for
	// every table when table is empty or HookWildcard. Wildcard hooks run
	// before table-specific hooks, in registration order within each tier.
	// Intended for composition time, before concurrent traffic begins.
	RegisterBeforeInsert(table string, fn Hook)

	// RegisterAfterInsert adds an after-insert hook; see Hook for the
	// error policy.
	RegisterAfterInsert(table string, fn Hook)
}

// Migrator runs named, ordered migrations exactly once, recorded in a
// durable schema_migrations ledger.
type Migrator interface {
	// AddMigration registers a migration; order of registration is the
	// order of application. Names must be unique.
	AddMigration(name string, fn func(ctx context.Context) error) error

	// RunMigrations applies every registered migration not yet recorded in
	// the ledger, each inside its own transaction together with its ledger
	// entry. Returns the names applied during this call.
	RunMigrations(ctx context.Context) ([]string, error)
}

// Raw is the escape hatch for statements the condition builder cannot
// express. No identifier escaping is performed on the query text.
type Raw interface {
	// RawQuery executes arbitrary SQL with bound parameters and returns
	// the rows as maps. Statements producing no result set return an
	// empty slice.
	RawQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error)

	// StreamQuery runs the query through a server-side cursor and returns
	// a forward-only stream fetching fetchSize rows at a time. The stream
	// holds a connection until Close; Close must run on every exit path.
	StreamQuery(ctx context.Context, query string, args []any, fetchSize int) (Stream, error)

	// Explain returns the query plan, with ANALYZE and BUFFERS when
	// analyze is set.
	Explain(ctx context.Context, query string, args []any, analyze bool) (string, error)

	// ExecBatch executes the statement once per parameter set in a single
	// round trip and returns the rows affected by the last execution.
	ExecBatch(ctx context.Context, query string, batchArgs [][]any) (int64, error)
}

// Stream is a forward-only, non-restartable sequence of row maps backed by
// a server-side cursor.
type Stream interface {
	// Next advances to the next row, fetching the next batch as needed.
	Next() bool

	// Row returns the current row map. Valid after a true Next.
	Row() map[string]any

	// Err returns the first error encountered while streaming.
	Err() error

	// Close releases the cursor and its connection. Safe to call more
	// than once, and required even when iteration stops early.
	Close() error
}

// Store is the full dynamic-schema data access surface.
type Store interface {
	Connector
	Transactor
	Inspector
	Definer
	Reader
	Writer
	Migrator
	Raw
}
