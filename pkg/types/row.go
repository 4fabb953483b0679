package types

import "context"

// Row represents one persisted record: its table, id, the column set known
// at load time, and a local value cache backing dynamic attribute access.
//
// A Row is constructed by Store.Create (id known after INSERT) or
// Store.Load (column set and values fetched in one pass). After Delete the
// handle is terminal: every further operation returns ErrRowDeleted.
type Row interface {
	// ID returns the surrogate primary key of the record.
	ID() int64

	// Table returns the table name the record belongs to.
	Table() string

	// ColumnNames returns the columns known to this handle, sorted.
	ColumnNames() []string

	// Get returns the cached value for a column and whether the column is
	// known to the handle.
	Get(name string) (any, bool)

	// Value returns the cached value for a column, or ErrColumnNotFound
	// when the column is unknown.
	Value(name string) (any, error)

	// Set writes a single column immediately. Setting an unknown column
	// provisions it first with an inferred type.
	Set(ctx context.Context, name string, value any) error

	// SetLocal mutates only the local cache; pair with Save to persist
	// several columns in one statement.
	SetLocal(name string, value any) error

	// Save persists every held column except id in one UPDATE.
	Save(ctx context.Context) error

	// SaveWithVersion performs an optimistic-locking UPDATE guarded by the
	// version column. It returns false without error when the stored
	// version no longer matches; on success both the stored and the cached
	// version are incremented by one.
	SaveWithVersion(ctx context.Context, versionColumn string) (bool, error)

	// SoftDelete marks the record logically removed, provisioning the
	// deleted/deleted_at columns when absent.
	SoftDelete(ctx context.Context) error

	// RestoreSoftDeleted reverses SoftDelete. It is a no-op when the
	// soft-delete columns never existed.
	RestoreSoftDeleted(ctx context.Context) error

	// Delete removes the record physically and makes the handle terminal.
	Delete(ctx context.Context) error

	// Refresh reloads all held values from the database.
	Refresh(ctx context.Context) error

	// ToMap returns a copy of the cached values.
	ToMap() map[string]any

	// Children returns rows of childTable whose fkColumn equals this
	// row's id.
	Children(ctx context.Context, childTable, fkColumn string) ([]Row, error)

	// HasMany is an alias for Children.
	HasMany(ctx context.Context, childTable, fkColumn string) ([]Row, error)

	// HasOne returns the first row of childTable whose fkColumn equals
	// this row's id, or nil when none matches.
	HasOne(ctx context.Context, childTable, fkColumn string) (Row, error)

	// BelongsTo follows a foreign key on this row to its parent. An empty
	// fkColumn defaults to "<parentTable>_id". Returns nil when the key is
	// unset or the parent is missing.
	BelongsTo(ctx context.Context, parentTable, fkColumn string) (Row, error)

	// CloneRow inserts a copy of this record (without id) into the same
	// table, applying overrides on top of the cached values.
	CloneRow(ctx context.Context, overrides map[string]any) (Row, error)

	// CopyRowToTable inserts a copy of this record into another table,
	// provisioning columns there as needed.
	CopyRowToTable(ctx context.Context, targetTable string, overrides map[string]any) (Row, error)
}
