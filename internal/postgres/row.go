package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// row is the live handle over one record. It caches the values read at
// load time; Set and Save write through and keep the cache current. Not
// safe for concurrent use.
type row struct {
	backend *Backend
	table   string
	id      int64
	columns map[string]struct{}
	values  map[string]any
	deleted bool
}

var _ types.Row = (*row)(nil)

// Load fetches a record by id and returns a handle over it.
func (b *Backend) Load(ctx context.Context, table string, id int64) (types.Row, error) {
	cols, err := b.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	r := &row{
		backend: b,
		table:   table,
		id:      id,
		columns: make(map[string]struct{}, len(cols)),
		values:  make(map[string]any, len(cols)),
	}
	for _, c := range cols {
		r.columns[c.Name] = struct{}{}
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *row) guard() error {
	if r.deleted {
		return types.ErrRowDeleted
	}
	return nil
}

func (r *row) ID() int64     { return r.id }
func (r *row) Table() string { return r.table }

func (r *row) ColumnNames() []string {
	names := make([]string, 0, len(r.columns))
	for name := range r.columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *row) Get(name string) (any, bool) {
	if _, ok := r.columns[name]; !ok {
		return nil, false
	}
	return r.values[name], true
}

func (r *row) Value(name string) (any, error) {
	v, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q.%q", types.ErrColumnNotFound, r.table, name)
	}
	return v, nil
}

// Set writes one column immediately, provisioning it when unknown.
func (r *row) Set(ctx context.Context, name string, value any) error {
	if err := r.guard(); err != nil {
		return err
	}
	if _, ok := r.columns[name]; !ok {
		if err := r.backend.addColumn(ctx, r.table, name, inferSQLType(value)); err != nil {
			return err
		}
		r.columns[name] = struct{}{}
	}
	stmt := "UPDATE " + quoteIdent(r.table) + " SET " + quoteIdent(name) + " = $1 WHERE id = $2"
	if _, err := r.backend.execStmt(ctx, stmt, value, r.id); err != nil {
		return fmt.Errorf("setting %q.%q: %w", r.table, name, err)
	}
	r.values[name] = value
	return nil
}

func (r *row) SetLocal(name string, value any) error {
	if err := r.guard(); err != nil {
		return err
	}
	if _, ok := r.columns[name]; !ok {
		return fmt.Errorf("%w: %q.%q", types.ErrColumnNotFound, r.table, name)
	}
	r.values[name] = value
	return nil
}

// saveColumns emits one UPDATE over the named columns.
func (r *row) saveColumns(ctx context.Context, names []string) error {
	args := &argList{}
	sets := make([]string, 0, len(names))
	for _, name := range names {
		sets = append(sets, quoteIdent(name)+" = "+args.add(r.values[name]))
	}
	if len(sets) == 0 {
		return nil
	}
	stmt := "UPDATE " + quoteIdent(r.table) + " SET " + strings.Join(sets, ", ") +
		" WHERE id = " + args.add(r.id)
	if _, err := r.backend.execStmt(ctx, stmt, args.args...); err != nil {
		return fmt.Errorf("saving %q id=%d: %w", r.table, r.id, err)
	}
	return nil
}

func (r *row) Save(ctx context.Context) error {
	if err := r.guard(); err != nil {
		return err
	}
	names := make([]string, 0, len(r.values))
	for name := range r.values {
		if name == "id" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return r.saveColumns(ctx, names)
}

// SaveWithVersion guards the UPDATE with the current cached version and
// bumps it by one. A false return means another writer got there first.
func (r *row) SaveWithVersion(ctx context.Context, versionColumn string) (bool, error) {
	if err := r.guard(); err != nil {
		return false, err
	}
	if versionColumn == "" {
		versionColumn = "version"
	}
	current, ok := r.values[versionColumn]
	if !ok {
		if _, known := r.columns[versionColumn]; !known {
			return false, fmt.Errorf("%w: %q.%q", types.ErrColumnNotFound, r.table, versionColumn)
		}
	}
	args := &argList{}
	sets := make([]string, 0, len(r.values))
	names := make([]string, 0, len(r.values))
	for name := range r.values {
		if name == "id" || name == versionColumn {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sets = append(sets, quoteIdent(name)+" = "+args.add(r.values[name]))
	}
	sets = append(sets, quoteIdent(versionColumn)+" = "+quoteIdent(versionColumn)+" + 1")
	stmt := "UPDATE " + quoteIdent(r.table) + " SET " + strings.Join(sets, ", ") +
		" WHERE id = " + args.add(r.id) +
		" AND " + quoteIdent(versionColumn) + " = " + args.add(current)
	tag, err := r.backend.execStmt(ctx, stmt, args.args...)
	if err != nil {
		return false, fmt.Errorf("saving %q id=%d with version: %w", r.table, r.id, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	r.values[versionColumn] = toInt64(current) + 1
	return true, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

// SoftDelete marks the record removed without touching its data,
// provisioning the bookkeeping columns when the table lacks them.
func (r *row) SoftDelete(ctx context.Context) error {
	if err := r.guard(); err != nil {
		return err
	}
	if err := r.ensureSoftDeleteColumns(ctx); err != nil {
		return err
	}
	stmt := "UPDATE " + quoteIdent(r.table) + ` SET "deleted" = TRUE, "deleted_at" = NOW() WHERE id = $1`
	if _, err := r.backend.execStmt(ctx, stmt, r.id); err != nil {
		return fmt.Errorf("soft-deleting %q id=%d: %w", r.table, r.id, err)
	}
	return r.Refresh(ctx)
}

func (r *row) RestoreSoftDeleted(ctx context.Context) error {
	if err := r.guard(); err != nil {
		return err
	}
	if _, ok := r.columns["deleted"]; !ok {
		return nil
	}
	stmt := "UPDATE " + quoteIdent(r.table) + ` SET "deleted" = FALSE, "deleted_at" = NULL WHERE id = $1`
	if _, err := r.backend.execStmt(ctx, stmt, r.id); err != nil {
		return fmt.Errorf("restoring %q id=%d: %w", r.table, r.id, err)
	}
	return r.Refresh(ctx)
}

func (r *row) ensureSoftDeleteColumns(ctx context.Context) error {
	if _, ok := r.columns["deleted"]; ok {
		if _, ok := r.columns["deleted_at"]; ok {
			return nil
		}
	}
	err := r.backend.EnsureColumns(ctx, r.table, map[string]string{
		"deleted":    "BOOLEAN DEFAULT FALSE",
		"deleted_at": "TIMESTAMPTZ",
	})
	if err != nil {
		return err
	}
	r.columns["deleted"] = struct{}{}
	r.columns["deleted_at"] = struct{}{}
	return nil
}

// Delete removes the record and poisons the handle.
func (r *row) Delete(ctx context.Context) error {
	if err := r.guard(); err != nil {
		return err
	}
	stmt := "DELETE FROM " + quoteIdent(r.table) + " WHERE id = $1"
	if _, err := r.backend.execStmt(ctx, stmt, r.id); err != nil {
		return fmt.Errorf("deleting %q id=%d: %w", r.table, r.id, err)
	}
	r.deleted = true
	return nil
}

// Refresh re-reads every known column. The column set itself is not
// re-fetched; call Store.Load for a fresh handle after DDL.
func (r *row) Refresh(ctx context.Context) error {
	if err := r.guard(); err != nil {
		return err
	}
	names := r.ColumnNames()
	stmt := "SELECT " + strings.Join(quoteIdents(names), ", ") +
		" FROM " + quoteIdent(r.table) + " WHERE id = $1"
	maps, err := r.backend.queryMaps(ctx, stmt, r.id)
	if err != nil {
		return fmt.Errorf("refreshing %q id=%d: %w", r.table, r.id, err)
	}
	if len(maps) == 0 {
		return fmt.Errorf("%w: %q id=%d", types.ErrRowNotFound, r.table, r.id)
	}
	r.values = maps[0]
	return nil
}

func (r *row) ToMap() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func (r *row) Children(ctx context.Context, childTable, fkColumn string) ([]types.Row, error) {
	if err := r.guard(); err != nil {
		return nil, err
	}
	return r.backend.GetAll(ctx, childTable, types.FindOptions{
		Conditions: types.Conditions{fkColumn: r.id},
		OrderBy:    []string{"id"},
	})
}

func (r *row) HasMany(ctx context.Context, childTable, fkColumn string) ([]types.Row, error) {
	return r.Children(ctx, childTable, fkColumn)
}

func (r *row) HasOne(ctx context.Context, childTable, fkColumn string) (types.Row, error) {
	if err := r.guard(); err != nil {
		return nil, err
	}
	return r.backend.First(ctx, childTable, types.Conditions{fkColumn: r.id})
}

func (r *row) BelongsTo(ctx context.Context, parentTable, fkColumn string) (types.Row, error) {
	if err := r.guard(); err != nil {
		return nil, err
	}
	if fkColumn == "" {
		fkColumn = parentTable + "_id"
	}
	fk, ok := r.Get(fkColumn)
	if !ok || fk == nil {
		return nil, nil
	}
	parent, err := r.backend.First(ctx, parentTable, types.Conditions{"id": fk})
	if err != nil {
		return nil, err
	}
	return parent, nil
}

// cloneFields copies the cached values minus id, with overrides on top.
func (r *row) cloneFields(overrides map[string]any) map[string]any {
	fields := make(map[string]any, len(r.values)+len(overrides))
	for k, v := range r.values {
		if k == "id" {
			continue
		}
		fields[k] = v
	}
	for k, v := range overrides {
		fields[k] = v
	}
	return fields
}

func (r *row) CloneRow(ctx context.Context, overrides map[string]any) (types.Row, error) {
	if err := r.guard(); err != nil {
		return nil, err
	}
	return r.backend.Create(ctx, r.table, r.cloneFields(overrides))
}

func (r *row) CopyRowToTable(ctx context.Context, targetTable string, overrides map[string]any) (types.Row, error) {
	if err := r.guard(); err != nil {
		return nil, err
	}
	return r.backend.Create(ctx, targetTable, r.cloneFields(overrides))
}
