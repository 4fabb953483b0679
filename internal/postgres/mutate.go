package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// queryID runs a statement with RETURNING id and scans the id.
func (b *Backend) queryID(ctx context.Context, query string, args ...any) (int64, error) {
	q, release, err := b.exec(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	b.logSQL(query, args)
	var id int64
	if err := q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, mapPgError(err)
	}
	return id, nil
}

// sortedKeys returns the map's keys sorted, skipping "id".
func sortedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// columnType resolves the SQL type for an auto-provisioned column: an
// explicit hint wins, then value inference, then the textual default.
func columnType(name string, value any, settings types.InsertSettings) string {
	if t, ok := settings.ColumnTypes[name]; ok && t != "" {
		return t
	}
	if settings.InferTypes {
		return inferSQLType(value)
	}
	return "TEXT"
}

// provisionFields adds a column for every field key the table does not
// have yet. The schema cache entry is invalidated per added column.
func (b *Backend) provisionFields(ctx context.Context, table string, fields map[string]any, settings types.InsertSettings, existing map[string]struct{}) error {
	for _, name := range sortedKeys(fields) {
		if _, ok := existing[name]; ok {
			continue
		}
		if err := b.addColumn(ctx, table, name, columnType(name, fields[name], settings)); err != nil {
			return err
		}
		existing[name] = struct{}{}
	}
	return nil
}

// Create inserts one record. Missing columns are provisioned first, then
// before-insert hooks run against the mutable field mapping (a hook
// failure aborts the insert), then a single parameterized INSERT with
// RETURNING id executes, then after-insert hooks run. Returns a loaded
// Row for the new id.
func (b *Backend) Create(ctx context.Context, table string, fields map[string]any, opts ...types.InsertOption) (types.Row, error) {
	settings := types.NewInsertSettings(opts...)
	existing, err := b.columnSet(ctx, table)
	if err != nil {
		return nil, err
	}
	if err := b.provisionFields(ctx, table, fields, settings, existing); err != nil {
		return nil, err
	}
	if err := b.runBeforeHooks(table, fields); err != nil {
		return nil, err
	}

	keys := sortedKeys(fields)
	var stmt string
	args := &argList{}
	if len(keys) == 0 {
		stmt = "INSERT INTO " + quoteIdent(table) + " DEFAULT VALUES RETURNING id"
	} else {
		placeholders := make([]string, len(keys))
		for i, k := range keys {
			placeholders[i] = args.add(fields[k])
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
			quoteIdent(table), strings.Join(quoteIdents(keys), ", "), strings.Join(placeholders, ", "))
	}
	id, err := b.queryID(ctx, stmt, args.args...)
	if err != nil {
		return nil, fmt.Errorf("inserting into %q: %w", table, err)
	}

	b.runAfterHooks(table, fields)
	return b.Load(ctx, table, id)
}

// Upsert performs INSERT ... ON CONFLICT (conflictColumns) DO UPDATE and
// returns the resulting id. At least one conflict column is required, and
// they must be backed by a unique constraint or index. A nil updateColumns
// defaults to all supplied
// columns except the conflict columns and id.
func (b *Backend) Upsert(ctx context.Context, table string, conflictColumns []string, values map[string]any, updateColumns []string, opts ...types.InsertOption) (int64, error) {
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("upserting into %q: %w", table, types.ErrNoConflictColumns)
	}
	settings := types.NewInsertSettings(opts...)
	existing, err := b.columnSet(ctx, table)
	if err != nil {
		return 0, err
	}
	if err := b.provisionFields(ctx, table, values, settings, existing); err != nil {
		return 0, err
	}

	keys := sortedKeys(values)
	if updateColumns == nil {
		conflict := make(map[string]struct{}, len(conflictColumns))
		for _, c := range conflictColumns {
			conflict[c] = struct{}{}
		}
		for _, k := range keys {
			if _, ok := conflict[k]; !ok {
				updateColumns = append(updateColumns, k)
			}
		}
	}

	setExprs := make([]string, 0, len(updateColumns))
	for _, c := range updateColumns {
		setExprs = append(setExprs, quoteIdent(c)+" = EXCLUDED."+quoteIdent(c))
	}
	if len(setExprs) == 0 {
		// No-op assignment keeps the statement a DO UPDATE, so RETURNING
		// yields the existing id on conflict.
		c := conflictColumns[0]
		setExprs = append(setExprs, quoteIdent(c)+" = EXCLUDED."+quoteIdent(c))
	}

	args := &argList{}
	placeholders := make([]string, len(keys))
	for i, k := range keys {
		placeholders[i] = args.add(values[k])
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING id",
		quoteIdent(table),
		strings.Join(quoteIdents(keys), ", "),
		strings.Join(placeholders, ", "),
		strings.Join(quoteIdents(conflictColumns), ", "),
		strings.Join(setExprs, ", "))
	id, err := b.queryID(ctx, stmt, args.args...)
	if err != nil {
		return 0, fmt.Errorf("upserting into %q: %w", table, err)
	}
	return id, nil
}

// BulkCreate inserts rows in one multi-row INSERT over the sorted union of
// all row keys, provisioning missing columns once. Before-insert hooks run
// per row ahead of the statement; a hook failure aborts the whole batch.
// The returned ids preserve input order; rows missing union keys supply
// NULL. Hook-added fields outside the key union are not inserted.
func (b *Backend) BulkCreate(ctx context.Context, table string, rows []map[string]any, opts ...types.InsertOption) ([]int64, error) {
	if len(rows) == 0 {
		return []int64{}, nil
	}
	settings := types.NewInsertSettings(opts...)
	existing, err := b.columnSet(ctx, table)
	if err != nil {
		return nil, err
	}

	union := map[string]any{}
	for _, row := range rows {
		for k, v := range row {
			if k == "id" {
				continue
			}
			// Keep the first non-nil value per column for type inference.
			if cur, ok := union[k]; !ok || cur == nil {
				union[k] = v
			}
		}
	}
	if err := b.provisionFields(ctx, table, union, settings, existing); err != nil {
		return nil, err
	}

	for _, row := range rows {
		if err := b.runBeforeHooks(table, row); err != nil {
			return nil, err
		}
	}

	ordered := sortedKeys(union)
	args := &argList{}
	tuples := make([]string, 0, len(rows))
	for _, row := range rows {
		placeholders := make([]string, len(ordered))
		for i, c := range ordered {
			placeholders[i] = args.add(row[c])
		}
		tuples = append(tuples, "("+strings.Join(placeholders, ", ")+")")
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING id",
		quoteIdent(table), strings.Join(quoteIdents(ordered), ", "), strings.Join(tuples, ", "))
	ids, err := b.queryInt64s(ctx, stmt, args.args...)
	if err != nil {
		return nil, fmt.Errorf("bulk inserting into %q: %w", table, err)
	}

	for _, row := range rows {
		b.runAfterHooks(table, row)
	}
	return ids, nil
}

// BulkUpdate updates many rows in one UPDATE ... FROM (VALUES ...)
// statement joined on keyColumn. Rows must carry the key. A nil
// updateColumns defaults to the sorted union of row keys minus the key.
func (b *Backend) BulkUpdate(ctx context.Context, table string, rows []map[string]any, keyColumn string, updateColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if keyColumn == "" {
		keyColumn = "id"
	}
	if updateColumns == nil {
		seen := map[string]struct{}{}
		for _, row := range rows {
			for k := range row {
				if k == keyColumn {
					continue
				}
				seen[k] = struct{}{}
			}
		}
		for k := range seen {
			updateColumns = append(updateColumns, k)
		}
		sort.Strings(updateColumns)
	}
	if len(updateColumns) == 0 {
		return 0, nil
	}

	cols := append([]string{keyColumn}, updateColumns...)
	args := &argList{}
	tuples := make([]string, 0, len(rows))
	for _, row := range rows {
		placeholders := make([]string, len(cols))
		for i, c := range cols {
			placeholders[i] = args.add(row[c])
		}
		tuples = append(tuples, "("+strings.Join(placeholders, ", ")+")")
	}

	t := quoteIdent(table)
	setExprs := make([]string, 0, len(updateColumns))
	for _, c := range updateColumns {
		setExprs = append(setExprs, quoteIdent(c)+` = "v".`+quoteIdent(c))
	}
	stmt := fmt.Sprintf(`UPDATE %s SET %s FROM (VALUES %s) AS "v" (%s) WHERE %s.%s = "v".%s`,
		t, strings.Join(setExprs, ", "), strings.Join(tuples, ", "),
		strings.Join(quoteIdents(cols), ", "), t, quoteIdent(keyColumn), quoteIdent(keyColumn))
	tag, err := b.execStmt(ctx, stmt, args.args...)
	if err != nil {
		return 0, fmt.Errorf("bulk updating %q: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// UpdateWhere applies updates to all rows matching conditions. Zero rows
// affected is a normal outcome.
func (b *Backend) UpdateWhere(ctx context.Context, table string, updates map[string]any, conditions types.Conditions) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	args := &argList{}
	setExprs := make([]string, 0, len(updates))
	for _, c := range sortedKeys(updates) {
		setExprs = append(setExprs, quoteIdent(c)+" = "+args.add(updates[c]))
	}
	cond := buildConditions(conditions, args)
	stmt := "UPDATE " + quoteIdent(table) + " SET " + strings.Join(setExprs, ", ") + whereClause(cond, false)
	tag, err := b.execStmt(ctx, stmt, args.args...)
	if err != nil {
		return 0, fmt.Errorf("updating %q: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteWhere removes all rows matching conditions. An empty condition map
// deletes every row.
func (b *Backend) DeleteWhere(ctx context.Context, table string, conditions types.Conditions) (int64, error) {
	args := &argList{}
	cond := buildConditions(conditions, args)
	stmt := "DELETE FROM " + quoteIdent(table) + whereClause(cond, false)
	tag, err := b.execStmt(ctx, stmt, args.args...)
	if err != nil {
		return 0, fmt.Errorf("deleting from %q: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// PurgeSoftDeletedOlderThan physically removes soft-deleted rows whose
// deleted_at is older than age, measured against the database clock. The
// soft-delete columns are provisioned when absent so the statement cannot
// fail on a table that never saw a soft delete.
func (b *Backend) PurgeSoftDeletedOlderThan(ctx context.Context, table string, age time.Duration) (int64, error) {
	err := b.EnsureColumns(ctx, table, map[string]string{
		"deleted":    "BOOLEAN DEFAULT FALSE",
		"deleted_at": "TIMESTAMPTZ",
	})
	if err != nil {
		return 0, err
	}
	stmt := "DELETE FROM " + quoteIdent(table) +
		` WHERE "deleted" = TRUE AND "deleted_at" IS NOT NULL AND "deleted_at" < (NOW() - make_interval(secs => $1))`
	tag, err := b.execStmt(ctx, stmt, age.Seconds())
	if err != nil {
		return 0, fmt.Errorf("purging soft-deleted rows from %q: %w", table, err)
	}
	return tag.RowsAffected(), nil
}
