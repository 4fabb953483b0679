package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// CreateTable issues CREATE TABLE IF NOT EXISTS with an implicit
// "id BIGSERIAL PRIMARY KEY". schema maps column names to SQL type
// expressions; iteration order does not matter, columns are emitted
// sorted after id.
func (b *Backend) CreateTable(ctx context.Context, table string, schema map[string]string) error {
	cols := []string{"id BIGSERIAL PRIMARY KEY"}
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cols = append(cols, quoteIdent(name)+" "+schema[name])
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
	if _, err := b.execStmt(ctx, stmt); err != nil {
		return fmt.Errorf("creating table %q: %w", table, err)
	}
	b.InvalidateSchema(table)
	return nil
}

// DropTable issues DROP TABLE IF EXISTS, optionally CASCADE.
func (b *Backend) DropTable(ctx context.Context, table string, cascade bool) error {
	stmt := "DROP TABLE IF EXISTS " + quoteIdent(table)
	if cascade {
		stmt += " CASCADE"
	}
	if _, err := b.execStmt(ctx, stmt); err != nil {
		return fmt.Errorf("dropping table %q: %w", table, err)
	}
	b.InvalidateSchema(table)
	return nil
}

// EnsureColumns adds the given columns when absent, in one ALTER TABLE.
// columns maps column -> "SQLTYPE [DEFAULT ...] [NOT NULL]".
func (b *Backend) EnsureColumns(ctx context.Context, table string, columns map[string]string) error {
	if len(columns) == 0 {
		return nil
	}
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)
	adds := make([]string, 0, len(names))
	for _, name := range names {
		adds = append(adds, "ADD COLUMN IF NOT EXISTS "+quoteIdent(name)+" "+columns[name])
	}
	stmt := "ALTER TABLE " + quoteIdent(table) + " " + strings.Join(adds, ", ")
	if _, err := b.execStmt(ctx, stmt); err != nil {
		return fmt.Errorf("ensuring columns on %q: %w", table, err)
	}
	b.InvalidateSchema(table)
	return nil
}

// addColumn provisions one column, used by the auto-provisioning paths.
func (b *Backend) addColumn(ctx context.Context, table, column, sqlType string) error {
	stmt := "ALTER TABLE " + quoteIdent(table) + " ADD COLUMN IF NOT EXISTS " + quoteIdent(column) + " " + sqlType
	if _, err := b.execStmt(ctx, stmt); err != nil {
		return fmt.Errorf("adding column %q to %q: %w", column, table, err)
	}
	b.InvalidateSchema(table)
	return nil
}

// DropColumn drops a column when present.
func (b *Backend) DropColumn(ctx context.Context, table, column string) error {
	stmt := "ALTER TABLE " + quoteIdent(table) + " DROP COLUMN IF EXISTS " + quoteIdent(column)
	if _, err := b.execStmt(ctx, stmt); err != nil {
		return fmt.Errorf("dropping column %q from %q: %w", column, table, err)
	}
	b.InvalidateSchema(table)
	return nil
}

// RenameColumn renames a column.
func (b *Backend) RenameColumn(ctx context.Context, table, oldName, newName string) error {
	stmt := "ALTER TABLE " + quoteIdent(table) + " RENAME COLUMN " + quoteIdent(oldName) + " TO " + quoteIdent(newName)
	if _, err := b.execStmt(ctx, stmt); err != nil {
		return fmt.Errorf("renaming column %q on %q: %w", oldName, table, err)
	}
	b.InvalidateSchema(table)
	return nil
}

// AddIndex creates an index named "<table>_<column>_idx", or _uniq for a
// unique index. Idempotent.
func (b *Backend) AddIndex(ctx context.Context, table, column string, unique bool) error {
	suffix := "idx"
	uniq := ""
	if unique {
		suffix = "uniq"
		uniq = "UNIQUE "
	}
	name := fmt.Sprintf("%s_%s_%s", table, column, suffix)
	stmt := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		uniq, quoteIdent(name), quoteIdent(table), quoteIdent(column))
	if _, err := b.execStmt(ctx, stmt); err != nil {
		return fmt.Errorf("adding index on %q(%s): %w", table, column, err)
	}
	return nil
}

// AddUnique adds a unique constraint over columns; an empty name derives
// "<table>_<col>_..._uniq".
func (b *Backend) AddUnique(ctx context.Context, table string, columns []string, name string) error {
	if name == "" {
		name = table + "_" + strings.Join(columns, "_") + "_uniq"
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)",
		quoteIdent(table), quoteIdent(name), strings.Join(quoteIdents(columns), ", "))
	if _, err := b.execStmt(ctx, stmt); err != nil {
		return fmt.Errorf("adding unique constraint %q: %w", name, err)
	}
	return nil
}

// DropConstraint drops a named constraint when present.
func (b *Backend) DropConstraint(ctx context.Context, table, name string) error {
	stmt := "ALTER TABLE " + quoteIdent(table) + " DROP CONSTRAINT IF EXISTS " + quoteIdent(name)
	if _, err := b.execStmt(ctx, stmt); err != nil {
		return fmt.Errorf("dropping constraint %q: %w", name, err)
	}
	return nil
}

// onDeleteActions restricts the ON DELETE clause to the forms PostgreSQL
// accepts; the action is interpolated as a keyword, not a parameter.
var onDeleteActions = map[string]string{
	"CASCADE":     "CASCADE",
	"RESTRICT":    "RESTRICT",
	"SET NULL":    "SET NULL",
	"SET DEFAULT": "SET DEFAULT",
	"NO ACTION":   "NO ACTION",
}

// AddForeignKey adds a foreign key constraint. refColumn defaults to "id",
// onDelete to "CASCADE", and an empty name derives "<table>_<column>_fk".
func (b *Backend) AddForeignKey(ctx context.Context, table, column, refTable, refColumn, onDelete, name string) error {
	if refColumn == "" {
		refColumn = "id"
	}
	if onDelete == "" {
		onDelete = "CASCADE"
	}
	action, ok := onDeleteActions[strings.ToUpper(onDelete)]
	if !ok {
		return fmt.Errorf("unsupported ON DELETE action %q", onDelete)
	}
	if name == "" {
		name = table + "_" + column + "_fk"
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
		quoteIdent(table), quoteIdent(name), quoteIdent(column),
		quoteIdent(refTable), quoteIdent(refColumn), action)
	if _, err := b.execStmt(ctx, stmt); err != nil {
		return fmt.Errorf("adding foreign key %q: %w", name, err)
	}
	return nil
}

// DropForeignKey drops the named foreign key constraint.
func (b *Backend) DropForeignKey(ctx context.Context, table, name string) error {
	return b.DropConstraint(ctx, table, name)
}

// AddTimestamps adds created_at/updated_at columns and installs a trigger
// that refreshes updated_at on every UPDATE. Idempotent.
func (b *Backend) AddTimestamps(ctx context.Context, table string) error {
	err := b.EnsureColumns(ctx, table, map[string]string{
		"created_at": "TIMESTAMPTZ NOT NULL DEFAULT NOW()",
		"updated_at": "TIMESTAMPTZ NOT NULL DEFAULT NOW()",
	})
	if err != nil {
		return err
	}

	funcName := table + "_set_updated_at"
	trgName := table + "_trg_set_updated_at"
	createFn := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;`, quoteIdent(funcName))
	if _, err := b.execStmt(ctx, createFn); err != nil {
		return fmt.Errorf("creating timestamp trigger function for %q: %w", table, err)
	}

	createTrg := fmt.Sprintf(`DO $$
BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = %s) THEN
        CREATE TRIGGER %s BEFORE UPDATE ON %s
        FOR EACH ROW EXECUTE FUNCTION %s();
    END IF;
END$$;`, quoteLiteral(trgName), quoteIdent(trgName), quoteIdent(table), quoteIdent(funcName))
	if _, err := b.execStmt(ctx, createTrg); err != nil {
		return fmt.Errorf("creating timestamp trigger for %q: %w", table, err)
	}
	return nil
}

// EnsureVersionColumn adds the optimistic-locking counter column; an empty
// column name defaults to "version".
func (b *Backend) EnsureVersionColumn(ctx context.Context, table, column string) error {
	if column == "" {
		column = "version"
	}
	return b.EnsureColumns(ctx, table, map[string]string{column: "BIGINT NOT NULL DEFAULT 0"})
}

// EnableAuditTrail creates the audit table and installs a trigger that
// records before/after row snapshots for INSERT, UPDATE, and DELETE on the
// table. Idempotent.
func (b *Backend) EnableAuditTrail(ctx context.Context, table, auditTable string) error {
	if auditTable == "" {
		auditTable = "audit_log"
	}
	err := b.CreateTable(ctx, auditTable, map[string]string{
		"table_name": "TEXT NOT NULL",
		"row_id":     "BIGINT",
		"action":     "TEXT NOT NULL",
		"changed_at": "TIMESTAMPTZ NOT NULL DEFAULT NOW()",
		"before":     "JSONB",
		"after":      "JSONB",
	})
	if err != nil {
		return err
	}

	funcName := "audit_" + table + "_fn"
	trgName := "audit_" + table + "_trg"
	createFn := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
BEGIN
    IF TG_OP = 'INSERT' THEN
        INSERT INTO %s(table_name, row_id, action, after)
        VALUES (TG_TABLE_NAME, NEW.id, TG_OP, to_jsonb(NEW));
        RETURN NEW;
    ELSIF TG_OP = 'UPDATE' THEN
        INSERT INTO %s(table_name, row_id, action, before, after)
        VALUES (TG_TABLE_NAME, NEW.id, TG_OP, to_jsonb(OLD), to_jsonb(NEW));
        RETURN NEW;
    ELSIF TG_OP = 'DELETE' THEN
        INSERT INTO %s(table_name, row_id, action, before)
        VALUES (TG_TABLE_NAME, OLD.id, TG_OP, to_jsonb(OLD));
        RETURN OLD;
    END IF;
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;`,
		quoteIdent(funcName), quoteIdent(auditTable), quoteIdent(auditTable), quoteIdent(auditTable))
	if _, err := b.execStmt(ctx, createFn); err != nil {
		return fmt.Errorf("creating audit function for %q: %w", table, err)
	}

	createTrg := fmt.Sprintf(`DO $$
BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = %s) THEN
        CREATE TRIGGER %s
        AFTER INSERT OR UPDATE OR DELETE ON %s
        FOR EACH ROW EXECUTE FUNCTION %s();
    END IF;
END$$;`, quoteLiteral(trgName), quoteIdent(trgName), quoteIdent(table), quoteIdent(funcName))
	if _, err := b.execStmt(ctx, createTrg); err != nil {
		return fmt.Errorf("creating audit trigger for %q: %w", table, err)
	}
	return nil
}

// VacuumAnalyze runs VACUUM ANALYZE, optionally scoped to one table.
// VACUUM cannot run inside a transaction block.
func (b *Backend) VacuumAnalyze(ctx context.Context, table string) error {
	stmt := "VACUUM ANALYZE"
	if table != "" {
		stmt += " " + quoteIdent(table)
	}
	if _, err := b.execStmt(ctx, stmt); err != nil {
		return fmt.Errorf("vacuum analyze: %w", err)
	}
	return nil
}

// quoteLiteral quotes a string literal for interpolation into DO blocks,
// where bound parameters are unavailable.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
