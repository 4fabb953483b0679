package postgres

import (
	"context"
	"fmt"
)

const migrationsTable = "schema_migrations"

// migration pairs a unique name with the function that applies it.
type migration struct {
	name string
	fn   func(ctx context.Context) error
}

// AddMigration registers a named migration. Names must be unique;
// registration order is execution order.
func (b *Backend) AddMigration(name string, fn func(ctx context.Context) error) error {
	if name == "" {
		return fmt.Errorf("adding migration: name is empty")
	}
	if fn == nil {
		return fmt.Errorf("adding migration %q: nil function", name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.migrations {
		if m.name == name {
			return fmt.Errorf("adding migration %q: already registered", name)
		}
	}
	b.migrations = append(b.migrations, migration{name: name, fn: fn})
	return nil
}

// RunMigrations applies every registered migration not yet recorded in the
// ledger, each inside its own transaction together with its ledger row. A
// failed migration stops the run; already-applied ones are untouched.
// Returns the names applied during this call.
func (b *Backend) RunMigrations(ctx context.Context) ([]string, error) {
	if err := b.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := b.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	pending := make([]migration, len(b.migrations))
	copy(pending, b.migrations)
	b.mu.Unlock()

	var ran []string
	for _, m := range pending {
		if _, done := applied[m.name]; done {
			continue
		}
		m := m
		err := b.Transaction(ctx, func(ctx context.Context) error {
			if err := m.fn(ctx); err != nil {
				return fmt.Errorf("applying migration %q: %w", m.name, err)
			}
			stmt := "INSERT INTO " + quoteIdent(migrationsTable) + ` ("name") VALUES ($1)`
			if _, err := b.execStmt(ctx, stmt, m.name); err != nil {
				return fmt.Errorf("recording migration %q: %w", m.name, err)
			}
			return nil
		})
		if err != nil {
			return ran, err
		}
		ran = append(ran, m.name)
	}
	return ran, nil
}

func (b *Backend) ensureMigrationsTable(ctx context.Context) error {
	return b.CreateTable(ctx, migrationsTable, map[string]string{
		"name":       "TEXT UNIQUE NOT NULL",
		"applied_at": "TIMESTAMPTZ NOT NULL DEFAULT NOW()",
	})
}

func (b *Backend) appliedMigrations(ctx context.Context) (map[string]struct{}, error) {
	stmt := `SELECT "name" FROM ` + quoteIdent(migrationsTable)
	maps, err := b.queryMaps(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("reading migration ledger: %w", err)
	}
	applied := make(map[string]struct{}, len(maps))
	for _, m := range maps {
		if name, ok := m["name"].(string); ok {
			applied[name] = struct{}{}
		}
	}
	return applied, nil
}
