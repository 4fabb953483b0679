package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// migrationConn scripts a schema_migrations ledger holding the given
// applied names.
func migrationConn(applied ...string) *fakeConn {
	c := &fakeConn{}
	c.respond = func(sql string, args []any) *fakeResult {
		if strings.HasPrefix(sql, `SELECT "name" FROM "schema_migrations"`) {
			data := make([][]any, len(applied))
			for i, n := range applied {
				data[i] = []any{n}
			}
			return &fakeResult{cols: []string{"name"}, data: data}
		}
		return nil
	}
	return c
}

func TestAddMigration(t *testing.T) {
	b := NewBackend()
	fn := func(ctx context.Context) error { return nil }

	if err := b.AddMigration("001_init", fn); err != nil {
		t.Fatalf("AddMigration failed: %v", err)
	}
	if err := b.AddMigration("001_init", fn); err == nil {
		t.Error("duplicate name accepted")
	}
	if err := b.AddMigration("", fn); err == nil {
		t.Error("empty name accepted")
	}
	if err := b.AddMigration("002_x", nil); err == nil {
		t.Error("nil function accepted")
	}
}

func TestRunMigrations(t *testing.T) {
	c := migrationConn("001_init")
	b := newFakeBackend(c)

	var ranSecond bool
	must := func(err error) {
		if err != nil {
			t.Fatalf("AddMigration failed: %v", err)
		}
	}
	must(b.AddMigration("001_init", func(ctx context.Context) error {
		t.Error("applied migration ran again")
		return nil
	}))
	must(b.AddMigration("002_add_users", func(ctx context.Context) error {
		ranSecond = true
		return nil
	}))

	ran, err := b.RunMigrations(context.Background())
	if err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	if !ranSecond {
		t.Error("pending migration did not run")
	}
	if len(ran) != 1 || ran[0] != "002_add_users" {
		t.Errorf("ran = %v", ran)
	}
	if !c.containsSQL(`CREATE TABLE IF NOT EXISTS "schema_migrations"`) {
		t.Error("ledger table not ensured")
	}
	if !c.containsSQL(`INSERT INTO "schema_migrations" ("name") VALUES ($1)`) {
		t.Error("ledger row not recorded")
	}
	if !c.containsSQL("COMMIT") {
		t.Error("migration not wrapped in a transaction")
	}
}

func TestRunMigrations_FailureStopsRun(t *testing.T) {
	c := migrationConn()
	b := newFakeBackend(c)

	boom := errors.New("ddl failed")
	var thirdRan bool
	_ = b.AddMigration("001_a", func(ctx context.Context) error { return nil })
	_ = b.AddMigration("002_b", func(ctx context.Context) error { return boom })
	_ = b.AddMigration("003_c", func(ctx context.Context) error {
		thirdRan = true
		return nil
	})

	ran, err := b.RunMigrations(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
	if len(ran) != 1 || ran[0] != "001_a" {
		t.Errorf("ran = %v", ran)
	}
	if thirdRan {
		t.Error("migration after failure still ran")
	}
	if !c.containsSQL("ROLLBACK") {
		t.Error("failed migration not rolled back")
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	c := migrationConn("001_a", "002_b")
	b := newFakeBackend(c)

	_ = b.AddMigration("001_a", func(ctx context.Context) error { return nil })
	_ = b.AddMigration("002_b", func(ctx context.Context) error { return nil })

	ran, err := b.RunMigrations(context.Background())
	if err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	if len(ran) != 0 {
		t.Errorf("ran = %v", ran)
	}
	if c.containsSQL("INSERT INTO") {
		t.Error("ledger written for applied migrations")
	}
}
