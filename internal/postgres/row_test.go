package postgres

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// loadedRow builds a handle over a scripted single-row table.
func loadedRow(t *testing.T, c *fakeConn, table string, id int64) types.Row {
	t.Helper()
	r, err := newFakeBackend(c).Load(context.Background(), table, id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return r
}

func adaConn() *fakeConn {
	return readConn(
		[]string{"id", "name", "age"},
		nil,
		map[int64][]any{7: {int64(7), "Ada", int64(36)}},
	)
}

func TestLoad(t *testing.T) {
	c := adaConn()
	r := loadedRow(t, c, "users", 7)

	if r.ID() != 7 || r.Table() != "users" {
		t.Errorf("handle = %d %s", r.ID(), r.Table())
	}
	if got := r.ColumnNames(); !reflect.DeepEqual(got, []string{"age", "id", "name"}) {
		t.Errorf("columns = %v", got)
	}
	v, ok := r.Get("name")
	if !ok || v != "Ada" {
		t.Errorf("Get(name) = %v, %v", v, ok)
	}
	if _, ok := r.Get("ghost"); ok {
		t.Error("unknown column reported present")
	}
	if _, err := r.Value("ghost"); !errors.Is(err, types.ErrColumnNotFound) {
		t.Errorf("Value(ghost) = %v", err)
	}
}

func TestLoad_Missing(t *testing.T) {
	c := readConn([]string{"id"}, nil, nil)
	_, err := newFakeBackend(c).Load(context.Background(), "users", 99)
	if !errors.Is(err, types.ErrRowNotFound) {
		t.Fatalf("expected ErrRowNotFound, got %v", err)
	}
}

func TestRow_Set(t *testing.T) {
	c := adaConn()
	r := loadedRow(t, c, "users", 7)

	if err := r.Set(context.Background(), "name", "Grace"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	want := `UPDATE "users" SET "name" = $1 WHERE id = $2`
	if got := c.lastSQL(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	v, _ := r.Get("name")
	if v != "Grace" {
		t.Errorf("cache not updated: %v", v)
	}
}

func TestRow_SetProvisionsUnknownColumn(t *testing.T) {
	c := adaConn()
	r := loadedRow(t, c, "users", 7)

	if err := r.Set(context.Background(), "verified", true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !c.containsSQL(`ADD COLUMN IF NOT EXISTS "verified" BOOLEAN`) {
		t.Error("column not provisioned")
	}
	if _, ok := r.Get("verified"); !ok {
		t.Error("handle does not know the new column")
	}
}

func TestRow_SetLocalAndSave(t *testing.T) {
	c := adaConn()
	r := loadedRow(t, c, "users", 7)
	ctx := context.Background()

	before := len(c.calls)
	if err := r.SetLocal("name", "Grace"); err != nil {
		t.Fatalf("SetLocal failed: %v", err)
	}
	if err := r.SetLocal("ghost", 1); !errors.Is(err, types.ErrColumnNotFound) {
		t.Errorf("SetLocal(ghost) = %v", err)
	}
	if len(c.calls) != before {
		t.Error("SetLocal touched the database")
	}

	if err := r.Save(ctx); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	want := `UPDATE "users" SET "age" = $1, "name" = $2 WHERE id = $3`
	if got := c.lastSQL(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	last := c.calls[len(c.calls)-1]
	if !reflect.DeepEqual(last.args, []any{int64(36), "Grace", int64(7)}) {
		t.Errorf("args = %v", last.args)
	}
}

func TestRow_SaveWithVersion(t *testing.T) {
	setup := func(t *testing.T, affected int) (*fakeConn, types.Row) {
		c := readConn(
			[]string{"id", "name", "version"},
			nil,
			map[int64][]any{1: {int64(1), "Ada", int64(3)}},
		)
		base := c.respond
		c.respond = func(sql string, args []any) *fakeResult {
			if strings.HasPrefix(sql, "UPDATE") {
				return &fakeResult{tag: tagAffecting(affected)}
			}
			return base(sql, args)
		}
		return c, loadedRow(t, c, "users", 1)
	}

	t.Run("success bumps version", func(t *testing.T) {
		c, r := setup(t, 1)
		ok, err := r.SaveWithVersion(context.Background(), "version")
		if err != nil {
			t.Fatalf("SaveWithVersion failed: %v", err)
		}
		if !ok {
			t.Fatal("expected success")
		}
		want := `UPDATE "users" SET "name" = $1, "version" = "version" + 1 WHERE id = $2 AND "version" = $3`
		if got := c.lastSQL(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
		v, _ := r.Get("version")
		if v != int64(4) {
			t.Errorf("cached version = %v", v)
		}
	})

	t.Run("stale version reports false", func(t *testing.T) {
		_, r := setup(t, 0)
		ok, err := r.SaveWithVersion(context.Background(), "version")
		if err != nil {
			t.Fatalf("SaveWithVersion failed: %v", err)
		}
		if ok {
			t.Error("expected conflict")
		}
		v, _ := r.Get("version")
		if v != int64(3) {
			t.Errorf("version changed on conflict: %v", v)
		}
	})
}

func TestRow_SoftDeleteRoundTrip(t *testing.T) {
	c := &fakeConn{}
	c.respond = func(sql string, args []any) *fakeResult {
		switch {
		case sql == columnsQuery:
			return columnsResult("id", "name", "age")
		case strings.HasPrefix(sql, "SELECT ") && strings.Contains(sql, `"deleted"`):
			// Refresh after the soft-delete columns were provisioned.
			return &fakeResult{
				cols: []string{"age", "deleted", "deleted_at", "id", "name"},
				data: [][]any{{int64(36), false, nil, int64(7), "Ada"}},
			}
		case strings.HasPrefix(sql, "SELECT "):
			return &fakeResult{
				cols: []string{"age", "id", "name"},
				data: [][]any{{int64(36), int64(7), "Ada"}},
			}
		}
		return nil
	}
	r := loadedRow(t, c, "users", 7)
	ctx := context.Background()

	if err := r.SoftDelete(ctx); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	if !c.containsSQL(`SET "deleted" = TRUE, "deleted_at" = NOW() WHERE id = $1`) {
		t.Error("soft delete UPDATE not issued")
	}
	if !c.containsSQL(`ADD COLUMN IF NOT EXISTS "deleted"`) {
		t.Error("soft-delete columns not provisioned")
	}

	if err := r.RestoreSoftDeleted(ctx); err != nil {
		t.Fatalf("RestoreSoftDeleted failed: %v", err)
	}
	if !c.containsSQL(`SET "deleted" = FALSE, "deleted_at" = NULL WHERE id = $1`) {
		t.Error("restore UPDATE not issued")
	}
}

func TestRow_RestoreWithoutColumnsIsNoop(t *testing.T) {
	c := adaConn()
	r := loadedRow(t, c, "users", 7)

	before := len(c.calls)
	if err := r.RestoreSoftDeleted(context.Background()); err != nil {
		t.Fatalf("RestoreSoftDeleted failed: %v", err)
	}
	if len(c.calls) != before {
		t.Error("restore on never-soft-deleted table issued statements")
	}
}

func TestRow_DeleteIsTerminal(t *testing.T) {
	c := adaConn()
	r := loadedRow(t, c, "users", 7)
	ctx := context.Background()

	if err := r.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := c.lastSQL(); got != `DELETE FROM "users" WHERE id = $1` {
		t.Errorf("got %q", got)
	}

	cases := map[string]func() error{
		"Set":     func() error { return r.Set(ctx, "name", "x") },
		"Save":    func() error { return r.Save(ctx) },
		"Refresh": func() error { return r.Refresh(ctx) },
		"Delete":  func() error { return r.Delete(ctx) },
	}
	for name, fn := range cases {
		if err := fn(); !errors.Is(err, types.ErrRowDeleted) {
			t.Errorf("%s after Delete = %v, want ErrRowDeleted", name, err)
		}
	}
	if _, err := r.CloneRow(ctx, nil); !errors.Is(err, types.ErrRowDeleted) {
		t.Errorf("CloneRow after Delete = %v", err)
	}
}

func TestRow_Relations(t *testing.T) {
	t.Run("children", func(t *testing.T) {
		c := &fakeConn{}
		c.respond = func(sql string, args []any) *fakeResult {
			switch {
			case sql == columnsQuery:
				if len(args) > 0 && args[0] == "posts" {
					return columnsResult("id", "user_id", "title")
				}
				return columnsResult("id", "name")
			case strings.HasPrefix(sql, "SELECT id FROM"):
				return idResult(21)
			case strings.Contains(sql, "WHERE id ="):
				if strings.Contains(sql, `"title"`) {
					return &fakeResult{
						cols: []string{"id", "title", "user_id"},
						data: [][]any{{int64(21), "hello", int64(7)}},
					}
				}
				return &fakeResult{cols: []string{"id", "name"}, data: [][]any{{int64(7), "Ada"}}}
			}
			return nil
		}
		r := loadedRow(t, c, "users", 7)

		kids, err := r.Children(context.Background(), "posts", "user_id")
		if err != nil {
			t.Fatalf("Children failed: %v", err)
		}
		if len(kids) != 1 || kids[0].ID() != 21 {
			t.Errorf("kids = %v", kids)
		}
		if !c.containsSQL(`WHERE "user_id" = $1`) {
			t.Error("fk filter not applied")
		}
	})

	t.Run("belongs to with default fk", func(t *testing.T) {
		c := &fakeConn{}
		c.respond = func(sql string, args []any) *fakeResult {
			switch {
			case sql == columnsQuery:
				if len(args) > 0 && args[0] == "users" {
					return columnsResult("id", "name")
				}
				return columnsResult("id", "user_id")
			case strings.HasPrefix(sql, "SELECT id FROM"):
				return idResult(7)
			case strings.Contains(sql, "WHERE id ="):
				if strings.Contains(sql, `"user_id"`) {
					return &fakeResult{cols: []string{"id", "user_id"}, data: [][]any{{int64(21), int64(7)}}}
				}
				return &fakeResult{cols: []string{"id", "name"}, data: [][]any{{int64(7), "Ada"}}}
			}
			return nil
		}
		post := loadedRow(t, c, "posts", 21)

		parent, err := post.BelongsTo(context.Background(), "users", "")
		if err != nil {
			t.Fatalf("BelongsTo failed: %v", err)
		}
		if parent == nil || parent.ID() != 7 {
			t.Errorf("parent = %v", parent)
		}
		if !c.containsSQL(`"id" = $1`) {
			t.Error("parent lookup not by id")
		}
	})

	t.Run("belongs to with nil fk returns nil", func(t *testing.T) {
		c := readConn([]string{"id", "user_id"}, nil, map[int64][]any{21: {int64(21), nil}})
		post := loadedRow(t, c, "posts", 21)

		parent, err := post.BelongsTo(context.Background(), "users", "")
		if err != nil {
			t.Fatalf("BelongsTo failed: %v", err)
		}
		if parent != nil {
			t.Errorf("parent = %v", parent)
		}
	})
}

func TestRow_Clone(t *testing.T) {
	c := adaConn()
	base := c.respond
	c.respond = func(sql string, args []any) *fakeResult {
		if strings.HasPrefix(sql, "INSERT") {
			return idResult(8)
		}
		if strings.Contains(sql, "WHERE id =") {
			if len(args) > 0 && args[0] == int64(8) {
				return &fakeResult{
					cols: []string{"age", "id", "name"},
					data: [][]any{{int64(36), int64(8), "Grace"}},
				}
			}
		}
		return base(sql, args)
	}
	r := loadedRow(t, c, "users", 7)

	clone, err := r.CloneRow(context.Background(), map[string]any{"name": "Grace"})
	if err != nil {
		t.Fatalf("CloneRow failed: %v", err)
	}
	if clone.ID() != 8 {
		t.Errorf("clone id = %d", clone.ID())
	}

	var insert *call
	for i := range c.calls {
		if strings.HasPrefix(c.calls[i].sql, "INSERT") {
			insert = &c.calls[i]
		}
	}
	if insert == nil {
		t.Fatal("no INSERT issued")
	}
	// id is never copied; the override replaces the source value.
	if strings.Contains(insert.sql, `"id"`) {
		t.Errorf("clone copied id: %q", insert.sql)
	}
	if !reflect.DeepEqual(insert.args, []any{int64(36), "Grace"}) {
		t.Errorf("args = %v", insert.args)
	}
}
