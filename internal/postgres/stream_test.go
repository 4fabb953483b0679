package postgres

import (
	"context"
	"strings"
	"testing"
)

// cursorConn scripts FETCH responses: each fetch pops the next batch, then
// an empty batch signals exhaustion.
func cursorConn(batches ...[][]any) *fakeConn {
	c := &fakeConn{}
	c.respond = func(sql string, args []any) *fakeResult {
		if !strings.HasPrefix(sql, "FETCH ") {
			return nil
		}
		if len(batches) == 0 {
			return &fakeResult{cols: []string{"id"}}
		}
		batch := batches[0]
		batches = batches[1:]
		return &fakeResult{cols: []string{"id"}, data: batch}
	}
	return c
}

func TestStreamQuery(t *testing.T) {
	c := cursorConn(
		[][]any{{int64(1)}, {int64(2)}},
		[][]any{{int64(3)}},
	)
	b := newFakeBackend(c)

	s, err := b.StreamQuery(context.Background(), "SELECT id FROM big", nil, 2)
	if err != nil {
		t.Fatalf("StreamQuery failed: %v", err)
	}

	var ids []int64
	for s.Next() {
		ids = append(ids, s.Row()["id"].(int64))
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Errorf("ids = %v", ids)
	}
	if !c.containsSQL("DECLARE ") || !c.containsSQL("NO SCROLL CURSOR FOR SELECT id FROM big") {
		t.Error("cursor not declared")
	}
	if !c.containsSQL("FETCH 2 FROM ") {
		t.Error("fetch size not applied")
	}
	if !c.containsSQL("COMMIT") {
		t.Error("owned transaction not committed on Close")
	}

	// Close is safe to call again.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestStreamQuery_AmbientTransaction(t *testing.T) {
	c := cursorConn([][]any{{int64(1)}})
	b := newFakeBackend(c)

	err := b.Transaction(context.Background(), func(ctx context.Context) error {
		s, err := b.StreamQuery(ctx, "SELECT id FROM big", nil, 0)
		if err != nil {
			return err
		}
		for s.Next() {
		}
		return s.Close()
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	// The stream closes only its cursor; the surrounding transaction
	// commits exactly once, at the Transaction boundary.
	var closes, commits int
	for _, s := range c.sqlLog() {
		switch {
		case strings.HasPrefix(s, "CLOSE "):
			closes++
		case s == "COMMIT":
			commits++
		}
	}
	if closes != 1 || commits != 1 {
		t.Errorf("closes=%d commits=%d, log=%v", closes, commits, c.sqlLog())
	}
}

func TestStreamQuery_DefaultFetchSize(t *testing.T) {
	c := cursorConn()
	b := newFakeBackend(c)

	s, err := b.StreamQuery(context.Background(), "SELECT id FROM big", nil, 0)
	if err != nil {
		t.Fatalf("StreamQuery failed: %v", err)
	}
	if s.Next() {
		t.Error("empty cursor yielded a row")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !c.containsSQL("FETCH 1000 FROM ") {
		t.Error("default fetch size not applied")
	}
}
