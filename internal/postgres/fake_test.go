// In-memory fakes standing in for a PostgreSQL connection. Unit tests
// script results per statement and assert on the generated SQL; anything
// touching a real server lives in tests/integration.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

var (
	_ singleConn       = (*fakeConn)(nil)
	_ pgx.Tx           = (*fakeTx)(nil)
	_ pgx.Rows         = (*fakeRows)(nil)
	_ pgx.BatchResults = (*fakeBatchResults)(nil)
)

type call struct {
	sql  string
	args []any
}

// fakeResult scripts the outcome of one statement.
type fakeResult struct {
	cols []string
	data [][]any
	tag  pgconn.CommandTag
	err  error
}

func tagAffecting(n int) pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", n))
}

// idResult scripts a RETURNING id result set.
func idResult(ids ...int64) *fakeResult {
	data := make([][]any, len(ids))
	for i, id := range ids {
		data[i] = []any{id}
	}
	return &fakeResult{cols: []string{"id"}, data: data}
}

// columnsResult scripts an information_schema.columns result set. Each
// name maps to a TEXT, nullable, no-default column.
func columnsResult(names ...string) *fakeResult {
	data := make([][]any, len(names))
	for i, n := range names {
		data[i] = []any{n, "text", "YES", nil}
	}
	return &fakeResult{
		cols: []string{"column_name", "data_type", "is_nullable", "column_default"},
		data: data,
	}
}

// fakeConn implements the single-connection seam. Statements are resolved
// through respond when set, then the FIFO script, then an empty result.
type fakeConn struct {
	calls   []call
	script  []*fakeResult
	respond func(sql string, args []any) *fakeResult

	beginErr error
	closed   bool
}

func (c *fakeConn) resolve(sql string, args []any) *fakeResult {
	c.calls = append(c.calls, call{sql: sql, args: args})
	if c.respond != nil {
		if r := c.respond(sql, args); r != nil {
			return r
		}
	}
	if len(c.script) > 0 {
		r := c.script[0]
		c.script = c.script[1:]
		return r
	}
	return &fakeResult{}
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r := c.resolve(sql, args)
	return r.tag, r.err
}

func (c *fakeConn) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	r := c.resolve(sql, args)
	if r.err != nil {
		return nil, r.err
	}
	return &fakeRows{cols: r.cols, data: r.data}, nil
}

func (c *fakeConn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	r := c.resolve(sql, args)
	if r.err != nil {
		return &fakeRow{err: r.err}
	}
	if len(r.data) == 0 {
		return &fakeRow{err: pgx.ErrNoRows}
	}
	return &fakeRow{vals: r.data[0]}
}

func (c *fakeConn) SendBatch(_ context.Context, batch *pgx.Batch) pgx.BatchResults {
	br := &fakeBatchResults{}
	for _, q := range batch.QueuedQueries {
		r := c.resolve(q.SQL, q.Arguments)
		br.results = append(br.results, r)
	}
	return br
}

func (c *fakeConn) Begin(ctx context.Context) (pgx.Tx, error) {
	if c.beginErr != nil {
		return nil, c.beginErr
	}
	return &fakeTx{conn: c}, nil
}

func (c *fakeConn) Close(context.Context) error {
	c.closed = true
	return nil
}

// sqlLog returns every recorded statement, for substring assertions.
func (c *fakeConn) sqlLog() []string {
	out := make([]string, len(c.calls))
	for i, cl := range c.calls {
		out[i] = cl.sql
	}
	return out
}

func (c *fakeConn) lastSQL() string {
	if len(c.calls) == 0 {
		return ""
	}
	return c.calls[len(c.calls)-1].sql
}

// containsSQL reports whether any recorded statement contains the
// fragment.
func (c *fakeConn) containsSQL(fragment string) bool {
	for _, s := range c.sqlLog() {
		if strings.Contains(s, fragment) {
			return true
		}
	}
	return false
}

// fakeTx delegates statements to its conn so the script and recording
// stay in one place.
type fakeTx struct {
	conn       *fakeConn
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested Begin not supported")
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.conn.resolve("COMMIT", nil)
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.conn.resolve("ROLLBACK", nil)
	t.rolledBack = true
	return nil
}

func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("CopyFrom not supported")
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return t.conn.SendBatch(ctx, b)
}

func (t *fakeTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("Prepare not supported")
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.conn.Exec(ctx, sql, args...)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.conn.Query(ctx, sql, args...)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.conn.QueryRow(ctx, sql, args...)
}

func (t *fakeTx) Conn() *pgx.Conn { return nil }

// fakeRows implements pgx.Rows over scripted data.
type fakeRows struct {
	cols   []string
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *fakeRows) Close()                       { r.closed = true }
func (r *fakeRows) Err() error                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.cols))
	for i, c := range r.cols {
		fds[i].Name = c
	}
	return fds
}

func (r *fakeRows) Next() bool {
	if r.idx < len(r.data) {
		r.idx++
		return true
	}
	return false
}

func (r *fakeRows) Scan(dest ...any) error {
	return scanInto(r.data[r.idx-1], dest)
}

func (r *fakeRows) Values() ([]any, error) { return r.data[r.idx-1], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

type fakeRow struct {
	vals []any
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(r.vals, dest)
}

func scanInto(vals []any, dest []any) error {
	if len(dest) > len(vals) {
		return fmt.Errorf("scan: %d targets, %d values", len(dest), len(vals))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			v, ok := vals[i].(int64)
			if !ok {
				return fmt.Errorf("scan: value %d is %T, want int64", i, vals[i])
			}
			*p = v
		case *string:
			v, ok := vals[i].(string)
			if !ok {
				return fmt.Errorf("scan: value %d is %T, want string", i, vals[i])
			}
			*p = v
		case **string:
			if vals[i] == nil {
				*p = nil
				break
			}
			v, ok := vals[i].(string)
			if !ok {
				return fmt.Errorf("scan: value %d is %T, want string", i, vals[i])
			}
			*p = &v
		case *any:
			*p = vals[i]
		default:
			return fmt.Errorf("scan: unsupported target %T", d)
		}
	}
	return nil
}

type fakeBatchResults struct {
	results []*fakeResult
	idx     int
}

func (b *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	if b.idx >= len(b.results) {
		return pgconn.CommandTag{}, errors.New("batch exhausted")
	}
	r := b.results[b.idx]
	b.idx++
	return r.tag, r.err
}

func (b *fakeBatchResults) Query() (pgx.Rows, error) {
	return nil, errors.New("batch Query not supported")
}

func (b *fakeBatchResults) QueryRow() pgx.Row {
	return &fakeRow{err: errors.New("batch QueryRow not supported")}
}

func (b *fakeBatchResults) Close() error { return nil }

// newFakeBackend returns a backend wired to the fake connection in
// single-connection mode.
func newFakeBackend(c *fakeConn) *Backend {
	b := NewBackend()
	b.single = c
	b.cfg = types.Config{Host: "localhost", Database: "testdb"}
	return b
}
