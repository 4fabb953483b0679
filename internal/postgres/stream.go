package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

const defaultFetchSize = 1000

// stream iterates a server-side cursor in fixed-size batches. Not safe for
// concurrent use. finish tears down whatever scope the cursor was opened
// in: a full connection-plus-transaction when StreamQuery created one, or
// just the cursor when riding an ambient transaction.
type stream struct {
	backend   *Backend
	ctx       context.Context
	tx        pgx.Tx
	cursor    string
	fetchSize int

	batch   []map[string]any
	pos     int
	current map[string]any
	err     error

	closeOnce sync.Once
	closeErr  error
	finish    func(drainErr error)
}

var _ types.Stream = (*stream)(nil)

// StreamQuery opens a server-side cursor over the query and returns a
// forward-only stream fetching fetchSize rows per round trip. Within an
// ambient transaction the cursor shares that transaction; otherwise the
// stream reserves its own connection and transaction until Close.
func (b *Backend) StreamQuery(ctx context.Context, query string, args []any, fetchSize int) (types.Stream, error) {
	if fetchSize <= 0 {
		fetchSize = defaultFetchSize
	}
	cursor := savepointName("cur")
	declare := "DECLARE " + quoteIdent(cursor) + " NO SCROLL CURSOR FOR " + query

	if tx := txFrom(ctx); tx != nil {
		b.logSQL(declare, args)
		if _, err := tx.Exec(ctx, declare, args...); err != nil {
			return nil, fmt.Errorf("declaring cursor: %w", mapPgError(err))
		}
		s := &stream{backend: b, ctx: ctx, tx: tx, cursor: cursor, fetchSize: fetchSize}
		s.finish = func(error) {
			stmt := "CLOSE " + quoteIdent(cursor)
			b.logSQL(stmt, nil)
			if _, err := tx.Exec(ctx, stmt); err != nil && s.closeErr == nil {
				s.closeErr = fmt.Errorf("closing cursor: %w", err)
			}
		}
		return s, nil
	}

	conn, release, err := b.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	b.logSQL("BEGIN", nil)
	tx, err := conn.Begin(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("beginning cursor transaction: %w", err)
	}
	b.logSQL(declare, args)
	if _, err := tx.Exec(ctx, declare, args...); err != nil {
		_ = tx.Rollback(ctx)
		release()
		return nil, fmt.Errorf("declaring cursor: %w", mapPgError(err))
	}

	s := &stream{backend: b, ctx: ctx, tx: tx, cursor: cursor, fetchSize: fetchSize}
	s.finish = func(drainErr error) {
		defer release()
		if drainErr != nil {
			b.logSQL("ROLLBACK", nil)
			_ = tx.Rollback(ctx)
			return
		}
		b.logSQL("COMMIT", nil)
		if err := tx.Commit(ctx); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("committing cursor transaction: %w", err)
		}
	}
	return s, nil
}

// Next advances to the next row, fetching another batch when the current
// one is exhausted. Returns false at end of data or on error; check Err.
func (s *stream) Next() bool {
	if s.err != nil {
		return false
	}
	if s.pos >= len(s.batch) {
		if !s.fetch() {
			return false
		}
	}
	s.current = s.batch[s.pos]
	s.pos++
	return true
}

func (s *stream) fetch() bool {
	stmt := fmt.Sprintf("FETCH %d FROM %s", s.fetchSize, quoteIdent(s.cursor))
	s.backend.logSQL(stmt, nil)
	rows, err := s.tx.Query(s.ctx, stmt)
	if err != nil {
		s.err = fmt.Errorf("fetching from cursor: %w", mapPgError(err))
		return false
	}
	batch, err := rowsToMaps(rows)
	if err != nil {
		s.err = fmt.Errorf("fetching from cursor: %w", mapPgError(err))
		return false
	}
	s.batch = batch
	s.pos = 0
	return len(batch) > 0
}

// Row returns the current row. Valid only after a true Next.
func (s *stream) Row() map[string]any { return s.current }

// Err returns the first error encountered while streaming.
func (s *stream) Err() error { return s.err }

// Close releases the cursor and, when the stream owns them, its
// transaction and connection. Safe to call more than once.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.finish(s.err)
	})
	return s.closeErr
}
