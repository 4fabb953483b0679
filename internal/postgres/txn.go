package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// txKey carries the ambient transaction through a context.
type txKey struct{}

func txFrom(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func withTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// savepointName produces a unique identifier for a savepoint or cursor.
func savepointName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Transaction runs fn inside a reentrant transaction scope. The outermost
// call reserves one connection and opens a real transaction; operations
// invoked with the context passed to fn execute on that connection. A
// nested call creates a uniquely named savepoint instead: released on
// success, rolled back to on failure without aborting the outer
// transaction. The outermost scope commits on a nil return and rolls back
// on error, propagating the original failure.
func (b *Backend) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := txFrom(ctx); tx != nil {
		return b.runSavepoint(ctx, tx, fn)
	}

	conn, release, err := b.acquireConn(ctx)
	if err != nil {
		return err
	}
	defer release()

	b.logSQL("BEGIN", nil)
	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(withTx(ctx, tx)); err != nil {
		b.logSQL("ROLLBACK", nil)
		_ = tx.Rollback(ctx)
		return err
	}

	b.logSQL("COMMIT", nil)
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Savepoint runs fn inside an explicit savepoint scope. It must be called
// with a context carrying an ambient transaction.
func (b *Backend) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := txFrom(ctx)
	if tx == nil {
		return types.ErrNoTransaction
	}
	return b.runSavepoint(ctx, tx, fn)
}

func (b *Backend) runSavepoint(ctx context.Context, tx pgx.Tx, fn func(ctx context.Context) error) error {
	name := savepointName("sp")
	stmt := "SAVEPOINT " + quoteIdent(name)
	b.logSQL(stmt, nil)
	if _, err := tx.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("creating savepoint: %w", err)
	}

	if err := fn(ctx); err != nil {
		rb := "ROLLBACK TO SAVEPOINT " + quoteIdent(name)
		b.logSQL(rb, nil)
		if _, rbErr := tx.Exec(ctx, rb); rbErr != nil {
			return fmt.Errorf("rolling back to savepoint after %v: %w", err, rbErr)
		}
		return err
	}

	rel := "RELEASE SAVEPOINT " + quoteIdent(name)
	b.logSQL(rel, nil)
	if _, err := tx.Exec(ctx, rel); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}
