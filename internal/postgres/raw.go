package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// RawQuery executes arbitrary SQL with bound parameters and returns the
// result rows as maps.
func (b *Backend) RawQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	out, err := b.queryMaps(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("raw query: %w", err)
	}
	return out, nil
}

// Explain returns the server's plan for the query, one node per line.
// With analyze set the query actually runs and buffer stats are included.
func (b *Backend) Explain(ctx context.Context, query string, args []any, analyze bool) (string, error) {
	prefix := "EXPLAIN "
	if analyze {
		prefix = "EXPLAIN (ANALYZE, BUFFERS) "
	}
	maps, err := b.queryMaps(ctx, prefix+query, args...)
	if err != nil {
		return "", fmt.Errorf("explaining query: %w", err)
	}
	lines := make([]string, 0, len(maps))
	for _, m := range maps {
		if line, ok := m["QUERY PLAN"].(string); ok {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// ExecBatch queues one execution of the statement per parameter set and
// sends them in a single round trip. Returns the rows affected by the
// last execution. An empty batch is a no-op.
func (b *Backend) ExecBatch(ctx context.Context, query string, batchArgs [][]any) (int64, error) {
	if len(batchArgs) == 0 {
		return 0, nil
	}
	q, release, err := b.exec(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	batch := &pgx.Batch{}
	for _, args := range batchArgs {
		b.logSQL(query, args)
		batch.Queue(query, args...)
	}
	results := q.SendBatch(ctx, batch)
	defer results.Close()

	var affected int64
	for range batchArgs {
		tag, err := results.Exec()
		if err != nil {
			return 0, fmt.Errorf("executing batch: %w", mapPgError(err))
		}
		affected = tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("closing batch: %w", mapPgError(err))
	}
	return affected, nil
}
