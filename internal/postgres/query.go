package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// aggregateFuncs is the allow-list for Aggregate. The function is
// interpolated as a SQL token, never a bound parameter, so anything
// outside this set is rejected.
var aggregateFuncs = map[string]string{
	"SUM":            "SUM(%s)",
	"MIN":            "MIN(%s)",
	"MAX":            "MAX(%s)",
	"AVG":            "AVG(%s)",
	"COUNT":          "COUNT(%s)",
	"COUNT DISTINCT": "COUNT(DISTINCT %s)",
}

// softDeleteActive reports whether the implicit deleted filter applies:
// the caller did not opt into deleted rows and the table has a "deleted"
// column. A missing column makes the flag a no-op, never an error.
func (b *Backend) softDeleteActive(ctx context.Context, table string, includeDeleted bool) (bool, error) {
	if includeDeleted {
		return false, nil
	}
	return b.HasColumn(ctx, table, "deleted")
}

// FindIDs returns the ids of rows matching opts, ordered and paged.
func (b *Backend) FindIDs(ctx context.Context, table string, opts types.FindOptions) ([]int64, error) {
	soft, err := b.softDeleteActive(ctx, table, opts.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	args := &argList{}
	cond := buildConditions(opts.Conditions, args)
	stmt := "SELECT id FROM " + quoteIdent(table) + whereClause(cond, soft) + buildOrderBy(opts.OrderBy)
	if opts.Limit > 0 {
		stmt += " LIMIT " + args.add(opts.Limit)
	}
	if opts.Offset > 0 {
		stmt += " OFFSET " + args.add(opts.Offset)
	}
	ids, err := b.queryInt64s(ctx, stmt, args.args...)
	if err != nil {
		return nil, fmt.Errorf("finding ids in %q: %w", table, err)
	}
	return ids, nil
}

// ListAllIDs returns every id in the table.
func (b *Backend) ListAllIDs(ctx context.Context, table string, includeDeleted bool) ([]int64, error) {
	return b.FindIDs(ctx, table, types.FindOptions{IncludeDeleted: includeDeleted})
}

// GetAll returns loaded rows for every id matching opts.
func (b *Backend) GetAll(ctx context.Context, table string, opts types.FindOptions) ([]types.Row, error) {
	ids, err := b.FindIDs(ctx, table, opts)
	if err != nil {
		return nil, err
	}
	return b.loadMany(ctx, table, ids)
}

func (b *Backend) loadMany(ctx context.Context, table string, ids []int64) ([]types.Row, error) {
	rows := make([]types.Row, 0, len(ids))
	for _, id := range ids {
		row, err := b.Load(ctx, table, id)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Paginate coerces page to minimum 1 and applies offset (page-1)*perPage.
// perPage must be positive; a Limit of zero means unlimited on the
// underlying find, which is never what a paging caller wants.
func (b *Backend) Paginate(ctx context.Context, table string, page, perPage int, opts types.FindOptions) ([]types.Row, error) {
	if perPage < 1 {
		return nil, fmt.Errorf("paginating %q: per-page must be positive, got %d", table, perPage)
	}
	if page < 1 {
		page = 1
	}
	opts.Limit = perPage
	opts.Offset = (page - 1) * perPage
	return b.GetAll(ctx, table, opts)
}

// PaginateWithCount additionally reports the total row count under the
// same filter.
func (b *Backend) PaginateWithCount(ctx context.Context, table string, page, perPage int, opts types.FindOptions) ([]types.Row, int64, error) {
	total, err := b.Count(ctx, table, opts)
	if err != nil {
		return nil, 0, err
	}
	rows, err := b.Paginate(ctx, table, page, perPage, opts)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// firstID returns the single id selected by opts, or false when nothing
// matches.
func (b *Backend) firstID(ctx context.Context, table string, opts types.FindOptions) (int64, bool, error) {
	opts.Limit = 1
	ids, err := b.FindIDs(ctx, table, opts)
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

// loadMaybe loads an id found by a single-row lookup, or returns nil.
func (b *Backend) loadMaybe(ctx context.Context, table string, id int64, ok bool) (types.Row, error) {
	if !ok {
		return nil, nil
	}
	return b.Load(ctx, table, id)
}

// First returns the matching row with the smallest id, or nil.
func (b *Backend) First(ctx context.Context, table string, conditions types.Conditions) (types.Row, error) {
	id, ok, err := b.firstID(ctx, table, types.FindOptions{Conditions: conditions, OrderBy: []string{"id"}})
	if err != nil {
		return nil, err
	}
	return b.loadMaybe(ctx, table, id, ok)
}

// Last returns the matching row with the largest id, or nil.
func (b *Backend) Last(ctx context.Context, table string, conditions types.Conditions) (types.Row, error) {
	id, ok, err := b.firstID(ctx, table, types.FindOptions{Conditions: conditions, OrderBy: []string{"-id"}})
	if err != nil {
		return nil, err
	}
	return b.loadMaybe(ctx, table, id, ok)
}

// GetBy returns an arbitrary matching row, or nil.
func (b *Backend) GetBy(ctx context.Context, table string, conditions types.Conditions) (types.Row, error) {
	id, ok, err := b.firstID(ctx, table, types.FindOptions{Conditions: conditions})
	if err != nil {
		return nil, err
	}
	return b.loadMaybe(ctx, table, id, ok)
}

// Count returns COUNT(*) under the opts filter; order and paging are
// ignored.
func (b *Backend) Count(ctx context.Context, table string, opts types.FindOptions) (int64, error) {
	soft, err := b.softDeleteActive(ctx, table, opts.IncludeDeleted)
	if err != nil {
		return 0, err
	}
	args := &argList{}
	cond := buildConditions(opts.Conditions, args)
	stmt := "SELECT COUNT(*) FROM " + quoteIdent(table) + whereClause(cond, soft)
	val, _, err := b.queryScalar(ctx, stmt, args.args...)
	if err != nil {
		return 0, fmt.Errorf("counting %q: %w", table, err)
	}
	n, ok := val.(int64)
	if !ok {
		return 0, fmt.Errorf("counting %q: unexpected count type %T", table, val)
	}
	return n, nil
}

// Exists reports whether any non-deleted row matches conditions.
func (b *Backend) Exists(ctx context.Context, table string, conditions types.Conditions) (bool, error) {
	n, err := b.Count(ctx, table, types.FindOptions{Conditions: conditions})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExistsByID reports whether a non-deleted row with the id exists.
func (b *Backend) ExistsByID(ctx context.Context, table string, id int64) (bool, error) {
	return b.Exists(ctx, table, types.Conditions{"id": id})
}

// Aggregate computes fn(column) under the opts filter. fn must name an
// allow-listed aggregate; ErrInvalidAggregate otherwise. The scalar comes
// back as the driver decodes it (NULL for no matching rows on SUM et al).
func (b *Backend) Aggregate(ctx context.Context, table, fn, column string, opts types.FindOptions) (any, error) {
	format, ok := aggregateFuncs[strings.ToUpper(strings.TrimSpace(fn))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidAggregate, fn)
	}
	soft, err := b.softDeleteActive(ctx, table, opts.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	args := &argList{}
	cond := buildConditions(opts.Conditions, args)
	stmt := "SELECT " + fmt.Sprintf(format, quoteIdent(column)) + " FROM " + quoteIdent(table) + whereClause(cond, soft)
	val, _, err := b.queryScalar(ctx, stmt, args.args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating %q: %w", table, err)
	}
	return val, nil
}

// GetOrCreate atomically finds a row matching conditions or creates one
// from defaults merged with conditions. Runs inside a transaction scope so
// concurrent callers cannot both create.
func (b *Backend) GetOrCreate(ctx context.Context, table string, conditions types.Conditions, defaults map[string]any) (types.Row, bool, error) {
	var (
		row     types.Row
		created bool
	)
	err := b.Transaction(ctx, func(ctx context.Context) error {
		found, err := b.GetBy(ctx, table, conditions)
		if err != nil {
			return err
		}
		if found != nil {
			row = found
			return nil
		}
		fields := make(map[string]any, len(defaults)+len(conditions))
		for k, v := range defaults {
			fields[k] = v
		}
		for k, v := range conditions {
			fields[k] = v
		}
		row, err = b.Create(ctx, table, fields)
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return row, created, nil
}
