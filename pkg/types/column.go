package types

// Column describes one column of a table, as reported by schema
// introspection. Default is nil when the column has no default expression.
type Column struct {
	Name     string
	DataType string
	Nullable bool
	Default  *string
}

// Conditions maps column names to match values for filtered queries.
// A scalar value translates to an equality test; a slice value translates
// to membership (col = ANY(...)). Values are always bound as parameters.
type Conditions map[string]any

// FindOptions controls filtered read paths. The zero value matches all
// non-deleted rows with no ordering or paging.
type FindOptions struct {
	Conditions Conditions

	// OrderBy lists column names composing the ORDER BY clause in order.
	// A leading '-' marks a descending key.
	OrderBy []string

	// Limit and Offset apply when positive.
	Limit  int
	Offset int

	// IncludeDeleted disables the implicit soft-delete filter. The filter
	// only applies when the table has a "deleted" column; otherwise it is
	// a no-op either way.
	IncludeDeleted bool
}
