package postgres

import (
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/tabula/pkg/types"
)

// quoteIdent quotes a single identifier for PostgreSQL. Embedded quotes
// are doubled, so untrusted column names can never escape the identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

// argList accumulates bound parameters and hands out their placeholders.
type argList struct {
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, v)
	return "$" + strconv.Itoa(len(a.args))
}

// isSequence reports whether v is a slice or array other than []byte.
// Sequences translate to membership tests; []byte is a BYTEA scalar.
func isSequence(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// buildConditions renders a Conditions map as an AND-combined predicate
// over quoted identifiers and bound parameters. Keys are processed in
// sorted order so generated SQL is deterministic. An empty map yields an
// empty clause (matches all rows).
func buildConditions(conds types.Conditions, args *argList) string {
	if len(conds) == 0 {
		return ""
	}
	keys := make([]string, 0, len(conds))
	for k := range conds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, col := range keys {
		val := conds[col]
		if isSequence(val) {
			parts = append(parts, quoteIdent(col)+" = ANY("+args.add(val)+")")
		} else {
			parts = append(parts, quoteIdent(col)+" = "+args.add(val))
		}
	}
	return strings.Join(parts, " AND ")
}

// softDeleteFilter is the predicate injected into read paths when the
// table has a "deleted" column and the caller did not opt into deleted
// rows.
const softDeleteFilter = `COALESCE("deleted", FALSE) = FALSE`

// whereClause joins the condition predicate with the optional soft-delete
// filter and prefixes " WHERE " when anything remains.
func whereClause(cond string, softDelete bool) string {
	switch {
	case cond != "" && softDelete:
		return " WHERE " + cond + " AND " + softDeleteFilter
	case cond != "":
		return " WHERE " + cond
	case softDelete:
		return " WHERE " + softDeleteFilter
	default:
		return ""
	}
}

// buildOrderBy renders an ORDER BY clause from column names; a leading
// '-' marks a descending key. Empty input yields an empty string.
func buildOrderBy(orderBy []string) string {
	if len(orderBy) == 0 {
		return ""
	}
	parts := make([]string, 0, len(orderBy))
	for _, col := range orderBy {
		dir := " ASC"
		if strings.HasPrefix(col, "-") {
			col = strings.TrimPrefix(col, "-")
			dir = " DESC"
		}
		parts = append(parts, quoteIdent(col)+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}
