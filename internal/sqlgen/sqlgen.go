// Package sqlgen turns a resolved query into a single parameterized SELECT
// statement. Generation is a pure function: equal inputs yield byte-identical
// SQL, and user-supplied values are always bound as placeholders, never
// concatenated into the statement text.
package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/queryforge/queryforge/internal/nlq"
)

// Statement is the generator output: the SQL text, its bound arguments in
// placeholder order, and any non-fatal findings.
type Statement struct {
	SQL      string
	Args     []any
	Warnings []string
}

// Generate renders resolved into a SELECT statement. The limit is always
// present: the resolved limit when positive, the conservative default
// otherwise, clamped to the default when the join-safety flag is set.
func Generate(resolved nlq.ResolvedQuery) (Statement, error) {
	table := strings.TrimSpace(resolved.Table)
	if table == "" {
		return Statement{}, nlq.NewError(nlq.CodeSQLTableNotFound, "resolved query has no table")
	}
	if len(resolved.SelectColumns) == 0 {
		return Statement{}, nlq.NewError(nlq.CodeSQLGenFailed, "resolved query has no select columns")
	}
	for _, column := range resolved.SelectColumns {
		if !validIdentifier(column) {
			return Statement{}, nlq.NewError(nlq.CodeSQLInvalid, "invalid column identifier %q", column)
		}
	}

	builder := sq.Select(resolved.SelectColumns...).From(table)

	for _, join := range resolved.Joins {
		if !validIdentifier(join.LeftTable) || !validIdentifier(join.RightTable) || !validIdentifier(join.LeftColumn) || !validIdentifier(join.RightColumn) {
			return Statement{}, nlq.NewError(nlq.CodeSQLInvalid, "invalid join rule %s -> %s", join.LeftTable, join.RightTable)
		}
		builder = builder.Join(fmt.Sprintf(
			"%s ON %s.%s = %s.%s",
			join.RightTable, join.LeftTable, join.LeftColumn, join.RightTable, join.RightColumn,
		))
	}

	var warnings []string
	predicates := orderedPredicates(resolved.Predicates)
	for _, predicate := range predicates {
		if !validIdentifier(predicate.Column) {
			return Statement{}, nlq.NewError(nlq.CodeSQLInvalid, "invalid predicate column %q", predicate.Column)
		}
		switch predicate.Op {
		case nlq.OpEq:
			builder = builder.Where(sq.Eq{predicate.Column: predicate.Value})
		case nlq.OpGte:
			builder = builder.Where(sq.GtOrEq{predicate.Column: predicate.Value})
		case nlq.OpLte:
			builder = builder.Where(sq.LtOrEq{predicate.Column: predicate.Value})
		default:
			return Statement{}, nlq.NewError(nlq.CodeSQLGenFailed, "unsupported predicate op %q", predicate.Op)
		}
	}
	if len(predicates) == 0 {
		warnings = append(warnings, "statement has no filters and is scoped only by its row limit")
	}

	limit := resolved.Limit
	if limit <= 0 {
		limit = nlq.DefaultRowLimit
	}
	if resolved.ForceCap && limit > nlq.DefaultRowLimit {
		limit = nlq.DefaultRowLimit
		warnings = append(warnings, fmt.Sprintf("row limit clamped to %d for multi-join query", nlq.DefaultRowLimit))
	}
	builder = builder.Limit(uint64(limit))

	sqlText, args, err := builder.ToSql()
	if err != nil {
		return Statement{}, nlq.WrapError(nlq.CodeSQLGenFailed, err, "render statement for table %q", table)
	}
	return Statement{SQL: sqlText, Args: args, Warnings: warnings}, nil
}

// orderedPredicates sorts predicates by column then operator so the rendered
// statement is deterministic regardless of map iteration upstream.
func orderedPredicates(predicates []nlq.Predicate) []nlq.Predicate {
	ordered := make([]nlq.Predicate, len(predicates))
	copy(ordered, predicates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Column != ordered[j].Column {
			return ordered[i].Column < ordered[j].Column
		}
		return opRank(ordered[i].Op) < opRank(ordered[j].Op)
	})
	return ordered
}

func opRank(op nlq.Op) int {
	switch op {
	case nlq.OpEq:
		return 0
	case nlq.OpGte:
		return 1
	case nlq.OpLte:
		return 2
	default:
		return 3
	}
}

func validIdentifier(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
