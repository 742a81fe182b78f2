// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// buildExpression builds the condition for an operator object. The value has
// already been coerced; for inq, nin and between it is a []any.
func buildExpression(column, operator string, value any) Fragment {
	switch operator {
	case "between":
		vals, _ := value.([]any)
		var b fragmentBuilder
		b.writeSQL(column + " BETWEEN ")
		b.write(valueFragment(vals[0]))
		b.writeSQL(" AND ")
		b.write(valueFragment(vals[1]))
		return b.fragment()
	case "inq", "nin":
		vals, _ := value.([]any)
		var b fragmentBuilder
		if operator == "inq" {
			b.writeSQL(column + " IN (")
		} else {
			b.writeSQL(column + " NOT IN (")
		}
		list := make([]Fragment, len(vals))
		for i, v := range vals {
			list[i] = valueFragment(v)
		}
		b.writeCommaSeparatedList(list)
		b.writeSQL(")")
		return b.fragment()
	case "regexp":
		return regexpExpression(column, value)
	case "gt":
		return comparison(column, ">", value, sq.Gt{column: value})
	case "gte":
		return comparison(column, ">=", value, sq.GtOrEq{column: value})
	case "lt":
		return comparison(column, "<", value, sq.Lt{column: value})
	case "lte":
		return comparison(column, "<=", value, sq.LtOrEq{column: value})
	case "neq":
		return comparison(column, "!=", value, sq.NotEq{column: value})
	case "like":
		return comparison(column, "LIKE", value, sq.Like{column: value})
	case "nlike":
		return comparison(column, "NOT LIKE", value, sq.NotLike{column: value})
	case "ilike":
		return comparison(column, "ILIKE", value, sq.ILike{column: value})
	case "nilike":
		return comparison(column, "NOT ILIKE", value, sq.NotILike{column: value})
	}
	// eq and anything unrecognised compare for equality.
	return comparison(column, "=", value, sq.Eq{column: value})
}

// comparison renders column op value. Plain values are rendered by the
// squirrel expression s; fragments and values squirrel refuses (NULL with an
// ordering operator, byte slices) are rendered directly.
func comparison(column, op string, value any, s sq.Sqlizer) Fragment {
	switch v := value.(type) {
	case Fragment:
		f := NewFragment(column + " " + op + " ")
		return *f.Merge(v)
	case []byte:
		return NewFragment(column+" "+op+" ?", v)
	case nil:
		if op != "=" && op != "!=" {
			return NewFragment(column+" "+op+" ?", nil)
		}
	}
	sql, args, err := s.ToSql()
	if err != nil {
		return NewFragment(column+" "+op+" ?", value)
	}
	return NewFragment(sql, args...)
}

// valueFragment returns a placeholder for v, or v itself when it is already
// a fragment.
func valueFragment(v any) Fragment {
	if f, ok := v.(Fragment); ok {
		return f
	}
	return NewFragment("?", v)
}

// regexpExpression matches column against a POSIX regular expression.
// Case insensitive patterns use ~*. Patterns may be a *regexp.Regexp, whose
// (?i) prefix is honoured, or a string in either the (?i)pattern or the
// /pattern/flags form.
func regexpExpression(column string, value any) Fragment {
	var pattern string
	switch v := value.(type) {
	case *regexp.Regexp:
		pattern = v.String()
	case string:
		pattern = v
	default:
		return comparison(column, "~", value, sq.Expr(column+" ~ ?", value))
	}

	insensitive := false
	if strings.HasPrefix(pattern, "(?i)") {
		pattern = strings.TrimPrefix(pattern, "(?i)")
		insensitive = true
	} else if end := strings.LastIndex(pattern, "/"); strings.HasPrefix(pattern, "/") && end > 0 {
		insensitive = strings.Contains(pattern[end+1:], "i")
		pattern = pattern[1:end]
	}
	op := "~"
	if insensitive {
		op = "~*"
	}
	return NewFragment(column+" "+op+" ?", pattern)
}
