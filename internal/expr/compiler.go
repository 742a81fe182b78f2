// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/canonical/pgfilter/model"
)

// Skip records a filter key that did not contribute to the compiled SQL.
type Skip struct {
	Key    string
	Reason string
}

// Where is a compiled filter.
type Where struct {
	// Fragment holds the conditions compiled from the filter columns, joined
	// with AND, without the WHERE keyword.
	Fragment
	// Joins are the JOIN clauses required by relation operator keys.
	Joins []string
	// Conds are the extra conditions required by relation operator keys.
	Conds []string
	// Search is the text search of the filter, if any.
	Search *TextSearch
	// Skipped lists the keys that were ignored, in the order compiled.
	Skipped []Skip
}

// Tail returns the SQL that follows the FROM table of a query: the joins
// followed by the WHERE clause. It is empty if the filter has neither.
func (w *Where) Tail() Fragment {
	var joins []string
	joins = append(joins, w.Joins...)
	var conds []string
	if !w.IsEmpty() {
		conds = append(conds, w.SQL)
	}
	if w.Search != nil {
		if j := w.Search.JoinSQL(); j != "" {
			joins = append(joins, j)
		}
		if c := w.Search.ConditionSQL(); c != "" {
			conds = append(conds, c)
		}
	}
	conds = append(conds, w.Conds...)

	sql := strings.Join(joins, " ")
	if len(conds) > 0 {
		if sql != "" {
			sql += " "
		}
		sql += "WHERE " + strings.Join(conds, " AND ")
	}
	return NewFragment(sql, w.Params...)
}

// HasJoins reports whether the compiled filter joins other tables.
func (w *Where) HasJoins() bool {
	return len(w.Joins) > 0 || (w.Search != nil && !w.Search.Descriptor.IsEmpty())
}

// Inlined reports whether values of the filter are written into the SQL
// text instead of being passed as parameters. The SQL of such a filter
// differs for every value.
func (w *Where) Inlined() bool {
	return len(w.Joins) > 0 || w.Search != nil
}

// Compiler compiles filters into Where clauses.
type Compiler struct {
	logger *slog.Logger
}

// NewCompiler returns a compiler logging to logger. A nil logger discards
// all records.
func NewCompiler(logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Compiler{logger: logger}
}

// Compile compiles the filter where for the model m. A nil filter compiles
// to an empty Where; a filter that is not a map compiles to an empty Where
// with a skip recorded.
func (c *Compiler) Compile(m *model.Model, where any) *Where {
	w := &Where{Fragment: NewFragment("")}
	if where == nil {
		return w
	}
	filter, ok := asMap(where)
	if !ok {
		c.logger.Debug("invalid value for where", "model", m.Name, "where", where)
		w.Skipped = append(w.Skipped, Skip{Reason: ReasonInvalidWhere})
		return w
	}
	w.Fragment = c.compile(m, filter, w, true)
	return w
}

// compile compiles one level of a filter. Joins, extra conditions, the text
// search and skipped keys are recorded on w; relation operators and text
// searches are only honoured at the top level.
func (c *Compiler) compile(m *model.Model, filter map[string]any, w *Where, top bool) Fragment {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var stmts []Fragment
	for _, key := range keys {
		value := filter[key]
		switch p := parseKey(m, key, value).(type) {
		case *logicalPart:
			stmts = append(stmts, c.compileLogical(m, p, w))
		case *relationPart:
			if !top {
				c.skip(m, w, key, ReasonNestedRelation)
				continue
			}
			c.compileRelation(m, p, value, w)
		case *searchPart:
			if !top {
				c.skip(m, w, key, ReasonNestedSearch)
				continue
			}
			w.Search = p.search
		case *columnPart:
			column := Ident(m.Table) + "." + Ident(p.prop.ColumnName())
			stmts = append(stmts, c.compileColumn(m, w, key, column, p.prop, value, toColumnValue))
		case *nestedPart:
			column := Ident(m.Table) + "." + jsonPath(p.prop.ColumnName(), p.path)
			coerce := func(_ model.Property, v any) any { return toPathValue(v) }
			stmts = append(stmts, c.compileColumn(m, w, key, column, p.prop, value, coerce))
		case *unknownPart:
			c.skip(m, w, key, p.reason)
		}
	}
	return joinFragments(stmts, " AND ")
}

// compileLogical compiles each branch of an and/or, parenthesizes the
// non-empty ones and joins them with the upper-cased keyword.
func (c *Compiler) compileLogical(m *model.Model, p *logicalPart, w *Where) Fragment {
	var branches []Fragment
	for _, branch := range p.branches {
		filter, ok := asMap(branch)
		if !ok {
			if branch != nil {
				c.skip(m, w, p.op, ReasonInvalidWhere)
			}
			continue
		}
		f := c.compile(m, filter, w, false)
		if f.IsEmpty() {
			continue
		}
		f.SQL = "(" + f.SQL + ")"
		branches = append(branches, f)
	}
	return joinFragments(branches, " "+strings.ToUpper(p.op)+" ")
}

// compileRelation records the join for a relation operator key. The
// operator nexist turns the join into a LEFT JOIN that only keeps rows with
// no related row.
func (c *Compiler) compileRelation(m *model.Model, p *relationPart, value any, w *Where) {
	from := p.relation.FromTable()
	to := p.relation.ToTable()
	joinType := "INNER JOIN"
	if p.operator == "nexist" {
		joinType = "LEFT JOIN"
		w.Conds = append(w.Conds, to+".id IS NULL")
	}
	join := joinType + " " + to + " ON " +
		to + "." + p.relation.KeyTo + "=" + from + "." + p.relation.KeyFrom +
		" AND " + to + "." + strings.ToLower(p.field) + "=" + Literal(value)
	w.Joins = append(w.Joins, join)
}

type coerceFunc func(model.Property, any) any

// compileColumn compiles the condition on a single column.
func (c *Compiler) compileColumn(m *model.Model, w *Where, key, column string, prop model.Property, value any, coerce coerceFunc) Fragment {
	if value == nil {
		return NewFragment(column + " IS NULL")
	}

	ops, isOperator := asMap(value)
	if !isOperator {
		// The value is the field value, not a condition.
		v := coerce(prop, value)
		switch v := v.(type) {
		case nil:
			return NewFragment(column + " IS NULL")
		case Fragment:
			op := "="
			if prop.IsGeo() {
				op = "~="
			}
			f := NewFragment(column + op)
			return *f.Merge(v)
		}
		return NewFragment(column+"=?", v)
	}

	if len(ops) == 0 {
		c.skip(m, w, key, ReasonEmptyOperator)
		return Fragment{}
	}
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, extra := range names[1:] {
		c.skip(m, w, key+"."+extra, ReasonExtraOperator)
	}
	operator := names[0]
	operand := ops[operator]

	switch operator {
	case "native":
		if operand == nil {
			return Fragment{}
		}
		c.logger.Debug("native expression", "model", m.Name, "key", key, "native", operand)
		if raw, ok := operand.(Raw); ok {
			return raw.Fragment()
		}
		return Raw(toString(operand).(string)).Fragment()
	case "inq", "nin", "between":
		var vals []any
		if list, ok := asList(operand); ok {
			for _, v := range list {
				vals = append(vals, coerce(prop, v))
			}
		} else {
			vals = append(vals, coerce(prop, operand))
		}
		if operator == "between" {
			// BETWEEN v1 AND v2, missing bounds are NULL.
			bounds := []any{nil, nil}
			copy(bounds, vals)
			return buildExpression(column, operator, bounds)
		}
		if len(vals) == 0 {
			if operator == "nin" {
				// NOT IN () is vacuously true.
				c.skip(m, w, key, ReasonVacuousNotIn)
				return Fragment{}
			}
			vals = []any{nil}
		}
		return buildExpression(column, operator, vals)
	case "regexp":
		if re, ok := operand.(*regexp.Regexp); ok {
			// Patterns are not coerced to the property type.
			return buildExpression(column, operator, re)
		}
	}
	return buildExpression(column, operator, coerce(prop, operand))
}

// skip records and logs a key that does not contribute to the SQL.
func (c *Compiler) skip(m *model.Model, w *Where, key, reason string) {
	c.logger.Debug("filter key is skipped", "model", m.Name, "key", key, "reason", reason)
	w.Skipped = append(w.Skipped, Skip{Key: key, Reason: reason})
}
