// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"strings"

	"github.com/canonical/pgfilter/model"
)

// Endpoint is one side of a join.
type Endpoint struct {
	Table string
	Field string
}

// Join joins the Target table on Source.Field = Target.Field.
type Join struct {
	Source Endpoint
	Target Endpoint
}

// SQL returns the INNER JOIN clause for the join.
func (j Join) SQL() string {
	return "INNER JOIN " + j.Target.Table + " ON " +
		j.Source.Table + "." + j.Source.Field + " = " +
		j.Target.Table + "." + j.Target.Field
}

// Descriptor is the join topology used by text searches on one model: the
// related tables to join and the search column of each of them. A Descriptor
// is immutable once built and is shared by all queries on the model. The
// search term is never stored on it.
type Descriptor struct {
	joins   []Join
	columns []string
}

// NewDescriptor builds the descriptor for the given relations of m. Each
// relation contributes a join and the qualified search column of the related
// table. Relations missing from m are skipped and returned.
func NewDescriptor(m *model.Model, relations []string, column string) (d *Descriptor, missing []string) {
	d = &Descriptor{}
	for _, name := range relations {
		rel, ok := m.Relation(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		source := Endpoint{Table: rel.FromTable(), Field: rel.KeyFrom}
		target := Endpoint{Table: rel.ToTable(), Field: rel.KeyTo}
		d.joins = append(d.joins, Join{Source: source, Target: target})
		d.columns = append(d.columns, target.Table+"."+column)
	}
	return d, missing
}

// Joins returns the joins of the descriptor.
func (d *Descriptor) Joins() []Join {
	joins := make([]Join, len(d.joins))
	copy(joins, d.joins)
	return joins
}

// Columns returns the qualified search columns of the descriptor.
func (d *Descriptor) Columns() []string {
	columns := make([]string, len(d.columns))
	copy(columns, d.columns)
	return columns
}

// IsEmpty reports whether no relation made it into the descriptor.
func (d *Descriptor) IsEmpty() bool {
	return len(d.joins) == 0
}

// TextSearch is a text search for one query: the shared descriptor of the
// model and the lower-cased term of this query.
type TextSearch struct {
	Descriptor *Descriptor
	Term       string
}

// JoinSQL returns the joins needed by the search, separated by spaces.
func (ts *TextSearch) JoinSQL() string {
	joins := make([]string, len(ts.Descriptor.joins))
	for i, j := range ts.Descriptor.joins {
		joins[i] = j.SQL()
	}
	return strings.Join(joins, " ")
}

// ConditionSQL returns the search columns matched against the term, ORed
// together. The group is parenthesized when there is more than one column so
// that it can be ANDed with other conditions.
func (ts *TextSearch) ConditionSQL() string {
	pattern := Literal("%" + ts.Term + "%")
	conds := make([]string, len(ts.Descriptor.columns))
	for i, col := range ts.Descriptor.columns {
		conds[i] = col + "::text ILIKE " + pattern
	}
	switch len(conds) {
	case 0:
		return ""
	case 1:
		return conds[0]
	}
	return "(" + strings.Join(conds, " OR ") + ")"
}
