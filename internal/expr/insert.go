// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"github.com/canonical/pgfilter/model"
)

// Insert returns an INSERT statement for the values of the properties of m
// present in values. Values are coerced to the property types. Keys that are
// not properties of m are ignored.
func Insert(m *model.Model, values map[string]any) Fragment {
	var cols, vals []Fragment
	for _, p := range m.Properties() {
		v, ok := values[p.Name]
		if !ok {
			continue
		}
		cols = append(cols, NewFragment(Ident(p.ColumnName())))
		vals = append(vals, valueFragment(toColumnValue(p, v)))
	}

	var b fragmentBuilder
	b.writeSQL("INSERT INTO " + Ident(m.Table))
	if len(cols) == 0 {
		b.writeSQL(" DEFAULT VALUES")
		return b.fragment()
	}
	b.writeSQL(" (")
	b.writeCommaSeparatedList(cols)
	b.writeSQL(") VALUES (")
	b.writeCommaSeparatedList(vals)
	b.writeSQL(")")
	return b.fragment()
}
