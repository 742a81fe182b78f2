// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"strings"

	"github.com/canonical/pgfilter/model"
)

// ColumnEscaped returns the quoted column of a property. Dotted properties
// whose first segment is a property of m are rendered as a JSON path into
// that column.
func ColumnEscaped(m *model.Model, property string) string {
	if p, ok := m.Property(property); ok {
		return Ident(p.ColumnName())
	}
	if segments := strings.Split(property, pathSep); len(segments) > 1 {
		if p, ok := m.Property(segments[0]); ok {
			return jsonPath(p.ColumnName(), segments[1:])
		}
	}
	return Ident(property)
}

// ColumnNames returns the comma separated, table qualified columns to select
// for m. fields selects the properties:
//
//   - nil or empty: all properties;
//   - a list of names: those properties, unknown names are dropped;
//   - a map of names to booleans: the properties set to true or, if none
//     is, all the properties except those set to false.
//
// It returns * if the model has no properties.
func ColumnNames(m *model.Model, fields any) string {
	props := m.Properties()
	if len(props) == 0 {
		return "*"
	}
	keys := make([]string, len(props))
	for i, p := range props {
		keys[i] = p.Name
	}

	if list, ok := asList(fields); ok && len(list) > 0 {
		var included []string
		for _, f := range list {
			name, _ := f.(string)
			if _, ok := m.Property(name); ok {
				included = append(included, name)
			}
		}
		keys = included
	} else if flags, ok := asMap(fields); ok && len(flags) > 0 {
		var included, kept []string
		for _, k := range keys {
			flag, present := flags[k]
			on, _ := flag.(bool)
			switch {
			case on:
				included = append(included, k)
			case !present:
				kept = append(kept, k)
			}
		}
		if len(included) > 0 {
			keys = included
		} else {
			keys = kept
		}
	}

	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = Ident(m.Table) + "." + ColumnEscaped(m, k)
	}
	return strings.Join(names, ",")
}

// ColumnValue coerces v to the type of p for storage. Geometric points are
// returned as a Fragment.
func ColumnValue(p model.Property, v any) any {
	return toColumnValue(p, v)
}
