// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"bytes"

	"github.com/jmoiron/sqlx"
)

// Fragment is a piece of SQL with ? placeholders and the parameters bound to
// them, in order.
type Fragment struct {
	SQL    string
	Params []any
}

// NewFragment returns a fragment with the given SQL and parameters.
func NewFragment(sql string, params ...any) Fragment {
	if params == nil {
		params = []any{}
	}
	return Fragment{SQL: sql, Params: params}
}

// Raw is trusted SQL text that is inlined verbatim. It is never coerced and
// carries no parameters.
type Raw string

// Fragment returns r as a fragment with no parameters.
func (r Raw) Fragment() Fragment {
	return NewFragment(string(r))
}

// IsEmpty reports whether the fragment has no SQL.
func (f Fragment) IsEmpty() bool {
	return f.SQL == ""
}

// Merge appends the SQL and the parameters of o to f.
func (f *Fragment) Merge(o Fragment) *Fragment {
	f.SQL += o.SQL
	f.Params = append(f.Params, o.Params...)
	return f
}

// MergeSQL appends parameterless SQL to f.
func (f *Fragment) MergeSQL(sql string) *Fragment {
	f.SQL += sql
	return f
}

// Rebind returns the SQL with the ? placeholders replaced by the bindvar
// style of the named driver, e.g. $1, $2 for "postgres".
func (f Fragment) Rebind(driverName string) string {
	return sqlx.Rebind(sqlx.BindType(driverName), f.SQL)
}

// joinFragments joins the non-empty fragments with sep, keeping the
// parameters in the order of the fragments.
func joinFragments(frags []Fragment, sep string) Fragment {
	var b fragmentBuilder
	for _, f := range frags {
		if f.IsEmpty() {
			continue
		}
		if b.n > 0 {
			b.buf.WriteString(sep)
		}
		b.write(f)
	}
	return b.fragment()
}

// fragmentBuilder is used to accumulate a fragment piece by piece.
type fragmentBuilder struct {
	buf    bytes.Buffer
	params []any
	// n is the number of fragments written.
	n int
}

// write appends a fragment to the builder.
func (b *fragmentBuilder) write(f Fragment) {
	b.buf.WriteString(f.SQL)
	b.params = append(b.params, f.Params...)
	b.n++
}

// writeSQL appends parameterless SQL to the builder.
func (b *fragmentBuilder) writeSQL(sql string) {
	b.buf.WriteString(sql)
}

// writeCommaSeparatedList writes out the provided fragments separated by
// commas.
func (b *fragmentBuilder) writeCommaSeparatedList(list []Fragment) {
	for i, f := range list {
		if i != 0 {
			b.buf.WriteString(",")
		}
		b.write(f)
	}
}

// fragment returns the accumulated fragment.
func (b *fragmentBuilder) fragment() Fragment {
	return NewFragment(b.buf.String(), b.params...)
}
