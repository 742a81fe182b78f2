// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"strings"

	"github.com/canonical/pgfilter/model"
)

// A keyPart represents one parsed key of a filter expression. A filter is
// compiled by dispatching on the kind of each of its keyParts.
type keyPart interface {
	// String returns a string representation of the part for debugging and
	// testing purposes.
	String() string

	// part is a marker method.
	part()
}

// logicalPart represents an and/or key whose value is a list of filters.
type logicalPart struct {
	// op is "and" or "or".
	op       string
	branches []any
}

func (p *logicalPart) String() string {
	return fmt.Sprintf("Logical[%s %d]", p.op, len(p.branches))
}

// Marker function for keyPart.
func (p *logicalPart) part() {}

// relationPart represents a relation__field__operator key. The relation has
// been resolved on the model.
type relationPart struct {
	relation model.Relation
	field    string
	operator string
	raw      string
}

func (p *relationPart) String() string {
	return fmt.Sprintf("Relation[%s.%s %s]", p.relation.Name, p.field, p.operator)
}

// Marker function for keyPart.
func (p *relationPart) part() {}

// columnPart represents a key naming a property of the model.
type columnPart struct {
	prop model.Property
}

func (p *columnPart) String() string {
	return "Column[" + p.prop.Name + "]"
}

// Marker function for keyPart.
func (p *columnPart) part() {}

// nestedPart represents a dotted key whose first segment names a property of
// the model. The remaining segments are a path into the JSON value of the
// column.
type nestedPart struct {
	prop model.Property
	path []string
}

func (p *nestedPart) String() string {
	return "Nested[" + p.prop.Name + " " + strings.Join(p.path, ".") + "]"
}

// Marker function for keyPart.
func (p *nestedPart) part() {}

// searchPart represents the text search placed in the filter by the access
// hook.
type searchPart struct {
	search *TextSearch
}

func (p *searchPart) String() string {
	return fmt.Sprintf("Search[%d %q]", len(p.search.Descriptor.joins), p.search.Term)
}

// Marker function for keyPart.
func (p *searchPart) part() {}

// unknownPart represents a key the compiler cannot use.
type unknownPart struct {
	key    string
	reason string
}

func (p *unknownPart) String() string {
	return "Unknown[" + p.key + ": " + p.reason + "]"
}

// Marker function for keyPart.
func (p *unknownPart) part() {}
