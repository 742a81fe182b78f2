// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package model holds the entity metadata consumed by the filter compiler: the
ordered properties of a model, the column each property maps to, and the
relations between models.

A Model is immutable once it has been handed out by a Registry. Adding a
property through Registry.DefineProperty replaces the registered Model with an
extended copy, so callers holding the previous value never observe a change.
*/
package model

import (
	"strings"
)

// Type is the declared type of a model property. It decides how raw filter
// values are coerced before they are bound to a query.
type Type int

const (
	Any Type = iota
	String
	Number
	Boolean
	Date
	GeoPoint
	Object
	Buffer
)

var typeNames = map[Type]string{
	Any:      "any",
	String:   "string",
	Number:   "number",
	Boolean:  "boolean",
	Date:     "date",
	GeoPoint: "geopoint",
	Object:   "object",
	Buffer:   "buffer",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseType returns the Type with the given name. Names are case insensitive
// and accept a few common aliases ("text", "int", "json", ...).
func ParseType(name string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "any":
		return Any, true
	case "string", "text":
		return String, true
	case "number", "int", "integer", "float", "numeric":
		return Number, true
	case "boolean", "bool":
		return Boolean, true
	case "date", "timestamp", "datetime":
		return Date, true
	case "geopoint", "point":
		return GeoPoint, true
	case "object", "json", "jsonb", "array":
		return Object, true
	case "buffer", "bytes", "bytea":
		return Buffer, true
	}
	return Any, false
}

// Property describes one persisted field of a model.
type Property struct {
	// Name is the property name used in filters.
	Name string
	// Column is the database column name. It defaults to Name.
	Column string
	Type   Type
	// Nullable reports whether the column accepts NULL.
	Nullable bool
}

// IsGeo reports whether the property holds a geometric point.
func (p Property) IsGeo() bool {
	return p.Type == GeoPoint
}

// ColumnName returns the column the property is stored in.
func (p Property) ColumnName() string {
	if p.Column == "" {
		return p.Name
	}
	return p.Column
}

// RelationType names the kind of a relation. The compiler only uses the key
// columns, the type is kept for callers.
type RelationType string

const (
	BelongsTo RelationType = "belongsTo"
	HasOne    RelationType = "hasOne"
	HasMany   RelationType = "hasMany"
)

// Relation links two models by a pair of key columns.
type Relation struct {
	Name string
	Type RelationType
	// Model is the name of the model owning the relation.
	Model string
	// KeyFrom is the key column on Model.
	KeyFrom string
	// To is the name of the related model.
	To string
	// KeyTo is the key column on To.
	KeyTo string
}

// FromTable returns the lower-cased name of the owning model.
func (r Relation) FromTable() string {
	return strings.ToLower(r.Model)
}

// ToTable returns the lower-cased name of the related model.
func (r Relation) ToTable() string {
	return strings.ToLower(r.To)
}

// Model is the metadata of one entity type.
type Model struct {
	// Name is the model name, as used to look it up in a Registry.
	Name string
	// Table qualifies column references. It defaults to the lower-cased Name.
	Table string

	properties []Property
	index      map[string]int
	relations  map[string]Relation
}

// New returns a model with the given properties, in order. Later properties
// with a duplicate name replace earlier ones in place.
func New(name string, props ...Property) *Model {
	m := &Model{
		Name:      name,
		Table:     strings.ToLower(name),
		index:     map[string]int{},
		relations: map[string]Relation{},
	}
	for _, p := range props {
		m.addProperty(p)
	}
	return m
}

func (m *Model) addProperty(p Property) {
	if p.Column == "" {
		p.Column = p.Name
	}
	if i, ok := m.index[p.Name]; ok {
		m.properties[i] = p
		return
	}
	m.index[p.Name] = len(m.properties)
	m.properties = append(m.properties, p)
}

// WithRelations adds relations to a model under construction and returns it.
// The owning model of each relation is set to m.
func (m *Model) WithRelations(rels ...Relation) *Model {
	for _, r := range rels {
		r.Model = m.Name
		m.relations[r.Name] = r
	}
	return m
}

// Property returns the named property.
func (m *Model) Property(name string) (Property, bool) {
	i, ok := m.index[name]
	if !ok {
		return Property{}, false
	}
	return m.properties[i], true
}

// Properties returns the properties of the model in declaration order.
func (m *Model) Properties() []Property {
	props := make([]Property, len(m.properties))
	copy(props, m.properties)
	return props
}

// Relation returns the named relation.
func (m *Model) Relation(name string) (Relation, bool) {
	r, ok := m.relations[name]
	return r, ok
}

// clone returns a deep copy of m.
func (m *Model) clone() *Model {
	c := &Model{
		Name:       m.Name,
		Table:      m.Table,
		properties: make([]Property, len(m.properties)),
		index:      make(map[string]int, len(m.index)),
		relations:  make(map[string]Relation, len(m.relations)),
	}
	copy(c.properties, m.properties)
	for k, v := range m.index {
		c.index[k] = v
	}
	for k, v := range m.relations {
		c.relations[k] = v
	}
	return c
}
