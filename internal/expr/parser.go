// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/canonical/pgfilter/model"
)

const (
	// SearchKey is the filter key holding a *TextSearch.
	SearchKey = "refSearch"
	// TextKey is the filter key requesting a text search.
	TextKey = "$text"

	relationSep = "__"
	pathSep     = "."
)

// Reasons reported for skipped keys.
const (
	ReasonInvalidWhere    = "invalid where"
	ReasonUnknownProperty = "unknown property"
	ReasonUnknownRelation = "unknown relation"
	ReasonInvalidField    = "invalid relation field"
	ReasonNestedRelation  = "relation operator inside logical branch"
	ReasonNestedSearch    = "text search inside logical branch"
	ReasonInvalidSearch   = "invalid text search"
	ReasonEmptyOperator   = "empty operator"
	ReasonExtraOperator   = "extra operator ignored"
	ReasonVacuousNotIn    = "nin with empty list"
)

// parseKey parses a filter key into a keyPart using the model metadata.
func parseKey(m *model.Model, key string, value any) keyPart {
	if key == "and" || key == "or" {
		if branches, ok := asList(value); ok {
			return &logicalPart{op: key, branches: branches}
		}
		// The value is not a list, fall back to regular fields.
	}

	if key == SearchKey {
		if ts, ok := value.(*TextSearch); ok && ts != nil && ts.Descriptor != nil {
			return &searchPart{search: ts}
		}
		return &unknownPart{key: key, reason: ReasonInvalidSearch}
	}

	if p, ok := m.Property(key); ok {
		return &columnPart{prop: p}
	}

	isRelation := strings.Contains(key, relationSep)
	if isRelation {
		if p, ok := parseRelationKey(m, key); ok {
			return p
		}
	}

	// A path segment may contain the relation separator.
	if segments := strings.Split(key, pathSep); len(segments) > 1 {
		if p, ok := m.Property(segments[0]); ok {
			return &nestedPart{prop: p, path: segments[1:]}
		}
	}

	if isRelation {
		return &unknownPart{key: key, reason: ReasonUnknownRelation}
	}
	return &unknownPart{key: key, reason: ReasonUnknownProperty}
}

// validFieldRx matches the field names allowed in relation keys. The field
// is written into the join condition as is.
var validFieldRx = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z_0-9]*$`)

// parseRelationKey parses a key of the form relation__field__operator. The
// operator is optional. It returns false if the first segment does not name
// a relation of m.
func parseRelationKey(m *model.Model, key string) (keyPart, bool) {
	segments := strings.SplitN(key, relationSep, 3)
	rel, ok := m.Relation(segments[0])
	if !ok {
		return nil, false
	}
	if !validFieldRx.MatchString(segments[1]) {
		return &unknownPart{key: key, reason: ReasonInvalidField}, true
	}
	p := &relationPart{relation: rel, field: segments[1], raw: key}
	if len(segments) == 3 {
		p.operator = segments[2]
	}
	return p, true
}

var mapType = reflect.TypeOf(map[string]any{})

// asMap returns v as a map[string]any. Named map types with the same
// underlying type, such as filter types declared by callers, are converted.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().ConvertibleTo(mapType) {
		return rv.Convert(mapType).Interface().(map[string]any), true
	}
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return m, true
	}
	return nil, false
}

// asList returns the elements of v if v is a slice. Byte slices are values,
// not lists, and so are arrays such as orb.Point.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	l := make([]any, rv.Len())
	for i := range l {
		l[i] = rv.Index(i).Interface()
	}
	return l, true
}
