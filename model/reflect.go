// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package model

import (
	"encoding/json"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

var cacheMutex sync.RWMutex
var cache = make(map[reflect.Type][]Property)

// FromStruct builds a model from the "db" tags of a struct sample. Only the
// type of sample is used. Fields without a "db" tag are not part of the model.
//
// The tag holds the column name, optionally followed by options:
//
//	Name    string            `db:"name"`
//	Address map[string]any    `db:"address,json"`
//	Parent  *int              `db:"parent_id,nullable"`
//
// Property types are derived from the Go field types.
func FromStruct(name string, sample any, rels ...Relation) (*Model, error) {
	if sample == (any)(nil) {
		return nil, errors.Errorf("cannot reflect nil value")
	}
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	cacheMutex.RLock()
	props, found := cache[t]
	cacheMutex.RUnlock()
	if !found {
		var err error
		props, err = generate(t)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot build model %q", name)
		}
		cacheMutex.Lock()
		cache[t] = props
		cacheMutex.Unlock()
	}

	return New(name, props...).WithRelations(rels...), nil
}

// MustFromStruct is the same as FromStruct except that it panics on error.
func MustFromStruct(name string, sample any, rels ...Relation) *Model {
	m, err := FromStruct(name, sample, rels...)
	if err != nil {
		panic(err)
	}
	return m
}

var (
	timeType   = reflect.TypeOf(time.Time{})
	pointType  = reflect.TypeOf(orb.Point{})
	rawMsgType = reflect.TypeOf(json.RawMessage{})
)

// generate produces the ordered properties of a struct type.
func generate(t reflect.Type) ([]Property, error) {
	if t.Kind() != reflect.Struct {
		return nil, errors.Errorf("can only reflect struct type, got %s", t.Kind())
	}

	var props []Property
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("db")
		if tag == "" {
			continue
		}
		column, opts, err := parseTag(tag)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", field.Name)
		}
		p := Property{
			Name:     column,
			Column:   column,
			Type:     typeOf(field.Type),
			Nullable: field.Type.Kind() == reflect.Pointer,
		}
		for _, opt := range opts {
			switch opt {
			case "json":
				p.Type = Object
			case "nullable":
				p.Nullable = true
			}
		}
		props = append(props, p)
	}
	return props, nil
}

// typeOf maps a Go type to a property type.
func typeOf(t reflect.Type) Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t {
	case timeType:
		return Date
	case pointType:
		return GeoPoint
	case rawMsgType:
		return Object
	}
	switch t.Kind() {
	case reflect.String:
		return String
	case reflect.Bool:
		return Boolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return Number
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return Buffer
		}
		return Object
	case reflect.Map, reflect.Struct, reflect.Array:
		return Object
	}
	return Any
}

// This expression should be aligned with the identifiers accepted in filter
// keys.
var validColNameRx = regexp.MustCompile(`^([a-zA-Z_])+([a-zA-Z_0-9])*$`)

// parseTag parses the input tag string and returns the column name and the
// lower-cased options that follow it.
func parseTag(tag string) (string, []string, error) {
	options := strings.Split(tag, ",")

	name := options[0]
	if len(name) == 0 {
		return "", nil, errors.Errorf("empty db tag")
	}
	if !validColNameRx.MatchString(name) {
		return "", nil, errors.Errorf("invalid column name %q in 'db' tag", name)
	}

	var opts []string
	for _, opt := range options[1:] {
		opt = strings.ToLower(strings.TrimSpace(opt))
		switch opt {
		case "omitempty", "json", "nullable":
			opts = append(opts, opt)
		default:
			return "", nil, errors.Errorf("unexpected tag value %q", opt)
		}
	}
	return name, opts, nil
}
