// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/canonical/pgfilter/model"
)

// toColumnValue coerces a filter value to the type of the property it is
// compared with. The result is either a value to bind as a parameter or, for
// geometric points, a Fragment. Values that cannot be converted are returned
// unchanged.
func toColumnValue(p model.Property, v any) any {
	if v == nil {
		return nil
	}
	switch p.Type {
	case model.String:
		return toString(v)
	case model.Number:
		return toNumber(v)
	case model.Boolean:
		return toBoolean(v)
	case model.Date:
		return toDate(v)
	case model.GeoPoint:
		return toPoint(v)
	case model.Object:
		return toJSON(v)
	case model.Buffer:
		return toBuffer(v)
	}
	return v
}

// toPathValue coerces a value compared with a JSON path. The ->> operator
// yields text, so scalars are compared as text.
func toPathValue(v any) any {
	if v == nil {
		return nil
	}
	return toString(v)
}

func toString(v any) any {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func toNumber(v any) any {
	switch x := v.(type) {
	case int64, float64:
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return v
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return v
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u := rv.Uint(); u <= math.MaxInt64 {
			return int64(u)
		}
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

func toBoolean(v any) any {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			return b
		}
		return v
	}
	switch n := toNumber(v).(type) {
	case int64:
		return n != 0
	case float64:
		return n != 0
	}
	return v
}

// Layouts accepted for date strings, most specific first.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func toDate(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(x)); err == nil {
				return t
			}
		}
		return v
	}
	// Numbers are milliseconds since the epoch.
	switch n := toNumber(v).(type) {
	case int64:
		return time.UnixMilli(n).UTC()
	case float64:
		return time.UnixMilli(int64(n)).UTC()
	}
	return v
}

// toPoint converts a point to a point(lng,lat) fragment. Points may be given
// as orb.Point, as a map with lat and lng keys, or as a two element list of
// longitude and latitude.
func toPoint(v any) any {
	var lng, lat any
	switch x := v.(type) {
	case orb.Point:
		lng, lat = x.Lon(), x.Lat()
	case *orb.Point:
		if x == nil {
			return nil
		}
		lng, lat = x.Lon(), x.Lat()
	case [2]float64:
		lng, lat = x[0], x[1]
	default:
		if m, ok := asMap(v); ok {
			lng, lat = m["lng"], m["lat"]
			break
		}
		if l, ok := asList(v); ok && len(l) == 2 {
			lng, lat = l[0], l[1]
			break
		}
		return v
	}
	return NewFragment("point(?,?)", toNumber(lng), toNumber(lat))
}

func toJSON(v any) any {
	switch x := v.(type) {
	case json.RawMessage:
		return string(x)
	case []byte:
		return string(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func toBuffer(v any) any {
	switch x := v.(type) {
	case []byte:
		return x
	case string:
		return []byte(x)
	}
	return v
}
