// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Ident quotes a PostgreSQL identifier.
func Ident(name string) string {
	return pq.QuoteIdentifier(name)
}

// Literal renders v as an inline PostgreSQL literal. Strings are quoted with
// single quotes doubled; when a backslash is present it is doubled and the
// literal gets the E prefix of escape strings.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case Raw:
		return string(x)
	case string:
		return pq.QuoteLiteral(x)
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(x)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case json.Number:
		if _, err := strconv.ParseFloat(string(x), 64); err == nil {
			return string(x)
		}
		return pq.QuoteLiteral(string(x))
	case time.Time:
		return pq.QuoteLiteral(x.Format(time.RFC3339Nano))
	case []byte:
		return pq.QuoteLiteral(string(x))
	}
	return pq.QuoteLiteral(fmt.Sprint(v))
}

// jsonPath renders a dotted property path as a JSON path expression on the
// column. Intermediate steps use -> and the last one ->> so the result is
// text:
//
//	"address"->'city'->>'zip'
func jsonPath(column string, path []string) string {
	var b strings.Builder
	b.WriteString(Ident(column))
	for i, step := range path {
		if i == len(path)-1 {
			b.WriteString("->>")
		} else {
			b.WriteString("->")
		}
		b.WriteString(Literal(step))
	}
	return b.String()
}
