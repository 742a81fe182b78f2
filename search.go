// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package pgfilter

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/canonical/pgfilter/internal/expr"
	"github.com/canonical/pgfilter/model"
)

// DefaultSearchColumn is the column holding the composite search value when
// SearchOptions.Column is empty.
const DefaultSearchColumn = "searchfield"

// TextKey is the filter key of a text search, whose value is a map with a
// "search" entry holding the term.
const TextKey = expr.TextKey

// SearchOptions configure the text search of a model.
type SearchOptions struct {
	// Fields are the properties concatenated into the search column when
	// an instance is saved.
	Fields []string
	// Joins are the relations whose search columns are matched along with
	// the model's own. If empty, only the model's search column is
	// matched.
	Joins []string
	// Column is the search column of the model and of the joined models.
	Column string
}

// search is the text search configuration of one model.
type search struct {
	column     string
	fields     []string
	descriptor *expr.Descriptor
}

// ApplySearch enables text search on the named model: it defines the search
// column as a string property, computes the search value on save and
// rewrites $text filters on access. Applying it again replaces the previous
// configuration.
func (c *Connector) ApplySearch(modelName string, opts SearchOptions) error {
	column := opts.Column
	if column == "" {
		column = DefaultSearchColumn
	}
	err := c.models.DefineProperty(modelName, model.Property{Name: column, Type: model.String, Nullable: true})
	if err != nil {
		return errors.Wrapf(err, "cannot apply search to %q", modelName)
	}
	m, err := c.model(modelName)
	if err != nil {
		return err
	}

	s := &search{
		column: column,
		fields: append([]string(nil), opts.Fields...),
	}
	if len(opts.Joins) > 0 {
		var missing []string
		s.descriptor, missing = expr.NewDescriptor(m, opts.Joins, column)
		for _, r := range missing {
			c.logger.Debug("search relation not found", "model", modelName, "relation", r)
		}
	}

	c.mutex.Lock()
	_, applied := c.searches[modelName]
	c.searches[modelName] = s
	c.mutex.Unlock()
	if applied {
		return nil
	}

	c.ObserveBeforeSave(modelName, func(modelName string, inst Instance) error {
		if s := c.search(modelName); s != nil && len(s.fields) > 0 {
			inst[s.column] = CompositeValue(inst, s.fields)
		}
		return nil
	})
	c.ObserveAccess(modelName, func(modelName string, q *Query) {
		q.Where = c.RewriteTextSearch(modelName, q.Where)
	})
	return nil
}

// search returns the text search configuration of the named model, or nil.
func (c *Connector) search(modelName string) *search {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.searches[modelName]
}

// RewriteTextSearch returns where with its $text key replaced by a condition
// on the search columns of the named model. If the model searches joined
// relations, the condition is a text search over the joined columns;
// otherwise it is an ILIKE match on the model's search column. The term is
// lowercased. where is returned unchanged if it has no $text key and is
// never modified.
func (c *Connector) RewriteTextSearch(modelName string, where Filter) Filter {
	text, ok := where[TextKey]
	if !ok {
		return where
	}
	out := make(Filter, len(where))
	for k, v := range where {
		if k != TextKey {
			out[k] = v
		}
	}

	term := strings.ToLower(searchTerm(text))
	s := c.search(modelName)
	if s != nil && s.descriptor != nil && !s.descriptor.IsEmpty() {
		out[expr.SearchKey] = &expr.TextSearch{Descriptor: s.descriptor, Term: term}
		c.metrics.TextSearches.WithLabelValues("join").Inc()
		return out
	}
	column := DefaultSearchColumn
	if s != nil {
		column = s.column
	}
	out[column] = Filter{"ilike": "%" + term + "%"}
	c.metrics.TextSearches.WithLabelValues("column").Inc()
	return out
}

// searchTerm extracts the term of a $text value, the value of its search
// key. A $text value that is not a map has no term.
func searchTerm(text any) string {
	var term any
	switch t := text.(type) {
	case Filter:
		term = t["search"]
	case map[string]any:
		term = t["search"]
	}
	return stringValue(term)
}

// CompositeValue returns the search value of inst: the values of fields,
// trimmed and lowercased, joined with single spaces. Missing fields count as
// empty strings.
func CompositeValue(inst Instance, fields []string) string {
	values := make([]string, len(fields))
	for i, f := range fields {
		values[i] = strings.ToLower(strings.TrimSpace(stringValue(inst[f])))
	}
	return strings.TrimSpace(strings.Join(values, " "))
}

func stringValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(v)
}
