// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package pgfilter

import (
	"io"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/canonical/pgfilter/internal/expr"
	"github.com/canonical/pgfilter/internal/metrics"
	"github.com/canonical/pgfilter/model"
)

// Filter is a where filter: a map from property names, logical operators or
// relation operator keys to values or operator maps.
//
// Example:
//
//	pgfilter.Filter{
//		"price": pgfilter.Filter{"between": []any{100, 200}},
//		"or": []any{
//			pgfilter.Filter{"city": "Paris"},
//			pgfilter.Filter{"owner__email": "a@b.c"},
//		},
//	}
//
// Filter is not a special type, any map with string keys can be used.
type Filter map[string]any

// Instance holds the property values of one row.
type Instance map[string]any

// Fragment is a piece of SQL with ? placeholders and their parameters.
type Fragment = expr.Fragment

// Raw is trusted SQL. It is embedded in the compiled SQL verbatim.
type Raw = expr.Raw

// Where is a compiled filter.
type Where = expr.Where

// Skip records a filter key that did not contribute to the compiled SQL.
type Skip = expr.Skip

// Join is an inner join between two tables on a shared key.
type Join = expr.Join

// Models supplies the model metadata used to compile filters.
type Models interface {
	// Model returns the named model. The error wraps
	// model.ErrModelNotFound if there is no such model.
	Model(name string) (*model.Model, error)
	// DefineProperty adds a property to the named model.
	DefineProperty(modelName string, p model.Property) error
}

// Query describes a read on a model.
type Query struct {
	// Where is the filter.
	Where Filter
	// Fields selects the properties to read, as a list of names or as a map
	// of names to booleans. All properties are read if it is empty.
	Fields any
	// Order lists properties to sort by, each optionally followed by ASC or
	// DESC.
	Order []string
	// Limit caps the number of rows if positive.
	Limit int
	// Skip is the number of rows to skip.
	Skip int
}

// AccessHook is run before a read. It may replace the query.
type AccessHook func(modelName string, q *Query)

// SaveHook is run before an instance is written. It may modify the
// instance; an error aborts the write.
type SaveHook func(modelName string, inst Instance) error

// Options configure a Connector.
type Options struct {
	// Logger receives the debug records of the compiler. Records are
	// discarded if it is nil.
	Logger *slog.Logger
	// Registerer is where the connector metrics are registered. Metrics
	// are still collected but not registered if it is nil.
	Registerer prometheus.Registerer
}

// Connector compiles filters against the models of a registry and runs the
// text search rewriting of the models it was applied to. It is safe for
// concurrent use.
type Connector struct {
	models   Models
	compiler *expr.Compiler
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// mutex guards the fields below.
	mutex      sync.RWMutex
	searches   map[string]*search
	accessHook map[string][]AccessHook
	saveHook   map[string][]SaveHook
}

// NewConnector returns a Connector for the models.
func NewConnector(models Models, opts Options) *Connector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Connector{
		models:     models,
		compiler:   expr.NewCompiler(logger),
		logger:     logger,
		metrics:    metrics.New(opts.Registerer),
		searches:   map[string]*search{},
		accessHook: map[string][]AccessHook{},
		saveHook:   map[string][]SaveHook{},
	}
}

// model looks up the named model.
func (c *Connector) model(modelName string) (*model.Model, error) {
	m, err := c.models.Model(modelName)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot compile filter for %q", modelName)
	}
	return m, nil
}

// Compile compiles where for the named model. Keys that cannot be compiled
// are skipped and listed in the Skipped field of the result. The only error
// returned is for an unknown model.
func (c *Connector) Compile(modelName string, where any) (*Where, error) {
	m, err := c.model(modelName)
	if err != nil {
		return nil, err
	}
	return c.compile(m, where), nil
}

func (c *Connector) compile(m *model.Model, where any) *Where {
	w := c.compiler.Compile(m, where)
	c.metrics.FiltersCompiled.WithLabelValues(m.Name).Inc()
	for _, s := range w.Skipped {
		c.metrics.KeysSkipped.WithLabelValues(s.Reason).Inc()
	}
	return w
}

// BuildWhere compiles where for the named model and returns the SQL that
// follows the FROM clause: the joins of the filter, if any, then the WHERE
// clause. The fragment is empty if the filter has no conditions.
func (c *Connector) BuildWhere(modelName string, where any) (Fragment, error) {
	w, err := c.Compile(modelName, where)
	if err != nil {
		return Fragment{}, err
	}
	return w.Tail(), nil
}

// BuildColumnNames returns the comma separated, table qualified columns to
// select for the named model. fields is either a list of property names to
// include or a map of property names to booleans. It is * if the model has
// no properties.
func (c *Connector) BuildColumnNames(modelName string, fields any) (string, error) {
	m, err := c.model(modelName)
	if err != nil {
		return "", err
	}
	return expr.ColumnNames(m, fields), nil
}

// ColumnEscaped returns the quoted column of a property of the named model.
// Dotted properties are rendered as a JSON path into their base column.
func (c *Connector) ColumnEscaped(modelName, property string) (string, error) {
	m, err := c.model(modelName)
	if err != nil {
		return "", err
	}
	return expr.ColumnEscaped(m, property), nil
}

// ObserveAccess registers a hook run before reads of the named model.
func (c *Connector) ObserveAccess(modelName string, h AccessHook) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.accessHook[modelName] = append(c.accessHook[modelName], h)
}

// ObserveBeforeSave registers a hook run before writes to the named model.
func (c *Connector) ObserveBeforeSave(modelName string, h SaveHook) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.saveHook[modelName] = append(c.saveHook[modelName], h)
}

// NotifyAccess runs the access hooks of the named model on a copy of q and
// returns the copy. q is not modified.
func (c *Connector) NotifyAccess(modelName string, q *Query) *Query {
	out := &Query{}
	if q != nil {
		*out = *q
	}
	c.mutex.RLock()
	hooks := c.accessHook[modelName]
	c.mutex.RUnlock()
	for _, h := range hooks {
		h(modelName, out)
	}
	return out
}

// NotifyBeforeSave runs the before save hooks of the named model on inst.
func (c *Connector) NotifyBeforeSave(modelName string, inst Instance) error {
	c.mutex.RLock()
	hooks := c.saveHook[modelName]
	c.mutex.RUnlock()
	for _, h := range hooks {
		if err := h(modelName, inst); err != nil {
			return errors.Wrapf(err, "before save hook of %q", modelName)
		}
	}
	return nil
}
