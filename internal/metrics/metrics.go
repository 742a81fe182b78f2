// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package metrics holds the Prometheus collectors of the connector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors updated while compiling filters and running
// queries.
type Metrics struct {
	// FiltersCompiled counts compiled filters by model.
	FiltersCompiled *prometheus.CounterVec
	// KeysSkipped counts filter keys that did not contribute to the SQL.
	KeysSkipped *prometheus.CounterVec
	// TextSearches counts rewritten text searches by mode: join or column.
	TextSearches *prometheus.CounterVec
	// Queries counts statements run by operation and status.
	Queries *prometheus.CounterVec
	// QueryDuration is the latency of statements by operation.
	QueryDuration *prometheus.HistogramVec
}

// New returns a fresh set of collectors. They are registered on reg unless
// it is nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FiltersCompiled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgfilter_filters_compiled_total",
				Help: "Total number of compiled filters",
			},
			[]string{"model"},
		),
		KeysSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgfilter_filter_keys_skipped_total",
				Help: "Total number of filter keys skipped during compilation",
			},
			[]string{"reason"},
		),
		TextSearches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgfilter_text_searches_total",
				Help: "Total number of rewritten text searches",
			},
			[]string{"mode"},
		),
		Queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgfilter_queries_total",
				Help: "Total number of statements run",
			},
			[]string{"operation", "status"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgfilter_query_duration_seconds",
				Help:    "Statement latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.FiltersCompiled, m.KeysSkipped, m.TextSearches, m.Queries, m.QueryDuration)
	}
	return m
}
