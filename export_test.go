// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package pgfilter

import (
	"github.com/canonical/pgfilter/internal/metrics"
)

func (db *DB) CacheID() uint64 {
	return db.cacheID
}

func (db *DB) CachedStatements() int {
	return db.cache.len()
}

func (c *Connector) Metrics() *metrics.Metrics {
	return c.metrics
}
