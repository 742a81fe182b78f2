// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package pgfilter

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
)

// dbIDCount is used to generate unique DB IDs.
var dbIDCount uint64

// statementCache holds the driver prepared statements of one DB, indexed by
// their SQL text. Compiled filters with the same shape render the same SQL,
// so a statement is prepared once and reused with different arguments.
//
// The mutex must be locked when accessing stmts.
type statementCache struct {
	stmts map[string]*sqlx.Stmt
	mutex sync.RWMutex
}

func newStatementCache() *statementCache {
	return &statementCache{stmts: map[string]*sqlx.Stmt{}}
}

// newDB returns a new DB with its own statement cache. A finalizer is set on
// the DB which closes all statements prepared upon it and then closes the
// underlying database. The finalizer is run after the DB is garbage
// collected unless Close was called first.
func newDB(sqldb *sqlx.DB, conn *Connector) *DB {
	db := &DB{
		cacheID: atomic.AddUint64(&dbIDCount, 1),
		sqldb:   sqldb,
		conn:    conn,
		cache:   newStatementCache(),
	}
	runtime.SetFinalizer(db, func(db *DB) {
		db.cache.close()
		db.sqldb.Close()
	})
	return db
}

// prepareSubstrate is an object that queries can be prepared on, e.g. a
// sqlx.DB or sqlx.Conn.
type prepareSubstrate interface {
	PreparexContext(context.Context, string) (*sqlx.Stmt, error)
}

// prepareStmt returns the statement prepared for query, preparing it on ps if
// it is not in the cache yet.
func (sc *statementCache) prepareStmt(ctx context.Context, ps prepareSubstrate, query string) (*sqlx.Stmt, error) {
	sc.mutex.RLock()
	stmt, ok := sc.stmts[query]
	sc.mutex.RUnlock()
	if ok {
		return stmt, nil
	}

	stmt, err := ps.PreparexContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sc.mutex.Lock()
	// Check if a statement has been inserted by someone else since we last
	// checked.
	if alt, ok := sc.stmts[query]; ok {
		stmt.Close()
		stmt = alt
	} else {
		sc.stmts[query] = stmt
	}
	sc.mutex.Unlock()
	return stmt, nil
}

// len returns the number of cached statements.
func (sc *statementCache) len() int {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return len(sc.stmts)
}

// close closes every cached statement and empties the cache. It returns the
// first error encountered.
func (sc *statementCache) close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	var first error
	for query, stmt := range sc.stmts {
		if err := stmt.Close(); err != nil && first == nil {
			first = err
		}
		delete(sc.stmts, query)
	}
	return first
}
