// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package pgfilter

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	. "gopkg.in/check.v1"

	"github.com/canonical/pgfilter/model"
)

type CacheSuite struct{}

var _ = Suite(&CacheSuite{})

func (s *CacheSuite) openDB(c *C) *DB {
	sqldb, err := sql.Open("sqlite3", ":memory:")
	c.Assert(err, IsNil)
	sqldb.SetMaxOpenConns(1)
	_, err = sqldb.Exec(`CREATE TABLE item (id integer, name text)`)
	c.Assert(err, IsNil)
	models := model.NewRegistry(model.New("Item",
		model.Property{Name: "id", Type: model.Number},
		model.Property{Name: "name", Type: model.String},
	))
	return NewDB(sqldb, "sqlite3", NewConnector(models, Options{}))
}

func (s *CacheSuite) TestPreparedStatementReuse(c *C) {
	db := s.openDB(c)
	defer db.Close()
	ctx := context.Background()

	// Filters of the same shape share a statement.
	_, err := db.Find(ctx, "Item", &Query{Where: Filter{"id": 1}})
	c.Assert(err, IsNil)
	c.Assert(db.CachedStatements(), Equals, 1)
	_, err = db.Find(ctx, "Item", &Query{Where: Filter{"id": 2}})
	c.Assert(err, IsNil)
	c.Assert(db.CachedStatements(), Equals, 1)

	// A different shape prepares a new one.
	_, err = db.Find(ctx, "Item", &Query{Where: Filter{"name": Filter{"like": "a%"}}})
	c.Assert(err, IsNil)
	c.Assert(db.CachedStatements(), Equals, 2)
}

func (s *CacheSuite) TestPrepareError(c *C) {
	db := s.openDB(c)
	defer db.Close()

	_, err := db.PlainDB().Exec(`DROP TABLE item`)
	c.Assert(err, IsNil)
	_, err = db.Find(context.Background(), "Item", nil)
	c.Assert(err, ErrorMatches, `cannot find "Item": no such table: item`)
	c.Assert(db.CachedStatements(), Equals, 0)
}

func (s *CacheSuite) TestConcurrentPrepare(c *C) {
	db := s.openDB(c)
	defer db.Close()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = db.Count(context.Background(), "Item", Filter{"id": i})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		c.Assert(err, IsNil)
	}
	c.Assert(db.CachedStatements(), Equals, 1)
}

func (s *CacheSuite) TestCloseEmptiesCache(c *C) {
	db := s.openDB(c)
	_, err := db.Count(context.Background(), "Item", nil)
	c.Assert(err, IsNil)
	c.Assert(db.CachedStatements(), Equals, 1)

	c.Assert(db.Close(), IsNil)
	c.Assert(db.CachedStatements(), Equals, 0)
	c.Assert(db.PlainDB().Ping(), ErrorMatches, "sql: database is closed")
}

func (s *CacheSuite) TestDBIDsUnique(c *C) {
	db1 := s.openDB(c)
	defer db1.Close()
	db2 := s.openDB(c)
	defer db2.Close()
	c.Assert(db1.CacheID(), Not(Equals), db2.CacheID())
}
