// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr_test

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	. "gopkg.in/check.v1"

	"github.com/canonical/pgfilter/internal/expr"
	"github.com/canonical/pgfilter/model"
)

type DBSuite struct{}

var _ = Suite(&DBSuite{})

func createExampleDB(createTables string, inserts []string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to :memory: opens a new database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(createTables)
	if err != nil {
		return nil, err
	}
	for _, insert := range inserts {
		_, err := db.Exec(insert)
		if err != nil {
			return nil, err
		}
	}

	return db, nil
}

func personDB() (*sql.DB, error) {
	createTables := `
CREATE TABLE person (
	id integer,
	name text,
	age integer,
	team text
);
`
	inserts := []string{
		"INSERT INTO person VALUES (1, 'Fred', 30, 'engineering');",
		"INSERT INTO person VALUES (2, 'Mark', 20, 'engineering');",
		"INSERT INTO person VALUES (3, 'Mary', 40, 'management');",
		"INSERT INTO person VALUES (4, 'James', 35, NULL);",
	}
	return createExampleDB(createTables, inserts)
}

var personModel = model.New("Person",
	model.Property{Name: "id", Type: model.Number},
	model.Property{Name: "name", Type: model.String},
	model.Property{Name: "age", Type: model.Number},
	model.Property{Name: "team", Type: model.String, Nullable: true},
)

// The compiled fragments run unchanged on SQLite, which shares the ?
// placeholder style. This checks that parameters line up with their
// placeholders.
func (s *DBSuite) TestCompiledWhereRuns(c *C) {
	var tests = []struct {
		summary  string
		filter   F
		expected []int
	}{{
		"equality",
		F{"name": "Fred"},
		[]int{1},
	}, {
		"null",
		F{"team": nil},
		[]int{4},
	}, {
		"between",
		F{"age": F{"between": []any{"25", 35}}},
		[]int{1, 4},
	}, {
		"inq",
		F{"id": F{"inq": []any{2, 3, 9}}},
		[]int{2, 3},
	}, {
		"empty inq matches nothing",
		F{"id": F{"inq": []any{}}},
		nil,
	}, {
		"empty nin matches everything",
		F{"id": F{"nin": []any{}}},
		[]int{1, 2, 3, 4},
	}, {
		"or with and",
		F{"or": []any{F{"team": "management"}, F{"and": []any{F{"age": F{"lt": 25}}, F{"team": "engineering"}}}}},
		[]int{2, 3},
	}, {
		"multiple keys",
		F{"team": "engineering", "age": F{"gte": 30}, "name": F{"neq": "Mark"}},
		[]int{1},
	}, {
		"like",
		F{"name": F{"like": "Ma%"}},
		[]int{2, 3},
	}, {
		"native",
		F{"age": F{"native": "age % 10 = 5"}},
		[]int{4},
	}}

	db, err := personDB()
	c.Assert(err, IsNil)
	defer db.Close()

	compiler := expr.NewCompiler(nil)
	for _, t := range tests {
		tail := compiler.Compile(personModel, t.filter).Tail()
		rows, err := db.Query(`SELECT "person"."id" FROM person `+tail.SQL+` ORDER BY "person"."id"`, tail.Params...)
		c.Assert(err, IsNil, Commentf(t.summary))
		var ids []int
		for rows.Next() {
			var id int
			c.Assert(rows.Scan(&id), IsNil)
			ids = append(ids, id)
		}
		c.Assert(rows.Close(), IsNil)
		c.Check(ids, DeepEquals, t.expected, Commentf(t.summary))
	}
}
