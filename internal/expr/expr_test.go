// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/paulmach/orb"
	. "gopkg.in/check.v1"

	"github.com/canonical/pgfilter/internal/expr"
	"github.com/canonical/pgfilter/model"
)

// Hook up gocheck into the "go test" runner.
func TestExpr(t *testing.T) { TestingT(t) }

type ExprSuite struct{}

var _ = Suite(&ExprSuite{})

type F map[string]any

var house = model.New("House",
	model.Property{Name: "id", Type: model.Number},
	model.Property{Name: "address", Type: model.String},
	model.Property{Name: "owner_id", Type: model.Number},
	model.Property{Name: "agent_id", Type: model.Number},
	model.Property{Name: "price", Type: model.Number},
	model.Property{Name: "sold", Type: model.Boolean},
	model.Property{Name: "built", Type: model.Date},
	model.Property{Name: "location", Type: model.GeoPoint},
	model.Property{Name: "details", Type: model.Object},
	model.Property{Name: "searchfield", Type: model.String, Nullable: true},
).WithRelations(
	model.Relation{Name: "owner", Type: model.BelongsTo, KeyFrom: "owner_id", To: "Owner", KeyTo: "id"},
	model.Relation{Name: "agent", Type: model.BelongsTo, KeyFrom: "agent_id", To: "Agent", KeyTo: "id"},
)

var compileTests = []struct {
	summary        string
	filter         any
	expectedSQL    string
	expectedParams []any
}{{
	"plain value",
	F{"address": "x"},
	`"house"."address"=?`,
	[]any{"x"},
}, {
	"null value",
	F{"address": nil},
	`"house"."address" IS NULL`,
	[]any{},
}, {
	"numeric string is coerced",
	F{"price": "12"},
	`"house"."price"=?`,
	[]any{int64(12)},
}, {
	"boolean string is coerced",
	F{"sold": "true"},
	`"house"."sold"=?`,
	[]any{true},
}, {
	"date string is coerced",
	F{"built": "2024-01-02"},
	`"house"."built"=?`,
	[]any{time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
}, {
	"keys are compiled in lexical order",
	F{"price": 1, "address": "a"},
	`"house"."address"=? AND "house"."price"=?`,
	[]any{"a", int64(1)},
}, {
	"gt",
	F{"price": F{"gt": 10}},
	`"house"."price" > ?`,
	[]any{int64(10)},
}, {
	"lte",
	F{"price": F{"lte": "7.5"}},
	`"house"."price" <= ?`,
	[]any{7.5},
}, {
	"gt null",
	F{"price": F{"gt": nil}},
	`"house"."price" > ?`,
	[]any{nil},
}, {
	"eq",
	F{"address": F{"eq": "a"}},
	`"house"."address" = ?`,
	[]any{"a"},
}, {
	"unknown operator compares for equality",
	F{"address": F{"is": "a"}},
	`"house"."address" = ?`,
	[]any{"a"},
}, {
	"neq null",
	F{"address": F{"neq": nil}},
	`"house"."address" IS NOT NULL`,
	[]any{},
}, {
	"neq",
	F{"address": F{"neq": "a"}},
	`"house"."address" <> ?`,
	[]any{"a"},
}, {
	"like",
	F{"address": F{"like": "%a%"}},
	`"house"."address" LIKE ?`,
	[]any{"%a%"},
}, {
	"nlike",
	F{"address": F{"nlike": "%a%"}},
	`"house"."address" NOT LIKE ?`,
	[]any{"%a%"},
}, {
	"ilike",
	F{"address": F{"ilike": "%a%"}},
	`"house"."address" ILIKE ?`,
	[]any{"%a%"},
}, {
	"nilike",
	F{"address": F{"nilike": "%a%"}},
	`"house"."address" NOT ILIKE ?`,
	[]any{"%a%"},
}, {
	"between",
	F{"price": F{"between": []any{1, "5"}}},
	`"house"."price" BETWEEN ? AND ?`,
	[]any{int64(1), int64(5)},
}, {
	"between with a missing bound",
	F{"price": F{"between": []int{1}}},
	`"house"."price" BETWEEN ? AND ?`,
	[]any{int64(1), nil},
}, {
	"between with extra bounds",
	F{"price": F{"between": []int{1, 2, 3}}},
	`"house"."price" BETWEEN ? AND ?`,
	[]any{int64(1), int64(2)},
}, {
	"inq",
	F{"id": F{"inq": []any{1, 2, "3"}}},
	`"house"."id" IN (?,?,?)`,
	[]any{int64(1), int64(2), int64(3)},
}, {
	"inq with a single value",
	F{"id": F{"inq": 5}},
	`"house"."id" IN (?)`,
	[]any{int64(5)},
}, {
	"inq with an empty list only matches NULL",
	F{"id": F{"inq": []any{}}},
	`"house"."id" IN (?)`,
	[]any{nil},
}, {
	"nin",
	F{"id": F{"nin": []any{1}}},
	`"house"."id" NOT IN (?)`,
	[]any{int64(1)},
}, {
	"nin with an empty list is dropped",
	F{"id": F{"nin": []any{}}},
	``,
	[]any{},
}, {
	"native",
	F{"address": F{"native": "lower(address) = 'x'"}},
	`lower(address) = 'x'`,
	[]any{},
}, {
	"native raw",
	F{"address": F{"native": expr.Raw("address IS NOT NULL")}},
	`address IS NOT NULL`,
	[]any{},
}, {
	"regexp object",
	F{"address": F{"regexp": regexp.MustCompile("(?i)^foo")}},
	`"house"."address" ~* ?`,
	[]any{"^foo"},
}, {
	"regexp string with flags",
	F{"address": F{"regexp": "/^foo/i"}},
	`"house"."address" ~* ?`,
	[]any{"^foo"},
}, {
	"regexp string",
	F{"address": F{"regexp": "^foo"}},
	`"house"."address" ~ ?`,
	[]any{"^foo"},
}, {
	"geo point equality",
	F{"location": orb.Point{1.5, 2}},
	`"house"."location"~=point(?,?)`,
	[]any{1.5, 2.0},
}, {
	"geo point map",
	F{"location": F{"eq": F{"lat": 2, "lng": 1}}},
	`"house"."location" = point(?,?)`,
	[]any{int64(1), int64(2)},
}, {
	"object value is JSON",
	F{"details": F{"eq": []string{"a"}}},
	`"house"."details" = ?`,
	[]any{`["a"]`},
}, {
	"nested path",
	F{"details.city": "Paris"},
	`"house"."details"->>'city'=?`,
	[]any{"Paris"},
}, {
	"deep nested path compares text",
	F{"details.city.zip": 1234},
	`"house"."details"->'city'->>'zip'=?`,
	[]any{"1234"},
}, {
	"nested path with relation separator",
	F{"details.first__name": "x"},
	`"house"."details"->>'first__name'=?`,
	[]any{"x"},
}, {
	"nested path operator",
	F{"details.rooms": F{"inq": []any{1, 2}}},
	`"house"."details"->>'rooms' IN (?,?)`,
	[]any{"1", "2"},
}, {
	"and drops empty branches",
	F{"and": []any{F{"address": "a"}, F{}}},
	`("house"."address"=?)`,
	[]any{"a"},
}, {
	"or",
	F{"or": []F{{"address": "a"}, {"price": F{"lt": 3}}}},
	`("house"."address"=?) OR ("house"."price" < ?)`,
	[]any{"a", int64(3)},
}, {
	"and inside or",
	F{"or": []any{F{"and": []any{F{"id": 1}, F{"id": 2}}}, F{"id": 3}}, "sold": false},
	`(("house"."id"=?) AND ("house"."id"=?)) OR ("house"."id"=?) AND "house"."sold"=?`,
	[]any{int64(1), int64(2), int64(3), false},
}, {
	"only empty branches",
	F{"or": []any{F{}, F{"nope": 1}}},
	``,
	[]any{},
}, {
	"unknown keys are skipped",
	F{"unknown": 1, "address": "a"},
	`"house"."address"=?`,
	[]any{"a"},
}, {
	"and with a non list value",
	F{"and": "x"},
	``,
	[]any{},
}, {
	"map with string keys",
	map[string]string{"address": "a"},
	`"house"."address"=?`,
	[]any{"a"},
}}

func (s *ExprSuite) TestCompile(c *C) {
	compiler := expr.NewCompiler(nil)
	for i, t := range compileTests {
		w := compiler.Compile(house, t.filter)
		c.Check(w.SQL, Equals, t.expectedSQL, Commentf("test %d failed (%s)", i, t.summary))
		c.Check(w.Params, DeepEquals, t.expectedParams, Commentf("test %d failed (%s)", i, t.summary))
	}
}

func (s *ExprSuite) TestCompileRoundTrip(c *C) {
	m := model.New("ModelName", model.Property{Name: "name", Type: model.String})
	w := expr.NewCompiler(nil).Compile(m, F{"name": "x"})
	c.Assert(w.SQL, Equals, `"modelname"."name"=?`)
	c.Assert(w.Params, DeepEquals, []any{"x"})
	c.Assert(w.Skipped, HasLen, 0)
}

func (s *ExprSuite) TestCompileEmpty(c *C) {
	compiler := expr.NewCompiler(nil)

	w := compiler.Compile(house, nil)
	c.Assert(w.SQL, Equals, "")
	c.Assert(w.Params, HasLen, 0)
	c.Assert(w.Skipped, HasLen, 0)
	c.Assert(w.Tail().SQL, Equals, "")

	for _, where := range []any{[]any{F{"id": 1}}, "id = 1", 7} {
		w = compiler.Compile(house, where)
		c.Check(w.SQL, Equals, "")
		c.Check(w.Skipped, DeepEquals, []expr.Skip{{Reason: expr.ReasonInvalidWhere}})
	}
}

func (s *ExprSuite) TestCompileSkipped(c *C) {
	w := expr.NewCompiler(nil).Compile(house, F{
		"address":         F{},
		"ghost":           1,
		"ghost__name":     "x",
		"id":              F{"nin": []any{}},
		"or":              []any{F{"owner__name": "bob"}, 7},
		"price":           F{"lt": 5, "gt": 1},
		"refSearch":       "not a search",
		"details.city":    "x",
		"notaprop.nested": "x",
	})
	c.Assert(w.SQL, Equals, `"house"."details"->>'city'=? AND "house"."price" > ?`)
	c.Assert(w.Params, DeepEquals, []any{"x", int64(1)})
	c.Assert(w.Joins, HasLen, 0)
	c.Assert(w.Skipped, DeepEquals, []expr.Skip{
		{Key: "address", Reason: expr.ReasonEmptyOperator},
		{Key: "ghost", Reason: expr.ReasonUnknownProperty},
		{Key: "ghost__name", Reason: expr.ReasonUnknownRelation},
		{Key: "id", Reason: expr.ReasonVacuousNotIn},
		{Key: "notaprop.nested", Reason: expr.ReasonUnknownProperty},
		{Key: "owner__name", Reason: expr.ReasonNestedRelation},
		{Key: "or", Reason: expr.ReasonInvalidWhere},
		{Key: "price.lt", Reason: expr.ReasonExtraOperator},
		{Key: "refSearch", Reason: expr.ReasonInvalidSearch},
	})
}

func (s *ExprSuite) TestParamCount(c *C) {
	// One parameter per value consumed, none for native and IS NULL.
	w := expr.NewCompiler(nil).Compile(house, F{
		"address":  nil,
		"details":  F{"native": "details IS NOT NULL"},
		"id":       F{"inq": []any{1, 2, 3}},
		"owner_id": 9,
		"price":    F{"between": []any{1, 2}},
		"sold":     true,
	})
	c.Assert(w.Params, DeepEquals, []any{int64(1), int64(2), int64(3), int64(9), int64(1), int64(2), true})
	c.Assert(w.SQL, Equals, `"house"."address" IS NULL AND details IS NOT NULL AND "house"."id" IN (?,?,?) AND `+
		`"house"."owner_id"=? AND "house"."price" BETWEEN ? AND ? AND "house"."sold"=?`)
}

func (s *ExprSuite) TestRelationJoins(c *C) {
	compiler := expr.NewCompiler(nil)

	w := compiler.Compile(house, F{"owner__Name": "bob", "address": "a"})
	c.Assert(w.Joins, DeepEquals, []string{`INNER JOIN owner ON owner.id=house.owner_id AND owner.name='bob'`})
	c.Assert(w.Conds, HasLen, 0)
	tail := w.Tail()
	c.Assert(tail.SQL, Equals, `INNER JOIN owner ON owner.id=house.owner_id AND owner.name='bob' WHERE "house"."address"=?`)
	c.Assert(tail.Params, DeepEquals, []any{"a"})
	c.Assert(w.HasJoins(), Equals, true)

	w = compiler.Compile(house, F{"agent__id__nexist": 0})
	c.Assert(w.Joins, DeepEquals, []string{`LEFT JOIN agent ON agent.id=house.agent_id AND agent.id=0`})
	c.Assert(w.Conds, DeepEquals, []string{"agent.id IS NULL"})
	c.Assert(w.Tail().SQL, Equals, `LEFT JOIN agent ON agent.id=house.agent_id AND agent.id=0 WHERE agent.id IS NULL`)

	// Inlined values are quoted.
	w = compiler.Compile(house, F{"owner__name": `o'brien\`})
	c.Assert(w.Joins, DeepEquals, []string{`INNER JOIN owner ON owner.id=house.owner_id AND owner.name= E'o''brien\\'`})

	// Field names that are not identifiers never reach the join.
	w = compiler.Compile(house, F{"owner__name=1 OR 1=1) --__eq": "x", "address": "a"})
	c.Assert(w.Joins, HasLen, 0)
	c.Assert(w.SQL, Equals, `"house"."address"=?`)
	c.Assert(w.Skipped, DeepEquals, []expr.Skip{
		{Key: "owner__name=1 OR 1=1) --__eq", Reason: expr.ReasonInvalidField},
	})
}

func (s *ExprSuite) TestDescriptor(c *C) {
	d, missing := expr.NewDescriptor(house, []string{"owner", "ghost", "agent"}, "searchfield")
	c.Assert(missing, DeepEquals, []string{"ghost"})
	c.Assert(d.IsEmpty(), Equals, false)
	c.Assert(d.Joins(), DeepEquals, []expr.Join{{
		Source: expr.Endpoint{Table: "house", Field: "owner_id"},
		Target: expr.Endpoint{Table: "owner", Field: "id"},
	}, {
		Source: expr.Endpoint{Table: "house", Field: "agent_id"},
		Target: expr.Endpoint{Table: "agent", Field: "id"},
	}})
	c.Assert(d.Columns(), DeepEquals, []string{"owner.searchfield", "agent.searchfield"})

	// The accessors return copies.
	d.Columns()[0] = "changed"
	c.Assert(d.Columns()[0], Equals, "owner.searchfield")

	empty, missing := expr.NewDescriptor(house, []string{"ghost"}, "searchfield")
	c.Assert(empty.IsEmpty(), Equals, true)
	c.Assert(missing, DeepEquals, []string{"ghost"})
}

func (s *ExprSuite) TestTextSearch(c *C) {
	one, _ := expr.NewDescriptor(house, []string{"owner"}, "searchfield")
	two, _ := expr.NewDescriptor(house, []string{"owner", "agent"}, "searchfield")

	ts := &expr.TextSearch{Descriptor: one, Term: "foo"}
	c.Assert(ts.JoinSQL(), Equals, "INNER JOIN owner ON house.owner_id = owner.id")
	c.Assert(ts.ConditionSQL(), Equals, "owner.searchfield::text ILIKE '%foo%'")

	ts = &expr.TextSearch{Descriptor: two, Term: "foo"}
	c.Assert(ts.JoinSQL(), Equals, "INNER JOIN owner ON house.owner_id = owner.id INNER JOIN agent ON house.agent_id = agent.id")
	c.Assert(ts.ConditionSQL(), Equals, "(owner.searchfield::text ILIKE '%foo%' OR agent.searchfield::text ILIKE '%foo%')")

	ts = &expr.TextSearch{Descriptor: one, Term: `o'b\`}
	c.Assert(ts.ConditionSQL(), Equals, `owner.searchfield::text ILIKE  E'%o''b\\%'`)

	w := expr.NewCompiler(nil).Compile(house, F{
		"refSearch": &expr.TextSearch{Descriptor: one, Term: "foo"},
		"price":     1,
	})
	tail := w.Tail()
	c.Assert(tail.SQL, Equals, `INNER JOIN owner ON house.owner_id = owner.id WHERE "house"."price"=? AND owner.searchfield::text ILIKE '%foo%'`)
	c.Assert(tail.Params, DeepEquals, []any{int64(1)})
	c.Assert(w.HasJoins(), Equals, true)

	// A search inside a logical branch is ignored.
	w = expr.NewCompiler(nil).Compile(house, F{
		"and": []any{F{"refSearch": &expr.TextSearch{Descriptor: one, Term: "foo"}}},
	})
	c.Assert(w.Search, IsNil)
	c.Assert(w.Skipped, DeepEquals, []expr.Skip{{Key: "refSearch", Reason: expr.ReasonNestedSearch}})
}

func (s *ExprSuite) TestLiteral(c *C) {
	var tests = []struct {
		value    any
		expected string
	}{
		{nil, "NULL"},
		{"x", "'x'"},
		{"it's", "'it''s'"},
		{`a\b`, ` E'a\\b'`},
		{true, "TRUE"},
		{false, "FALSE"},
		{42, "42"},
		{int64(-3), "-3"},
		{1.5, "1.5"},
		{expr.Raw("now()"), "now()"},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "'2024-01-02T03:04:05Z'"},
		{[]byte("b"), "'b'"},
	}
	for _, t := range tests {
		c.Check(expr.Literal(t.value), Equals, t.expected, Commentf("%#v", t.value))
	}
	c.Assert(expr.Ident(`we"ird`), Equals, `"we""ird"`)
}

func (s *ExprSuite) TestFragment(c *C) {
	f := expr.NewFragment(`"house"."id"=?`, 1)
	f.MergeSQL(" AND ").Merge(expr.NewFragment(`"house"."price" > ?`, 2))
	c.Assert(f.SQL, Equals, `"house"."id"=? AND "house"."price" > ?`)
	c.Assert(f.Params, DeepEquals, []any{1, 2})
	c.Assert(f.Rebind("postgres"), Equals, `"house"."id"=$1 AND "house"."price" > $2`)
	c.Assert(f.Rebind("sqlite3"), Equals, f.SQL)
	c.Assert(expr.NewFragment("").IsEmpty(), Equals, true)
}

func (s *ExprSuite) TestInsert(c *C) {
	f := expr.Insert(house, map[string]any{
		"location": orb.Point{1.5, 2},
		"id":       7,
		"nothing":  true,
	})
	c.Assert(f.SQL, Equals, `INSERT INTO "house" ("id","location") VALUES (?,point(?,?))`)
	c.Assert(f.Params, DeepEquals, []any{int64(7), 1.5, float64(2)})

	f = expr.Insert(house, nil)
	c.Assert(f.SQL, Equals, `INSERT INTO "house" DEFAULT VALUES`)
	c.Assert(f.Params, HasLen, 0)
}

func (s *ExprSuite) TestColumnEscaped(c *C) {
	c.Assert(expr.ColumnEscaped(house, "price"), Equals, `"price"`)
	c.Assert(expr.ColumnEscaped(house, "details.city"), Equals, `"details"->>'city'`)
	c.Assert(expr.ColumnEscaped(house, "unknown.city"), Equals, `"unknown.city"`)
}
