// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	. "gopkg.in/check.v1"

	"github.com/canonical/pgfilter/model"
)

type ParserSuite struct{}

var _ = Suite(&ParserSuite{})

var person = model.New("Person",
	model.Property{Name: "name", Type: model.String},
	model.Property{Name: "address", Type: model.Object},
	model.Property{Name: "odd__name", Type: model.String},
).WithRelations(model.Relation{Name: "team", KeyFrom: "team_id", To: "Team", KeyTo: "id"})

func (s *ParserSuite) TestParseKey(c *C) {
	d, _ := NewDescriptor(person, []string{"team"}, "searchfield")

	var tests = []struct {
		key      string
		value    any
		expected string
	}{
		{"and", []any{map[string]any{}}, "Logical[and 1]"},
		{"or", []map[string]any{{}, {}}, "Logical[or 2]"},
		{"and", "x", "Unknown[and: unknown property]"},
		{"name", "x", "Column[name]"},
		{"odd__name", "x", "Column[odd__name]"},
		{"team__name", "x", "Relation[team.name ]"},
		{"team__name__nexist", "x", "Relation[team.name nexist]"},
		{"team__name__a__b", "x", "Relation[team.name a__b]"},
		{"squad__name", "x", "Unknown[squad__name: unknown relation]"},
		{"team__name=1 OR 1=1) --__eq", "x", "Unknown[team__name=1 OR 1=1) --__eq: invalid relation field]"},
		{"team__", "x", "Unknown[team__: invalid relation field]"},
		{"address.first__name", "x", "Nested[address first__name]"},
		{"nowhere.first__name", "x", "Unknown[nowhere.first__name: unknown relation]"},
		{"address.city", "x", "Nested[address city]"},
		{"address.city.zip", "x", "Nested[address city.zip]"},
		{"nowhere.city", "x", "Unknown[nowhere.city: unknown property]"},
		{"refSearch", &TextSearch{Descriptor: d, Term: "x"}, `Search[1 "x"]`},
		{"refSearch", &TextSearch{}, "Unknown[refSearch: invalid text search]"},
		{"$text", map[string]any{"search": "x"}, "Unknown[$text: unknown property]"},
	}
	for _, t := range tests {
		c.Check(parseKey(person, t.key, t.value).String(), Equals, t.expected, Commentf("key %q", t.key))
	}
}

func (s *ParserSuite) TestAsList(c *C) {
	l, ok := asList([]int{1, 2})
	c.Assert(ok, Equals, true)
	c.Assert(l, DeepEquals, []any{1, 2})

	_, ok = asList([]byte("ab"))
	c.Assert(ok, Equals, false)
	_, ok = asList([2]float64{1, 2})
	c.Assert(ok, Equals, false)
	_, ok = asList(nil)
	c.Assert(ok, Equals, false)
}

func (s *ParserSuite) TestJSONPath(c *C) {
	c.Assert(jsonPath("address", []string{"city"}), Equals, `"address"->>'city'`)
	c.Assert(jsonPath("address", []string{"city", "zip"}), Equals, `"address"->'city'->>'zip'`)
	c.Assert(jsonPath("address", []string{"it's"}), Equals, `"address"->>'it''s'`)
}
