// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package pgfilter compiles JSON-style where filters into parameterised
PostgreSQL and adds a text search over related tables to models that ask for
it.

# Filters

A filter is a map keyed by property names. A plain value is compared for
equality, nil matches NULL and a map applies an operator:

	pgfilter.Filter{
		"name":  "Fred",
		"team":  nil,
		"age":   pgfilter.Filter{"between": []any{20, 40}},
		"email": pgfilter.Filter{"ilike": "%@example.com"},
	}

compiles, for the model Person, to

	WHERE "person"."age" BETWEEN ? AND ? AND "person"."email" ILIKE ? AND "person"."name"=? AND "person"."team" IS NULL

with the parameters [20 40 %@example.com Fred]. Keys are compiled in lexical
order so that filters of the same shape always render the same SQL.

The operators are eq, neq, gt, gte, lt, lte, between, inq, nin, like, nlike,
ilike, nilike, regexp and native. The value of native is trusted SQL and is
embedded verbatim, as is any value of type [Raw].

The keys and and or take a list of filters, each compiled in parentheses:

	pgfilter.Filter{"or": []any{
		pgfilter.Filter{"age": pgfilter.Filter{"lt": 18}},
		pgfilter.Filter{"age": pgfilter.Filter{"gt": 65}},
	}}

A dotted key whose first segment is a JSON property filters on a path into
the JSON document: "address.city" becomes "address"->>'city'.

A key of the form relation__field filters on a field of a related model by
joining its table. The form relation__field__nexist keeps only the rows
without such a related row.

Keys that cannot be compiled, such as unknown properties or empty operator
maps, are skipped. They are listed in [Where.Skipped] and logged at debug
level; compilation never fails because of the content of a filter.

# Text search

[Connector.ApplySearch] enables a text search on a model. When an instance is
saved, the configured fields are lowercased and concatenated into the search
column. When the model is read, a filter key $text is rewritten:

	pgfilter.Filter{"$text": pgfilter.Filter{"search": "Fred"}}

matches the search column of the model with ILIKE or, if the search was
applied with joins, the search columns of the related tables:

	INNER JOIN team ON person.team_id = team.id WHERE team.searchfield::text ILIKE '%fred%'

The join topology is computed once per model and shared by all queries; the
search term belongs to the query alone, so concurrent searches on the same
model do not interfere.

# Running queries

[DB] runs filters on a database/sql database. Statements are rebound to the
placeholder style of the driver and prepared once per SQL text.
*/
package pgfilter
