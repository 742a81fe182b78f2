// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package expr compiles filter expressions into parameterized SQL for
PostgreSQL. It covers everything between a filter map and the SQL text handed
to the driver; it never talks to a database.

Compilation is split up into three stages: the Key Parsing stage, the
Coercion stage, and the Emission stage.

# Key Parsing stage

Every key of a filter is parsed, against the model metadata, into a keyPart:
a logical connective (and/or), a relation operator (relation__field__op), a
column, a JSON path into a column (a.b.c), a text search, or an unknown key.
The compiler dispatches on the part kind rather than on the raw key string.

# Coercion stage

Filter values are coerced to the declared type of the property they are
compared with. Coercion never fails: values that cannot be converted are
passed through to the driver unchanged, and it is the database that rejects
them.

# Emission stage

Each part produces a Fragment: SQL text with ? placeholders and the ordered
parameters for them. Fragments are merged by concatenating their SQL and
appending their parameters, which keeps placeholders and parameters in step.
Text that has to be inlined rather than bound (raw native expressions, join
conditions and text search patterns) is always quoted by Literal and Ident.

Keys the compiler cannot use are never an error. They are skipped, reported
in Where.Skipped and logged at debug level.
*/
package expr
