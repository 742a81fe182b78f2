// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package pgfilter

import (
	"context"
	"database/sql"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/canonical/pgfilter/internal/expr"
	"github.com/canonical/pgfilter/model"
)

// DB runs compiled filters on a database.
type DB struct {
	// cacheID identifies the database in logs.
	cacheID uint64
	// sqldb is the underlying database.
	sqldb *sqlx.DB
	conn  *Connector
	// cache holds the statements prepared on sqldb.
	cache *statementCache
}

// NewDB creates a new DB from a sql.DB. driverName selects the placeholder
// style of the statements, e.g. "postgres" for $1 or "sqlite3" for ?.
func NewDB(sqldb *sql.DB, driverName string, conn *Connector) *DB {
	if sqldb == nil {
		return nil
	}
	return newDB(sqlx.NewDb(sqldb, driverName), conn)
}

// PlainDB returns the underlying database object.
func (db *DB) PlainDB() *sql.DB {
	return db.sqldb.DB
}

// Close closes the prepared statements and the underlying database.
func (db *DB) Close() error {
	runtime.SetFinalizer(db, nil)
	err := db.cache.close()
	if cerr := db.sqldb.Close(); err == nil {
		err = cerr
	}
	return err
}

// Find returns the instances of the named model matching q. The access
// hooks of the model are run on a copy of q first.
func (db *DB) Find(ctx context.Context, modelName string, q *Query) ([]Instance, error) {
	m, err := db.conn.model(modelName)
	if err != nil {
		return nil, err
	}
	q = db.conn.NotifyAccess(modelName, q)
	w := db.conn.compile(m, q.Where)

	f := expr.NewFragment("SELECT ")
	if w.HasJoins() {
		f.MergeSQL("DISTINCT ")
	}
	f.MergeSQL(expr.ColumnNames(m, q.Fields) + " FROM " + expr.Ident(m.Table))
	if tail := w.Tail(); !tail.IsEmpty() {
		f.MergeSQL(" ").Merge(tail)
	}
	if order := orderBy(m, q.Order); order != "" {
		f.MergeSQL(" ORDER BY " + order)
	}
	if q.Limit > 0 {
		f.MergeSQL(" LIMIT " + strconv.Itoa(q.Limit))
	}
	if q.Skip > 0 {
		f.MergeSQL(" OFFSET " + strconv.Itoa(q.Skip))
	}

	var insts []Instance
	err = db.run(ctx, "find", &f, !w.Inlined(), func(stmt *sqlx.Stmt, args []any) error {
		rows, err := stmt.QueryxContext(ctx, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			inst := Instance{}
			if err := rows.MapScan(inst); err != nil {
				return err
			}
			insts = append(insts, fromColumns(m, inst))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot find %q", modelName)
	}
	return insts, nil
}

// Count returns the number of instances of the named model matching where.
func (db *DB) Count(ctx context.Context, modelName string, where Filter) (int64, error) {
	m, err := db.conn.model(modelName)
	if err != nil {
		return 0, err
	}
	q := db.conn.NotifyAccess(modelName, &Query{Where: where})
	w := db.conn.compile(m, q.Where)

	count := "COUNT(*)"
	if _, ok := m.Property("id"); ok && w.HasJoins() {
		count = "COUNT(DISTINCT " + expr.Ident(m.Table) + "." + expr.ColumnEscaped(m, "id") + ")"
	}
	f := expr.NewFragment("SELECT " + count + " FROM " + expr.Ident(m.Table))
	if tail := w.Tail(); !tail.IsEmpty() {
		f.MergeSQL(" ").Merge(tail)
	}

	var n int64
	err = db.run(ctx, "count", &f, !w.Inlined(), func(stmt *sqlx.Stmt, args []any) error {
		return stmt.QueryRowxContext(ctx, args...).Scan(&n)
	})
	if err != nil {
		return 0, errors.Wrapf(err, "cannot count %q", modelName)
	}
	return n, nil
}

// Save inserts inst into the table of the named model. The before save
// hooks of the model are run on inst first, so inst holds the computed
// values afterwards.
func (db *DB) Save(ctx context.Context, modelName string, inst Instance) error {
	m, err := db.conn.model(modelName)
	if err != nil {
		return err
	}
	if err := db.conn.NotifyBeforeSave(modelName, inst); err != nil {
		return err
	}
	f := expr.Insert(m, inst)
	err = db.run(ctx, "save", &f, true, func(stmt *sqlx.Stmt, args []any) error {
		_, err := stmt.ExecContext(ctx, args...)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "cannot save %q", modelName)
	}
	return nil
}

// run prepares the fragment, rebound to the placeholder style of the
// driver, and passes the statement to exec. The statement is kept in the
// cache of db if cached is true, otherwise it is closed once exec returns.
func (db *DB) run(ctx context.Context, op string, f *Fragment, cached bool, exec func(*sqlx.Stmt, []any) error) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		db.conn.metrics.Queries.WithLabelValues(op, status).Inc()
		db.conn.metrics.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	query := db.sqldb.Rebind(f.SQL)
	db.conn.logger.Debug("running statement", "db", db.cacheID, "op", op, "sql", query, "cached", cached)
	if !cached {
		stmt, err := db.sqldb.PreparexContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		return exec(stmt, f.Params)
	}
	stmt, err := db.cache.prepareStmt(ctx, db.sqldb, query)
	if err != nil {
		return err
	}
	return exec(stmt, f.Params)
}

// orderBy renders the sort keys of a query. Keys that are not properties of
// m are dropped.
func orderBy(m *model.Model, order []string) string {
	var keys []string
	for _, o := range order {
		fields := strings.Fields(o)
		if len(fields) == 0 || len(fields) > 2 {
			continue
		}
		if _, ok := m.Property(fields[0]); !ok {
			continue
		}
		key := expr.Ident(m.Table) + "." + expr.ColumnEscaped(m, fields[0])
		if len(fields) == 2 {
			switch dir := strings.ToUpper(fields[1]); dir {
			case "ASC", "DESC":
				key += " " + dir
			default:
				continue
			}
		}
		keys = append(keys, key)
	}
	return strings.Join(keys, ",")
}

// fromColumns maps the columns of a scanned row back to property names.
// Text read as bytes is converted to strings except for buffer properties.
func fromColumns(m *model.Model, row Instance) Instance {
	byColumn := map[string]model.Property{}
	for _, p := range m.Properties() {
		byColumn[p.ColumnName()] = p
	}
	inst := make(Instance, len(row))
	for col, v := range row {
		p, ok := byColumn[col]
		if !ok {
			inst[col] = v
			continue
		}
		if b, isBytes := v.([]byte); isBytes && p.Type != model.Buffer {
			v = string(b)
		}
		inst[p.Name] = v
	}
	return inst
}
