// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package example

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	_ "github.com/mattn/go-sqlite3"

	"github.com/canonical/pgfilter"
	"github.com/canonical/pgfilter/model"
)

type Location struct {
	ID   int    `db:"room_id"`
	Name string `db:"name"`
}

type Person struct {
	Name   string `db:"name"`
	ID     int    `db:"id"`
	Team   string `db:"team"`
	RoomID int    `db:"room_id"`
}

// Run fills an in-memory database with people and rooms, then prints the
// results of a few filters to w.
func Run(ctx context.Context, w io.Writer) error {
	sqldb, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return err
	}
	sqldb.SetMaxOpenConns(1)
	_, err = sqldb.ExecContext(ctx, `
	CREATE TABLE person (
		name text,
		id integer,
		team text,
		room_id integer,
		searchfield text
	);
	CREATE TABLE location (
		room_id integer,
		name text
	)`)
	if err != nil {
		return err
	}

	personModel, err := model.FromStruct("Person", Person{}, model.Relation{
		Name:    "location",
		Type:    model.BelongsTo,
		KeyFrom: "room_id",
		To:      "Location",
		KeyTo:   "room_id",
	})
	if err != nil {
		return err
	}
	locationModel, err := model.FromStruct("Location", Location{})
	if err != nil {
		return err
	}
	models := model.NewRegistry(personModel, locationModel)
	conn := pgfilter.NewConnector(models, pgfilter.Options{})
	err = conn.ApplySearch("Person", pgfilter.SearchOptions{Fields: []string{"name", "team"}})
	if err != nil {
		return err
	}
	db := pgfilter.NewDB(sqldb, "sqlite3", conn)
	defer db.Close()

	var people = []Person{
		{"Alastair", 1, "engineering", 1},
		{"Ed", 2, "engineering", 1},
		{"Marco", 3, "engineering", 1},
		{"Pedro", 4, "management", 19},
		{"Serdar", 5, "presentation engineering", 34},
		{"Joe", 6, "marketing", 66},
		{"Ben", 7, "legal", 7},
	}
	for _, p := range people {
		inst := pgfilter.Instance{"name": p.Name, "id": p.ID, "team": p.Team, "room_id": p.RoomID}
		if err := db.Save(ctx, "Person", inst); err != nil {
			return err
		}
	}
	var locations = []Location{
		{1, "Basement"},
		{34, "Floor 2"},
		{19, "Floor 3"},
		{66, "The Market"},
		{7, "Court"},
	}
	for _, l := range locations {
		if err := db.Save(ctx, "Location", pgfilter.Instance{"room_id": l.ID, "name": l.Name}); err != nil {
			return err
		}
	}

	// Find the engineers.
	engineers, err := db.Find(ctx, "Person", &pgfilter.Query{
		Where: pgfilter.Filter{"team": pgfilter.Filter{"like": "%engineering"}},
		Order: []string{"id"},
	})
	if err != nil {
		return err
	}
	for _, p := range engineers {
		fmt.Fprintf(w, "%s, ", p["name"])
	}
	fmt.Fprintln(w, "are engineers.")

	// Find who sits on a floor through the location relation.
	upstairs, err := db.Find(ctx, "Person", &pgfilter.Query{
		Where: pgfilter.Filter{"location__name": "Floor 3"},
	})
	if err != nil {
		return err
	}
	for _, p := range upstairs {
		fmt.Fprintf(w, "%s is on Floor 3.\n", p["name"])
	}

	// The search column was filled in on save.
	n, err := db.Count(ctx, "Person", pgfilter.Filter{"searchfield": "marco engineering"})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d person matches the search value of Marco.\n", n)
	return nil
}
