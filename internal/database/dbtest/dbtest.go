// Package dbtest opens throwaway SQLite databases carrying the reservation
// tables, for tests of code that talks to MySQL through database/sql.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite" // register the sqlite driver
)

// schema mirrors database/schema.sql in SQLite syntax.
const schema = `
CREATE TABLE trips (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	bus_id      INTEGER NOT NULL,
	total_seats INTEGER NOT NULL,
	departs_at  DATETIME NOT NULL,
	status      TEXT NOT NULL DEFAULT 'SCHEDULED'
);
CREATE TABLE seats (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	bus_id INTEGER NOT NULL,
	label  TEXT NOT NULL,
	UNIQUE (bus_id, label)
);
CREATE TABLE bookings (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_token TEXT NOT NULL,
	customer_id   TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);
CREATE TABLE booking_seats (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	booking_id INTEGER NOT NULL,
	trip_id    INTEGER NOT NULL,
	seat_id    INTEGER NOT NULL,
	UNIQUE (trip_id, seat_id)
);
CREATE TABLE checkout_drafts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_token TEXT NOT NULL,
	customer_id   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	pending_token TEXT UNIQUE,
	created_at    DATETIME NOT NULL
);
CREATE TABLE checkout_draft_items (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	draft_id INTEGER NOT NULL,
	trip_id  INTEGER NOT NULL,
	seat_id  INTEGER NOT NULL,
	UNIQUE (draft_id, trip_id, seat_id)
);
`

// Open returns a database with empty reservation tables.  It is closed when
// the test ends.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// Fixture is a small seat map: one bus with seats A1..A<n> running trips.
type Fixture struct {
	BusID   int64
	SeatIDs []int64
	TripIDs []int64
}

// Seed inserts a bus with seats labelled A1..A<seats> and the given number of
// trips, each selling every seat.
func Seed(t testing.TB, db *sql.DB, seats, trips int) Fixture {
	t.Helper()
	f := Fixture{BusID: 1}
	for i := 1; i <= seats; i++ {
		res, err := db.Exec(`INSERT INTO seats (bus_id, label) VALUES (?, ?)`, f.BusID, "A"+strconv.Itoa(i))
		if err != nil {
			t.Fatalf("seed seat: %v", err)
		}
		id, _ := res.LastInsertId()
		f.SeatIDs = append(f.SeatIDs, id)
	}
	departs := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	for i := 0; i < trips; i++ {
		res, err := db.Exec(`INSERT INTO trips (bus_id, total_seats, departs_at) VALUES (?, ?, ?)`,
			f.BusID, seats, departs.Add(time.Duration(i)*24*time.Hour))
		if err != nil {
			t.Fatalf("seed trip: %v", err)
		}
		id, _ := res.LastInsertId()
		f.TripIDs = append(f.TripIDs, id)
	}
	return f
}
