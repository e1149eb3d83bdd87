// Package repository is the durable side of the reservation system: trips,
// seats, confirmed bookings and pending checkout drafts, stored in MySQL.
// These sentinel values let handlers tell failure kinds apart.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a row addressed by id or token does not
// exist.  Handlers translate it into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write collides with existing state, such as
// booking a seat that is already sold.  Handlers translate it into an HTTP
// 409 response.
var ErrConflict = errors.New("conflict")

// isDuplicateKey reports whether err is a unique-key violation.  The SQLite
// message form is matched too since tests run against SQLite.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
