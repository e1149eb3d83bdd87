package repository

import (
	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/mysql" // register the mysql dialect
)

// dialect builds prepared statements with "?" placeholders.
var dialect = goqu.Dialect("mysql")

func int64sToAny(ids []int64) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
