//go:build cgo_sqlite

package journal

import (
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

// dsn formats pragmas as _key=value query parameters.
func dsn(path string, pragmas [][2]string) string {
	s := path
	for i, p := range pragmas {
		if i == 0 {
			s += "?"
		} else {
			s += "&"
		}
		s += "_" + p[0] + "=" + p[1]
	}
	return s
}
