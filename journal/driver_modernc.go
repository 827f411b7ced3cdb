//go:build !cgo_sqlite

package journal

import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// dsn formats pragmas as _pragma=key(value) query parameters.
func dsn(path string, pragmas [][2]string) string {
	s := path
	for i, p := range pragmas {
		if i == 0 {
			s += "?"
		} else {
			s += "&"
		}
		s += "_pragma=" + p[0] + "(" + p[1] + ")"
	}
	return s
}
