//go:build !sqlite_cgo

package datasource

// Pure Go SQLite, no C compiler required:
//   CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver the catalog is opened with
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
