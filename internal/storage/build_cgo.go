//go:build sqlite_vec && !purego

package storage

// This file is compiled when building with CGO and the sqlite_vec tag.
// It registers the sqlite-vec extension so exact vector search runs in SQL.
//
// Build command:
//   CGO_ENABLED=1 go build -tags sqlite_vec ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

func init() {
	sqlite_vec.Auto()
}

// encodeVector uses the extension's own float32 layout
func encodeVector(v []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(v)
}
