//go:build purego || !sqlite_vec

package storage

// This file is compiled when building without CGO or with the purego tag.
// It uses a pure Go SQLite implementation without the sqlite-vec extension;
// exact vector search ranks in Go.
//
// Build command:
//   CGO_ENABLED=0 go build -tags purego ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

// encodeVector writes little-endian float32s, the same layout sqlite-vec uses
func encodeVector(v []float32) ([]byte, error) {
	return packVector(v), nil
}
