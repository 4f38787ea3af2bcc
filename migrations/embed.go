// Package migrations embeds the connector's SQL migrations into the binary.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var files embed.FS

// FS returns the embedded migrations, files at the root.
func FS() fs.FS {
	return files
}
