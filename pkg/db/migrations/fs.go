package migrations

import "embed"

// FS exposes the migration sources so goose can match registered Go
// migrations by file name without depending on the working directory.
//
//go:embed *.go
var FS embed.FS
