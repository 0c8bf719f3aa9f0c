// Package migrations embeds the goose SQL migrations for the auth schema.
package migrations

import "embed"

// FS holds the versioned SQL migration files.
//
//go:embed *.sql
var FS embed.FS
