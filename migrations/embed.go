// Package migrations embeds the PostgreSQL schema so the server and CLI can
// migrate regardless of working directory.
package migrations

import "embed"

// FS holds every .sql file in this directory, applied in name order.
//
//go:embed *.sql
var FS embed.FS
