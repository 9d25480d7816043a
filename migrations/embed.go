package migrations

import "embed"

// Files exposes embedded SQL migration files, one directory per SQL dialect,
// applied in lexicographical order.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
