package database

import "embed"

// MigrationFS holds the user-store schema migrations.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
