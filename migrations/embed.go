// Package migrations embeds the run log schema into the binary.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory.
// Pass it to database.DB.Migrate with dir ".".
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS containing the migration files.
const Dir = "."
