// Package database provides SQLite connectivity for the deskpilot run log.
//
// This package manages:
//   - Database connection with WAL mode (API reads during run writes)
//   - Embedded, additive-only schema migrations
//   - Health checks for the /health endpoint
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements. The database file is created
// with 0600 permissions because typed text in action parameters may be
// sensitive.
package database
