// Package database provides SQLite connectivity for Ember Core.
//
// It wraps database/sql with lifecycle management (directory creation,
// WAL mode, busy timeout, restrictive file permissions), a health check,
// and an embedded-filesystem migration runner.
//
// # Migrations
//
// Migration files live in the top-level migrations/ package and are
// embedded into the binary. Filenames follow the pattern:
//
//	YYYYMMDD_HHMMSS_description.up.sql
//	YYYYMMDD_HHMMSS_description.down.sql
//
// Each migration is applied in its own transaction, in version order.
//
// # Usage
//
//	db, err := database.Open(ctx, database.Config{Path: "data/embercore.db", WALMode: true, BusyTimeout: 5})
//	if err != nil { ... }
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil { ... }
package database
