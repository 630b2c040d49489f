// Package database provides SQLite connectivity for the tracker database.
//
// This package manages:
//   - Opening the database with foreign keys enforced and optional WAL mode
//   - Embedded schema migrations (see the migrations package)
//   - Transaction helpers used by the credential store
//
// The pool is limited to one connection. Repositories that run several
// statements inside WithTx or WithReadTx must use the supplied *sql.Tx for
// every statement.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
