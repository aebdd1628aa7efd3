// Package db holds the optional audit-log store: when AUDIT_MYSQL_DSN
// is set, internal/logbus persists every request_events row here for
// durable querying outside the in-memory ring buffer. The gateway runs
// fine with this package entirely unused.
package db

import (
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Open connects to the audit database and verifies it's reachable.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

