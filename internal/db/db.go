package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Connect opens the local store and runs migrations. driver is "postgres" or
// "sqlite3".
func Connect(driver, dsn string) (*sqlx.DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if driver == DriverSQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Migrate creates the credential and message archive tables.
func Migrate(db *sqlx.DB) error {
	ts := "TIMESTAMP"
	if db.DriverName() == DriverPostgres {
		ts = "TIMESTAMPTZ"
	}

	migrations := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS credentials (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at %s NOT NULL
        );`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
            id TEXT NOT NULL,
            room_id TEXT NOT NULL,
            client_id TEXT NOT NULL DEFAULT '',
            sender_id TEXT NOT NULL,
            text TEXT NOT NULL,
            sent_at %[1]s NOT NULL,
            deleted_at %[1]s NULL,
            status TEXT NOT NULL DEFAULT 'sent',
            PRIMARY KEY(room_id, id)
        );`, ts),
		`CREATE INDEX IF NOT EXISTS messages_room_sent_at ON messages (room_id, sent_at);`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Printf("database migrations applied driver=%s", db.DriverName())
	return nil
}
