// Package storage provides the PostgreSQL connection and schema migration
// helpers shared by the user, livestream, and violation stores. It also
// defines ErrUnavailable, the sentinel wrapped by every store when the
// database cannot be reached — moderation fails closed on it.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// ErrUnavailable indicates the persistence layer could not serve the request.
// Callers in the moderation path must treat it as fail-closed: the message is
// neither delivered nor silently dropped.
var ErrUnavailable = errors.New("storage unavailable")

// Open connects to PostgreSQL using the given DSN and verifies the
// connection with a ping.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return db, nil
}

// Migrate applies all pending migrations from sourceURL (e.g.
// "file://migrations") against the given database handle.
func Migrate(db *sql.DB, sourceURL string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("storage: migrate driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return fmt.Errorf("storage: migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storage: migrate up: %w", err)
	}
	return nil
}

// Unavailable wraps a database error with ErrUnavailable so that callers can
// detect persistence outages with errors.Is regardless of the store that
// produced them.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
}
