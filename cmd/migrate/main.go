// Command migrate applies the PostgreSQL schema migrations. It exists so
// deployments can run migrations as a separate step instead of setting
// AUTO_MIGRATE on the server.
package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var (
		source = flag.String("source", "file://migrations", "migration source URL")
		steps  = flag.Int("steps", 0, "number of steps to migrate (0 = all the way up)")
		down   = flag.Bool("down", false, "migrate down instead of up")
	)
	flag.Parse()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	m, err := migrate.New(*source, dsn)
	if err != nil {
		log.Fatalf("migrate init: %v", err)
	}
	defer m.Close()

	switch {
	case *steps != 0:
		err = m.Steps(*steps)
	case *down:
		err = m.Down()
	default:
		err = m.Up()
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("no pending migrations")
		return
	}
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		log.Fatalf("migrate version: %v", err)
	}
	log.Printf("migrated to version %d (dirty=%v)", version, dirty)
}
