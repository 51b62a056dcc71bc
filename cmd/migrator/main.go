package main

import (
	"database/sql"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/technosupport/ts-fms/internal/config"
)

// Applies the detect_session/detect_tick schema from db/migrations.
func main() {
	up := flag.Bool("up", false, "apply all pending migrations")
	down := flag.Bool("down", false, "roll back all migrations")
	steps := flag.Int("steps", 0, "apply +/- N migrations")
	flag.Parse()

	cfg := config.FromEnv()
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "db/migrations"
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatalf("[Migrator] open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("[Migrator] ping database: %v", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("[Migrator] migrate driver: %v", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		log.Fatalf("[Migrator] init: %v", err)
	}

	start := time.Now()
	switch {
	case *up:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("[Migrator] up failed: %v", err)
		}
		log.Printf("[Migrator] up done in %v", time.Since(start))
	case *down:
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("[Migrator] down failed: %v", err)
		}
		log.Printf("[Migrator] down done in %v", time.Since(start))
	case *steps != 0:
		if err := m.Steps(*steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("[Migrator] steps failed: %v", err)
		}
		log.Printf("[Migrator] %d steps done in %v", *steps, time.Since(start))
	default:
		version, dirty, err := m.Version()
		if err != nil {
			log.Println("[Migrator] no version recorded (empty database?)")
			return
		}
		log.Printf("[Migrator] current version %d, dirty=%v", version, dirty)
	}
}
