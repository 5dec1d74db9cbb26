// Command migrator applies the schema migrations under db/migrations.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

func main() {
	up := flag.Bool("up", false, "apply all pending migrations")
	down := flag.Bool("down", false, "roll every migration back")
	steps := flag.Int("steps", 0, "apply a signed number of migrations")
	dir := flag.String("dir", "db/migrations", "migrations directory")
	flag.Parse()

	db, err := sql.Open("postgres", dsn())
	if err != nil {
		log.Fatalf("[Migrator] [ERROR] open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("[Migrator] [ERROR] ping database: %v", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("[Migrator] [ERROR] migrate driver: %v", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+*dir, "postgres", driver)
	if err != nil {
		log.Fatalf("[Migrator] [ERROR] load migrations from %s: %v", *dir, err)
	}

	start := time.Now()
	switch {
	case *up:
		apply("up", m.Up)
	case *down:
		apply("down", m.Down)
	case *steps != 0:
		apply(fmt.Sprintf("%+d steps", *steps), func() error { return m.Steps(*steps) })
	default:
		version, dirty, err := m.Version()
		if err != nil {
			log.Printf("[Migrator] no schema version recorded (empty database?)")
		} else {
			log.Printf("[Migrator] schema version %d (dirty=%v)", version, dirty)
		}
		log.Printf("[Migrator] nothing to do; pass -up, -down or -steps N")
		return
	}
	log.Printf("[Migrator] done in %s", time.Since(start).Round(time.Millisecond))
}

func apply(name string, fn func() error) {
	log.Printf("[Migrator] running %s", name)
	if err := fn(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Printf("[Migrator] %s: schema already current", name)
			return
		}
		log.Fatalf("[Migrator] [ERROR] %s: %v", name, err)
	}
}

func dsn() string {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	dbname := getEnv("DB_NAME", "siteguard")
	sslmode := getEnv("DB_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, dbname, sslmode)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
