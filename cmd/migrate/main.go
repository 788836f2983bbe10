package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"postmesh/config"
	"postmesh/pkg/database"
)

const usage = `
Postmesh - Database CLI Tool

Usage:
  migrate [command]

Commands:
  up          Apply all pending migrations
  down        Roll back every migration (drops all tables)
  status      Show connectivity, schema version and table presence

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate status
  go run ./cmd/migrate down
`

func main() {
	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.LoadConfig("migrate", "")

	switch command := flag.Arg(0); command {
	case "up":
		runMigrationsUp(cfg)
	case "down":
		runMigrationsDown(cfg)
	case "status":
		showStatus(cfg)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp(cfg *config.Config) {
	log.Println("Running migrations UP...")

	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("Migrations completed successfully")
}

func runMigrationsDown(cfg *config.Config) {
	log.Println("Rolling back migrations...")

	if err := database.MigrateDown(cfg.DatabaseURL()); err != nil {
		log.Fatalf("Rollback failed: %v", err)
	}

	log.Println("Rollback completed successfully")
}

func showStatus(cfg *config.Config) {
	log.Println("Checking database status...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("Database connection: OK")

	version, dirty, ok, err := database.MigrationVersion(cfg.DatabaseURL())
	switch {
	case err != nil:
		log.Printf("Could not read schema version: %v", err)
	case !ok:
		log.Println("Schema version: none (no migrations applied)")
	case dirty:
		log.Printf("Schema version: %d (DIRTY, fix manually before migrating)", version)
	default:
		log.Printf("Schema version: %d", version)
	}

	for _, table := range database.ManagedTables {
		exists, err := database.TableExists(ctx, pool, table)
		if err != nil {
			log.Printf("Error checking table %s: %v", table, err)
			continue
		}
		if exists {
			count, _ := database.TableCount(ctx, pool, table)
			log.Printf("Table %-20s exists (%d rows)", table, count)
		} else {
			log.Printf("Table %-20s does not exist", table)
		}
	}

	if err := database.HealthCheck(ctx, pool); err != nil {
		log.Printf("Health check warning: %v", err)
	} else {
		log.Println("Health check: PASSED")
	}
}
