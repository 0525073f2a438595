package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"hashcrash/internal/database"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"
)

const DEFAULT_MIGRATIONS_PATH = "./migrations"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	migrationsPath := getEnv("MIGRATIONS_PATH", DEFAULT_MIGRATIONS_PATH)

	if err := run(os.Args[1], migrationsPath); err != nil {
		log.Fatalf("[MIGRATE] %v", err)
	}
}

func run(command, migrationsPath string) error {
	switch command {
	case "up":
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		log.Println("[MIGRATE] applying pending migrations")
		if err := database.RunMigrations(db, migrationsPath); err != nil {
			return fmt.Errorf("up: %w", err)
		}
		log.Println("[MIGRATE] schema is up to date")
		return nil

	case "down":
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		log.Println("[MIGRATE] rolling back one migration")
		if err := database.RollbackMigration(db, migrationsPath); err != nil {
			return fmt.Errorf("down: %w", err)
		}
		log.Println("[MIGRATE] rollback done")
		return nil

	case "version":
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		version, dirty, err := database.GetMigrationVersion(db, migrationsPath)
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}
		if dirty {
			log.Printf("[MIGRATE] at version %d, DIRTY: fix the schema and force the version by hand", version)
		} else {
			log.Printf("[MIGRATE] at version %d", version)
		}
		return nil

	case "create":
		if len(os.Args) < 3 {
			return fmt.Errorf("create needs a name, e.g. migrate create add_bets_table")
		}
		return createMigration(migrationsPath, os.Args[2])

	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func openDB() (*sql.DB, error) {
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
		getEnv("BLUEPRINT_DB_PASSWORD", "postgres"),
		getEnv("BLUEPRINT_DB_HOST", "localhost"),
		getEnv("BLUEPRINT_DB_PORT", "5432"),
		getEnv("BLUEPRINT_DB_DATABASE", "crashdb"),
		getEnv("BLUEPRINT_DB_SCHEMA", "public"),
	)

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return db, nil
}

// createMigration writes a numbered up/down pair next to the existing
// files. The next version is one past the highest version already on
// disk, so gaps from deleted migrations are never reused.
func createMigration(migrationsPath, name string) error {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", migrationsPath, err)
	}

	highest := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		if v, err := strconv.Atoi(parts[0]); err == nil && v > highest {
			highest = v
		}
	}
	next := highest + 1

	upFile := fmt.Sprintf("%s/%06d_%s.up.sql", migrationsPath, next, name)
	downFile := fmt.Sprintf("%s/%06d_%s.down.sql", migrationsPath, next, name)

	if err := os.WriteFile(upFile, []byte(fmt.Sprintf("-- %s\n", name)), 0644); err != nil {
		return fmt.Errorf("write up migration: %w", err)
	}
	if err := os.WriteFile(downFile, []byte(fmt.Sprintf("-- revert %s\n", name)), 0644); err != nil {
		return fmt.Errorf("write down migration: %w", err)
	}

	log.Printf("[MIGRATE] created %s", upFile)
	log.Printf("[MIGRATE] created %s", downFile)
	return nil
}

func printUsage() {
	fmt.Println("hashcrash schema migrator")
	fmt.Println()
	fmt.Println("Manages the Postgres tables behind round history and fairness")
	fmt.Println("verification (see migrations/ for the current set).")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  migrate up              Apply all pending migrations")
	fmt.Println("  migrate down            Roll back the most recent migration")
	fmt.Println("  migrate version         Print the current schema version")
	fmt.Println("  migrate create <name>   Write an empty up/down migration pair")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  BLUEPRINT_DB_HOST       Postgres host (default: localhost)")
	fmt.Println("  BLUEPRINT_DB_PORT       Postgres port (default: 5432)")
	fmt.Println("  BLUEPRINT_DB_DATABASE   Database name (default: crashdb)")
	fmt.Println("  BLUEPRINT_DB_USERNAME   Database user (default: postgres)")
	fmt.Println("  BLUEPRINT_DB_PASSWORD   Database password (default: postgres)")
	fmt.Println("  BLUEPRINT_DB_SCHEMA     Schema / search_path (default: public)")
	fmt.Println("  MIGRATIONS_PATH         Migration directory (default: ./migrations)")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
