package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/config"
	"github.com/stemsi/exstem-gate/internal/logger"
)

func main() {
	var (
		migrationDir string
		confirm      bool
	)
	flag.StringVar(&migrationDir, "path", "migrations", "Path to migration files")
	flag.BoolVar(&confirm, "yes", false, "Confirm destructive commands (down, steps with a negative count)")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(os.Stderr, cfg.LogFormat).With().Str("component", "migrate").Logger()

	// The SQLite backend creates its schema when the store is opened.
	if cfg.DatabaseDriver != config.DriverPostgres {
		log.Fatal().Str("driver", cfg.DatabaseDriver).Msg("migrate only targets PostgreSQL")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set")
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		return
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationDir), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed to initialize")
	}
	defer m.Close()

	switch args[0] {
	case "up":
		check(log, "up", m.Up())
	case "down":
		requireConfirm(log, confirm, "down drops exam sessions and submission records")
		check(log, "down", m.Down())
	case "steps":
		if len(args) < 2 {
			log.Fatal().Msg("steps requires a count")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid step count")
		}
		if n < 0 {
			requireConfirm(log, confirm, "negative steps roll back schema")
		}
		check(log, "steps", m.Steps(n))
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("Version: none")
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Version failed")
		}
		fmt.Printf("Version: %d, Dirty: %t\n", version, dirty)
	case "force":
		if len(args) < 2 {
			log.Fatal().Msg("force requires version argument")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid version")
		}
		if err := m.Force(v); err != nil {
			log.Fatal().Err(err).Msg("Force failed")
		}
		log.Info().Int("version", v).Msg("Forced version")
	default:
		printUsage()
	}
}

func check(log zerolog.Logger, command string, err error) {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info().Str("command", command).Msg("Schema already current")
	case err != nil:
		log.Fatal().Err(err).Str("command", command).Msg("Migration failed")
	default:
		log.Info().Str("command", command).Msg("Migration applied")
	}
}

func requireConfirm(log zerolog.Logger, confirm bool, reason string) {
	if !confirm {
		log.Fatal().Msg(reason + "; rerun with -yes")
	}
}

func printUsage() {
	fmt.Println("Usage: migrate [flags] <command>")
	fmt.Println("Commands: up, down, steps <n>, version, force <version>")
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
