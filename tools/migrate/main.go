package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"

	"github.com/agendapro/agendapro/db/migrations"
	"github.com/agendapro/agendapro/libs/config"
	"github.com/agendapro/agendapro/libs/runtime"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Usage:
//
//	migrate            apply all pending migrations
//	migrate down 1     roll back one step
//	migrate force 3    mark version 3 as applied after a failed run
func main() {
	_ = config.LoadDotEnv()
	logger := runtime.NewLogger("migrate", config.String("LOG_LEVEL", "info"))

	databaseURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("config error", "err", err)
		os.Exit(1)
	}

	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		logger.Error("open db", "err", err)
		os.Exit(1)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := sqlDB.Ping(); err != nil {
		logger.Error("ping db", "err", err)
		os.Exit(1)
	}

	dbDriver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		logger.Error("db driver", "err", err)
		os.Exit(1)
	}
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Error("source driver", "err", err)
		os.Exit(1)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Error("create migrator", "err", err)
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	if err := run(m, os.Args[1:]); err != nil {
		logger.Error("migration failed", "err", err)
		os.Exit(1)
	}
	version, dirty, _ := m.Version()
	logger.Info("migrations complete", "version", version, "dirty", dirty)
}

func run(m *migrate.Migrate, args []string) error {
	if len(args) == 0 || args[0] == "up" {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	}
	if len(args) < 2 {
		return errors.New("usage: migrate [up | down <steps> | force <version>]")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	switch args[0] {
	case "down":
		if err := m.Steps(-n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	case "force":
		return m.Force(n)
	default:
		return errors.New("unknown command " + strconv.Quote(args[0]))
	}
}
