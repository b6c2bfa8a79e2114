package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"realtor/ingest/config"
	"realtor/ingest/internal/database"
)

// errSourcesFailed is returned when at least one requested source failed or
// was refused. Each failure has already been logged.
var errSourcesFailed = errors.New("one or more sources failed")

type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	out    io.Writer
}

func newApp(cfg *config.Config, logger *logrus.Logger, out io.Writer) *app {
	return &app{cfg: cfg, logger: logger, out: out}
}

// configureLogger applies the configured level and format.
func (a *app) configureLogger() error {
	level, err := logrus.ParseLevel(a.cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", a.cfg.Log.Level, err)
	}
	a.logger.SetLevel(level)

	switch a.cfg.Log.Format {
	case "json", "":
		a.logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		a.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", a.cfg.Log.Format)
	}
	return nil
}

// openStore connects to the configured store and brings the schema up to date.
func (a *app) openStore() (*database.Database, error) {
	a.logger.WithField("driver", database.Driver(a.cfg.DatabaseURL)).Info("Connecting to store")
	store, err := database.Open(a.cfg.DatabaseURL, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	a.logger.Info("Running database migrations...")
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}
