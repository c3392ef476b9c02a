package database

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/config"
	"github.com/stemsi/exstem-gate/internal/repository/sqlitestore"
)

// NewSQLiteStore opens the embedded single-node backend.
func NewSQLiteStore(cfg *config.Config, log zerolog.Logger) (*sqlitestore.Store, error) {
	store, err := sqlitestore.New(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	log.Info().
		Str("path", cfg.SQLitePath).
		Msg("SQLite opened")

	return store, nil
}
