// Package storage selects the persistence backend from configuration and
// exposes it through the contracts the services depend on.
package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-gate/internal/config"
	"github.com/stemsi/exstem-gate/internal/database"
	"github.com/stemsi/exstem-gate/internal/repository"
	"github.com/stemsi/exstem-gate/internal/service"
	"github.com/stemsi/exstem-gate/internal/worker"
)

// LearnerStore is the roster, read and write.
type LearnerStore interface {
	service.LearnerRoster
	service.RosterWriter
}

// AssessmentStore is the content store, read and write.
type AssessmentStore interface {
	service.AssessmentCatalog
	service.AssessmentWriter
}

// GrantStore is the allow-list, read and write.
type GrantStore interface {
	service.GrantReader
	service.GrantWriter
}

// Backend bundles one backend's stores.
type Backend struct {
	Driver      string
	Learners    LearnerStore
	Assessments AssessmentStore
	Grants      GrantStore
	Sessions    service.SessionStore
	Audit       worker.AuditWriter

	ping  func(ctx context.Context) error
	close func()
}

// Ping checks the database connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

// Close releases the backend.
func (b *Backend) Close() {
	b.close()
}

// Open connects the backend named by cfg.DatabaseDriver.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Backend, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver:      config.DriverPostgres,
			Learners:    repository.NewLearnerRepository(pool),
			Assessments: repository.NewAssessmentRepository(pool),
			Grants:      repository.NewAccessGrantRepository(pool),
			Sessions:    repository.NewExamSessionRepository(pool),
			Audit:       repository.NewAuditRepository(pool),
			ping:        pool.Ping,
			close:       pool.Close,
		}, nil

	case config.DriverSQLite:
		store, err := database.NewSQLiteStore(cfg, log)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Driver:      config.DriverSQLite,
			Learners:    store,
			Assessments: store,
			Grants:      store,
			Sessions:    store,
			Audit:       store,
			ping:        store.Ping,
			close:       func() { store.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
}
