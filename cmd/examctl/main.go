// Command examctl administers the roster, assessment content and access
// grants, and prints completion status.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stemsi/exstem-gate/internal/cache"
	"github.com/stemsi/exstem-gate/internal/config"
	"github.com/stemsi/exstem-gate/internal/database"
	"github.com/stemsi/exstem-gate/internal/logger"
	"github.com/stemsi/exstem-gate/internal/service"
	"github.com/stemsi/exstem-gate/internal/storage"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "examctl",
		Short:         "Administer ExStem Gate rosters, assessments and grants",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	f := root.PersistentFlags()
	f.String("driver", "", "Database driver (postgres, sqlite); defaults to DATABASE_DRIVER")
	f.String("database-url", "", "PostgreSQL URL; defaults to DATABASE_URL")
	f.String("sqlite-path", "", "SQLite path; defaults to SQLITE_PATH")
	f.String("redis-url", "", "Redis URL used to invalidate cached assessments; defaults to REDIS_URL")
	f.String("log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(learnersCmd(), assessmentsCmd(), grantsCmd(), statusCmd(), hashKeyCmd())
	return root
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())
	_ = v.BindPFlags(cmd.InheritedFlags())

	v.SetEnvPrefix("EXAMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// loadConfig layers flags and EXAMCTL_* variables over the server configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger) {
	v := viperForCmd(cmd)
	cfg := config.Load()

	if s := v.GetString("driver"); s != "" {
		cfg.DatabaseDriver = strings.ToLower(s)
	}
	if s := v.GetString("database-url"); s != "" {
		cfg.DatabaseURL = s
	}
	if s := v.GetString("sqlite-path"); s != "" {
		cfg.SQLitePath = s
	}
	if s := v.GetString("redis-url"); s != "" {
		cfg.RedisURL = s
	}

	log := logger.New(os.Stderr, "pretty").Level(parseLevel(v.GetString("log-level")))
	return cfg, log
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.WarnLevel
	}
	return lvl
}

// app is the set of services a command works with.
type app struct {
	backend *storage.Backend
	rdb     *redis.Client
	admin   *service.AdminService
	status  *service.StatusService
}

func (a *app) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	a.backend.Close()
}

func openApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, log := loadConfig(cmd)

	backend, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a := &app{backend: backend}

	var assessments storage.AssessmentStore = backend.Assessments
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.rdb = rdb
		assessments = cache.NewAssessmentCache(backend.Assessments, rdb, cfg.AssessmentCacheTTL, log)
	}

	a.admin = service.NewAdminService(backend.Learners, assessments, backend.Grants)
	a.status = service.NewStatusService(backend.Learners, backend.Sessions, assessments)
	return a, nil
}
