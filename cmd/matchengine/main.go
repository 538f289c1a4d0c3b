// Command matchengine runs one batch pass: evaluate every trial against the
// clinical/genomic store, write trial-match documents, then rank the sink.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dfci/matchengine/internal/config"
	"github.com/dfci/matchengine/internal/evaluator"
	"github.com/dfci/matchengine/internal/logging"
	"github.com/dfci/matchengine/internal/oncotree"
	"github.com/dfci/matchengine/internal/store"
	"github.com/dfci/matchengine/internal/trialdriver"
	"github.com/dfci/matchengine/internal/vocab"
)

func main() {
	migrationsPath := flag.String("migrations", "internal/store/migrations", "path to schema migration files")
	skipMigrations := flag.Bool("skip-migrations", false, "skip running schema migrations before the batch")
	flag.Parse()

	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := logging.New(cfg.Logging)
	logger.WithField("environment", cfg.Environment).Info("starting match engine batch run")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *migrationsPath, *skipMigrations); err != nil {
		logger.WithError(err).Fatal("batch run failed")
	}
	logger.Info("batch run complete")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, migrationsPath string, skipMigrations bool) error {
	connConfig := store.ConnConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		Username:        cfg.Database.Username,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	pool, err := store.Connect(ctx, connConfig, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if !skipMigrations {
		runner, err := store.NewMigrationRunner(migrationDSN(cfg), migrationsPath, logger)
		if err != nil {
			return err
		}
		defer runner.Close()
		if err := runner.Up(); err != nil {
			return err
		}
	}

	pgStore := store.NewPostgresStore(pool, logger)

	vocabMap, err := loadVocabulary(ctx, cfg, logger)
	if err != nil {
		return err
	}

	tree, err := loadOncotree(ctx, pgStore, cfg, logger)
	if err != nil {
		return err
	}

	ev := evaluator.New(pgStore, vocabMap, tree, time.Now)
	driver := trialdriver.New(pgStore, ev, logger, cfg.Matching.MaxConcurrentTrials).
		WithTrialTimeout(cfg.Matching.TrialTimeout)

	return driver.Run(ctx)
}

func migrationDSN(cfg *config.Config) string {
	db := cfg.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

// loadVocabulary loads the bootstrapped field/value vocabulary map,
// persisting it to Redis so later batch runs can reuse it without
// recompiling the constant tables.
func loadVocabulary(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*vocab.Map, error) {
	cache, err := vocab.NewRedisCache(cfg.Cache.RedisURL, cfg.Cache.DefaultTTL, logger)
	if err != nil {
		logger.WithError(err).Warn("vocabulary cache unavailable, using compiled-in table")
		return vocab.Bootstrap(), nil
	}

	m, err := cache.Load(ctx)
	if err != nil {
		logger.WithError(err).Warn("failed to load vocabulary cache, using compiled-in table")
		return vocab.Bootstrap(), nil
	}
	if err := cache.Store(ctx, m); err != nil {
		logger.WithError(err).Warn("failed to refresh vocabulary cache")
	}
	return m, nil
}

// loadOncotree reads the flat node table from the store. If the table is
// empty (a fresh deployment) it falls back to the configured seed file and
// builds the tree from that instead.
func loadOncotree(ctx context.Context, s *store.PostgresStore, cfg *config.Config, logger *logrus.Logger) (*oncotree.Tree, error) {
	rows, err := s.Oncotree(ctx)
	if err != nil {
		return nil, err
	}

	var nodes []oncotree.Node
	if len(rows) == 0 {
		logger.WithField("path", cfg.Oncotree.SourcePath).Warn("oncotree table empty, loading from seed file")
		nodes, err = oncotree.LoadSeedFile(cfg.Oncotree.SourcePath)
		if err != nil {
			return nil, err
		}
	} else {
		nodes = make([]oncotree.Node, len(rows))
		for i, r := range rows {
			nodes[i] = oncotree.Node{ID: r.ID, Text: r.Text, Children: r.Children}
		}
	}

	return oncotree.New(nodes, 4096)
}
