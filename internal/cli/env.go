package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/practice-ranking/internal/config"
	"github.com/practice-ranking/internal/logging"
	"github.com/practice-ranking/internal/postgres"
	"github.com/practice-ranking/internal/redis"
)

// environment holds the connections a command needs
type environment struct {
	cfg    *config.Config
	offset time.Duration
	logger *slog.Logger

	repo  *postgres.Repository
	redis *goredis.Client

	closers []func()
}

// loadConfig reads the config file named by the global flag, falling back
// to defaults when the file does not exist.
func loadConfig(opts *RootOptions) (*config.Config, time.Duration, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.DefaultConfig(), nil
	}
	if err != nil {
		return nil, 0, err
	}
	offset, err := cfg.Ranking.Offset()
	if err != nil {
		return nil, 0, err
	}
	return cfg, offset, nil
}

// openEnv loads config and builds a logger writing to stderr.
// Connections are opened on demand by withPostgres and withRedis.
func openEnv(opts *RootOptions, stderr io.Writer) (*environment, error) {
	cfg, offset, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return &environment{
		cfg:    cfg,
		offset: offset,
		logger: logging.NewWithWriter(stderr, level),
	}, nil
}

func (e *environment) withPostgres(ctx context.Context) error {
	repo, err := postgres.NewRepository(&e.cfg.Postgres, e.logger)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	e.closers = append(e.closers, repo.Close)
	if err := repo.RunMigrations(ctx); err != nil {
		return err
	}
	e.repo = repo
	return nil
}

func (e *environment) withRedis() error {
	client, err := redis.NewClient(&e.cfg.Redis)
	if err != nil {
		return err
	}
	e.closers = append(e.closers, func() { client.Close() })
	e.redis = client
	return nil
}

func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}
