// Package bootstrap wires storage, signalling and usecases from configuration.
// Both the HTTP service and the maintenance CLI build their dependencies here.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/alfanzaky/zkqueue/config"
	"github.com/alfanzaky/zkqueue/internal/domain"
	redisrepo "github.com/alfanzaky/zkqueue/internal/repository/redis"
	"github.com/alfanzaky/zkqueue/internal/repository/sqldb"
	"github.com/alfanzaky/zkqueue/internal/usecase"
	"github.com/alfanzaky/zkqueue/pkg/logger"
)

// OpenStore connects to the configured database, applies pool settings and
// runs migrations when migrate is true.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, pageSize int, migrate bool) (*sqldb.Store, error) {
	store, err := sqldb.Open(ctx, cfg.Driver, cfg.GetDSN(), sqldb.WithPageSize(pageSize))
	if err != nil {
		return nil, err
	}

	if cfg.Driver != sqldb.DriverSQLite {
		db := store.DB()
		db.SetMaxIdleConns(cfg.MaxIdle)
		db.SetMaxOpenConns(cfg.MaxOpen)
		db.SetConnMaxLifetime(cfg.MaxLife)
	}

	if migrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	logger.Info("Database connection established",
		logger.String("driver", cfg.Driver),
		logger.Bool("migrated", migrate),
	)
	return store, nil
}

// Notifier is a wake-up notifier plus an optional readiness probe
type Notifier struct {
	domain.Notifier
	Ping  func(ctx context.Context) error
	Close func() error
}

// NewNotifier returns a Redis notifier when enabled and reachable, otherwise
// a polling notifier.
func NewNotifier(ctx context.Context, cfg config.Config) (*Notifier, error) {
	if !cfg.Redis.Enabled {
		logger.Info("Redis disabled, consumers fall back to polling",
			logger.Duration("poll_interval", cfg.Queue.PollInterval),
		)
		return &Notifier{
			Notifier: usecase.NewPollingNotifier(cfg.Queue.PollInterval),
			Close:    func() error { return nil },
		}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	n := redisrepo.NewNotifier(rdb)
	logger.Info("Redis connection established", logger.String("addr", cfg.Redis.GetRedisAddr()))
	return &Notifier{Notifier: n, Ping: n.Ping, Close: rdb.Close}, nil
}

// Usecases builds both queue usecases from the queue policy
func Usecases(store domain.Store, notifier domain.Notifier, cfg config.QueueConfig) (domain.MempoolUsecase, domain.ProverUsecase) {
	mempoolUC := usecase.NewMempoolUsecase(store, notifier, usecase.MempoolConfig{
		StuckTxMaxAge: cfg.StuckTxMaxAge,
		MaxViewSize:   cfg.MaxViewSize,
	})
	proverUC := usecase.NewProverUsecase(store, notifier, usecase.ProverConfig{
		AllowedProtocolVersions: cfg.AllowedProtocolVersions,
		ReclaimBatch:            cfg.ReclaimBatch,
		MaxLeaseWait:            cfg.MaxLeaseWait,
	})
	return mempoolUC, proverUC
}
