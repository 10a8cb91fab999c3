// Package app assembles the certification service from configuration. Both
// the HTTP server and the operator CLI start from Build.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"certflow/internal/certification/authority"
	"certflow/internal/certification/events"
	"certflow/internal/certification/files"
	certMetrics "certflow/internal/certification/metrics"
	"certflow/internal/certification/service"
	"certflow/internal/certification/store/claim"
	"certflow/internal/certification/store/record"
	httpapi "certflow/internal/http"
	"certflow/internal/platform/config"
	"certflow/internal/platform/redis"
	"certflow/pkg/platform/circuit"
	"certflow/pkg/platform/tx"
)

// App holds the wired service and the resources it owns.
type App struct {
	Service *service.Service
	Files   files.Store
	Checks  map[string]httpapi.HealthCheck

	closers []func() error
}

// Build connects every configured backend. Unconfigured backends fall back to
// in-process implementations suitable for a single instance.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{Checks: map[string]httpapi.HealthCheck{}}
	m := certMetrics.New(reg)

	records, transactor, err := a.recordStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, a.abort(err)
	}
	claims, err := a.claimStore(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, a.abort(err)
	}
	publisher, err := a.publisher(ctx, cfg.Kafka, logger)
	if err != nil {
		return nil, a.abort(err)
	}

	breaker := circuit.New("authority",
		circuit.WithFailureThreshold(cfg.Authority.BreakerThreshold),
		circuit.WithCooldown(cfg.Authority.BreakerCooldown),
	)
	client := authority.NewHTTPClient(cfg.Authority.BaseURL,
		authority.WithAPIKey(cfg.Authority.APIKey),
		authority.WithTimeout(cfg.Authority.Timeout),
		authority.WithRetries(cfg.Authority.Retries, cfg.Authority.RetryBackoff),
		authority.WithRateLimit(cfg.Authority.RatePerSecond, cfg.Authority.RateBurst),
		authority.WithBreaker(breaker),
		authority.WithLogger(logger),
		authority.WithMetrics(m),
	)

	// Evidence storage backends are supplied by the hosting application.
	a.Files = files.NewInMemory()
	a.Service = service.New(records, claims, a.Files, client,
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithPublisher(publisher),
		service.WithTransactor(transactor),
		service.WithClaimTTL(cfg.Certification.ClaimTTL),
		service.WithSyncTimeout(cfg.Certification.SyncTimeout),
		service.WithRefreshConcurrency(cfg.Certification.RefreshConcurrency),
	)
	return a, nil
}

func (a *App) recordStore(ctx context.Context, cfg config.Database, logger *slog.Logger) (service.RecordStore, tx.Transactor, error) {
	if cfg.URL == "" {
		logger.WarnContext(ctx, "no database configured; certification records are kept in memory")
		return record.NewInMemory(), tx.NoopTransactor{}, nil
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	a.Checks["database"] = db.PingContext

	store := record.NewPostgres(db)
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store, tx.NewSQLTransactor(db), nil
}

func (a *App) claimStore(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (service.ClaimStore, error) {
	client, err := redis.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		logger.WarnContext(ctx, "no redis configured; submission claims are process-local")
		return claim.NewInMemory(), nil
	}
	a.closers = append(a.closers, client.Close)
	a.Checks["redis"] = client.Health
	return claim.NewRedis(client.Client), nil
}

func (a *App) publisher(ctx context.Context, cfg config.Kafka, logger *slog.Logger) (events.Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return events.NewLogPublisher(logger), nil
	}
	p, err := events.NewKafkaPublisher(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		p.Close()
		return nil
	})
	if err := p.EnsureTopic(ctx, cfg.Partitions, cfg.Replication); err != nil {
		return nil, fmt.Errorf("ensure topic %s: %w", cfg.Topic, err)
	}
	return p, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) abort(err error) error {
	if cerr := a.Close(); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}
