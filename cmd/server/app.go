package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/accessgate/internal/config"
	"github.com/turtacn/accessgate/internal/domain/service"
	"github.com/turtacn/accessgate/internal/infrastructure/audit"
	"github.com/turtacn/accessgate/internal/infrastructure/cache"
	"github.com/turtacn/accessgate/internal/infrastructure/crypto"
	"github.com/turtacn/accessgate/internal/infrastructure/maintenance"
	"github.com/turtacn/accessgate/internal/infrastructure/monitoring"
	"github.com/turtacn/accessgate/internal/infrastructure/policy"
	"github.com/turtacn/accessgate/internal/infrastructure/ratelimit"
	grpcserver "github.com/turtacn/accessgate/internal/interfaces/grpc"
	httpserver "github.com/turtacn/accessgate/internal/interfaces/http"
	"github.com/turtacn/accessgate/internal/interfaces/http/handlers"
	"github.com/turtacn/accessgate/internal/interfaces/http/middleware"
	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
)

// App holds every long-lived component of the gate.
type App struct {
	cfg        *config.Config
	log        logger.Logger
	registry   *prometheus.Registry
	metrics    *monitoring.Metrics
	tracing    *monitoring.TracingManager
	limiter    *ratelimit.Limiter
	tokens     service.TokenService
	engine     *policy.Engine
	issuance   *ratelimit.SlidingWindow
	dispatcher *audit.Dispatcher
	scheduler  *maintenance.Scheduler
	router     *httpserver.Router
	grpc       *grpcserver.Server
}

// newApp wires the components in dependency order. On error, anything already
// opened is closed.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *App, err error) {
	app := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			app.close(context.Background())
		}
	}()

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.metrics = monitoring.NewMetrics(app.registry)

	app.tracing, err = monitoring.NewTracingManager(cfg.Tracing, cfg.Environment, log)
	if err != nil {
		return nil, err
	}

	app.limiter, err = ratelimit.NewLimiter(ratelimit.LimiterConfig{
		DefaultUserLimit: cfg.RateLimit.DefaultUserLimit,
		BurstMultiplier:  cfg.RateLimit.BurstMultiplier,
		Rules:            cfg.RateLimit.ToRules(),
	}, log)
	if err != nil {
		return nil, err
	}

	secrets, err := crypto.NewSecretProvider(cfg, log)
	if err != nil {
		return nil, err
	}
	secret, err := secrets.SigningSecret(ctx)
	if err != nil {
		return nil, err
	}
	signer, err := crypto.NewJWTManager(secret, time.Now)
	if err != nil {
		return nil, errors.ErrInvalidConfig("jwt signing secret").WithCause(err)
	}
	app.issuance = ratelimit.NewSlidingWindow()
	app.tokens = service.NewTokenService(cfg.JWT.ToTokenServiceConfig(), signer,
		cache.NewRevocationList(cfg.JWT.CleanupInterval), app.issuance, log)

	app.engine = policy.NewEngine(policy.EngineConfig{ServiceKeyHeader: cfg.Security.ServiceKeyHeader}, log,
		policy.WithReloadHook(app.metrics.RecordPolicyReload))
	if err = app.engine.LoadFile(cfg.Policy.File); err != nil {
		return nil, err
	}

	sink, err := audit.BuildSink(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	app.dispatcher = audit.NewDispatcher(sink, cfg.Audit.BufferSize, log,
		audit.WithResultHook(app.metrics.RecordAuditEvent))

	app.scheduler, err = maintenance.NewScheduler(append(
		maintenance.StandardJobs(app.limiter, cfg.RateLimit.CleanupInterval, app.tokens, cfg.JWT.CleanupInterval, app.engine),
		maintenance.Job{
			Name:     "issuance_windows",
			Interval: cfg.JWT.CleanupInterval,
			Run:      func(context.Context) int { return app.issuance.Cleanup(2 * time.Minute) },
		},
	), app.metrics, log)
	if err != nil {
		return nil, err
	}

	security, err := middleware.NewSecurityMiddleware(middleware.Dependencies{
		Limiter: app.limiter,
		Tokens:  app.tokens,
		Policy:  app.engine,
		Audit:   app.dispatcher,
		Metrics: app.metrics,
		Tracing: app.tracing,
	}, cfg.Security, log)
	if err != nil {
		return nil, err
	}

	health := handlers.NewHealthHandler(map[string]handlers.CheckFunc{
		"policy": func(context.Context) error {
			if app.engine.LoadedAt().IsZero() {
				return fmt.Errorf("no policy document loaded")
			}
			return nil
		},
		"signing_secret": func(ctx context.Context) error {
			_, err := secrets.SigningSecret(ctx)
			return err
		},
	}, log)
	app.router = httpserver.NewRouter(cfg, log, security, httpserver.Handlers{
		Health:   health,
		Auth:     handlers.NewAuthHandler(app.tokens, app.metrics, log),
		Security: handlers.NewSecurityHandler(app.limiter, app.tokens, log),
	}, app.registry)

	if cfg.GRPC.Enabled {
		chain := grpcserver.NewInterceptorChain(log, app.limiter, app.tokens, app.engine, app.metrics)
		app.grpc = grpcserver.NewServer(cfg.GRPC, chain, log)
	}
	return app, nil
}

// Run serves until ctx is cancelled or a server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.router.Start)
	if a.grpc != nil {
		g.Go(a.grpc.Start)
	}
	if a.cfg.Policy.Watch {
		g.Go(func() error {
			if err := a.engine.Watch(gctx); err != nil {
				a.log.Error(gctx, "Policy watcher stopped", err)
			}
			return nil
		})
	}
	a.scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.shutdown(shutdownCtx)
	})

	return g.Wait()
}

// shutdown stops intake first, then drains background work.
func (a *App) shutdown(ctx context.Context) error {
	a.log.Info(ctx, "Shutting down")
	var firstErr error
	if err := a.router.Stop(ctx); err != nil {
		firstErr = err
	}
	if a.grpc != nil {
		a.grpc.Stop(ctx)
	}
	a.close(ctx)
	return firstErr
}

// close releases background components. Safe on a partially built App.
func (a *App) close(ctx context.Context) {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.log.Warn(ctx, "Maintenance scheduler did not stop in time", logger.Error(err))
		}
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			a.log.Error(ctx, "Failed to flush audit events", err)
		}
	}
	if a.tracing != nil {
		_ = a.tracing.Shutdown(ctx)
	}
}
