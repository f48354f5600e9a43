// Package recorridos is the public API for embedding the recorridos journey
// runtime server.
//
// Hosts construct and extend the server without forking it:
//
//	app, err := recorridos.New(
//	    recorridos.WithVersion(version),
//	    recorridos.WithLogger(logger),
//	    recorridos.WithStepEnricher(myEnricher),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*; internal/* never imports the root.
package recorridos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/sendas-app/recorridos/api"
	"github.com/sendas-app/recorridos/internal/auth"
	"github.com/sendas-app/recorridos/internal/condition"
	"github.com/sendas-app/recorridos/internal/config"
	"github.com/sendas-app/recorridos/internal/enricher"
	"github.com/sendas-app/recorridos/internal/eventschema"
	"github.com/sendas-app/recorridos/internal/ratelimit"
	"github.com/sendas-app/recorridos/internal/retention"
	"github.com/sendas-app/recorridos/internal/server"
	"github.com/sendas-app/recorridos/internal/service/journey"
	"github.com/sendas-app/recorridos/internal/storage"
	"github.com/sendas-app/recorridos/internal/storage/sqlitestore"
	"github.com/sendas-app/recorridos/internal/telemetry"
	"github.com/sendas-app/recorridos/internal/versioncache"
	"github.com/sendas-app/recorridos/migrations"
)

// App is the recorridos server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	srv          *server.Server
	sweeper      *retention.Sweeper
	listener     *server.VersionListener // nil without a Postgres notify connection
	closers      []func()
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// stores is the backend-independent view of the selected store.
type stores struct {
	versions    versioncache.Source
	runs        journey.RunRepo
	stepResults journey.StepResultRepo
	events      interface {
		journey.EventRepo
		retention.EventPurger
	}
	pinger server.Pinger
	pg     *storage.DB // nil on SQLite
	close  func()
}

// New initialises the server. It opens the store, runs migrations, wires all
// subsystems and returns a ready-to-run App. It does NOT start any goroutines
// or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
		cfg.NotifyURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("recorridos starting", "version", version, "port", cfg.Port, "store", cfg.Store)

	ctx := context.Background()
	app := &App{cfg: cfg, logger: logger, version: version}
	fail := func(err error) (*App, error) {
		app.close()
		return nil, err
	}

	otelShutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	app.otelShutdown = otelShutdown

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	app.closers = append(app.closers, st.close)

	// Registries: built-ins first, then host extensions.
	conditions := condition.NewRegistry()
	for name, s := range o.conditionTypes {
		conditions.Register(name, s)
	}
	eventTypes, err := eventschema.NewBuiltinRegistry()
	if err != nil {
		return fail(fmt.Errorf("event types: %w", err))
	}
	for _, et := range o.eventTypes {
		if err := eventTypes.Register(et); err != nil {
			return fail(fmt.Errorf("event type %s: %w", et.Type, err))
		}
	}

	chain := enricher.NewChain(logger,
		enricher.NewSelection(nil, logger),
		enricher.NewPracticeTimer(),
	)
	for _, e := range o.enrichers {
		chain.Add(e)
	}
	logger.Info("step enrichers registered", "enrichers", chain.Names())

	// Redis backs the version cache and the shared rate limiter.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		rdb = redis.NewClient(redisOpts)
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		logger.Info("redis: enabled", "addr", redisOpts.Addr)
	} else {
		logger.Info("redis: disabled (no REDIS_URL)")
	}

	cache := versioncache.New(st.versions, rdb, cfg.VersionCacheTTL, logger)

	journeys, err := journey.New(journey.Deps{
		Versions:    cache,
		Runs:        st.runs,
		StepResults: st.stepResults,
		Events:      st.events,
		Conditions:  conditions,
		EventTypes:  eventTypes,
		Enrichers:   chain,
		Logger:      logger,
	})
	if err != nil {
		return fail(fmt.Errorf("journey: %w", err))
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}

	var limiter ratelimit.Limiter
	rule := ratelimit.RuleFromRate("student", cfg.RateLimitRPS, cfg.RateLimitBurst)
	switch {
	case !rule.Enabled():
		logger.Info("rate limiting: disabled")
	case rdb != nil:
		limiter = ratelimit.NewRedisLimiter(rdb, logger)
		logger.Info("rate limiting: redis (sliding window)", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	default:
		mem := ratelimit.NewMemoryLimiter()
		app.closers = append(app.closers, func() { _ = mem.Close() })
		limiter = mem
		logger.Info("rate limiting: memory (in-process token bucket)", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	}

	srv, err := server.New(server.ServerConfig{
		Journeys:            journeys,
		JWTMgr:              jwtMgr,
		Store:               st.pinger,
		Logger:              logger,
		Limiter:             limiter,
		StoreName:           cfg.Store,
		ServiceKeyHash:      cfg.ServiceKeyHash,
		RateLimit:           rule,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
	})
	if err != nil {
		return fail(err)
	}
	if cfg.ServiceKeyHash == "" {
		logger.Warn("token exchange disabled (no RECORRIDOS_SERVICE_KEY_HASH)")
	}

	if st.pg != nil && st.pg.HasNotifyConn() {
		app.listener = server.NewVersionListener(st.pg, cache, logger)
	} else {
		logger.Info("version listener: disabled (no notify connection)")
	}

	app.srv = srv
	app.sweeper = retention.NewSweeper(st.events, eventTypes, logger)
	return app, nil
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		st, err := sqlitestore.Open(ctx, cfg.SQLiteDSN, logger)
		if err != nil {
			return stores{}, fmt.Errorf("sqlite: %w", err)
		}
		return stores{
			versions:    st.Versions(),
			runs:        st.Runs(),
			stepResults: st.StepResults(),
			events:      st.Events(),
			pinger:      st,
			close:       func() { _ = st.Close() },
		}, nil
	default:
		db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
		if err != nil {
			return stores{}, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close(ctx)
			return stores{}, fmt.Errorf("migrations: %w", err)
		}
		return stores{
			versions:    db.Versions(),
			runs:        db.Runs(),
			stepResults: db.StepResults(),
			events:      db.Events(),
			pinger:      db,
			pg:          db,
			close:       func() { db.Close(context.Background()) },
		}, nil
	}
}

// Run starts the HTTP server, the retention scheduler and the version
// listener, then blocks until ctx is cancelled or one of them fails. On return
// the App is shut down; callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http shutdown error", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.sweeper.Run(gctx, a.cfg.RetentionSchedule)
	})
	if a.listener != nil {
		g.Go(func() error {
			// A lost listener only makes caches expire by TTL; keep serving.
			if err := a.listener.Run(gctx); err != nil {
				a.logger.Warn("version listener stopped", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	a.Shutdown()
	return err
}

// Shutdown releases the store, Redis, the rate limiter and telemetry.
func (a *App) Shutdown() {
	a.logger.Info("recorridos shutting down")
	a.close()
	a.logger.Info("recorridos stopped")
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown error", "error", err)
		}
		a.otelShutdown = nil
	}
}
