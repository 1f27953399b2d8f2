// Package app wires all Cortex subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP surface until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject fake implementations via functional options
// (WithHotStore, WithColdIndex, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Enntity/cortex-sub003/internal/agent"
	"github.com/Enntity/cortex-sub003/internal/config"
	"github.com/Enntity/cortex-sub003/internal/continuity"
	"github.com/Enntity/cortex-sub003/internal/entity"
	"github.com/Enntity/cortex-sub003/internal/health"
	"github.com/Enntity/cortex-sub003/internal/observe"
	"github.com/Enntity/cortex-sub003/internal/pathway"
	"github.com/Enntity/cortex-sub003/internal/synthesis"
	"github.com/Enntity/cortex-sub003/internal/tools/mcptool"
	"github.com/Enntity/cortex-sub003/pkg/memory"
	"github.com/Enntity/cortex-sub003/pkg/memory/postgres"
	redishot "github.com/Enntity/cortex-sub003/pkg/memory/redis"
	"github.com/Enntity/cortex-sub003/pkg/provider/embeddings"
	"github.com/Enntity/cortex-sub003/pkg/provider/voice"
)

// Providers holds the externally constructed provider surface. Populated by
// main.go via the config registry. Voice and Embeddings may be nil.
type Providers struct {
	// Endpoints resolves logical model names to completion providers.
	Endpoints pathway.EndpointResolver

	// Embeddings backs the cold index's vector column.
	Embeddings embeddings.Provider

	// Voice is the realtime speech backend, nil when voice is disabled.
	Voice voice.Provider
}

// App owns all subsystem lifetimes and serves the Cortex runtime.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	registry   *pathway.Registry
	engine     *pathway.Engine
	hot        memory.HotStore
	cold       memory.ColdIndex
	continuity *continuity.Service
	entities   entity.Store
	resolver   *entity.Resolver
	agent      *agent.Agent
	mcp        *mcptool.Connector
	voices     *VoiceSessionManager

	// redisClient is retained for the readiness probe; nil when the hot
	// tier runs on the noop store.
	redisClient *goredis.Client

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHotStore injects a hot store instead of connecting to Redis.
func WithHotStore(h memory.HotStore) Option {
	return func(a *App) { a.hot = h }
}

// WithColdIndex injects a cold index instead of connecting to PostgreSQL.
func WithColdIndex(c memory.ColdIndex) Option {
	return func(a *App) { a.cold = c }
}

// WithEntityStore injects an entity store instead of creating one from config.
func WithEntityStore(s entity.Store) Option {
	return func(a *App) { a.entities = s }
}

// WithRegistry injects a pre-populated pathway registry instead of loading
// one from the configured pathways directory.
func WithRegistry(r *pathway.Registry) Option {
	return func(a *App) { a.registry = r }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option values
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connections, pathway
// loading, continuity assembly, entity bootstrap, agent registration, and
// MCP server registration.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Endpoints == nil {
		return nil, fmt.Errorf("app: providers.Endpoints must not be nil")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initHotStore(); err != nil {
		return nil, fmt.Errorf("app: init hot store: %w", err)
	}
	if err := a.initColdIndex(ctx); err != nil {
		return nil, fmt.Errorf("app: init cold index: %w", err)
	}
	if err := a.initPathways(); err != nil {
		return nil, fmt.Errorf("app: init pathways: %w", err)
	}
	a.initContinuity()
	if err := a.initEntities(ctx); err != nil {
		return nil, fmt.Errorf("app: init entities: %w", err)
	}
	if err := a.initAgent(); err != nil {
		return nil, fmt.Errorf("app: init agent: %w", err)
	}
	if err := a.initMCP(ctx); err != nil {
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}
	a.initVoice()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHotStore connects the Redis hot tier, or installs the noop store when
// no address is configured.
func (a *App) initHotStore() error {
	if a.hot != nil {
		return nil
	}
	if a.cfg.Redis.Addr == "" {
		slog.Warn("redis.addr not configured; hot continuity tier disabled")
		a.hot = memory.NoopHotStore{}
		return nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	hotOpts := []redishot.Option{
		redishot.WithNamespace(a.cfg.Redis.Namespace),
		redishot.WithStreamCapacity(a.cfg.Continuity.EpisodicCapacity),
		redishot.WithStreamTTL(a.cfg.Continuity.EpisodicTTL()),
		redishot.WithContextTTL(a.cfg.Continuity.ActiveContextTTL()),
	}
	key, err := a.cfg.Redis.DecodeEncryptionKey()
	if err != nil {
		return err
	}
	if key != nil {
		hotOpts = append(hotOpts, redishot.WithEncryptionKey(key))
	}

	a.hot = redishot.New(rdb, hotOpts...)
	a.redisClient = rdb
	a.closers = append(a.closers, rdb.Close)
	slog.Info("hot store connected", "addr", a.cfg.Redis.Addr, "namespace", a.cfg.Redis.Namespace, "encrypted", key != nil)
	return nil
}

// initColdIndex connects the pgvector cold tier, or installs the noop index
// when no DSN is configured.
func (a *App) initColdIndex(ctx context.Context) error {
	if a.cold != nil {
		return nil
	}
	if a.cfg.Postgres.DSN == "" {
		slog.Warn("postgres.dsn not configured; cold memory tier disabled")
		a.cold = memory.NoopColdIndex{}
		return nil
	}

	weights := memory.RecallWeights{
		WVector:      a.cfg.Continuity.Recall.VectorWeight,
		WImportance:  a.cfg.Continuity.Recall.ImportanceWeight,
		WRecency:     a.cfg.Continuity.Recall.RecencyWeight,
		DefaultDecay: a.cfg.Continuity.Recall.DefaultDecay,
	}

	index, err := postgres.NewIndex(ctx, a.cfg.Postgres.DSN, a.providers.Embeddings,
		postgres.WithRecallWeights(weights))
	if err != nil {
		return err
	}

	a.cold = index
	a.closers = append(a.closers, func() error {
		index.Close()
		return nil
	})
	slog.Info("cold index connected", "dimensions", a.cfg.Postgres.EmbeddingDimensions)
	return nil
}

// initPathways loads the pathway registry and builds the engine.
func (a *App) initPathways() error {
	if a.registry == nil {
		a.registry = pathway.NewRegistry()
		if dir := a.cfg.Pathways.Dir; dir != "" {
			if err := a.registry.Load(dir); err != nil {
				return fmt.Errorf("load pathways from %q: %w", dir, err)
			}
			slog.Info("pathways loaded", "dir", dir, "tools", len(a.registry.ToolNames()))
		}
	}
	a.engine = pathway.NewEngine(a.registry, a.providers.Endpoints)
	return nil
}

// initContinuity assembles the context builder, synthesizer, and service.
func (a *App) initContinuity() {
	builder := continuity.NewContextBuilder(a.hot, a.cold, a.engine,
		continuity.WithDriftThreshold(a.cfg.Continuity.DriftThreshold))

	synth := synthesis.NewEngine(a.hot, a.cold, a.engine)

	a.continuity = continuity.NewService(a.hot, a.cold, builder, synth,
		continuity.WithIdleThreshold(a.cfg.Continuity.SessionIdle()),
		continuity.WithSynthesisPool(
			a.cfg.Continuity.SynthesisWorkers,
			a.cfg.Continuity.SynthesisQueue,
			a.cfg.Continuity.SynthesisTimeout(),
		),
	)
	a.closers = append(a.closers, func() error {
		a.continuity.Close()
		return nil
	})
}

// initEntities sets up the entity store, bootstraps system entities, and
// builds the resolver.
func (a *App) initEntities(ctx context.Context) error {
	if a.entities == nil {
		if a.cfg.Postgres.DSN != "" {
			store, err := entity.NewPGStore(ctx, a.cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect entity store: %w", err)
			}
			a.entities = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
		} else {
			a.entities = entity.NewMemStore()
		}
	}

	if dir := a.cfg.Entities.BootstrapDir; dir != "" {
		n, err := entity.BootstrapDir(ctx, a.entities, dir)
		if err != nil {
			return fmt.Errorf("bootstrap entities from %q: %w", dir, err)
		}
		slog.Info("bootstrapped system entities", "dir", dir, "count", n)
	}

	a.resolver = entity.NewResolver(a.entities, a.registry)
	return nil
}

// initAgent builds the entity agent and registers its pathway.
func (a *App) initAgent() error {
	ag, err := agent.New(agent.Config{
		Resolver:    a.resolver,
		Continuity:  a.continuity,
		Endpoints:   a.providers.Endpoints,
		Registry:    a.registry,
		Invoker:     a.engine,
		MaxRounds:   a.cfg.Executor.MaxRounds,
		ToolTimeout: a.cfg.Executor.ToolTimeout(),
	})
	if err != nil {
		return err
	}
	if err := ag.RegisterPathway(a.registry); err != nil {
		return fmt.Errorf("register agent pathway: %w", err)
	}
	a.agent = ag
	return nil
}

// initMCP connects configured MCP servers and registers their tools as
// delegated-tool pathways.
func (a *App) initMCP(ctx context.Context) error {
	if len(a.cfg.MCP.Servers) == 0 {
		return nil
	}

	conn := mcptool.NewConnector(a.registry)
	a.mcp = conn
	a.closers = append(a.closers, conn.Close)

	for _, srv := range a.cfg.MCP.Servers {
		if err := conn.RegisterServer(ctx, srv); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name, "tools", len(conn.ToolNames(srv.Name)))
	}
	return nil
}

// initVoice builds the voice session manager when a voice provider is
// configured and enabled.
func (a *App) initVoice() {
	if !a.cfg.Voice.Enabled || a.providers.Voice == nil {
		return
	}
	a.voices = NewVoiceSessionManager(a.providers.Voice, a.resolver, a.continuity, a.agent)
	a.closers = append(a.closers, a.voices.CloseAll)
	slog.Info("voice sessions enabled")
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Registry returns the pathway registry.
func (a *App) Registry() *pathway.Registry { return a.registry }

// Engine returns the pathway engine.
func (a *App) Engine() *pathway.Engine { return a.engine }

// Continuity returns the continuity service.
func (a *App) Continuity() *continuity.Service { return a.continuity }

// Agent returns the entity agent.
func (a *App) Agent() *agent.Agent { return a.agent }

// Voices returns the voice session manager, or nil when voice is disabled.
func (a *App) Voices() *VoiceSessionManager { return a.voices }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP surface (health, metrics, pathway invocation) and
// blocks until ctx is cancelled. The listener is then shut down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "tools", len(a.registry.ToolNames()))

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	return ctx.Err()
}

// Handler builds the HTTP mux: health probes, Prometheus metrics, and the
// pathway invocation API, all wrapped in the request-metrics middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	a.healthHandler().Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	a.registerAPI(mux)

	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// healthHandler assembles readiness checks for the configured backends.
func (a *App) healthHandler() *health.Handler {
	var checkers []health.Checker

	if a.redisClient != nil {
		rdb := a.redisClient
		// Continuity degrades to cold-index-only when the hot tier is
		// down, so a Redis outage marks the runtime degraded, not unready.
		checkers = append(checkers, health.Checker{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
			Optional: true,
		})
	}
	if _, ok := a.cold.(memory.NoopColdIndex); !ok {
		cold := a.cold
		checkers = append(checkers, health.Checker{
			Name: "cold-index",
			Check: func(ctx context.Context) error {
				_, err := cold.HasMemories(ctx, "healthz", "healthz")
				return err
			},
		})
	}

	return health.New(checkers...)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
