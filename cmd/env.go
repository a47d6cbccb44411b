package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/talentsol/screening/internal/cache"
	"github.com/talentsol/screening/internal/events"
	"github.com/talentsol/screening/internal/feature"
	"github.com/talentsol/screening/internal/inference"
	"github.com/talentsol/screening/internal/monitoring"
	"github.com/talentsol/screening/internal/pipeline"
	"github.com/talentsol/screening/internal/store"
)

// env holds the initialized service graph shared by the commands.
type env struct {
	Store        store.Store
	Cache        *cache.Cache
	Engine       *inference.Engine
	Mapper       *feature.Mapper
	Hub          *events.Hub
	Metrics      *monitoring.Metrics
	Orchestrator *pipeline.Orchestrator
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		poolCfg := store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &poolCfg)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEnv validates config, connects the store and cache, loads the model
// and wires the orchestrator. withEvents also starts the websocket hub
// for serve; CLI scoring paths run without one.
func initEnv(ctx context.Context, withEvents bool) (*env, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "database unreachable")
	}

	c := cache.New(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.MetricsTTL())
	if c != nil {
		if err := c.Ping(ctx); err != nil {
			// Cache-aside only; the store remains authoritative.
			zap.L().Warn("redis unreachable, caching disabled", zap.Error(err))
			c.Close()
			c = nil
		}
	}

	invoker := inference.NewSubprocessInvoker(inference.SubprocessConfig{
		PythonBin:        cfg.Model.PythonBin,
		WrapperPath:      cfg.Model.WrapperPath,
		ArtifactPath:     cfg.Model.ArtifactPath,
		ModelType:        cfg.Model.ModelType(),
		InvokesPerSecond: cfg.Model.InvokesPerSecond,
		InvokeBurst:      cfg.Model.InvokeBurst,
	})
	engine := inference.NewEngine(invoker, inference.EngineConfig{
		ModelType:         cfg.Model.ModelType(),
		Timeout:           cfg.Model.Timeout(),
		PinnedLibVersion:  cfg.Model.PinnedLibVersion,
		ThresholdOverride: cfg.Model.ThresholdOverride,
	})
	if err := engine.Initialize(ctx); err != nil {
		st.Close()
		c.Close()
		return nil, err
	}

	mapper := feature.NewMapper(st, cfg.Batch.MappingConcurrency)
	metrics := monitoring.New()

	var hub *events.Hub
	var pub events.Publisher = events.NopPublisher{}
	if withEvents {
		hub = events.NewHub(metrics.EventsDropped, metrics.SubscriberGauge)
		go hub.Run()
		pub = events.NewHubPublisher(hub)
	}

	orch := pipeline.New(pipeline.Config{
		Store:     st,
		Mapper:    mapper,
		Engine:    engine,
		Publisher: pub,
		Cache:     c,
		Metrics:   metrics,
		MaxBatch:  cfg.Batch.MaxItems,
	})

	return &env{
		Store:        st,
		Cache:        c,
		Engine:       engine,
		Mapper:       mapper,
		Hub:          hub,
		Metrics:      metrics,
		Orchestrator: orch,
	}, nil
}

// Close releases the environment's resources.
func (e *env) Close() {
	if e.Hub != nil {
		e.Hub.Close()
	}
	e.Cache.Close()
	if e.Store != nil {
		e.Store.Close()
	}
}
