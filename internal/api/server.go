// Package api exposes the scoring pipeline over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/talentsol/screening/internal/cache"
	"github.com/talentsol/screening/internal/events"
	"github.com/talentsol/screening/internal/inference"
	"github.com/talentsol/screening/internal/monitoring"
	"github.com/talentsol/screening/internal/pipeline"
	"github.com/talentsol/screening/internal/store"
)

// Server holds the handler dependencies.
type Server struct {
	orch     *pipeline.Orchestrator
	engine   *inference.Engine
	store    store.Store
	cache    *cache.Cache
	hub      *events.Hub
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader

	defaultSweepLimit int
	startedAt         time.Time
}

// Config holds server construction settings.
type Config struct {
	Orchestrator      *pipeline.Orchestrator
	Engine            *inference.Engine
	Store             store.Store
	Cache             *cache.Cache
	Hub               *events.Hub
	Metrics           *monitoring.Metrics
	AllowedOrigins    []string
	DefaultSweepLimit int
}

// New creates the server and its router.
func New(cfg Config) *Server {
	limit := cfg.DefaultSweepLimit
	if limit <= 0 {
		limit = 50
	}
	return &Server{
		orch:              cfg.Orchestrator,
		engine:            cfg.Engine,
		store:             cfg.Store,
		cache:             cfg.Cache,
		hub:               cfg.Hub,
		metrics:           cfg.Metrics,
		upgrader:          events.Upgrader(cfg.AllowedOrigins),
		defaultSweepLimit: limit,
		startedAt:         time.Now().UTC(),
	}
}

// Router builds the chi mux with middleware and all routes.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics/prometheus", s.metrics.Handler())
	}

	r.Post("/predict/{applicationID}", s.handlePredict)
	r.Post("/predict-batch", s.handlePredictBatch)
	r.Post("/process-pending", s.handleProcessPending)
	r.Get("/prediction/{applicationID}", s.handleGetPrediction)
	r.Post("/model/reload", s.handleModelReload)
	r.Get("/ws", s.handleWebsocket)

	return r
}

// requestLogger logs each request with latency and status.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
