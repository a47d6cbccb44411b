package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/talentsol/screening/internal/events"
	"github.com/talentsol/screening/internal/feature"
	"github.com/talentsol/screening/internal/inference"
	"github.com/talentsol/screening/internal/model"
	"github.com/talentsol/screening/internal/pipeline"
	"github.com/talentsol/screening/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps pipeline failures onto HTTP statuses: conflicts
// to 409, unresolvable applications to 404, an uninitialized engine to
// 503 and everything else to 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var mapErr *feature.MappingError
	var tooLarge *pipeline.BatchTooLargeError

	switch {
	case errors.Is(err, pipeline.ErrConflict):
		writeError(w, http.StatusConflict, "prediction already exists for this application and model type")
	case errors.As(err, &mapErr):
		writeError(w, http.StatusNotFound, mapErr.Error())
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusBadRequest, tooLarge.Error())
	case errors.Is(err, inference.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, "model is not initialized")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "no prediction found")
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type predictRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	applicationID := chi.URLParam(r, "applicationID")
	if applicationID == "" {
		writeError(w, http.StatusBadRequest, "application id is required")
		return
	}

	// force comes from the body or the query string.
	force := r.URL.Query().Get("force") == "true"
	if r.ContentLength > 0 {
		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		force = force || req.Force
	}

	pred, err := s.orch.ProcessOne(r.Context(), applicationID, force)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

type batchRequest struct {
	ApplicationIDs      []string `json:"application_ids"`
	ApplicationIDsCamel []string `json:"applicationIds"`
	Force               bool     `json:"force"`
}

// ids returns the id list regardless of which key the caller used.
func (r *batchRequest) ids() []string {
	if len(r.ApplicationIDs) > 0 {
		return r.ApplicationIDs
	}
	return r.ApplicationIDsCamel
}

func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ids := req.ids()
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "application_ids must not be empty")
		return
	}

	result, err := s.orch.ProcessMany(r.Context(), ids, req.Force)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type processPendingRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleProcessPending(w http.ResponseWriter, r *http.Request) {
	limit := s.defaultSweepLimit
	if r.ContentLength > 0 {
		var req processPendingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Limit > 0 {
			limit = req.Limit
		}
	} else if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	result, err := s.orch.ProcessPending(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	applicationID := chi.URLParam(r, "applicationID")
	if applicationID == "" {
		writeError(w, http.StatusBadRequest, "application id is required")
		return
	}

	pred, err := s.orch.Latest(r.Context(), applicationID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	mm, err := s.orch.Metrics(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mm)
}

type statusResponse struct {
	Status        string              `json:"status"`
	Initialized   bool                `json:"initialized"`
	ModelType     string              `json:"model_type"`
	Metrics       *model.ModelMetrics `json:"metrics,omitempty"`
	Database      string              `json:"database"`
	Cache         string              `json:"cache,omitempty"`
	Subscribers   int                 `json:"subscribers"`
	UptimeSeconds int64               `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:        "ok",
		Initialized:   s.engine.Ready(),
		ModelType:     string(s.engine.ModelType()),
		Database:      "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if mm, err := s.engine.Metrics(); err == nil {
		resp.Metrics = mm
	}
	if s.hub != nil {
		resp.Subscribers = s.hub.SubscriberCount()
	}

	if err := s.store.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "unreachable"
	}
	if s.cache != nil {
		resp.Cache = "ok"
		if err := s.cache.Ping(r.Context()); err != nil {
			resp.Cache = "unreachable"
		}
	}
	if !resp.Initialized {
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModelReload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reload(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	mm, err := s.engine.Metrics()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mm)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	// The hub maintains the subscriber gauge on register and unregister.
	events.Attach(s.hub, conn)
}
