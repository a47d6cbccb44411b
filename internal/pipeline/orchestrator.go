// Package pipeline coordinates scoring runs: skip checks, feature
// mapping, inference, persistence and event publication, in that order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/talentsol/screening/internal/cache"
	"github.com/talentsol/screening/internal/events"
	"github.com/talentsol/screening/internal/feature"
	"github.com/talentsol/screening/internal/inference"
	"github.com/talentsol/screening/internal/model"
	"github.com/talentsol/screening/internal/monitoring"
	"github.com/talentsol/screening/internal/resilience"
	"github.com/talentsol/screening/internal/store"
)

// DefaultMaxBatch is the hard cap on items per batch request. Oversized
// batches are rejected outright rather than truncated.
const DefaultMaxBatch = 100

// metricsWindow is the trailing aggregation window for model metrics.
const metricsWindow = 24 * time.Hour

// ErrConflict is returned when a prediction already exists for the
// application and model type and the caller did not force a re-score.
var ErrConflict = eris.New("pipeline: prediction already exists")

// BatchTooLargeError rejects an oversized batch before any work happens.
type BatchTooLargeError struct {
	Count int
	Max   int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("pipeline: batch of %d items exceeds maximum of %d", e.Count, e.Max)
}

// Orchestrator wires the scoring stages together. It holds no scoring
// state of its own; idempotence comes from the store's append-only rows.
type Orchestrator struct {
	store     store.Store
	mapper    *feature.Mapper
	engine    *inference.Engine
	publisher events.Publisher
	cache     *cache.Cache
	metrics   *monitoring.Metrics
	maxBatch  int
}

// Config holds orchestrator construction settings. Cache and Metrics are
// optional; Publisher defaults to a no-op.
type Config struct {
	Store     store.Store
	Mapper    *feature.Mapper
	Engine    *inference.Engine
	Publisher events.Publisher
	Cache     *cache.Cache
	Metrics   *monitoring.Metrics
	MaxBatch  int
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	pub := cfg.Publisher
	if pub == nil {
		pub = events.NopPublisher{}
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Orchestrator{
		store:     cfg.Store,
		mapper:    cfg.Mapper,
		engine:    cfg.Engine,
		publisher: pub,
		cache:     cfg.Cache,
		metrics:   cfg.Metrics,
		maxBatch:  maxBatch,
	}
}

// ProcessOne scores a single application. Without force, an existing
// prediction for the same application and model type is a conflict, not
// a re-score; with force a new row is appended and becomes the latest.
func (o *Orchestrator) ProcessOne(ctx context.Context, applicationID string, force bool) (*model.Prediction, error) {
	mt := o.engine.ModelType()

	if !force {
		exists, err := o.store.PredictionExists(ctx, applicationID, mt)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrConflict
		}
	}

	fv, err := o.mapper.MapOne(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	res, err := o.engine.Predict(ctx, fv)
	if err != nil {
		o.observe(mt, "error", 0)
		return nil, err
	}

	pred := predictionFrom(fv, res, mt)
	if err := o.store.SavePrediction(ctx, pred); err != nil {
		return nil, err
	}
	o.afterPersist(ctx, mt, []*model.Prediction{pred})
	o.observe(mt, "success", float64(res.ProcessingTimeMs)/1000)
	return pred, nil
}

// ProcessMany scores a batch. Items already scored are skipped unless
// force is set; individual mapping, inference and persistence failures
// are collected per item and never abort the run. Events are published
// in persistence order after each row commits.
func (o *Orchestrator) ProcessMany(ctx context.Context, applicationIDs []string, force bool) (*model.BatchResult, error) {
	if len(applicationIDs) == 0 {
		return &model.BatchResult{}, nil
	}
	if len(applicationIDs) > o.maxBatch {
		return nil, &BatchTooLargeError{Count: len(applicationIDs), Max: o.maxBatch}
	}

	mt := o.engine.ModelType()
	result := &model.BatchResult{}

	// Duplicates within one request collapse to the first occurrence so a
	// batch appends at most one row per application.
	seen := make(map[string]bool, len(applicationIDs))
	var pending []string
	for _, id := range applicationIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		if !force {
			exists, err := o.store.PredictionExists(ctx, id, mt)
			if err != nil {
				result.Errors = append(result.Errors, model.ItemError{
					ApplicationID: id,
					Stage:         "persistence",
					Message:       err.Error(),
					Retryable:     resilience.IsTransient(err),
				})
				o.countItem("failed")
				continue
			}
			if exists {
				result.Skipped = append(result.Skipped, id)
				o.countItem("skipped")
				continue
			}
		}
		pending = append(pending, id)
	}

	if len(pending) == 0 {
		return result, nil
	}

	vectors, mapErrs := o.mapper.MapMany(ctx, pending)
	for range mapErrs {
		o.countItem("failed")
	}
	result.Errors = append(result.Errors, mapErrs...)

	results, infErrs := o.engine.PredictBatch(ctx, vectors)

	var saved []*model.Prediction
	for i, fv := range vectors {
		if infErrs[i] != nil {
			result.Errors = append(result.Errors, model.ItemError{
				ApplicationID: fv.ApplicationID,
				Stage:         "inference",
				Message:       infErrs[i].Error(),
				Retryable:     retryable(infErrs[i]),
			})
			o.countItem("failed")
			continue
		}

		pred := predictionFrom(fv, results[i], mt)
		if err := o.store.SavePrediction(ctx, pred); err != nil {
			result.Errors = append(result.Errors, model.ItemError{
				ApplicationID: fv.ApplicationID,
				Stage:         "persistence",
				Message:       err.Error(),
				Retryable:     resilience.IsTransient(err),
			})
			o.countItem("failed")
			continue
		}
		saved = append(saved, pred)
		o.countItem("scored")
		o.observe(mt, "success", float64(results[i].ProcessingTimeMs)/1000)
	}

	o.afterPersist(ctx, mt, saved)

	result.Processed = len(saved)
	result.Predictions = saved
	zap.L().Info("batch scoring complete",
		zap.Int("requested", len(applicationIDs)),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Errors)))
	return result, nil
}

// ProcessPending scores applications that have no prediction yet for the
// active model type, oldest submissions first.
func (o *Orchestrator) ProcessPending(ctx context.Context, limit int) (*model.BatchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > o.maxBatch {
		limit = o.maxBatch
	}

	ids, err := o.store.ListUnscored(ctx, o.engine.ModelType(), limit)
	if err != nil {
		return nil, err
	}
	return o.ProcessMany(ctx, ids, false)
}

// Latest returns the newest persisted prediction for an application,
// reading through the cache when one is configured.
func (o *Orchestrator) Latest(ctx context.Context, applicationID string) (*model.Prediction, error) {
	mt := o.engine.ModelType()

	if p := o.cache.LatestPrediction(ctx, applicationID, mt); p != nil {
		return p, nil
	}
	p, err := o.store.LatestPrediction(ctx, applicationID, mt)
	if err != nil {
		return nil, err
	}
	o.cache.StoreLatestPrediction(ctx, p)
	return p, nil
}

// Metrics returns model metadata plus the trailing 24h prediction window.
func (o *Orchestrator) Metrics(ctx context.Context) (*model.ModelMetrics, error) {
	mm, err := o.engine.Metrics()
	if err != nil {
		return nil, err
	}
	mt := o.engine.ModelType()

	if ws := o.cache.WindowStats(ctx, mt); ws != nil {
		mm.Window = ws
		return mm, nil
	}
	ws, err := o.store.WindowStats(ctx, mt, time.Now().UTC().Add(-metricsWindow))
	if err != nil {
		// Metadata is still useful when the aggregate query fails.
		zap.L().Warn("window stats unavailable", zap.Error(err))
		return mm, nil
	}
	o.cache.StoreWindowStats(ctx, mt, ws)
	mm.Window = ws
	return mm, nil
}

// afterPersist invalidates stale cached reads, primes the latest keys and
// publishes events in persistence order.
func (o *Orchestrator) afterPersist(ctx context.Context, mt model.ModelType, saved []*model.Prediction) {
	if len(saved) == 0 {
		return
	}
	o.cache.Invalidate(ctx, mt)
	for _, p := range saved {
		o.cache.StoreLatestPrediction(ctx, p)
		o.publisher.PublishPrediction(p)
	}
}

func (o *Orchestrator) observe(mt model.ModelType, outcome string, seconds float64) {
	if o.metrics != nil {
		o.metrics.ObservePrediction(string(mt), outcome, seconds)
	}
}

func (o *Orchestrator) countItem(result string) {
	if o.metrics != nil {
		o.metrics.BatchItemsTotal.WithLabelValues(result).Inc()
	}
}

func predictionFrom(fv *model.FeatureVector, res *model.PredictionResult, mt model.ModelType) *model.Prediction {
	return &model.Prediction{
		ID:               uuid.New().String(),
		ApplicationID:    fv.ApplicationID,
		CandidateID:      fv.CandidateID,
		JobID:            fv.JobID,
		ModelType:        mt,
		ModelVersion:     res.ModelVersion,
		Probability:      res.Probability,
		BinaryPrediction: res.BinaryPrediction,
		Confidence:       res.Confidence,
		ThresholdUsed:    res.ThresholdUsed,
		Reasoning:        res.Reasoning,
		ProcessingTimeMs: res.ProcessingTimeMs,
		CreatedAt:        time.Now().UTC(),
	}
}

// retryable extracts the retry recommendation from an inference failure.
func retryable(err error) bool {
	var be *inference.BridgeError
	if errors.As(err, &be) {
		return be.Retryable()
	}
	return resilience.IsTransient(err)
}
