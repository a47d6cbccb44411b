package inference

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/talentsol/screening/internal/model"
)

// DefaultThreshold is the tuned decision threshold shipped with the
// current artifacts, used only when the wrapper does not report one.
const DefaultThreshold = 0.5027

// targetLatency is the per-prediction latency objective. Crossing it is
// logged, never enforced; the bridge timeout is the hard bound.
const targetLatency = 2000 * time.Millisecond

// ErrNotReady is returned when scoring is attempted before Initialize.
var ErrNotReady = eris.New("inference: engine not initialized")

// Engine owns the loaded classifier. The artifact is loaded exactly once
// per process via Initialize; Reload swaps it under an exclusive lock so
// in-flight predictions finish against the old version and new ones wait.
type Engine struct {
	invoker Invoker
	timeout time.Duration

	// pinnedLibVersion, when set, must match the scoring runtime version
	// reported by the wrapper or initialization fails.
	pinnedLibVersion  string
	thresholdOverride float64

	mu          sync.RWMutex
	initialized bool
	modelType   model.ModelType
	info        *ModelInfo
	loadedAt    time.Time
}

// EngineConfig holds engine construction settings.
type EngineConfig struct {
	ModelType         model.ModelType
	Timeout           time.Duration
	PinnedLibVersion  string
	ThresholdOverride float64
}

// NewEngine creates an uninitialized engine around the given invoker.
func NewEngine(inv Invoker, cfg EngineConfig) *Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = targetLatency
	}
	return &Engine{
		invoker:           inv,
		timeout:           timeout,
		pinnedLibVersion:  cfg.PinnedLibVersion,
		thresholdOverride: cfg.ThresholdOverride,
		modelType:         cfg.ModelType,
	}
}

// Initialize loads and verifies the model artifact. Any failure here is
// fatal for the caller: a missing artifact or a scoring runtime version
// mismatch must stop the service, not degrade it. Calling Initialize on
// an already initialized engine is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}
	return e.loadLocked(ctx)
}

// Reload re-reads the artifact under the write lock. New predictions
// block until the reload completes; a failed reload leaves the previous
// model in place.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return ErrNotReady
	}

	prev := e.info
	if err := e.loadLocked(ctx); err != nil {
		e.info = prev
		return err
	}
	zap.L().Info("model reloaded",
		zap.String("model_type", string(e.modelType)),
		zap.String("model_version", e.info.ModelVersion))
	return nil
}

func (e *Engine) loadLocked(ctx context.Context) error {
	info, err := e.invoker.Describe(ctx)
	if err != nil {
		return eris.Wrapf(err, "inference: load %s", e.modelType)
	}
	if info.ModelType != "" && info.ModelType != string(e.modelType) {
		return eris.Errorf("inference: artifact is %s, configured model type is %s", info.ModelType, e.modelType)
	}
	if e.pinnedLibVersion != "" && info.LibraryVersion != e.pinnedLibVersion {
		return eris.Errorf("inference: scoring runtime %s does not match pinned version %s",
			info.LibraryVersion, e.pinnedLibVersion)
	}

	e.info = info
	e.initialized = true
	e.loadedAt = time.Now().UTC()

	zap.L().Info("model loaded",
		zap.String("model_type", string(e.modelType)),
		zap.String("model_version", info.ModelVersion),
		zap.Float64("threshold", e.thresholdLocked()),
		zap.String("library_version", info.LibraryVersion))
	return nil
}

// Ready reports whether the engine can serve predictions.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// ModelType returns the configured classifier type.
func (e *Engine) ModelType() model.ModelType {
	return e.modelType
}

// threshold returns the decision threshold in effect. Fixed per loaded
// model version; callers never choose thresholds per request.
func (e *Engine) threshold() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.thresholdLocked()
}

func (e *Engine) thresholdLocked() float64 {
	if e.thresholdOverride > 0 {
		return e.thresholdOverride
	}
	if e.info != nil && e.info.Threshold > 0 {
		return e.info.Threshold
	}
	return DefaultThreshold
}

// Metrics returns the cached model metadata. The trailing window is
// filled in by the caller from the prediction store.
func (e *Engine) Metrics() (*model.ModelMetrics, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return nil, ErrNotReady
	}
	return &model.ModelMetrics{
		ModelType:       e.modelType,
		ModelVersion:    e.info.ModelVersion,
		Threshold:       e.thresholdLocked(),
		TargetRecall:    e.info.TargetRecall,
		TargetPrecision: e.info.TargetPrecision,
		LibraryVersion:  e.info.LibraryVersion,
		LoadedAt:        e.loadedAt,
	}, nil
}

// Predict scores one feature vector. The decision and confidence are
// computed here from the model probability and the tuned threshold so
// that every caller sees identical semantics.
func (e *Engine) Predict(ctx context.Context, fv *model.FeatureVector) (*model.PredictionResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		return nil, ErrNotReady
	}

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.invoker.Invoke(cctx, e.bridgeRequest(fv))
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	if elapsed > targetLatency {
		zap.L().Warn("prediction exceeded latency target",
			zap.String("application_id", fv.ApplicationID),
			zap.Duration("elapsed", elapsed))
	}

	result := e.resultLocked(resp, fv)
	result.ProcessingTimeMs = elapsed.Milliseconds()
	return result, nil
}

// PredictBatch scores a set of vectors as one serialized unit. When the
// runtime supports vectorized scoring a single bridge call covers the
// whole batch; otherwise items run sequentially with per-item outcomes.
// Returned slices are parallel to the input: exactly one of results[i],
// errs[i] is set.
func (e *Engine) PredictBatch(ctx context.Context, fvs []*model.FeatureVector) ([]*model.PredictionResult, []error) {
	results := make([]*model.PredictionResult, len(fvs))
	errs := make([]error, len(fvs))
	if len(fvs) == 0 {
		return results, errs
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.initialized {
		for i := range errs {
			errs[i] = ErrNotReady
		}
		return results, errs
	}

	if e.info.SupportsBatch {
		req := &BridgeBatchRequest{ModelType: string(e.modelType)}
		for _, fv := range fvs {
			req.Instances = append(req.Instances, *e.bridgeRequest(fv))
		}

		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, e.timeout*time.Duration(len(fvs)))
		defer cancel()

		resp, err := e.invoker.InvokeBatch(cctx, req)
		if err == nil && len(resp.Results) != len(fvs) {
			// Per-item alignment is lost; no result can be trusted.
			err = eris.Errorf("inference: vectorized scoring returned %d results for %d inputs",
				len(resp.Results), len(fvs))
		}
		if err != nil {
			// Vectorized failure fails every item identically; the caller
			// reports them individually.
			for i := range errs {
				errs[i] = err
			}
			return results, errs
		}
		perItem := time.Since(start).Milliseconds() / int64(len(fvs))
		for i := range resp.Results {
			results[i] = e.resultLocked(&resp.Results[i], fvs[i])
			results[i].ProcessingTimeMs = perItem
		}
		return results, errs
	}

	for i, fv := range fvs {
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		resp, err := e.invoker.Invoke(cctx, e.bridgeRequest(fv))
		cancel()
		if err != nil {
			errs[i] = err
			continue
		}
		results[i] = e.resultLocked(resp, fv)
		results[i].ProcessingTimeMs = time.Since(start).Milliseconds()
	}
	return results, errs
}

func (e *Engine) bridgeRequest(fv *model.FeatureVector) *BridgeRequest {
	return &BridgeRequest{
		ModelType:      string(e.modelType),
		JobDescription: fv.JobDescription,
		Resume:         fv.Resume,
		JobRole:        fv.JobRoles,
		JobRoles:       fv.JobRoles,
		Ethnicity:      fv.Ethnicity,
	}
}

// resultLocked derives the decision, confidence and reasoning from the
// raw bridge response. Caller holds at least the read lock.
func (e *Engine) resultLocked(resp *BridgeResponse, fv *model.FeatureVector) *model.PredictionResult {
	threshold := e.thresholdLocked()

	binary := 0
	if resp.Probability >= threshold {
		binary = 1
	}

	reasoning := resp.Reasoning
	if len(reasoning) == 0 {
		reasoning = buildReasoning(resp.Probability, reasoningInput{
			overlap:         fv.KeywordOverlap,
			overlapRatio:    fv.KeywordOverlapRatio,
			matchedKeywords: fv.MatchedKeywords,
			resumeSkills:    fv.ResumeSkills,
			experienceYears: fv.ExperienceYears,
			educationLevel:  fv.EducationLevel,
			resumeWords:     fv.ResumeWords,
		})
	}

	return &model.PredictionResult{
		Probability:      resp.Probability,
		BinaryPrediction: binary,
		Confidence:       confidence(resp.Probability, threshold),
		ThresholdUsed:    threshold,
		ModelVersion:     e.info.ModelVersion,
		Reasoning:        reasoning,
	}
}

// confidence normalizes the probability's distance from the threshold to
// [0,1]: 0 exactly at the threshold, 1 at either extreme.
func confidence(probability, threshold float64) float64 {
	span := math.Max(threshold, 1-threshold)
	if span == 0 {
		return 0
	}
	c := math.Abs(probability-threshold) / span
	return math.Min(c, 1)
}
