package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsol/screening/internal/feature"
	"github.com/talentsol/screening/internal/inference"
	"github.com/talentsol/screening/internal/model"
	"github.com/talentsol/screening/internal/store"
)

// memStore is an in-memory Store with per-application failure injection.
type memStore struct {
	mu       sync.Mutex
	requests map[string]*model.ScoringRequest
	preds    []*model.Prediction
	saveErr  map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		requests: make(map[string]*model.ScoringRequest),
		saveErr:  make(map[string]error),
	}
}

func (m *memStore) addApplication(id, jobDesc, resume string, submitted time.Time) {
	m.requests[id] = &model.ScoringRequest{
		ApplicationID:  id,
		CandidateID:    "cand-" + id,
		JobID:          "job-1",
		JobDescription: jobDesc,
		ResumeText:     resume,
		JobRole:        "Engineer",
		SubmittedAt:    submitted,
	}
}

func (m *memStore) SavePrediction(_ context.Context, p *model.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveErr[p.ApplicationID]; err != nil {
		return err
	}
	cp := *p
	m.preds = append(m.preds, &cp)
	return nil
}

func (m *memStore) PredictionExists(_ context.Context, applicationID string, mt model.ModelType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.preds {
		if p.ApplicationID == applicationID && p.ModelType == mt {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) LatestPrediction(_ context.Context, applicationID string, mt model.ModelType) (*model.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Prediction
	for _, p := range m.preds {
		if p.ApplicationID != applicationID || p.ModelType != mt {
			continue
		}
		if latest == nil || !p.CreatedAt.Before(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (m *memStore) ScoringRequest(_ context.Context, applicationID string) (*model.ScoringRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sr, ok := m.requests[applicationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sr, nil
}

func (m *memStore) ListUnscored(_ context.Context, mt model.ModelType, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scored := make(map[string]bool)
	for _, p := range m.preds {
		if p.ModelType == mt {
			scored[p.ApplicationID] = true
		}
	}
	var pending []*model.ScoringRequest
	for _, sr := range m.requests {
		if !scored[sr.ApplicationID] {
			pending = append(pending, sr)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].SubmittedAt.Before(pending[j].SubmittedAt)
	})
	var ids []string
	for _, sr := range pending {
		if len(ids) == limit {
			break
		}
		ids = append(ids, sr.ApplicationID)
	}
	return ids, nil
}

func (m *memStore) WindowStats(_ context.Context, mt model.ModelType, since time.Time) (*model.WindowStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := &model.WindowStats{Since: since}
	for _, p := range m.preds {
		if p.ModelType != mt || p.CreatedAt.Before(since) {
			continue
		}
		ws.Total++
		if p.BinaryPrediction == 1 {
			ws.Positives++
		}
	}
	if ws.Total > 0 {
		ws.PositiveRate = float64(ws.Positives) / float64(ws.Total)
	}
	return ws, nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Ping(context.Context) error    { return nil }
func (m *memStore) Close() error                  { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.preds)
}

// capturePublisher records publish order.
type capturePublisher struct {
	mu     sync.Mutex
	events []model.PredictionEvent
}

func (c *capturePublisher) PublishPrediction(p *model.Prediction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, model.EventFromPrediction(p))
}

// overlapInvoker scores by resume/job keyword overlap and fails any item
// whose resume contains the marker token.
type overlapInvoker struct {
	failMarker string
}

func (o *overlapInvoker) Describe(context.Context) (*inference.ModelInfo, error) {
	return &inference.ModelInfo{
		ModelType:    string(model.ModelTypeDecisionTree),
		ModelVersion: "v2.1.0",
		Threshold:    0.5027,
	}, nil
}

func (o *overlapInvoker) score(req *inference.BridgeRequest) (*inference.BridgeResponse, error) {
	if o.failMarker != "" && strings.Contains(req.Resume, o.failMarker) {
		return nil, &inference.BridgeError{Op: "invoke", Err: context.DeadlineExceeded}
	}
	job := feature.Tokenize(req.JobDescription)
	resume := feature.Tokenize(req.Resume)
	overlap, _ := feature.Overlap(job, resume)
	p := 0.1
	if len(job) > 0 {
		p = 0.1 + 0.85*float64(overlap)/float64(len(job))
	}
	return &inference.BridgeResponse{Probability: p}, nil
}

func (o *overlapInvoker) Invoke(_ context.Context, req *inference.BridgeRequest) (*inference.BridgeResponse, error) {
	return o.score(req)
}

func (o *overlapInvoker) InvokeBatch(_ context.Context, req *inference.BridgeBatchRequest) (*inference.BridgeBatchResponse, error) {
	var out inference.BridgeBatchResponse
	for i := range req.Instances {
		resp, err := o.score(&req.Instances[i])
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, *resp)
	}
	return &out, nil
}

type testEnv struct {
	store *memStore
	orch  *Orchestrator
	pub   *capturePublisher
}

func newTestEnv(t *testing.T, inv inference.Invoker) *testEnv {
	t.Helper()
	if inv == nil {
		inv = &overlapInvoker{}
	}
	ms := newMemStore()
	engine := inference.NewEngine(inv, inference.EngineConfig{ModelType: model.ModelTypeDecisionTree})
	require.NoError(t, engine.Initialize(context.Background()))

	pub := &capturePublisher{}
	orch := New(Config{
		Store:     ms,
		Mapper:    feature.NewMapper(ms, 4),
		Engine:    engine,
		Publisher: pub,
		MaxBatch:  100,
	})
	return &testEnv{store: ms, orch: orch, pub: pub}
}

const matchingJob = "python docker kubernetes postgresql"
const matchingResume = "python docker kubernetes postgresql engineer"

func TestProcessOne(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.addApplication("app-1", matchingJob, matchingResume, time.Now())

	pred, err := env.orch.ProcessOne(context.Background(), "app-1", false)
	require.NoError(t, err)

	assert.Equal(t, "app-1", pred.ApplicationID)
	assert.Equal(t, model.ModelTypeDecisionTree, pred.ModelType)
	assert.Equal(t, "v2.1.0", pred.ModelVersion)
	assert.Equal(t, 1, pred.BinaryPrediction)
	assert.InDelta(t, 0.5027, pred.ThresholdUsed, 1e-9)
	assert.GreaterOrEqual(t, pred.Confidence, 0.0)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
	assert.NotEmpty(t, pred.Reasoning)
	assert.NotEmpty(t, pred.ID)
	assert.False(t, pred.CreatedAt.IsZero())

	assert.Equal(t, 1, env.store.count())
	require.Len(t, env.pub.events, 1)
	assert.Equal(t, "app-1", env.pub.events[0].ApplicationID)
}

func TestProcessOne_Conflict(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.addApplication("app-1", matchingJob, matchingResume, time.Now())

	_, err := env.orch.ProcessOne(context.Background(), "app-1", false)
	require.NoError(t, err)

	_, err = env.orch.ProcessOne(context.Background(), "app-1", false)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, env.store.count())
}

func TestProcessOne_ForceAppendsNewRow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.addApplication("app-1", matchingJob, matchingResume, time.Now())

	first, err := env.orch.ProcessOne(context.Background(), "app-1", false)
	require.NoError(t, err)

	second, err := env.orch.ProcessOne(context.Background(), "app-1", true)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, env.store.count())

	latest, err := env.orch.Latest(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestProcessOne_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.orch.ProcessOne(context.Background(), "ghost", false)
	require.Error(t, err)

	var mapErr *feature.MappingError
	assert.ErrorAs(t, err, &mapErr)
	assert.Zero(t, env.store.count())
	assert.Empty(t, env.pub.events)
}

func TestProcessMany_RejectsOversizedBatch(t *testing.T) {
	env := newTestEnv(t, nil)

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = fmt.Sprintf("app-%d", i)
	}
	_, err := env.orch.ProcessMany(context.Background(), ids, false)

	var tooLarge *BatchTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 101, tooLarge.Count)
	assert.Equal(t, 100, tooLarge.Max)
	assert.Zero(t, env.store.count())
	assert.Empty(t, env.pub.events)
}

func TestProcessMany_SkipsAlreadyScored(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.addApplication("app-1", matchingJob, matchingResume, time.Now())
	env.store.addApplication("app-2", matchingJob, matchingResume, time.Now())

	_, err := env.orch.ProcessOne(context.Background(), "app-1", false)
	require.NoError(t, err)

	result, err := env.orch.ProcessMany(context.Background(), []string{"app-1", "app-2"}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, []string{"app-1"}, result.Skipped)
	assert.Empty(t, result.Errors)
}

func TestProcessMany_ForceRescoresAll(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.addApplication("app-1", matchingJob, matchingResume, time.Now())

	_, err := env.orch.ProcessOne(context.Background(), "app-1", false)
	require.NoError(t, err)

	result, err := env.orch.ProcessMany(context.Background(), []string{"app-1"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, 2, env.store.count())
}

func TestProcessMany_PartialSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	var ids []string
	for i := 0; i < 9; i++ {
		id := fmt.Sprintf("app-%d", i)
		env.store.addApplication(id, matchingJob, matchingResume, time.Now())
		ids = append(ids, id)
	}
	ids = append(ids, "ghost")

	result, err := env.orch.ProcessMany(context.Background(), ids, false)
	require.NoError(t, err)

	assert.Equal(t, 9, result.Processed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "ghost", result.Errors[0].ApplicationID)
	assert.Equal(t, "mapping", result.Errors[0].Stage)
	assert.Len(t, env.pub.events, 9)
}

func TestProcessMany_DeduplicatesInput(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.addApplication("app-1", matchingJob, matchingResume, time.Now())

	result, err := env.orch.ProcessMany(context.Background(), []string{"app-1", "app-1", "app-1"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, env.store.count())
}

func TestProcessMany_InferenceFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t, &overlapInvoker{failMarker: "POISON"})
	env.store.addApplication("app-ok", matchingJob, matchingResume, time.Now())
	env.store.addApplication("app-bad", matchingJob, "POISON resume text", time.Now())

	result, err := env.orch.ProcessMany(context.Background(), []string{"app-ok", "app-bad"}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "app-bad", result.Errors[0].ApplicationID)
	assert.Equal(t, "inference", result.Errors[0].Stage)
	assert.True(t, result.Errors[0].Retryable)
}

func TestProcessMany_PersistenceFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.addApplication("app-1", matchingJob, matchingResume, time.Now())
	env.store.addApplication("app-2", matchingJob, matchingResume, time.Now())
	env.store.saveErr["app-2"] = eris.New("disk full")

	result, err := env.orch.ProcessMany(context.Background(), []string{"app-1", "app-2"}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "persistence", result.Errors[0].Stage)

	// Failed persistence must not publish an event.
	require.Len(t, env.pub.events, 1)
	assert.Equal(t, "app-1", env.pub.events[0].ApplicationID)
}

func TestProcessMany_EventsFollowPersistenceOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	var ids []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("app-%d", i)
		env.store.addApplication(id, matchingJob, matchingResume, time.Now())
		ids = append(ids, id)
	}

	result, err := env.orch.ProcessMany(context.Background(), ids, false)
	require.NoError(t, err)
	require.Len(t, env.pub.events, len(result.Predictions))

	for i, p := range result.Predictions {
		assert.Equal(t, p.ApplicationID, env.pub.events[i].ApplicationID)
	}
}

func TestProcessMany_EmptyInput(t *testing.T) {
	env := newTestEnv(t, nil)
	result, err := env.orch.ProcessMany(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
}

func TestProcessPending(t *testing.T) {
	env := newTestEnv(t, nil)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		env.store.addApplication(fmt.Sprintf("app-%d", i), matchingJob, matchingResume, base.Add(time.Duration(i)*time.Minute))
	}
	_, err := env.orch.ProcessOne(context.Background(), "app-0", false)
	require.NoError(t, err)

	result, err := env.orch.ProcessPending(context.Background(), 3)
	require.NoError(t, err)

	// Oldest unscored first, capped at the limit.
	assert.Equal(t, 3, result.Processed)
	ids := make([]string, 0, len(result.Predictions))
	for _, p := range result.Predictions {
		ids = append(ids, p.ApplicationID)
	}
	assert.Equal(t, []string{"app-1", "app-2", "app-3"}, ids)
}

func TestProcessPending_NothingToDo(t *testing.T) {
	env := newTestEnv(t, nil)
	result, err := env.orch.ProcessPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
}

func TestLatest_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.orch.Latest(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMetrics_IncludesWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.addApplication("app-1", matchingJob, matchingResume, time.Now())
	_, err := env.orch.ProcessOne(context.Background(), "app-1", false)
	require.NoError(t, err)

	mm, err := env.orch.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ModelTypeDecisionTree, mm.ModelType)
	require.NotNil(t, mm.Window)
	assert.Equal(t, 1, mm.Window.Total)
	assert.Equal(t, 1, mm.Window.Positives)
}

func TestNopPublisherDefault(t *testing.T) {
	ms := newMemStore()
	ms.addApplication("app-1", matchingJob, matchingResume, time.Now())
	engine := inference.NewEngine(&overlapInvoker{}, inference.EngineConfig{ModelType: model.ModelTypeDecisionTree})
	require.NoError(t, engine.Initialize(context.Background()))

	orch := New(Config{Store: ms, Mapper: feature.NewMapper(ms, 2), Engine: engine})
	_, err := orch.ProcessOne(context.Background(), "app-1", false)
	require.NoError(t, err)
}
