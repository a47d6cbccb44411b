package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsol/screening/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedApplication(t *testing.T, s *SQLiteStore, appID, candID, jobID string, submitted time.Time) {
	t.Helper()
	db := s.DB()
	_, err := db.Exec(`INSERT OR IGNORE INTO candidates (id, resume_text, ethnicity) VALUES (?, ?, ?)`,
		candID, "Python engineer with Docker experience", "")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT OR IGNORE INTO jobs (id, title, description, role) VALUES (?, ?, ?, ?)`,
		jobID, "Backend Engineer", "Looking for Python and Docker skills", "Backend Engineer")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO applications (id, candidate_id, job_id, submitted_at) VALUES (?, ?, ?, ?)`,
		appID, candID, jobID, submitted)
	require.NoError(t, err)
}

func samplePrediction(appID string) *model.Prediction {
	return &model.Prediction{
		ApplicationID:    appID,
		CandidateID:      "cand-1",
		JobID:            "job-1",
		ModelType:        model.ModelTypeDecisionTree,
		ModelVersion:     "v2.1.0",
		Probability:      0.73,
		BinaryPrediction: 1,
		Confidence:       0.46,
		ThresholdUsed:    0.5027,
		Reasoning:        []string{"Strong overall match between candidate profile and job requirements"},
		ProcessingTimeMs: 120,
	}
}

func TestSQLite_SaveAndLatest(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedApplication(t, s, "app-1", "cand-1", "job-1", time.Now())

	p := samplePrediction("app-1")
	require.NoError(t, s.SavePrediction(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())

	got, err := s.LatestPrediction(ctx, "app-1", model.ModelTypeDecisionTree)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.InDelta(t, 0.73, got.Probability, 1e-9)
	assert.Equal(t, p.Reasoning, got.Reasoning)
}

func TestSQLite_LatestPicksNewestRow(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedApplication(t, s, "app-1", "cand-1", "job-1", time.Now())

	old := samplePrediction("app-1")
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	old.Probability = 0.2
	require.NoError(t, s.SavePrediction(ctx, old))

	newer := samplePrediction("app-1")
	newer.Probability = 0.9
	require.NoError(t, s.SavePrediction(ctx, newer))

	got, err := s.LatestPrediction(ctx, "app-1", model.ModelTypeDecisionTree)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
	assert.InDelta(t, 0.9, got.Probability, 1e-9)
}

func TestSQLite_LatestNotFound(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.LatestPrediction(context.Background(), "ghost", model.ModelTypeDecisionTree)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_PredictionExists(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedApplication(t, s, "app-1", "cand-1", "job-1", time.Now())

	exists, err := s.PredictionExists(ctx, "app-1", model.ModelTypeDecisionTree)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.SavePrediction(ctx, samplePrediction("app-1")))

	exists, err = s.PredictionExists(ctx, "app-1", model.ModelTypeDecisionTree)
	require.NoError(t, err)
	assert.True(t, exists)

	// A row for one model type does not exist for the other.
	exists, err = s.PredictionExists(ctx, "app-1", model.ModelTypeLogisticRegression)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLite_ScoringRequest(t *testing.T) {
	s := newTestSQLite(t)
	seedApplication(t, s, "app-1", "cand-1", "job-1", time.Now())

	sr, err := s.ScoringRequest(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", sr.ApplicationID)
	assert.Equal(t, "cand-1", sr.CandidateID)
	assert.Equal(t, "job-1", sr.JobID)
	assert.Contains(t, sr.JobDescription, "Python")
	assert.Contains(t, sr.ResumeText, "Docker")
	assert.Equal(t, "Backend Engineer", sr.JobRole)
}

func TestSQLite_ScoringRequestNotFound(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.ScoringRequest(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListUnscored(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	seedApplication(t, s, "app-1", "cand-1", "job-1", base)
	seedApplication(t, s, "app-2", "cand-2", "job-1", base.Add(time.Minute))
	seedApplication(t, s, "app-3", "cand-3", "job-1", base.Add(2*time.Minute))

	require.NoError(t, s.SavePrediction(ctx, samplePrediction("app-2")))

	ids, err := s.ListUnscored(ctx, model.ModelTypeDecisionTree, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"app-1", "app-3"}, ids)

	ids, err = s.ListUnscored(ctx, model.ModelTypeDecisionTree, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"app-1"}, ids)

	// The other model type has scored nothing yet.
	ids, err = s.ListUnscored(ctx, model.ModelTypeLogisticRegression, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestSQLite_WindowStats(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seedApplication(t, s, "app-1", "cand-1", "job-1", time.Now())
	seedApplication(t, s, "app-2", "cand-2", "job-1", time.Now())

	pos := samplePrediction("app-1")
	require.NoError(t, s.SavePrediction(ctx, pos))

	neg := samplePrediction("app-2")
	neg.BinaryPrediction = 0
	neg.Probability = 0.2
	require.NoError(t, s.SavePrediction(ctx, neg))

	stale := samplePrediction("app-1")
	stale.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.SavePrediction(ctx, stale))

	ws, err := s.WindowStats(ctx, model.ModelTypeDecisionTree, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, ws.Total)
	assert.Equal(t, 1, ws.Positives)
	assert.InDelta(t, 0.5, ws.PositiveRate, 1e-9)
	assert.Positive(t, ws.AvgProcessingMs)
}

func TestSQLite_WindowStatsEmpty(t *testing.T) {
	s := newTestSQLite(t)
	ws, err := s.WindowStats(context.Background(), model.ModelTypeDecisionTree, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, ws.Total)
	assert.Zero(t, ws.PositiveRate)
}
