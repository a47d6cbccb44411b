package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/talentsol/screening/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for
// local development and single-node deployments without Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS candidates (
	id          TEXT PRIMARY KEY,
	resume_text TEXT,
	ethnicity   TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	title       TEXT,
	description TEXT,
	role        TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS applications (
	id           TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL REFERENCES candidates(id),
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	submitted_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ml_predictions (
	id                 TEXT PRIMARY KEY,
	application_id     TEXT NOT NULL REFERENCES applications(id),
	candidate_id       TEXT NOT NULL,
	job_id             TEXT NOT NULL,
	model_type         TEXT NOT NULL,
	model_version      TEXT NOT NULL,
	probability        REAL NOT NULL,
	binary_prediction  INTEGER NOT NULL,
	confidence         REAL NOT NULL,
	threshold_used     REAL NOT NULL,
	reasoning          TEXT,
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_app_model_created
	ON ml_predictions(application_id, model_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_predictions_model_created
	ON ml_predictions(model_type, created_at);
CREATE INDEX IF NOT EXISTS idx_applications_submitted ON applications(submitted_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for test seeding.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) SavePrediction(ctx context.Context, p *model.Prediction) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	reasoningJSON, err := json.Marshal(p.Reasoning)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal reasoning for application %s", p.ApplicationID)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ml_predictions
		 (id, application_id, candidate_id, job_id, model_type, model_version, probability, binary_prediction, confidence, threshold_used, reasoning, processing_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ApplicationID, p.CandidateID, p.JobID, string(p.ModelType), p.ModelVersion,
		p.Probability, p.BinaryPrediction, p.Confidence, p.ThresholdUsed,
		string(reasoningJSON), p.ProcessingTimeMs, p.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert prediction for application %s", p.ApplicationID)
}

func (s *SQLiteStore) PredictionExists(ctx context.Context, applicationID string, modelType model.ModelType) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM ml_predictions WHERE application_id = ? AND model_type = ?`,
		applicationID, string(modelType),
	).Scan(&count)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: prediction exists %s", applicationID)
	}
	return count > 0, nil
}

func (s *SQLiteStore) LatestPrediction(ctx context.Context, applicationID string, modelType model.ModelType) (*model.Prediction, error) {
	var p model.Prediction
	var reasoningJSON sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, application_id, candidate_id, job_id, model_type, model_version, probability, binary_prediction, confidence, threshold_used, reasoning, processing_time_ms, created_at
		 FROM ml_predictions
		 WHERE application_id = ? AND model_type = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		applicationID, string(modelType),
	).Scan(&p.ID, &p.ApplicationID, &p.CandidateID, &p.JobID, &p.ModelType, &p.ModelVersion,
		&p.Probability, &p.BinaryPrediction, &p.Confidence, &p.ThresholdUsed,
		&reasoningJSON, &p.ProcessingTimeMs, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest prediction %s", applicationID)
	}

	if reasoningJSON.Valid && reasoningJSON.String != "" {
		if err := json.Unmarshal([]byte(reasoningJSON.String), &p.Reasoning); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal reasoning %s", p.ID)
		}
	}
	return &p, nil
}

func (s *SQLiteStore) ScoringRequest(ctx context.Context, applicationID string) (*model.ScoringRequest, error) {
	var sr model.ScoringRequest
	err := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.candidate_id, a.job_id, a.submitted_at,
		        COALESCE(j.description, ''), COALESCE(c.resume_text, ''), COALESCE(j.role, ''), COALESCE(c.ethnicity, '')
		 FROM applications a
		 JOIN candidates c ON c.id = a.candidate_id
		 JOIN jobs j ON j.id = a.job_id
		 WHERE a.id = ?`,
		applicationID,
	).Scan(&sr.ApplicationID, &sr.CandidateID, &sr.JobID, &sr.SubmittedAt,
		&sr.JobDescription, &sr.ResumeText, &sr.JobRole, &sr.Ethnicity)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: scoring request %s", applicationID)
	}
	return &sr, nil
}

func (s *SQLiteStore) ListUnscored(ctx context.Context, modelType model.ModelType, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id FROM applications a
		 WHERE NOT EXISTS (
		   SELECT 1 FROM ml_predictions p
		   WHERE p.application_id = a.id AND p.model_type = ?
		 )
		 ORDER BY a.submitted_at ASC
		 LIMIT ?`,
		string(modelType), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unscored")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unscored id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list unscored iterate")
}

func (s *SQLiteStore) WindowStats(ctx context.Context, modelType model.ModelType, since time.Time) (*model.WindowStats, error) {
	ws := &model.WindowStats{Since: since}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN binary_prediction = 1 THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(confidence), 0),
		        COALESCE(AVG(processing_time_ms), 0)
		 FROM ml_predictions
		 WHERE model_type = ? AND created_at >= ?`,
		string(modelType), since,
	).Scan(&ws.Total, &ws.Positives, &ws.AvgConfidence, &ws.AvgProcessingMs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: window stats")
	}
	if ws.Total > 0 {
		ws.PositiveRate = float64(ws.Positives) / float64(ws.Total)
	}
	return ws, nil
}
