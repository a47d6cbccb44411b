package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/talentsol/screening/internal/db"
	"github.com/talentsol/screening/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot pipeline paths.
var preparedStatements = map[string]string{
	"insert_prediction": `INSERT INTO ml_predictions
		(id, application_id, candidate_id, job_id, model_type, model_version, probability, binary_prediction, confidence, threshold_used, reasoning, processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
	"prediction_exists": `SELECT EXISTS (SELECT 1 FROM ml_predictions WHERE application_id = $1 AND model_type = $2)`,
	"latest_prediction": `SELECT id, application_id, candidate_id, job_id, model_type, model_version, probability, binary_prediction, confidence, threshold_used, reasoning, processing_time_ms, created_at
		FROM ml_predictions WHERE application_id = $1 AND model_type = $2 ORDER BY created_at DESC LIMIT 1`,
	"scoring_request": `SELECT a.id, a.candidate_id, a.job_id, a.submitted_at,
		COALESCE(j.description, ''), COALESCE(c.resume_text, ''), COALESCE(j.role, ''), COALESCE(c.ethnicity, '')
		FROM applications a
		JOIN candidates c ON c.id = a.candidate_id
		JOIN jobs j ON j.id = a.job_id
		WHERE a.id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// The applications/candidates/jobs tables are owned by the ATS CRUD
// service; they are created IF NOT EXISTS here only so local and test
// deployments can run against an empty database.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS candidates (
	id           TEXT PRIMARY KEY,
	resume_text  TEXT,
	ethnicity    TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	title       TEXT,
	description TEXT,
	role        TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS applications (
	id           TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL REFERENCES candidates(id),
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	submitted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ml_predictions (
	id                 TEXT PRIMARY KEY,
	application_id     TEXT NOT NULL REFERENCES applications(id),
	candidate_id       TEXT NOT NULL,
	job_id             TEXT NOT NULL,
	model_type         TEXT NOT NULL,
	model_version      TEXT NOT NULL,
	probability        DOUBLE PRECISION NOT NULL,
	binary_prediction  INTEGER NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL,
	threshold_used     DOUBLE PRECISION NOT NULL,
	reasoning          JSONB,
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_predictions_app_model_created
	ON ml_predictions(application_id, model_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_predictions_model_created
	ON ml_predictions(model_type, created_at);
CREATE INDEX IF NOT EXISTS idx_applications_submitted ON applications(submitted_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SavePrediction(ctx context.Context, p *model.Prediction) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	reasoningJSON, err := json.Marshal(p.Reasoning)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal reasoning for application %s", p.ApplicationID)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ml_predictions
		 (id, application_id, candidate_id, job_id, model_type, model_version, probability, binary_prediction, confidence, threshold_used, reasoning, processing_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.ApplicationID, p.CandidateID, p.JobID, string(p.ModelType), p.ModelVersion,
		p.Probability, p.BinaryPrediction, p.Confidence, p.ThresholdUsed,
		reasoningJSON, p.ProcessingTimeMs, p.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert prediction for application %s", p.ApplicationID)
}

func (s *PostgresStore) PredictionExists(ctx context.Context, applicationID string, modelType model.ModelType) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ml_predictions WHERE application_id = $1 AND model_type = $2)`,
		applicationID, string(modelType),
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: prediction exists %s", applicationID)
	}
	return exists, nil
}

func (s *PostgresStore) LatestPrediction(ctx context.Context, applicationID string, modelType model.ModelType) (*model.Prediction, error) {
	var p model.Prediction
	var reasoningJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, application_id, candidate_id, job_id, model_type, model_version, probability, binary_prediction, confidence, threshold_used, reasoning, processing_time_ms, created_at
		 FROM ml_predictions
		 WHERE application_id = $1 AND model_type = $2
		 ORDER BY created_at DESC LIMIT 1`,
		applicationID, string(modelType),
	).Scan(&p.ID, &p.ApplicationID, &p.CandidateID, &p.JobID, &p.ModelType, &p.ModelVersion,
		&p.Probability, &p.BinaryPrediction, &p.Confidence, &p.ThresholdUsed,
		&reasoningJSON, &p.ProcessingTimeMs, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: latest prediction %s", applicationID)
	}

	if len(reasoningJSON) > 0 {
		if err := json.Unmarshal(reasoningJSON, &p.Reasoning); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal reasoning %s", p.ID)
		}
	}
	return &p, nil
}

func (s *PostgresStore) ScoringRequest(ctx context.Context, applicationID string) (*model.ScoringRequest, error) {
	var sr model.ScoringRequest
	err := s.pool.QueryRow(ctx,
		`SELECT a.id, a.candidate_id, a.job_id, a.submitted_at,
		        COALESCE(j.description, ''), COALESCE(c.resume_text, ''), COALESCE(j.role, ''), COALESCE(c.ethnicity, '')
		 FROM applications a
		 JOIN candidates c ON c.id = a.candidate_id
		 JOIN jobs j ON j.id = a.job_id
		 WHERE a.id = $1`,
		applicationID,
	).Scan(&sr.ApplicationID, &sr.CandidateID, &sr.JobID, &sr.SubmittedAt,
		&sr.JobDescription, &sr.ResumeText, &sr.JobRole, &sr.Ethnicity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: scoring request %s", applicationID)
	}
	return &sr, nil
}

func (s *PostgresStore) ListUnscored(ctx context.Context, modelType model.ModelType, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT a.id FROM applications a
		 WHERE NOT EXISTS (
		   SELECT 1 FROM ml_predictions p
		   WHERE p.application_id = a.id AND p.model_type = $1
		 )
		 ORDER BY a.submitted_at ASC
		 LIMIT $2`,
		string(modelType), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unscored")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unscored id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list unscored iterate")
}

func (s *PostgresStore) WindowStats(ctx context.Context, modelType model.ModelType, since time.Time) (*model.WindowStats, error) {
	ws := &model.WindowStats{Since: since}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN binary_prediction = 1 THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(confidence), 0),
		        COALESCE(AVG(processing_time_ms), 0)
		 FROM ml_predictions
		 WHERE model_type = $1 AND created_at >= $2`,
		string(modelType), since,
	).Scan(&ws.Total, &ws.Positives, &ws.AvgConfidence, &ws.AvgProcessingMs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: window stats")
	}
	if ws.Total > 0 {
		ws.PositiveRate = float64(ws.Positives) / float64(ws.Total)
	}
	return ws, nil
}
