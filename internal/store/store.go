package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/talentsol/screening/internal/model"
)

// ErrNotFound is returned when no row matches a lookup.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the screening pipeline.
// Prediction rows are append-only; application, candidate and job records
// are owned by the collaborating CRUD service and only read here.
type Store interface {
	// Predictions
	SavePrediction(ctx context.Context, p *model.Prediction) error
	PredictionExists(ctx context.Context, applicationID string, modelType model.ModelType) (bool, error)
	LatestPrediction(ctx context.Context, applicationID string, modelType model.ModelType) (*model.Prediction, error)

	// Application read-side
	ScoringRequest(ctx context.Context, applicationID string) (*model.ScoringRequest, error)
	ListUnscored(ctx context.Context, modelType model.ModelType, limit int) ([]string, error)

	// Metrics
	WindowStats(ctx context.Context, modelType model.ModelType, since time.Time) (*model.WindowStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
