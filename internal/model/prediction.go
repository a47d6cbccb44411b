package model

import "time"

// ModelType discriminates which trained classifier produced a prediction.
type ModelType string

const (
	ModelTypeLogisticRegression ModelType = "logistic-regression-classifier"
	ModelTypeDecisionTree       ModelType = "decision-tree-classifier"
)

// Valid reports whether the model type is one of the trained classifiers.
func (m ModelType) Valid() bool {
	return m == ModelTypeLogisticRegression || m == ModelTypeDecisionTree
}

// Prediction is one persisted scoring outcome for an application under a
// specific model type and version. Rows are append-only: corrections and
// forced re-scores insert new rows, and readers take the newest by
// created_at.
type Prediction struct {
	ID               string    `json:"id"`
	ApplicationID    string    `json:"application_id"`
	CandidateID      string    `json:"candidate_id"`
	JobID            string    `json:"job_id"`
	ModelType        ModelType `json:"model_type"`
	ModelVersion     string    `json:"model_version"`
	Probability      float64   `json:"probability"`
	BinaryPrediction int       `json:"binary_prediction"`
	Confidence       float64   `json:"confidence"`
	ThresholdUsed    float64   `json:"threshold_used"`
	Reasoning        []string  `json:"reasoning,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// PredictionResult is the engine output for a single feature vector.
// BinaryPrediction is derived from the tuned threshold, never recomputed
// downstream; Confidence is the distance of the probability from the
// threshold normalized to [0,1].
type PredictionResult struct {
	Probability      float64  `json:"probability"`
	BinaryPrediction int      `json:"binary_prediction"`
	Confidence       float64  `json:"confidence"`
	ThresholdUsed    float64  `json:"threshold_used"`
	ModelVersion     string   `json:"model_version"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Reasoning        []string `json:"reasoning,omitempty"`
}

// ModelMetrics holds classifier metadata cached at engine initialization
// plus a trailing window aggregated from persisted predictions.
type ModelMetrics struct {
	ModelType       ModelType `json:"model_type"`
	ModelVersion    string    `json:"model_version"`
	Threshold       float64   `json:"threshold"`
	TargetRecall    float64   `json:"target_recall"`
	TargetPrecision float64   `json:"target_precision"`
	LibraryVersion  string    `json:"library_version"`
	LoadedAt        time.Time `json:"loaded_at"`

	Window *WindowStats `json:"window,omitempty"`
}

// WindowStats aggregates predictions over a trailing time window.
type WindowStats struct {
	Since           time.Time `json:"since"`
	Total           int       `json:"total"`
	Positives       int       `json:"positives"`
	PositiveRate    float64   `json:"positive_rate"`
	AvgConfidence   float64   `json:"avg_confidence"`
	AvgProcessingMs float64   `json:"avg_processing_ms"`
}

// ItemError reports a per-application failure inside a batch. Stage is
// "mapping", "inference" or "persistence". Retryable is a recommendation
// for the caller; the pipeline itself never retries.
type ItemError struct {
	ApplicationID string `json:"application_id"`
	Stage         string `json:"stage"`
	Message       string `json:"message"`
	Retryable     bool   `json:"retryable"`
}

// BatchResult is the outcome of a multi-item scoring run. Partial success
// is a normal, reportable outcome: Predictions and Errors together cover
// every non-skipped input.
type BatchResult struct {
	Processed   int           `json:"processed"`
	Skipped     []string      `json:"skipped,omitempty"`
	Predictions []*Prediction `json:"predictions"`
	Errors      []ItemError   `json:"errors,omitempty"`
}
