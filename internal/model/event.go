package model

import "time"

// PredictionEvent is the payload broadcast to connected observers after a
// prediction has been persisted. Delivery is best-effort; the scoring
// operation that produced it never fails on a publish failure.
type PredictionEvent struct {
	ApplicationID    string    `json:"application_id"`
	CandidateID      string    `json:"candidate_id"`
	JobID            string    `json:"job_id"`
	ModelType        ModelType `json:"model_type"`
	Probability      float64   `json:"probability"`
	BinaryPrediction int       `json:"binary_prediction"`
	Confidence       float64   `json:"confidence"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// EventFromPrediction builds the broadcast payload for a persisted row.
func EventFromPrediction(p *Prediction) PredictionEvent {
	return PredictionEvent{
		ApplicationID:    p.ApplicationID,
		CandidateID:      p.CandidateID,
		JobID:            p.JobID,
		ModelType:        p.ModelType,
		Probability:      p.Probability,
		BinaryPrediction: p.BinaryPrediction,
		Confidence:       p.Confidence,
		ProcessingTimeMs: p.ProcessingTimeMs,
		Timestamp:        p.CreatedAt,
	}
}
