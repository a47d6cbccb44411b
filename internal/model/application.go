package model

import "time"

// EmptyFieldSentinel replaces missing text fields so the classifier always
// receives a well-formed vector. Sparse input degrades accuracy; it is not
// an error.
const EmptyFieldSentinel = ""

// EthnicityNotSpecified is the sentinel the training pipeline used for an
// absent demographic label. The field is passed through to the classifier
// untouched; see DESIGN.md for the policy-review flag.
const EthnicityNotSpecified = "Not Specified"

// ScoringRequest carries the raw text of one application/candidate/job
// triple, resolved from the relational store. It is built fresh per scoring
// attempt and never persisted.
type ScoringRequest struct {
	ApplicationID  string
	CandidateID    string
	JobID          string
	JobDescription string
	ResumeText     string
	JobRole        string
	Ethnicity      string
	SubmittedAt    time.Time
}

// FeatureVector is the fixed-shape classifier input. Field order, names and
// types mirror the columns the pipelines were trained on; the JSON tags are
// the training column names, so the schema is enforced by construction
// rather than by convention.
type FeatureVector struct {
	ApplicationID string `json:"-"`
	CandidateID   string `json:"-"`
	JobID         string `json:"-"`

	JobDescription string `json:"Job Description"`
	Resume         string `json:"Resume"`
	JobRoles       string `json:"Job Roles"`
	Ethnicity      string `json:"Ethnicity"`

	// Derived signals used only for reasoning strings, never sent to the
	// classifier.
	JobDescriptionWords int      `json:"-"`
	ResumeWords         int      `json:"-"`
	KeywordOverlap      int      `json:"-"`
	KeywordOverlapRatio float64  `json:"-"`
	MatchedKeywords     []string `json:"-"`
	ResumeSkills        []string `json:"-"`
	ExperienceYears     int      `json:"-"`
	EducationLevel      string   `json:"-"`
}
