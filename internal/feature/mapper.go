// Package feature converts persisted application records into the fixed
// feature vectors the classifier was trained on.
package feature

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/talentsol/screening/internal/model"
	"github.com/talentsol/screening/internal/store"
)

// MappingError reports an application that could not be resolved into a
// feature vector. It never aborts a batch; callers collect these per item.
type MappingError struct {
	ApplicationID string
	Err           error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("feature: map application %s: %v", e.ApplicationID, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// Mapper resolves application/candidate/job triples from the store and
// produces classifier-ready feature vectors. Mapping is a pure read plus
// transform; it has no side effects.
type Mapper struct {
	store       store.Store
	concurrency int
}

// NewMapper creates a Mapper. concurrency bounds parallel MapMany reads.
func NewMapper(st store.Store, concurrency int) *Mapper {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Mapper{store: st, concurrency: concurrency}
}

// MapOne builds the feature vector for a single application. A missing
// application, candidate or job yields a *MappingError; missing text
// fields are replaced with sentinels so the classifier always receives a
// well-formed vector.
func (m *Mapper) MapOne(ctx context.Context, applicationID string) (*model.FeatureVector, error) {
	sr, err := m.store.ScoringRequest(ctx, applicationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &MappingError{ApplicationID: applicationID, Err: eris.New("application, candidate or job not found")}
		}
		return nil, &MappingError{ApplicationID: applicationID, Err: err}
	}
	return FromScoringRequest(sr), nil
}

// FromScoringRequest transforms a resolved scoring request into the fixed
// classifier input schema plus the derived reasoning signals.
func FromScoringRequest(sr *model.ScoringRequest) *model.FeatureVector {
	jobDesc := Clean(sr.JobDescription)
	resume := Clean(sr.ResumeText)
	jobRole := Clean(sr.JobRole)

	ethnicity := strings.TrimSpace(sr.Ethnicity)
	if ethnicity == "" {
		// Passed through to the classifier untouched; the training
		// pipeline used this exact sentinel for absent labels.
		ethnicity = model.EthnicityNotSpecified
	}

	fv := &model.FeatureVector{
		ApplicationID:  sr.ApplicationID,
		CandidateID:    sr.CandidateID,
		JobID:          sr.JobID,
		JobDescription: jobDesc,
		Resume:         resume,
		JobRoles:       jobRole,
		Ethnicity:      ethnicity,
	}

	jobTokens := Tokenize(jobDesc)
	resumeTokens := Tokenize(resume)

	fv.JobDescriptionWords = len(strings.Fields(jobDesc))
	fv.ResumeWords = len(strings.Fields(resume))
	overlap, shared := Overlap(jobTokens, resumeTokens)
	fv.KeywordOverlap = overlap
	if len(jobTokens) > 0 {
		distinct := make(map[string]bool, len(jobTokens))
		for _, t := range jobTokens {
			distinct[t] = true
		}
		fv.KeywordOverlapRatio = float64(overlap) / float64(len(distinct))
	}
	fv.MatchedKeywords = matchedSkills(shared)
	fv.ResumeSkills = ExtractSkills(resume)
	fv.ExperienceYears = ExperienceYears(resume)
	fv.EducationLevel = EducationLevel(resume)

	return fv
}

// matchedSkills filters shared tokens down to recognizable skill keywords
// for the reasoning output.
func matchedSkills(shared []string) []string {
	known := make(map[string]bool, len(skillKeywords))
	for _, kw := range skillKeywords {
		known[kw] = true
	}
	var skills []string
	for _, t := range shared {
		if known[t] {
			skills = append(skills, t)
		}
	}
	sort.Strings(skills)
	return skills
}

// MapMany maps a set of applications concurrently, continuing past
// individual failures. The returned vectors preserve input order; failed
// items are reported separately and never abort the batch.
func (m *Mapper) MapMany(ctx context.Context, applicationIDs []string) ([]*model.FeatureVector, []model.ItemError) {
	vectors := make([]*model.FeatureVector, len(applicationIDs))

	var mu sync.Mutex
	var itemErrs []model.ItemError

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	for i, id := range applicationIDs {
		g.Go(func() error {
			fv, err := m.MapOne(gctx, id)
			if err != nil {
				mu.Lock()
				itemErrs = append(itemErrs, model.ItemError{
					ApplicationID: id,
					Stage:         "mapping",
					Message:       err.Error(),
				})
				mu.Unlock()
				return nil // per-item failure, keep going
			}
			vectors[i] = fv
			return nil
		})
	}
	// Goroutines only return nil; Wait is for completion.
	_ = g.Wait()

	// Compact while preserving order.
	out := vectors[:0]
	for _, fv := range vectors {
		if fv != nil {
			out = append(out, fv)
		}
	}

	// Deterministic error order for reporting.
	sort.Slice(itemErrs, func(i, j int) bool {
		return itemErrs[i].ApplicationID < itemErrs[j].ApplicationID
	})
	return out, itemErrs
}
