package inference

import (
	"fmt"
	"strings"
)

// reasoningInput carries the signals the explanation is derived from.
type reasoningInput struct {
	overlap         int
	overlapRatio    float64
	matchedKeywords []string
	resumeSkills    []string
	experienceYears int
	educationLevel  string
	resumeWords     int
}

// buildReasoning produces human-readable factors for a score. It is
// best-effort by contract: strings only, never an error, and its absence
// never blocks a prediction.
func buildReasoning(probability float64, in reasoningInput) []string {
	reasons := make([]string, 0, 3)

	switch {
	case probability >= 0.75:
		reasons = append(reasons, "Strong overall match between candidate profile and job requirements")
	case probability >= 0.5:
		reasons = append(reasons, "Moderate match between candidate profile and job requirements")
	case probability >= 0.25:
		reasons = append(reasons, "Weak match between candidate profile and job requirements")
	default:
		reasons = append(reasons, "Poor overall match between candidate profile and job requirements")
	}

	switch {
	case len(in.matchedKeywords) > 0:
		shown := in.matchedKeywords
		if len(shown) > 5 {
			shown = shown[:5]
		}
		reasons = append(reasons, fmt.Sprintf("Resume mentions required skills: %s", strings.Join(shown, ", ")))
	case len(in.resumeSkills) > 0:
		shown := in.resumeSkills
		if len(shown) > 5 {
			shown = shown[:5]
		}
		reasons = append(reasons, fmt.Sprintf("Resume lists recognized skills outside the job requirements: %s", strings.Join(shown, ", ")))
	}

	switch {
	case in.overlapRatio >= 0.3:
		reasons = append(reasons, fmt.Sprintf("High keyword overlap with the job description (%d shared terms)", in.overlap))
	case in.overlap > 0:
		reasons = append(reasons, fmt.Sprintf("Limited keyword overlap with the job description (%d shared terms)", in.overlap))
	default:
		reasons = append(reasons, "No significant keyword overlap with the job description")
	}

	switch {
	case in.experienceYears >= 5:
		reasons = append(reasons, fmt.Sprintf("Experienced candidate (%d years)", in.experienceYears))
	case in.experienceYears >= 2:
		reasons = append(reasons, fmt.Sprintf("Mid-level experience (%d years)", in.experienceYears))
	case in.experienceYears > 0:
		reasons = append(reasons, fmt.Sprintf("Entry-level candidate (%d years)", in.experienceYears))
	}

	if in.educationLevel != "" {
		reasons = append(reasons, fmt.Sprintf("Highest education level mentioned: %s", educationLabel(in.educationLevel)))
	}

	if in.resumeWords > 0 && in.resumeWords < 50 {
		reasons = append(reasons, "Resume text is very short; score may be unreliable")
	}

	return reasons
}

func educationLabel(level string) string {
	switch level {
	case "phd":
		return "doctorate"
	case "high_school":
		return "high school"
	default:
		return level
	}
}
