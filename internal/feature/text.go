package feature

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// cleanTransformer folds unicode to NFC and strips combining marks so that
// accented variants of the same word compare equal during tokenization.
var cleanTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Clean normalizes raw application text: unicode fold, whitespace collapse.
// Case is preserved; the classifier's own vectorizer handles casing.
func Clean(s string) string {
	out, _, err := transform.String(cleanTransformer, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(out), " ")
}

// Tokenize lowercases and splits text into comparable word tokens.
// Characters meaningful in skill names (+, #, .) are kept so "c++" and
// "node.js" survive as single tokens.
func Tokenize(s string) []string {
	s = strings.ToLower(Clean(s))
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#' && r != '.'
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".")
		if f == "" || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "in": true,
	"is": true, "it": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "to": true, "was": true, "we": true, "will": true,
	"with": true, "you": true, "your": true,
}

// Overlap counts distinct tokens shared between two token lists and returns
// the shared tokens sorted for deterministic reasoning output.
func Overlap(a, b []string) (int, []string) {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	seen := make(map[string]bool)
	var shared []string
	for _, t := range b {
		if set[t] && !seen[t] {
			seen[t] = true
			shared = append(shared, t)
		}
	}
	sort.Strings(shared)
	return len(shared), shared
}

// skillKeywords is the dictionary used to surface recognizable skills in
// reasoning strings. Matching is done on the tokenized text.
var skillKeywords = []string{
	"python", "javascript", "typescript", "java", "go", "react", "node.js",
	"sql", "postgresql", "mysql", "mongodb", "aws", "gcp", "azure",
	"docker", "kubernetes", "terraform", "git", "html", "css",
	"machine", "learning", "ml", "nlp", "tensorflow", "pytorch",
	"agile", "scrum", "leadership", "marketing", "sales", "crm",
}

// ExtractSkills returns the known skill keywords present in the text.
func ExtractSkills(text string) []string {
	tokens := Tokenize(text)
	present := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		present[t] = true
	}
	var skills []string
	for _, kw := range skillKeywords {
		if present[kw] {
			skills = append(skills, kw)
		}
	}
	return skills
}

var experiencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d+)\s*\+?\s*years?\s*(?:of\s*)?experience`),
	regexp.MustCompile(`experience\s*:?\s*(\d+)\s*years?`),
	regexp.MustCompile(`(\d+)\s*\+?\s*years?\s+in\b`),
}

// ExperienceYears extracts the largest years-of-experience claim found in
// resume text, or 0 when none is stated.
func ExperienceYears(text string) int {
	lower := strings.ToLower(text)
	years := 0
	for _, p := range experiencePatterns {
		for _, m := range p.FindAllStringSubmatch(lower, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n > years && n < 60 {
				years = n
			}
		}
	}
	return years
}

// educationLevels is ordered from highest to lowest so the first match wins.
var educationLevels = []struct {
	level    string
	keywords []string
}{
	{"phd", []string{"phd", "ph.d", "doctorate", "doctoral"}},
	{"master", []string{"master", "mba", "m.s", "m.a", "msc"}},
	{"bachelor", []string{"bachelor", "b.s", "b.a", "bsc", "undergraduate"}},
	{"associate", []string{"associate", "a.a", "a.s"}},
	{"high_school", []string{"high school", "diploma", "ged"}},
}

// EducationLevel detects the highest education level mentioned in resume
// text. Returns "" when nothing is recognized.
func EducationLevel(text string) string {
	lower := strings.ToLower(text)
	for _, e := range educationLevels {
		for _, kw := range e.keywords {
			if strings.Contains(lower, kw) {
				return e.level
			}
		}
	}
	return ""
}
