package harvest

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	ReasonNoSolution       = "no_solution"
	ReasonProblemTooShort  = "problem_too_short"
	ReasonProblemTooLong   = "problem_too_long"
	ReasonSolutionTooShort = "solution_too_short"
	ReasonSolutionTooLong  = "solution_too_long"
	ReasonNoErrorIndicator = "no_error_indicator"
	ReasonUnsupportedFile  = "unsupported_file"
	ReasonBeforeCutoff     = "before_cutoff"
	ReasonLowScore         = "low_score"
	ReasonNonEnglish       = "likely_non_english"
)

const minDateLayout = "2006-01-02"

// FilterConfig holds the acceptance thresholds for one kind. Zero values
// and empty lists disable the corresponding check.
type FilterConfig struct {
	MinProblemLength    int      `yaml:"min_problem_length"`
	MaxProblemLength    int      `yaml:"max_problem_length"`
	MinSolutionLength   int      `yaml:"min_solution_length"`
	MaxSolutionLength   int      `yaml:"max_solution_length"`
	ErrorIndicators     []string `yaml:"error_indicators"`
	SkipTitlePatterns   []string `yaml:"skip_title_patterns"`
	SkipCategories      []string `yaml:"skip_categories"`
	SkipPrefixes        []string `yaml:"skip_prefixes"`
	SkipPrefixMaxLength int      `yaml:"skip_prefix_max_length"`
	FileExtensions      []string `yaml:"file_extensions"`
	MinDate             string   `yaml:"min_date"`
	MinScore            int      `yaml:"min_score"`
	MinASCIIRatio       float64  `yaml:"min_ascii_ratio"`
}

func (fc FilterConfig) Cutoff() (time.Time, error) {
	if fc.MinDate == "" {
		return time.Time{}, nil
	}
	cutoff, err := time.Parse(minDateLayout, fc.MinDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid min_date '%s': %w", fc.MinDate, err)
	}
	return cutoff, nil
}

// Filterer decides whether a record is worth keeping. Checks are
// independent and combined with AND; the first failing check names the reason.
type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run returns true when the record passes every active check. Otherwise the
// second value holds the rejection reason.
func (f *Filterer) Run(record Record, fc FilterConfig) (bool, string) {
	isFiltered, reason := f.applyFilters(record, fc)
	return !isFiltered, reason
}

func (f *Filterer) applyFilters(record Record, fc FilterConfig) (bool, string) {
	problem := record.ProblemText()
	solution := record.SolutionText()

	if strings.TrimSpace(solution) == "" {
		return true, ReasonNoSolution
	}

	problemLen := TextLength(problem)
	if problemLen <= fc.MinProblemLength {
		return true, ReasonProblemTooShort
	}
	if fc.MaxProblemLength > 0 && problemLen > fc.MaxProblemLength {
		return true, ReasonProblemTooLong
	}

	solutionLen := TextLength(solution)
	if solutionLen <= fc.MinSolutionLength {
		return true, ReasonSolutionTooShort
	}
	if fc.MaxSolutionLength > 0 && solutionLen > fc.MaxSolutionLength {
		return true, ReasonSolutionTooLong
	}

	if len(fc.ErrorIndicators) > 0 {
		if _, ok := ContainsAny(record.Title+"\n"+problem, fc.ErrorIndicators); !ok {
			return true, ReasonNoErrorIndicator
		}
	}

	if pattern, ok := ContainsAny(record.Title, fc.SkipTitlePatterns); ok {
		return true, "skip_title:" + pattern
	}

	if record.Metadata.Category != "" {
		category := strings.ToLower(record.Metadata.Category)
		for _, skip := range fc.SkipCategories {
			if skip != "" && strings.Contains(category, strings.ToLower(skip)) {
				return true, "skip_category:" + skip
			}
		}
	}

	if pattern, ok := f.matchesSkipPrefix(solution, fc); ok {
		return true, "skip_pattern:" + pattern
	}

	if len(fc.FileExtensions) > 0 && !f.hasExtension(record.Metadata.FilePath, fc.FileExtensions) {
		return true, ReasonUnsupportedFile
	}

	if cutoff, err := fc.Cutoff(); err == nil && !cutoff.IsZero() {
		if record.Metadata.CreatedAt.Before(cutoff) {
			return true, ReasonBeforeCutoff
		}
	}

	if fc.MinScore > 0 && record.Metadata.Score < fc.MinScore {
		return true, ReasonLowScore
	}

	if fc.MinASCIIRatio > 0 && ASCIIRatio(problem+solution) < fc.MinASCIIRatio {
		return true, ReasonNonEnglish
	}

	return false, ""
}

// matchesSkipPrefix catches short acknowledgements such as "LGTM" or "nit: ...".
func (f *Filterer) matchesSkipPrefix(text string, fc FilterConfig) (string, bool) {
	if len(fc.SkipPrefixes) == 0 {
		return "", false
	}
	if fc.SkipPrefixMaxLength > 0 && TextLength(text) >= fc.SkipPrefixMaxLength {
		return "", false
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range fc.SkipPrefixes {
		if p != "" && strings.HasPrefix(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

func (f *Filterer) hasExtension(filePath string, extensions []string) bool {
	ext := strings.ToLower(path.Ext(filePath))
	if ext == "" {
		return false
	}
	for _, e := range extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
