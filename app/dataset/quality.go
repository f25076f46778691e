package dataset

import (
	"regexp"
	"strings"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

const (
	reasonProblemTooShort    = "problem_too_short"
	reasonProblemTooLong     = "problem_too_long"
	reasonSolutionTooShort   = "solution_too_short"
	reasonSolutionTooLong    = "solution_too_long"
	reasonNoErrorIndicator   = "no_error_indicator"
	reasonNoActionable       = "no_actionable_solution"
	reasonCodeTooShort       = "code_too_short"
	reasonCodeTooLong        = "code_too_long"
	reasonCommentTooShort    = "comment_too_short"
	reasonCommentTooLong     = "comment_too_long"
	reasonMostlyCodeBlocks   = "mostly_code_blocks"
	reasonNonEnglish         = "likely_non_english"
	reasonMostlyQuestions    = "mostly_questions"
	reasonAuthorResponse     = "author_response"
	reasonLowQuality         = "low_quality"
	reasonUnsupportedKind    = "unsupported_kind"
	reasonMissingReviewInput = "missing_review_input"
)

var incidentErrorIndicators = []string{
	"error", "fail", "exception", "crash", "timeout",
	"not working", "broken", "issue", "problem",
	"unable", "cannot", "can't", "doesn't", "refused",
	"denied", "rejected", "invalid", "missing",
}

var solutionActionIndicators = []string{
	"try", "use", "change", "set", "add", "remove",
	"install", "update", "run", "execute", "configure",
	"the issue", "the problem", "because", "caused by",
	"solution", "fix", "resolve", "workaround",
}

// Replies written by the pull request author rather than the reviewer.
var authorResponseRe = regexp.MustCompile(`(?i)^(I've fixed|I'll fix|I've updated|I'll update|I've changed|I'll change|` +
	`I've removed|I'll remove|I've added|I'll add|Fixed it|Done!|Done\.|Good catch!|Thanks for|Thank you for|` +
	`Addressed|Updated|Changed as suggested|Applied|Resolved|Good point!|Nice catch|Ah yes|Ah,|Oops|My bad|` +
	`You're right|Makes sense)`)

var lowQualityRe = regexp.MustCompile(`(?i)^(LGTM|\+1|Looks good|Ship it|Approved|It's a draft|draft version|WIP|TODO)`)

func checkIncident(problem, solution string) (bool, string) {
	switch n := harvest.TextLength(problem); {
	case n < 50:
		return false, reasonProblemTooShort
	case n > 5000:
		return false, reasonProblemTooLong
	}

	switch n := harvest.TextLength(solution); {
	case n < 50:
		return false, reasonSolutionTooShort
	case n > 3000:
		return false, reasonSolutionTooLong
	}

	if _, ok := harvest.ContainsAny(problem, incidentErrorIndicators); !ok {
		return false, reasonNoErrorIndicator
	}
	if _, ok := harvest.ContainsAny(solution, solutionActionIndicators); !ok {
		return false, reasonNoActionable
	}

	return true, ""
}

func checkReview(code, comment string) (bool, string) {
	switch n := harvest.TextLength(code); {
	case n < 20:
		return false, reasonCodeTooShort
	case n > 3000:
		return false, reasonCodeTooLong
	}

	length := harvest.TextLength(comment)
	switch {
	case length < 30:
		return false, reasonCommentTooShort
	case length > 1500:
		return false, reasonCommentTooLong
	}

	// A comment dominated by suggestion blocks carries little explanation.
	fences := strings.Count(comment, "```")
	if fences >= 4 && float64(fences)/float64(length) > 0.01 {
		return false, reasonMostlyCodeBlocks
	}

	if harvest.ASCIIRatio(comment) < 0.8 {
		return false, reasonNonEnglish
	}

	if strings.HasSuffix(comment, "?") && strings.Count(comment, "?") > strings.Count(comment, ".") {
		return false, reasonMostlyQuestions
	}

	if authorResponseRe.MatchString(comment) {
		return false, reasonAuthorResponse
	}
	if lowQualityRe.MatchString(comment) {
		return false, reasonLowQuality
	}

	return true, ""
}
