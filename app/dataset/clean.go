package dataset

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

const snippetLength = 1500

var (
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
	spacesRe     = regexp.MustCompile(` {2,}`)
	errorStartRe = regexp.MustCompile(`(error|exception|failed|fatal)[:\s]|traceback`)
	mentionRe    = regexp.MustCompile(`@[\w-]+`)
	imageRe      = regexp.MustCompile(`!\[.*?\]\(.*?\)`)
	linkRe       = regexp.MustCompile(`\[(.*?)\]\(.*?\)`)
)

var errorLineKeywords = []string{"error", "exception", "fail", "denied", "refused"}

func cleanText(s string) string {
	s = harvest.NormalizeText(s)
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	s = spacesRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// withTitle prepends the title unless the problem already contains it.
func withTitle(title, problem string) string {
	title = strings.TrimSpace(title)
	if title == "" || strings.Contains(strings.ToLower(problem), strings.ToLower(title)) {
		return problem
	}
	return title + "\n\n" + problem
}

// extractErrorSnippet keeps the error-looking lines of a long problem, at
// most limit characters. Problems without such lines are truncated.
func extractErrorSnippet(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	var relevant []string
	length := 0
	inBlock := false

	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)

		if errorStartRe.MatchString(lower) {
			inBlock = true
		}
		if _, ok := harvest.ContainsAny(lower, errorLineKeywords); inBlock || ok {
			if len(relevant) > 0 {
				length++
			}
			relevant = append(relevant, line)
			length += utf8.RuneCountInString(line)
		}

		if length > limit {
			break
		}
	}

	if len(relevant) > 0 {
		return truncate(strings.Join(relevant, "\n"), limit)
	}
	return truncate(text, limit) + "\n... (truncated)"
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// cleanDiffHunk turns a unified diff hunk into plain code.
func cleanDiffHunk(hunk string) string {
	if hunk == "" {
		return ""
	}

	lines := strings.Split(harvest.NormalizeText(hunk), "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(line, "@@") {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, " ") {
			line = line[1:]
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// cleanComment strips mentions and images from review feedback and keeps
// only the text of markdown links.
func cleanComment(comment string) string {
	if comment == "" {
		return ""
	}

	comment = harvest.NormalizeText(comment)
	comment = mentionRe.ReplaceAllString(comment, "")
	comment = imageRe.ReplaceAllString(comment, "")
	comment = linkRe.ReplaceAllString(comment, "$1")
	comment = blankLinesRe.ReplaceAllString(comment, "\n\n")
	return strings.TrimSpace(comment)
}
