package stackexchange

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// htmlToText turns a post body into plain text, keeping code blocks fenced
// and inline code back-ticked.
func htmlToText(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return strings.TrimSpace(html.UnescapeString(body))
	}

	doc.Find("pre").Each(func(_ int, s *goquery.Selection) {
		code := strings.TrimRight(s.Text(), "\n")
		s.ReplaceWithHtml(html.EscapeString("\n```\n" + code + "\n```\n"))
	})
	doc.Find("code").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml(html.EscapeString("`" + s.Text() + "`"))
	})
	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})
	doc.Find("p, li, h1, h2, h3, h4, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	text := excessNewlines.ReplaceAllString(doc.Text(), "\n\n")
	return strings.TrimSpace(text)
}
