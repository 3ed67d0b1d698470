package hygiene

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// ContentMetrics describes how informative a page body is
type ContentMetrics struct {
	Words         int
	Chars         int
	InternalLinks int
	TextHTMLRatio float64
}

// Thresholds are the minimum metrics of a non-thin page. Zero disables a threshold.
type Thresholds struct {
	MinWords         int
	MinChars         int
	MinInternalLinks int
	MinTextHTMLRatio float64
}

// ContentAnalyzer measures page bodies. Markdown bodies are rendered to HTML first.
type ContentAnalyzer struct {
	host       string
	thresholds Thresholds
	markdown   goldmark.Markdown
}

// NewContentAnalyzer creates an analyzer; links to host (or relative links) count as internal
func NewContentAnalyzer(host string, thresholds Thresholds) *ContentAnalyzer {
	return &ContentAnalyzer{
		host:       strings.TrimPrefix(strings.ToLower(host), "www."),
		thresholds: thresholds,
		markdown:   goldmark.New(),
	}
}

// Analyze computes the metrics of body
func (a *ContentAnalyzer) Analyze(body string, format models.BodyFormat) (ContentMetrics, error) {
	html := body
	if format == models.BodyFormatMarkdown {
		var buf bytes.Buffer
		if err := a.markdown.Convert([]byte(body), &buf); err != nil {
			return ContentMetrics{}, fmt.Errorf("%w: markdown render failed: %w", utils.ErrParsing, err)
		}
		html = buf.String()
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ContentMetrics{}, fmt.Errorf("%w: HTML parse failed: %w", utils.ErrParsing, err)
	}
	doc.Find("script, style, noscript, template").Remove()

	text := strings.Join(strings.Fields(doc.Text()), " ")
	m := ContentMetrics{
		Words: len(strings.Fields(text)),
		Chars: utf8.RuneCountInString(text),
	}
	if len(html) > 0 {
		m.TextHTMLRatio = float64(len(text)) / float64(len(html))
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if a.isInternal(href) {
			m.InternalLinks++
		}
	})
	return m, nil
}

func (a *ContentAnalyzer) isInternal(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return false // mailto:, tel:, javascript:
	}
	if u.Host == "" {
		return u.Path != ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") == a.host
}

// Shortfalls lists every threshold m misses, empty when the content is informative
func (a *ContentAnalyzer) Shortfalls(m ContentMetrics) []string {
	t := a.thresholds
	var out []string
	if m.Words < t.MinWords {
		out = append(out, fmt.Sprintf("%d words < %d", m.Words, t.MinWords))
	}
	if m.Chars < t.MinChars {
		out = append(out, fmt.Sprintf("%d chars < %d", m.Chars, t.MinChars))
	}
	if m.InternalLinks < t.MinInternalLinks {
		out = append(out, fmt.Sprintf("%d internal links < %d", m.InternalLinks, t.MinInternalLinks))
	}
	if m.TextHTMLRatio < t.MinTextHTMLRatio {
		out = append(out, fmt.Sprintf("text/html ratio %.2f < %.2f", m.TextHTMLRatio, t.MinTextHTMLRatio))
	}
	return out
}
