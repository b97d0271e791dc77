package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// secondaryResult is the best-effort fallback extraction when
// go-readability declines to produce usable text.
type secondaryResult struct {
	Title       string
	TextContent string
}

// candidateTags are scanned for the highest text-to-tag-count density
// block, the same paragraph-density heuristic Readability itself is
// built on, applied by hand here as the fallback path per spec.md §4.3
// stage 4.
var candidateTags = []string{"article", "main", "[role=main]", ".article-body", ".story-body", "#content", "body"}

// extractSecondary scores each candidate container by text density
// (total paragraph text length over tag count) and returns the densest
// one's text, per spec.md §4.3's "custom heuristic" fallback.
func extractSecondary(body []byte, title string) (*secondaryResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	doc.Find("script, style, nav, header, footer, aside, form").Remove()

	var bestText string
	var bestScore float64

	for _, selector := range candidateTags {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			continue
		}

		paragraphs := sel.Find("p")
		var textLen, tagCount int
		paragraphs.Each(func(_ int, p *goquery.Selection) {
			textLen += len(strings.TrimSpace(p.Text()))
			tagCount++
		})
		if tagCount == 0 {
			continue
		}

		score := float64(textLen) / float64(tagCount)
		if score > bestScore {
			bestScore = score
			var b strings.Builder
			paragraphs.Each(func(_ int, p *goquery.Selection) {
				b.WriteString(strings.TrimSpace(p.Text()))
				b.WriteString("\n\n")
			})
			bestText = strings.TrimSpace(b.String())
		}
	}

	if bestText == "" {
		return nil, fmt.Errorf("no candidate container produced text")
	}

	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	return &secondaryResult{Title: title, TextContent: bestText}, nil
}
