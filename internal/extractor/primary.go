package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// primaryResult is what the primary extractor could recover from a
// page, ahead of date/text validation.
type primaryResult struct {
	Title       string
	Byline      string
	TextContent string
	PublishDate *time.Time
	SiteName    string
}

// extractPrimary runs go-readability, the teacher corpus's Mozilla
// Readability port, per spec.md §4.3 stage 3.
func extractPrimary(body []byte, pageURL string) (*primaryResult, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parsing page URL: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err != nil {
		return nil, fmt.Errorf("readability extraction: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, fmt.Errorf("readability returned no text content")
	}

	res := &primaryResult{
		Title:       article.Title,
		Byline:      article.Byline,
		TextContent: text,
		SiteName:    article.SiteName,
	}
	if article.PublishedTime != nil {
		res.PublishDate = article.PublishedTime
	}
	return res, nil
}
