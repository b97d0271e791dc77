package extractor

import (
	"encoding/json"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/corpuscore/acquire/internal/models"
)

// divergenceThreshold is spec.md §4.3's publish-date cascade flagging
// window: more than this many days between the resolved date and the
// upstream GDELT date is flagged for review, not rejected.
const divergenceThreshold = 7 * 24 * time.Hour

// jsonLDDate is the subset of schema.org NewsArticle/Article JSON-LD
// fields the date cascade reads.
type jsonLDDate struct {
	Type          string `json:"@type"`
	DatePublished string `json:"datePublished"`
	DateCreated   string `json:"dateCreated"`
}

// resolvedDate is the outcome of the publish-date cascade: the winning
// date, which stage produced it, and whether it diverges from the
// GDELT upstream date.
type resolvedDate struct {
	Date      *time.Time
	Source    models.PublishDateSource
	Diverged  bool
}

// resolvePublishDate runs the cascade of spec.md §4.3: JSON-LD, then
// OpenGraph meta tags, then the secondary extractor's best guess, then
// falls back to the upstream GDELT date. The final result is compared
// against gdeltDate regardless of which stage won, and flagged if the
// two differ by more than divergenceThreshold.
func resolvePublishDate(doc *goquery.Document, secondaryGuess *time.Time, gdeltDate *time.Time) resolvedDate {
	if t := findJSONLDDate(doc); t != nil {
		return finalize(t, models.PublishDateJSONLD, gdeltDate)
	}
	if t := findOpenGraphDate(doc); t != nil {
		return finalize(t, models.PublishDateOpenGraph, gdeltDate)
	}
	if secondaryGuess != nil {
		return finalize(secondaryGuess, models.PublishDateSecondary, gdeltDate)
	}
	return finalize(gdeltDate, models.PublishDateUpstream, gdeltDate)
}

func finalize(t *time.Time, source models.PublishDateSource, gdeltDate *time.Time) resolvedDate {
	diverged := false
	if t != nil && gdeltDate != nil && source != models.PublishDateUpstream {
		delta := t.Sub(*gdeltDate)
		if delta < 0 {
			delta = -delta
		}
		diverged = delta > divergenceThreshold
	}
	return resolvedDate{Date: t, Source: source, Diverged: diverged}
}

func findJSONLDDate(doc *goquery.Document) *time.Time {
	var found *time.Time
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var entry jsonLDDate
		if err := json.Unmarshal([]byte(s.Text()), &entry); err != nil {
			return true // Keep scanning; some pages carry multiple JSON-LD blocks.
		}
		raw := entry.DatePublished
		if raw == "" {
			raw = entry.DateCreated
		}
		if raw == "" {
			return true
		}
		t, err := dateparse.ParseAny(raw)
		if err != nil {
			return true
		}
		found = &t
		return false
	})
	return found
}

func findOpenGraphDate(doc *goquery.Document) *time.Time {
	raw, exists := doc.Find(`meta[property="article:published_time"]`).First().Attr("content")
	if !exists || raw == "" {
		raw, exists = doc.Find(`meta[name="og:article:published_time"]`).First().Attr("content")
	}
	if !exists || raw == "" {
		return nil
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil
	}
	return &t
}
