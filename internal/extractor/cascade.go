// Package extractor implements the five-stage ExtractorCascade of
// spec.md §4.3: pre-filter, fetch, primary extraction, secondary
// extraction, and a headless-browser fallback for configured paywall
// domains.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/corpuscore/acquire/internal/config"
	"github.com/corpuscore/acquire/internal/log"
	"github.com/corpuscore/acquire/internal/models"
	"github.com/corpuscore/acquire/internal/urlnorm"
)

// BrowserRenderer is the stage-5 fallback dependency; internal/browserpool
// satisfies it without extractor importing browserpool directly, keeping
// the cascade testable without a real chromedp context.
type BrowserRenderer interface {
	Render(ctx context.Context, pageURL string, proxy *models.ProxyRecord) (html []byte, err error)
}

// Outcome is the cascade's terminal verdict on one URL: either a
// populated ArticleRecord plus which stage produced it, or a
// classification explaining why it failed.
type Outcome struct {
	Article        *models.ArticleRecord
	ExtractorUsed  string
	Classification classification
	Err            error
}

// Cascade holds the dependencies shared across every URL the worker
// pool processes.
type Cascade struct {
	cfg     *config.Config
	browser BrowserRenderer
	log     *log.FieldedLogger
}

// New builds a Cascade. browser may be nil; stage 5 is then skipped and
// paywall-suspected outcomes on configured paywall domains are returned
// as-is.
func New(cfg *config.Config, browser BrowserRenderer) *Cascade {
	return &Cascade{
		cfg:     cfg,
		browser: browser,
		log:     log.NewFieldedLogger(&log.Fields{"component": "extractor"}),
	}
}

// Run executes the full cascade for one claimed URL record against an
// HTTP client routed through proxy (nil for a direct connection).
func (c *Cascade) Run(ctx context.Context, rec *models.URLRecord, proxy *models.ProxyRecord) Outcome {
	if err := urlnorm.PreFilter(rec.NormalizedURL); err != nil {
		return Outcome{
			ExtractorUsed:  "",
			Classification: classification{models.StatusSkipped, models.BlockReasonNonProsePath},
			Err:            err,
		}
	}

	var proxyURL *url.URL
	if proxy != nil {
		if parsed, err := url.Parse(proxy.URL()); err == nil {
			proxyURL = parsed
		}
	}

	client, err := newHTTPClient(proxyURL)
	if err != nil {
		return Outcome{Classification: classifyNetworkError(), Err: err}
	}

	fetched, err := client.fetch(ctx, rec.NormalizedURL, c.cfg)
	if err != nil {
		return Outcome{Classification: classifyNetworkError(), Err: err}
	}

	if fetched.StatusCode < 200 || fetched.StatusCode >= 300 {
		return Outcome{Classification: classifyHTTPStatus(fetched.StatusCode, fetched.Body, fetched.Header), Err: fmt.Errorf("unexpected status %d", fetched.StatusCode)}
	}

	body, err := normalizeEncoding(fetched.Body)
	if err != nil {
		body = fetched.Body
	}

	article, extractorUsed, outcomeErr := c.extractText(ctx, rec, proxy, body, fetched.FinalURL)
	if outcomeErr != nil {
		lower := bytes.ToLower(body)
		hasMarker := bytes.Contains(lower, []byte("subscribe")) || bytes.Contains(lower, []byte("sign in"))
		return Outcome{Classification: classifyShortBody(hasMarker), Err: outcomeErr}
	}

	return Outcome{
		Article:        article,
		ExtractorUsed:  extractorUsed,
		Classification: classification{models.StatusSuccess, models.BlockReasonNone},
	}
}

// extractText runs stage 3, then stage 4, then (for configured paywall
// domains only) stage 5, stopping at the first stage that clears
// cfg.MinTextLength.
func (c *Cascade) extractText(ctx context.Context, rec *models.URLRecord, proxy *models.ProxyRecord, body []byte, finalURL string) (*models.ArticleRecord, string, error) {
	doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(body))

	if primary, err := extractPrimary(body, finalURL); err == nil && len(primary.TextContent) >= c.cfg.MinTextLength {
		return c.buildArticle(rec, primary.Title, primary.Byline, primary.TextContent, "primary", docErrOrNil(docErr, doc), primary.PublishDate), "primary", nil
	}

	if secondary, err := extractSecondary(body, ""); err == nil && len(secondary.TextContent) >= c.cfg.MinTextLength {
		return c.buildArticle(rec, secondary.Title, "", secondary.TextContent, "secondary", docErrOrNil(docErr, doc), nil), "secondary", nil
	}

	if c.browser != nil && c.cfg.IsPaywallDomain(hostOf(rec.NormalizedURL)) {
		rendered, err := c.browser.Render(ctx, rec.NormalizedURL, proxy)
		if err == nil {
			if primary, err := extractPrimary(rendered, finalURL); err == nil && len(primary.TextContent) >= c.cfg.MinTextLength {
				renderedDoc, _ := goquery.NewDocumentFromReader(bytes.NewReader(rendered))
				return c.buildArticle(rec, primary.Title, primary.Byline, primary.TextContent, "browser", renderedDoc, primary.PublishDate), "browser", nil
			}
		}
	}

	return nil, "", fmt.Errorf("no extraction stage produced %d+ characters", c.cfg.MinTextLength)
}

func (c *Cascade) buildArticle(rec *models.URLRecord, title, byline, text, stage string, doc *goquery.Document, primaryDate *time.Time) *models.ArticleRecord {
	sanitized := sanitizeText(text)

	var resolved resolvedDate
	if doc != nil {
		resolved = resolvePublishDate(doc, primaryDate, rec.GdeltPublishDate)
	} else {
		resolved = finalize(primaryDate, models.PublishDateSecondary, rec.GdeltPublishDate)
	}

	var authors []string
	if byline != "" {
		authors = []string{byline}
	}

	return &models.ArticleRecord{
		NormalizedURL:       rec.NormalizedURL,
		Source:              rec.Source,
		Headline:            title,
		Authors:             authors,
		PublishDate:         resolved.Date,
		PublishDateSource:   resolved.Source,
		PublishDateDiverged: resolved.Diverged,
		FullText:            sanitized,
		WordCount:           wordCount(sanitized),
		ContentHash:         contentHash(sanitized),
		ExtractionTimestamp: time.Now(),
	}
}

func docErrOrNil(err error, doc *goquery.Document) *goquery.Document {
	if err != nil {
		return nil
	}
	return doc
}

func hostOf(normalizedURL string) string {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return ""
	}
	return u.Host
}
