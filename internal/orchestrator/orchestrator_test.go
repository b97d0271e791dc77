package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpuscore/acquire/internal/config"
	"github.com/corpuscore/acquire/internal/extractor"
	"github.com/corpuscore/acquire/internal/models"
	"github.com/corpuscore/acquire/internal/ratelimiter"
	"github.com/corpuscore/acquire/internal/store"
	"github.com/corpuscore/acquire/internal/urlnorm"
)

const articleHTML = `<html><head><title>A real headline</title>
<script type="application/ld+json">{"@type":"NewsArticle","datePublished":"2026-07-01T00:00:00Z"}</script>
</head><body><article>
<p>` + longParagraph + `</p>
<p>` + longParagraph + `</p>
</article></body></html>`

const longParagraph = "This is a long enough paragraph of prose to clear the minimum text length floor used by the extraction cascade during this end to end test of the orchestrator's dispatch loop."

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		WorkerCount:          2,
		MinTextLength:        100,
		MaxAttempts:          3,
		GraceShutdownSeconds: 2,
		PerDomainDelays:      map[string]time.Duration{"apnews.com": 0},
		UserAgents:           config.DefaultUserAgents(),
		DBPath:               filepath.Join(t.TempDir(), "acquire.db"),
	}
}

func TestRunClaimsExtractsAndRecordsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	st, err := store.Open(cfg.DBPath)
	require.NoError(t, err)
	st.Start()
	defer st.Stop()

	ctx := context.Background()
	normalizedURL := srv.URL + "/article/1"
	require.NoError(t, st.Seed(ctx, []models.URLRecord{
		{NormalizedURL: normalizedURL, Source: "apnews", DiscoveredAt: time.Now()},
	}))

	cascade := extractor.New(cfg, nil)
	limiter := ratelimiter.New(cfg)
	orch := New(cfg, st, limiter, nil, cascade)

	runCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	require.NoError(t, orch.Run(runCtx))

	counts, totalSuccess, total, err := st.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), totalSuccess)
	assert.Equal(t, int64(1), counts["apnews"][string(models.StatusSuccess)])
}

func TestRunStopsWhenContextCancelledWithEmptyQueue(t *testing.T) {
	cfg := testConfig(t)
	st, err := store.Open(cfg.DBPath)
	require.NoError(t, err)
	st.Start()
	defer st.Stop()

	cascade := extractor.New(cfg, nil)
	limiter := ratelimiter.New(cfg)
	orch := New(cfg, st, limiter, nil, cascade)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = orch.Run(ctx)
	assert.NoError(t, err)
}

func TestRunProcessesMultipleURLsConcurrentlyWithinWorkerBound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Each path gets its own body so the articles do not share a content hash.
		w.Write([]byte(strings.Replace(articleHTML, "</article>", "<p>"+longParagraph+" "+r.URL.Path+"</p></article>", 1)))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	st, err := store.Open(cfg.DBPath)
	require.NoError(t, err)
	st.Start()
	defer st.Stop()

	ctx := context.Background()
	var records []models.URLRecord
	for i := 0; i < 5; i++ {
		records = append(records, models.URLRecord{
			NormalizedURL: srv.URL + "/article/" + uuid.NewString(),
			Source:        "apnews",
			DiscoveredAt:  time.Now(),
		})
	}
	require.NoError(t, st.Seed(ctx, records))

	cascade := extractor.New(cfg, nil)
	limiter := ratelimiter.New(cfg)
	orch := New(cfg, st, limiter, nil, cascade)

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Run(runCtx))

	_, totalSuccess, total, err := st.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Equal(t, int64(5), totalSuccess)
}

func init() {
	// Sanity check that every allowlisted domain this suite cares about
	// resolves back from its source label, since the orchestrator keys
	// its rate limiter off DomainForSource rather than the raw host.
	if _, ok := urlnorm.DomainForSource("apnews"); !ok {
		panic("apnews missing from urlnorm source table")
	}
}
