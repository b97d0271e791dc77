package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/corpuscore/acquire/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestStore(t *testing.T) *StateStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "acquire.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	s.Start()
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestSeedIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []models.URLRecord{
		{NormalizedURL: "https://www.reuters.com/world/a", Source: "reuters", DiscoveredAt: time.Now()},
	}
	require.NoError(t, s.Seed(ctx, records))
	require.NoError(t, s.Seed(ctx, records)) // re-seeding the same URL must not error or duplicate

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(1) FROM urls`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestClaimNextMarksProcessingAndGuards(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Seed(ctx, []models.URLRecord{
		{NormalizedURL: "https://www.apnews.com/article/1", Source: "apnews", DiscoveredAt: time.Now()},
	}))

	claimed, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://www.apnews.com/article/1", claimed.NormalizedURL)
	assert.Equal(t, models.StatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.AttemptCount)
	assert.True(t, s.IsClaimedInProcess(claimed.NormalizedURL))

	_, err = s.ClaimNext(ctx)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRecordSuccessInsertsArticleAndUnguards(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Seed(ctx, []models.URLRecord{
		{NormalizedURL: "https://www.reuters.com/world/b", Source: "reuters", DiscoveredAt: time.Now()},
	}))
	claimed, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	article := &models.ArticleRecord{
		NormalizedURL:       claimed.NormalizedURL,
		Source:              claimed.Source,
		Headline:            "Example headline",
		Authors:             []string{"Jane Doe"},
		FullText:            "some extracted body text",
		WordCount:           4,
		ContentHash:         "deadbeef",
		ExtractionTimestamp: time.Now(),
	}
	duplicate, err := s.RecordSuccess(ctx, claimed.NormalizedURL, "primary", article)
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.NotZero(t, article.ArticleID)
	assert.False(t, s.IsClaimedInProcess(claimed.NormalizedURL))

	exists, err := s.ContentHashExists(ctx, "deadbeef")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRecordSuccessFlagsContentHashCollisionAsDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Seed(ctx, []models.URLRecord{
		{NormalizedURL: "https://www.nytimes.com/a", Source: "nytimes", DiscoveredAt: time.Now()},
		{NormalizedURL: "https://www.nytimes.com/b", Source: "nytimes", DiscoveredAt: time.Now().Add(time.Second)},
	}))

	first, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	second, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	firstArticle := &models.ArticleRecord{
		NormalizedURL:       first.NormalizedURL,
		Source:              first.Source,
		FullText:            "identical body text",
		ContentHash:         "samehash",
		ExtractionTimestamp: time.Now(),
	}
	duplicate, err := s.RecordSuccess(ctx, first.NormalizedURL, "primary", firstArticle)
	require.NoError(t, err)
	assert.False(t, duplicate)

	secondArticle := &models.ArticleRecord{
		NormalizedURL:       second.NormalizedURL,
		Source:              second.Source,
		FullText:            "identical body text",
		ContentHash:         "samehash",
		ExtractionTimestamp: time.Now(),
	}
	duplicate, err = s.RecordSuccess(ctx, second.NormalizedURL, "primary", secondArticle)
	require.NoError(t, err)
	assert.True(t, duplicate)

	var status string
	require.NoError(t, s.db.QueryRow(`SELECT status FROM urls WHERE normalized_url = ?`, second.NormalizedURL).Scan(&status))
	assert.Equal(t, string(models.StatusDuplicate), status)

	var articleCount int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(1) FROM articles WHERE content_hash = ?`, "samehash").Scan(&articleCount))
	assert.Equal(t, 1, articleCount)
}

func TestRecordFailureMarksDeadAtMaxAttempts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Seed(ctx, []models.URLRecord{
		{NormalizedURL: "https://www.wsj.com/articles/c", Source: "wsj", DiscoveredAt: time.Now()},
	}))
	claimed, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	require.NoError(t, s.RecordFailure(ctx, claimed.NormalizedURL, models.StatusErrorNetwork,
		models.BlockReasonTransport, "dial timeout", claimed.AttemptCount, claimed.AttemptCount))

	var status string
	require.NoError(t, s.db.QueryRow(`SELECT status FROM urls WHERE normalized_url = ?`, claimed.NormalizedURL).Scan(&status))
	assert.Equal(t, string(models.StatusDead), status)
}

func TestProxyLifecycleRetiresAtFailureThreshold(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &models.ProxyRecord{Host: "10.0.0.1", Port: 8080, Protocol: models.ProxyHTTP}
	require.NoError(t, s.ProxyUpsert(ctx, p))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.ProxyRecordOutcome(ctx, p.Host, p.Port, false, 3))
	}

	active, err := s.ListActiveProxies(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}
