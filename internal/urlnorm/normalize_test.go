package urlnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStripsTrackingAndCollapsesAMP(t *testing.T) {
	got, source, err := Normalize("https://www.nytimes.com/2026/07/01/us/politics/story.html/amp/?utm_source=twitter&ref=hp")
	require.NoError(t, err)
	assert.Equal(t, "nytimes", source)
	assert.Equal(t, "https://www.nytimes.com/2026/07/01/us/politics/story.html", got)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	first, _, err := Normalize("http://WWW.Reuters.com/world/article-123/?utm_campaign=x")
	require.NoError(t, err)

	second, _, err := Normalize(first)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNormalizeRejectsNonAllowlistedHost(t *testing.T) {
	_, _, err := Normalize("https://example.com/news/story")
	assert.ErrorIs(t, err, ErrNotAllowlisted)
}

func TestNormalizeMapsRegionalSubdomainsToOneSource(t *testing.T) {
	_, source1, err := Normalize("https://jp.reuters.com/world/story")
	require.NoError(t, err)
	_, source2, err := Normalize("https://uk.reuters.com/world/story")
	require.NoError(t, err)

	assert.Equal(t, "reuters", source1)
	assert.Equal(t, "reuters", source2)
}

func TestPreFilterRejectsNonProsePaths(t *testing.T) {
	err := PreFilter("https://www.apnews.com/video/breaking-story")
	assert.ErrorIs(t, err, ErrNonProsePath)
}

func TestPreFilterAllowsProsePaths(t *testing.T) {
	err := PreFilter("https://www.apnews.com/article/breaking-story-1234")
	assert.NoError(t, err)
}

func TestDomainForSourceRoundTrips(t *testing.T) {
	domain, ok := DomainForSource("wsj")
	require.True(t, ok)
	assert.Equal(t, "wsj.com", domain)
}
