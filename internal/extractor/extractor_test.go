package extractor

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpuscore/acquire/internal/models"
)

func TestContentHashIsCaseAndWhitespaceInsensitive(t *testing.T) {
	a := contentHash("Hello   World")
	b := contentHash("hello world")
	assert.Equal(t, a, b)
}

func TestContentHashDiffersOnDifferentText(t *testing.T) {
	assert.NotEqual(t, contentHash("alpha"), contentHash("beta"))
}

func TestSanitizeTextStripsNullBytesAndEntities(t *testing.T) {
	got := sanitizeText("Caf\x00é &amp; Co.")
	assert.Equal(t, "Café & Co.", got)
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := map[int]classification{
		429: {models.StatusErrorNetwork, models.BlockReasonRateLimited},
		404: {models.StatusDead, models.BlockReasonDeleted},
		410: {models.StatusDead, models.BlockReasonDeleted},
		503: {models.StatusErrorNetwork, models.BlockReasonTransport},
	}
	for code, want := range cases {
		got := classifyHTTPStatus(code, nil, nil)
		assert.Equalf(t, want, got, "status %d", code)
	}
}

func TestClassify403SplitsPaywallFromBotDetection(t *testing.T) {
	paywallBody := []byte(`<html><body>Please subscribe to continue reading</body></html>`)
	got := classifyHTTPStatus(http.StatusForbidden, paywallBody, http.Header{})
	assert.Equal(t, classification{models.StatusPaywallSuspected, models.BlockReasonPaywall}, got)

	captchaBody := []byte(`<html><body>Please complete the CAPTCHA below</body></html>`)
	got = classifyHTTPStatus(http.StatusForbidden, captchaBody, http.Header{})
	assert.Equal(t, classification{models.StatusErrorNetwork, models.BlockReasonBotDetection}, got)

	headers := http.Header{}
	headers.Set("Cf-Ray", "abcdef")
	got = classifyHTTPStatus(http.StatusForbidden, []byte("blocked"), headers)
	assert.Equal(t, classification{models.StatusErrorNetwork, models.BlockReasonBotDetection}, got)
}

func TestExtractSecondaryPicksDensestContainer(t *testing.T) {
	html := `
	<html><body>
		<nav><p>Home</p><p>About</p></nav>
		<article>
			<p>This is the first real paragraph of a meaningful news story with enough substance.</p>
			<p>And a second paragraph continuing the narrative with further detail and quotes.</p>
		</article>
	</body></html>`

	res, err := extractSecondary([]byte(html), "")
	require.NoError(t, err)
	assert.Contains(t, res.TextContent, "first real paragraph")
	assert.NotContains(t, res.TextContent, "Home")
}

func TestResolvePublishDateJSONLDTakesPriority(t *testing.T) {
	html := `
	<html><head>
		<script type="application/ld+json">{"@type":"NewsArticle","datePublished":"2026-07-01T12:00:00Z"}</script>
		<meta property="article:published_time" content="2026-06-01T00:00:00Z">
	</head><body></body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	gdelt := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	resolved := resolvePublishDate(doc, nil, &gdelt)

	require.NotNil(t, resolved.Date)
	assert.Equal(t, models.PublishDateJSONLD, resolved.Source)
	assert.Equal(t, 2026, resolved.Date.Year())
	assert.False(t, resolved.Diverged)
}

func TestResolvePublishDateFlagsDivergence(t *testing.T) {
	html := `<html><head>
		<meta property="article:published_time" content="2026-01-01T00:00:00Z">
	</head><body></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	gdelt := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	resolved := resolvePublishDate(doc, nil, &gdelt)

	assert.Equal(t, models.PublishDateOpenGraph, resolved.Source)
	assert.True(t, resolved.Diverged)
}

func TestResolvePublishDateFallsBackToUpstream(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body></body></html>`))
	require.NoError(t, err)

	gdelt := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	resolved := resolvePublishDate(doc, nil, &gdelt)

	assert.Equal(t, models.PublishDateUpstream, resolved.Source)
	assert.False(t, resolved.Diverged) // source itself is upstream, never self-diverges
}
