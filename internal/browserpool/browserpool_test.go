package browserpool

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests spin up real headless chrome processes via chromedp and
// are skipped in -short mode; otherwise they need a chrome/chromium
// binary that chromedp can find, matching how the teacher's own browser-dependent suites are gated in
// CI versus local runs.
func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser pool test in -short mode")
	}
}

func TestRenderReturnsPageHTML(t *testing.T) {
	requireChrome(t)

	srv := httptest.NewServer(nil)
	defer srv.Close()

	pool, err := New(1)
	require.NoError(t, err)
	defer pool.Stop()

	html, err := pool.Render(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, html)
}

func TestPoolSizeBoundsConcurrentCheckouts(t *testing.T) {
	requireChrome(t)

	pool, err := New(2)
	require.NoError(t, err)
	defer pool.Stop()

	assert.Len(t, pool.tokens, 2)
}
