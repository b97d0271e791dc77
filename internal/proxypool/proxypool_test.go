package proxypool

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpuscore/acquire/internal/models"
	"github.com/corpuscore/acquire/internal/store"
)

func openTestStore(t *testing.T) *store.StateStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "acquire.db"))
	require.NoError(t, err)
	s.Start()
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestAcquireReturnsNilWhenEmpty(t *testing.T) {
	p := New(openTestStore(t), "http://echo.example")
	assert.Nil(t, p.Acquire())
}

func TestAcquireRotatesLRUOrder(t *testing.T) {
	p := New(openTestStore(t), "http://echo.example")
	p.admit(&models.ProxyRecord{Host: "10.0.0.1", Port: 1, Protocol: models.ProxyHTTP})
	p.admit(&models.ProxyRecord{Host: "10.0.0.2", Port: 2, Protocol: models.ProxyHTTP})

	first := p.Acquire()
	second := p.Acquire()
	third := p.Acquire()

	assert.Equal(t, "10.0.0.1", first.Host)
	assert.Equal(t, "10.0.0.2", second.Host)
	assert.Equal(t, "10.0.0.1", third.Host) // rotated back after acquiring both once
}

func TestReportOutcomeRetiresAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	p := New(st, "http://echo.example")

	rec := &models.ProxyRecord{Host: "10.0.0.9", Port: 9, Protocol: models.ProxyHTTP}
	require.NoError(t, st.ProxyUpsert(ctx, rec))
	p.admit(rec)

	for i := 0; i < failureThreshold; i++ {
		p.ReportOutcome(ctx, rec, false)
	}

	assert.Equal(t, 0, p.ActiveCount())
}

func TestLoadSkipsUnreachableProxiesWithoutError(t *testing.T) {
	echo := httptest.NewServer(nil)
	defer echo.Close()

	dir := t.TempDir()
	listPath := filepath.Join(dir, "proxies.txt")
	require.NoError(t, os.WriteFile(listPath, []byte("127.0.0.1:1\n# comment\n\n"), 0o644))

	st := openTestStore(t)
	p := New(st, echo.URL)

	// The single candidate is an unreachable port; Load should complete
	// without error even though the proxy never validates.
	require.NoError(t, p.Load(context.Background(), listPath))
	assert.Equal(t, 0, p.ActiveCount())
}
