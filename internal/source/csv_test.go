package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candidates.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadNormalizesAndFiltersNonAllowlistedHosts(t *testing.T) {
	path := writeCSV(t, `url,gdelt_publish_date,gdelt_themes,gdelt_tone
https://www.reuters.com/world/story-1,2026-07-01,ECON_TRADE,-1.2
https://example.com/not-allowlisted,2026-07-01,ECON_TRADE,0
`)

	loader := NewCSVLoader()
	records, err := loader.Load(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "reuters", records[0].Source)
	assert.Equal(t, -1.2, records[0].GdeltTone)
}

func TestLoadRejectsWrongHeader(t *testing.T) {
	path := writeCSV(t, "a,b,c,d\n1,2,3,4\n")
	_, err := NewCSVLoader().Load(path)
	assert.Error(t, err)
}
