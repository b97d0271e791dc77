// Package source loads candidate URL rows from the upstream GDELT CSV
// export named in spec.md §6's InputPath, normalizing and allowlist
// filtering each row before it is handed to the store's seed step.
package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/araddon/dateparse"

	"github.com/corpuscore/acquire/internal/log"
	"github.com/corpuscore/acquire/internal/models"
	"github.com/corpuscore/acquire/internal/urlnorm"
)

// Loader reads candidate URL rows from some upstream feed. The only
// production implementation is CSVLoader; the interface exists so the
// orchestrator and its tests don't depend on a file on disk.
type Loader interface {
	Load(path string) ([]models.URLRecord, error)
}

// CSVLoader reads the columnar export spec.md §6 describes: url,
// gdelt_publish_date, gdelt_themes, gdelt_tone, with a header row.
type CSVLoader struct {
	log *log.FieldedLogger
}

// NewCSVLoader builds a CSVLoader.
func NewCSVLoader() *CSVLoader {
	return &CSVLoader{log: log.NewFieldedLogger(&log.Fields{"component": "source"})}
}

var expectedHeader = []string{"url", "gdelt_publish_date", "gdelt_themes", "gdelt_tone"}

// Load reads path, normalizes every URL, drops rows for non-allowlisted
// hosts or malformed URLs (logging each skip), and returns the
// resulting URLRecords ready for StateStore.Seed.
func (c *CSVLoader) Load(path string) ([]models.URLRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening candidate CSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(expectedHeader)

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return nil, err
	}

	now := time.Now()
	var out []models.URLRecord
	rowNum := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row %d: %w", rowNum, err)
		}
		rowNum++

		rec, ok := c.parseRow(row, now)
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func validateHeader(got []string) error {
	if len(got) != len(expectedHeader) {
		return fmt.Errorf("expected %d columns, got %d", len(expectedHeader), len(got))
	}
	for i, name := range expectedHeader {
		if got[i] != name {
			return fmt.Errorf("expected column %d to be %q, got %q", i, name, got[i])
		}
	}
	return nil
}

func (c *CSVLoader) parseRow(row []string, discoveredAt time.Time) (models.URLRecord, bool) {
	normalized, sourceLabel, err := urlnorm.Normalize(row[0])
	if err != nil {
		c.log.Debug("skipping candidate URL", "url", row[0], "error", err)
		return models.URLRecord{}, false
	}

	rec := models.URLRecord{
		NormalizedURL: normalized,
		Source:        sourceLabel,
		Status:        models.StatusPending,
		DiscoveredAt:  discoveredAt,
		GdeltThemes:   row[2],
	}

	if row[1] != "" {
		if t, err := dateparse.ParseAny(row[1]); err == nil {
			rec.GdeltPublishDate = &t
		}
	}
	if row[3] != "" {
		if tone, err := strconv.ParseFloat(row[3], 64); err == nil {
			rec.GdeltTone = tone
		}
	}

	return rec, true
}
