// Package stats tracks in-process counters and renders the completion
// summary, grounded on the teacher's crawl/stats.go live-table pattern.
package stats

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/paulbellamy/ratecounter"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	urlsClaimed   atomic.Int64
	urlsCompleted atomic.Int64
	activeWorkers atomic.Int64
	activeBrowser atomic.Int64

	throughput *ratecounter.RateCounter

	mu           sync.Mutex
	countByKey   = map[string]int64{}

	promURLsTotal *prometheus.CounterVec
)

// Init installs the prometheus collectors exactly once. Safe to call
// repeatedly.
func Init() error {
	once.Do(func() {
		throughput = ratecounter.NewRateCounter(1 * time.Second)
		promURLsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acquire_urls_total",
			Help: "Count of terminal URL outcomes by source and status.",
		}, []string{"source", "status"})
		prometheus.MustRegister(promURLsTotal)
	})
	return nil
}

// ClaimedIncr/Decr track the number of URLs currently claimed (in the
// processing state) by this process.
func ClaimedIncr() { urlsClaimed.Add(1) }
func ClaimedDecr() { urlsClaimed.Add(-1) }

func ActiveWorkersIncr() { activeWorkers.Add(1) }
func ActiveWorkersDecr() { activeWorkers.Add(-1) }
func ActiveWorkers() int64 { return activeWorkers.Load() }

func ActiveBrowserContextsIncr() { activeBrowser.Add(1) }
func ActiveBrowserContextsDecr() { activeBrowser.Add(-1) }

// RecordOutcome records one terminal URL outcome for the completion
// summary and the prometheus counter.
func RecordOutcome(source, status string) {
	urlsCompleted.Add(1)
	if throughput != nil {
		throughput.Incr(1)
	}
	mu.Lock()
	countByKey[source+"\x00"+status]++
	mu.Unlock()
	if promURLsTotal != nil {
		promURLsTotal.WithLabelValues(source, status).Inc()
	}
}

// Snapshot is the grouped-count view StateStore.Metrics returns, in the
// shape Summary renders.
type Snapshot struct {
	Counts       map[string]map[string]int64 // source -> status -> count
	TotalSuccess int64
	Total        int64
}

// Summary renders the completion table (source/status counts, success
// rate) via uitable + humanize, matching the teacher's printLiveStats
// shape but as a one-shot end-of-run report instead of a ticking display.
func Summary(w io.Writer, snap Snapshot, elapsed time.Duration) {
	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true

	table.AddRow("SOURCE", "STATUS", "COUNT")
	for source, byStatus := range snap.Counts {
		for status, count := range byStatus {
			table.AddRow(source, status, count)
		}
	}

	fmt.Fprintln(w, table.String())

	var rate float64
	if snap.Total > 0 {
		rate = float64(snap.TotalSuccess) / float64(snap.Total) * 100
	}
	fmt.Fprintf(w, "\ntotal: %s urls, success rate: %.1f%%, elapsed: %s\n",
		humanize.Comma(snap.Total), rate, elapsed.Round(time.Second))
}
