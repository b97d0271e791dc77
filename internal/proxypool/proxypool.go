// Package proxypool implements the ProxyPool of spec.md §4.5: a
// health-tracked LRU of proxy endpoints, retired after repeated
// consecutive failures and refreshed in the background once the active
// count drops below a low watermark.
package proxypool

import (
	"bufio"
	"container/list"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/corpuscore/acquire/internal/log"
	"github.com/corpuscore/acquire/internal/models"
	"github.com/corpuscore/acquire/internal/store"
)

const (
	// failureThreshold matches spec.md §4.5: a proxy is retired after
	// this many *consecutive* failed uses.
	failureThreshold = 3

	// lowWatermark triggers a background refresh pass once the active
	// proxy count drops below this value.
	lowWatermark = 10

	validateTimeout = 5 * time.Second
)

// Pool is a health-tracked, LRU-ordered set of proxy endpoints.
type Pool struct {
	mu      sync.Mutex
	order   *list.List               // front = least-recently-used
	entries map[string]*list.Element // "host:port" -> element

	store    *store.StateStore
	echoURL  string
	log      *log.FieldedLogger
	refreshing bool
}

// New builds an empty Pool. Call Load to populate it from a proxy list
// file, then Refresh periodically (or on demand) to replenish it.
func New(st *store.StateStore, echoURL string) *Pool {
	return &Pool{
		order:   list.New(),
		entries: make(map[string]*list.Element),
		store:   st,
		echoURL: echoURL,
		log:     log.NewFieldedLogger(&log.Fields{"component": "proxypool"}),
	}
}

// Load reads a newline-delimited "host:port" or "protocol://host:port"
// proxy list from path, validates each entry with a HEAD probe against
// echoURL, and upserts the live ones into the store and the in-memory
// LRU, per spec.md §4.5's proxy validation step.
func (p *Pool) Load(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening proxy list: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var candidates []*models.ProxyRecord
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := parseProxyLine(line)
		if err != nil {
			p.log.Warn("skipping malformed proxy line", "line", line, "error", err)
			continue
		}
		candidates = append(candidates, rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading proxy list: %w", err)
	}

	return p.validateAndAdmit(ctx, candidates)
}

func parseProxyLine(line string) (*models.ProxyRecord, error) {
	protocol := models.ProxyHTTP
	if idx := strings.Index(line, "://"); idx >= 0 {
		switch line[:idx] {
		case "http":
			protocol = models.ProxyHTTP
		case "https":
			protocol = models.ProxyHTTPS
		case "socks5":
			protocol = models.ProxySOCKS5
		default:
			return nil, fmt.Errorf("unknown proxy protocol %q", line[:idx])
		}
		line = line[idx+3:]
	}

	hostPort := strings.SplitN(line, ":", 2)
	if len(hostPort) != 2 {
		return nil, fmt.Errorf("expected host:port, got %q", line)
	}
	port, err := strconv.Atoi(hostPort[1])
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q: %w", line, err)
	}

	return &models.ProxyRecord{Host: hostPort[0], Port: port, Protocol: protocol}, nil
}

// validateAndAdmit HEAD-probes each candidate against p.echoURL and
// upserts the ones that respond within validateTimeout.
func (p *Pool) validateAndAdmit(ctx context.Context, candidates []*models.ProxyRecord) error {
	var wg sync.WaitGroup
	guard := make(chan struct{}, 32)

	for _, rec := range candidates {
		wg.Add(1)
		guard <- struct{}{}
		go func(rec *models.ProxyRecord) {
			defer wg.Done()
			defer func() { <-guard }()

			if p.probe(ctx, rec) {
				now := time.Now()
				rec.LastValidatedAt = &now
				rec.IsActive = true
				if err := p.store.ProxyUpsert(ctx, rec); err != nil {
					p.log.Warn("failed to persist validated proxy", "proxy", rec.Addr(), "error", err)
					return
				}
				p.admit(rec)
			}
		}(rec)
	}
	wg.Wait()
	return nil
}

func (p *Pool) probe(ctx context.Context, rec *models.ProxyRecord) bool {
	proxyURL, err := url.Parse(rec.URL())
	if err != nil {
		return false
	}

	client := &http.Client{
		Timeout:   validateTimeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.echoURL, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// admit inserts rec at the most-recently-used end of the LRU.
func (p *Pool) admit(rec *models.ProxyRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := rec.Addr()
	if el, ok := p.entries[key]; ok {
		p.order.MoveToBack(el)
		el.Value = rec
		return
	}
	el := p.order.PushBack(rec)
	p.entries[key] = el
}

// Acquire returns the least-recently-used active proxy and moves it to
// the back of the LRU, or nil if the pool is empty.
func (p *Pool) Acquire() *models.ProxyRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	front := p.order.Front()
	if front == nil {
		return nil
	}
	p.order.MoveToBack(front)
	return front.Value.(*models.ProxyRecord)
}

// ReportOutcome records a proxy use's success/failure both in the
// store (for the consecutive-failure retirement threshold) and, on
// retirement, removes it from the in-memory LRU immediately so no
// further Acquire calls hand it out before the next Refresh.
func (p *Pool) ReportOutcome(ctx context.Context, rec *models.ProxyRecord, success bool) {
	if err := p.store.ProxyRecordOutcome(ctx, rec.Host, rec.Port, success, failureThreshold); err != nil {
		p.log.Warn("failed to record proxy outcome", "proxy", rec.Addr(), "error", err)
		return
	}
	p.mu.Lock()
	if success {
		rec.ConsecutiveFailureCount = 0
		p.mu.Unlock()
		return
	}
	rec.ConsecutiveFailureCount++
	retire := rec.ConsecutiveFailureCount >= failureThreshold
	p.mu.Unlock()

	if retire {
		p.retire(rec.Addr())
		if p.NeedsRefresh() {
			go func() {
				if err := p.Refresh(context.Background()); err != nil {
					p.log.Warn("background proxy refresh failed", "error", err)
				}
			}()
		}
	}
}

func (p *Pool) retire(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.entries[key]; ok {
		p.order.Remove(el)
		delete(p.entries, key)
	}
}

// ActiveCount reports the current in-memory LRU size.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// NeedsRefresh reports whether the pool has dropped below the low
// watermark and a background refresh should run.
func (p *Pool) NeedsRefresh() bool {
	return p.ActiveCount() < lowWatermark
}

// Refresh re-validates every proxy the store currently marks active
// (including ones this process previously retired from the LRU but
// that a different actor may have un-retired out of band), admitting
// any that still respond. Only one Refresh runs at a time; a call that
// arrives while one is in flight is a no-op.
func (p *Pool) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.refreshing {
		p.mu.Unlock()
		return nil
	}
	p.refreshing = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.refreshing = false
		p.mu.Unlock()
	}()

	active, err := p.store.ListActiveProxies(ctx)
	if err != nil {
		return fmt.Errorf("listing active proxies: %w", err)
	}
	return p.validateAndAdmit(ctx, active)
}

