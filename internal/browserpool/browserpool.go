// Package browserpool implements the BrowserPool of spec.md §4.3 stage
// 5: a bounded set of headless chromedp contexts, used only for
// configured paywall domains, each optionally paired with a proxy and
// torn down and recreated whenever it errors.
package browserpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/corpuscore/acquire/internal/log"
	"github.com/corpuscore/acquire/internal/models"
	"github.com/corpuscore/acquire/internal/stats"
)

const renderTimeout = 30 * time.Second

// slot is one pooled browser context, optionally bound to a proxy for
// the lifetime of its underlying chrome process.
type slot struct {
	allocCtx   context.Context
	allocCancel context.CancelFunc
	ctx        context.Context
	cancel     context.CancelFunc
	proxyAddr  string
}

// Pool is a fixed-size, channel-gated set of chromedp browser contexts,
// matching the teacher's guard-channel worker-bound pattern applied to
// whole browser processes instead of goroutines.
type Pool struct {
	tokens chan *slot
	size   int
	log    *log.FieldedLogger

	mu      sync.Mutex
	closed  bool
}

// New allocates size chrome processes up front. size should track
// spec.md §6's BrowserPoolSize, deliberately small since each slot is a
// full browser process.
func New(size int) (*Pool, error) {
	p := &Pool{
		tokens: make(chan *slot, size),
		size:   size,
		log:    log.NewFieldedLogger(&log.Fields{"component": "browserpool"}),
	}

	for i := 0; i < size; i++ {
		s, err := newSlot("")
		if err != nil {
			p.closeAll()
			return nil, fmt.Errorf("allocating browser slot %d: %w", i, err)
		}
		p.tokens <- s
	}

	return p, nil
}

func newSlot(proxyAddr string) (*slot, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if proxyAddr != "" {
		opts = append(opts, chromedp.ProxyServer(proxyAddr))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("starting headless chrome: %w", err)
	}

	return &slot{allocCtx: allocCtx, allocCancel: allocCancel, ctx: ctx, cancel: cancel, proxyAddr: proxyAddr}, nil
}

func (s *slot) teardown() {
	s.cancel()
	s.allocCancel()
}

// Render implements extractor.BrowserRenderer: it checks out a slot
// (rebuilding it first if proxy doesn't match what the slot was last
// bound to), navigates to pageURL, waits for the body to settle, and
// returns the rendered HTML.
func (p *Pool) Render(ctx context.Context, pageURL string, proxy *models.ProxyRecord) ([]byte, error) {
	var wantProxy string
	if proxy != nil {
		wantProxy = proxy.URL()
	}

	s, err := p.checkout(wantProxy)
	if err != nil {
		return nil, err
	}

	stats.ActiveBrowserContextsIncr()
	defer stats.ActiveBrowserContextsDecr()

	renderCtx, cancel := context.WithTimeout(s.ctx, renderTimeout)
	defer cancel()

	var html string
	err = chromedp.Run(renderCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(1*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		p.log.Warn("browser render failed, recreating slot", "url", pageURL, "error", err)
		s.teardown()
		replacement, recreateErr := newSlot(s.proxyAddr)
		if recreateErr == nil {
			p.checkin(replacement)
		}
		return nil, fmt.Errorf("rendering %s: %w", pageURL, err)
	}

	p.checkin(s)
	return []byte(html), nil
}

// checkout waits for a free slot and, if its proxy binding doesn't
// match wantProxy, tears it down and allocates a fresh one bound to
// wantProxy. This keeps the pool size fixed while letting each caller
// get the proxy it asked for.
func (p *Pool) checkout(wantProxy string) (*slot, error) {
	s := <-p.tokens
	if s.proxyAddr == wantProxy {
		return s, nil
	}

	s.teardown()
	fresh, err := newSlot(wantProxy)
	if err != nil {
		// Put a same-shape, unbound slot back so the pool doesn't shrink.
		fallback, fallbackErr := newSlot("")
		if fallbackErr == nil {
			p.checkin(fallback)
		}
		return nil, fmt.Errorf("rebinding browser slot to proxy %q: %w", wantProxy, err)
	}
	return fresh, nil
}

func (p *Pool) checkin(s *slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		s.teardown()
		return
	}
	p.tokens <- s
}

// Stop marks the pool closed and tears down every idle browser context.
// It does not wait for outstanding Render calls; a slot still checked
// out is torn down when its Render call checks it back in.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.closeAll()
}

func (p *Pool) closeAll() {
	for i := 0; i < p.size; i++ {
		select {
		case s := <-p.tokens:
			s.teardown()
		default:
			return
		}
	}
}
