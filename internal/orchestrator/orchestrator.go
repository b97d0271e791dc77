// Package orchestrator drives the claim -> rate-limit -> dispatch ->
// report loop of spec.md §4.6, bounding concurrent workers, managing
// graceful shutdown, and rendering the completion summary.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"github.com/corpuscore/acquire/internal/config"
	"github.com/corpuscore/acquire/internal/extractor"
	"github.com/corpuscore/acquire/internal/log"
	"github.com/corpuscore/acquire/internal/models"
	"github.com/corpuscore/acquire/internal/proxypool"
	"github.com/corpuscore/acquire/internal/ratelimiter"
	"github.com/corpuscore/acquire/internal/stats"
	"github.com/corpuscore/acquire/internal/store"
	"github.com/corpuscore/acquire/internal/urlnorm"
)

// pollInterval is how often the run loop checks for a claimable URL
// when the queue was last found empty, per spec.md §4.6's "idle
// backoff" behavior.
const pollInterval = 500 * time.Millisecond

// Orchestrator wires every stage together and drives the main loop.
type Orchestrator struct {
	cfg     *config.Config
	st      *store.StateStore
	limiter *ratelimiter.RateLimiter
	proxies *proxypool.Pool
	cascade *extractor.Cascade
	log     *log.FieldedLogger

	swg sizedwaitgroup.SizedWaitGroup
}

// New assembles an Orchestrator from its already-constructed
// dependencies; cmd/acquire is responsible for wiring concrete
// instances (store.Open, browserpool.New, proxypool.New, etc.).
func New(cfg *config.Config, st *store.StateStore, limiter *ratelimiter.RateLimiter, proxies *proxypool.Pool, cascade *extractor.Cascade) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		st:      st,
		limiter: limiter,
		proxies: proxies,
		cascade: cascade,
		log:     log.NewFieldedLogger(&log.Fields{"component": "orchestrator"}),
		swg:     sizedwaitgroup.New(cfg.WorkerCount),
	}
}

// Run executes the main dispatch loop until ctx is cancelled (typically
// by WaitForSignal on SIGINT/SIGTERM) or no pending URL is left and no
// worker is in flight. On cancellation it waits up to the grace period
// for dispatched workers; on a drained queue it returns once every
// dispatched worker has returned its outcome.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.log.Info("orchestrator started", "workers", o.cfg.WorkerCount)

	idleTicker := time.NewTicker(pollInterval)
	defer idleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.waitWithGrace()
			return nil
		default:
		}

		rec, err := o.st.ClaimNext(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			if stats.ActiveWorkers() == 0 {
				o.swg.Wait()
				o.log.Info("no pending urls left and no workers in flight, stopping")
				return nil
			}
			select {
			case <-idleTicker.C:
				continue
			case <-ctx.Done():
				o.waitWithGrace()
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				o.waitWithGrace()
				return nil
			}
			o.log.Error("claim_next failed", "error", err)
			continue
		}

		domain, _ := urlnorm.DomainForSource(rec.Source)
		if err := o.limiter.Acquire(ctx, domain); err != nil {
			o.waitWithGrace()
			return nil
		}

		if err := o.swg.AddWithContext(ctx); err != nil {
			o.waitWithGrace()
			return nil
		}
		stats.ActiveWorkersIncr()
		stats.ClaimedIncr()

		go o.process(ctx, rec)
	}
}

// waitWithGrace gives in-flight workers up to cfg.GraceShutdownSeconds
// to finish before returning regardless, per spec.md §4.6's graceful
// shutdown requirement. A worker still running past the grace period is
// abandoned: its URL stays in processing and ResetInFlight will pick it
// back up on the next run.
func (o *Orchestrator) waitWithGrace() {
	o.log.Info("shutdown signal received, waiting for in-flight workers", "grace_seconds", o.cfg.GraceShutdownSeconds)

	done := make(chan struct{})
	go func() {
		o.swg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Duration(o.cfg.GraceShutdownSeconds) * time.Second):
		o.log.Warn("grace period elapsed with workers still in flight, exiting anyway")
	}
}

// process runs the full cascade for one claimed URL and persists its
// terminal outcome, recovering from any panic inside the cascade as a
// BlockReasonPanic failure so one bad page never brings down a worker
// goroutine's siblings.
func (o *Orchestrator) process(ctx context.Context, rec *models.URLRecord) {
	defer o.swg.Done()
	defer stats.ActiveWorkersDecr()
	defer stats.ClaimedDecr()

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("recovered from panic in cascade", "url", rec.NormalizedURL, "panic", r)
			_ = o.st.RecordFailure(ctx, rec.NormalizedURL, models.StatusErrorParse, models.BlockReasonPanic, "panic during extraction", rec.AttemptCount, o.cfg.MaxAttempts)
			stats.RecordOutcome(rec.Source, string(models.StatusErrorParse))
		}
	}()

	var proxy *models.ProxyRecord
	if o.proxies != nil {
		proxy = o.proxies.Acquire()
	}

	outcome := o.cascade.Run(ctx, rec, proxy)

	if proxy != nil {
		o.proxies.ReportOutcome(ctx, proxy, outcome.Err == nil)
	}

	o.report(ctx, rec, outcome)
}

func (o *Orchestrator) report(ctx context.Context, rec *models.URLRecord, outcome extractor.Outcome) {
	if outcome.Article != nil {
		duplicate, err := o.st.RecordSuccess(ctx, rec.NormalizedURL, outcome.ExtractorUsed, outcome.Article)
		if err != nil {
			o.log.Error("record_success failed", "url", rec.NormalizedURL, "error", err)
			return
		}
		status := models.StatusSuccess
		if duplicate {
			status = models.StatusDuplicate
		}
		o.log.Info("url outcome", "url", rec.NormalizedURL, "extractor_used", outcome.ExtractorUsed, "status", status, "block_reason", models.BlockReasonNone)
		stats.RecordOutcome(rec.Source, string(status))
		return
	}

	errMsg := ""
	if outcome.Err != nil {
		errMsg = outcome.Err.Error()
	}
	if err := o.st.RecordFailure(ctx, rec.NormalizedURL, outcome.Classification.Status, outcome.Classification.Reason, errMsg, rec.AttemptCount, o.cfg.MaxAttempts); err != nil {
		o.log.Error("record_failure failed", "url", rec.NormalizedURL, "error", err)
		return
	}
	o.log.Info("url outcome", "url", rec.NormalizedURL, "extractor_used", outcome.ExtractorUsed, "status", outcome.Classification.Status, "block_reason", outcome.Classification.Reason)
	stats.RecordOutcome(rec.Source, string(outcome.Classification.Status))
}

// WaitForSignal returns at once with a context derived from parent that
// is cancelled when SIGINT or SIGTERM arrives (or when the returned
// cancel func is called). graceSeconds is not used here; the grace
// period for in-flight workers is applied by Run when ctx is cancelled.
func WaitForSignal(parent context.Context, graceSeconds int) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// Summary fetches a fresh Metrics snapshot from the store for the
// completion report; the caller renders it with stats.Summary.
func (o *Orchestrator) Summary(ctx context.Context, start time.Time) (stats.Snapshot, error) {
	counts, totalSuccess, total, err := o.st.Metrics(ctx)
	if err != nil {
		return stats.Snapshot{}, err
	}
	return stats.Snapshot{Counts: counts, TotalSuccess: totalSuccess, Total: total}, nil
}
