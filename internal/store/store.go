// Package store implements the StateStore of spec.md §4.1: a single
// sqlite-backed ledger of URL and article state, written by exactly one
// goroutine draining a bounded channel of batched operations, and read
// concurrently by any number of callers under WAL mode.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zeebo/xxh3"

	"github.com/corpuscore/acquire/internal/log"
)

const (
	writeQueueDepth = 1024
	batchMaxOps     = 100
	batchMaxWait    = 200 * time.Millisecond
)

// writeOp is one mutation destined for the single writer goroutine. exec
// runs inside a shared transaction; done is signalled once that
// transaction commits (or fails).
type writeOp struct {
	exec func(tx *sql.Tx) error
	done chan error
}

// StateStore is the transactional ledger backing the whole pipeline.
// Grounded on the teacher's index.IndexManager single-writer-goroutine
// discipline, realized over sqlite rather than a WAL+gob file pair.
type StateStore struct {
	db  *sql.DB
	log *log.FieldedLogger

	writeCh chan writeOp
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// guard is an in-process claimed-URL set keyed by xxh3 of the
	// normalized URL, avoiding a round trip to sqlite to reject a URL
	// this process has already claimed this run.
	guardMu sync.Mutex
	guard   map[uint64]struct{}
}

// Open opens (creating if absent) the sqlite database at path, applies
// the schema, and primes the in-process guard set from rows left
// marked processing by a prior run.
func Open(path string) (*StateStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &StateStore{
		db:      db,
		log:     log.NewFieldedLogger(&log.Fields{"component": "store"}),
		writeCh: make(chan writeOp, writeQueueDepth),
		stopCh:  make(chan struct{}),
		guard:   make(map[uint64]struct{}),
	}

	if err := s.primeGuard(); err != nil {
		db.Close()
		return nil, fmt.Errorf("priming guard set: %w", err)
	}

	return s, nil
}

func (s *StateStore) primeGuard() error {
	rows, err := s.db.Query(`SELECT normalized_url FROM urls WHERE status = 'processing'`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return err
		}
		s.guardMu.Lock()
		s.guard[xxh3.HashString(u)] = struct{}{}
		s.guardMu.Unlock()
	}
	return rows.Err()
}

// Start launches the single writer goroutine. Must be called once
// before any write method is used.
func (s *StateStore) Start() {
	s.wg.Add(1)
	go s.writerLoop()
}

// Stop signals the writer goroutine to stop, waits for it to apply the
// ops already queued, and closes the underlying database.
func (s *StateStore) Stop() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.db.Close()
}

func (s *StateStore) writerLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(batchMaxWait)
	defer timer.Stop()

	var batch []writeOp

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.applyBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case op := <-s.writeCh:
			batch = append(batch, op)
			if len(batch) >= batchMaxOps {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(batchMaxWait)
			}
		case <-timer.C:
			flush()
			timer.Reset(batchMaxWait)
		case <-s.stopCh:
			// Drain whatever is already queued without blocking for more.
			for {
				select {
				case op := <-s.writeCh:
					batch = append(batch, op)
				default:
					flush()
					return
				}
			}
		}
	}
}

// applyBatch runs every op of the batch inside one transaction, but
// wraps each op in its own SAVEPOINT so a single op's failure (e.g.
// ClaimNext finding an empty queue) only rolls back that op, never its
// batch-mates' already-applied writes.
func (s *StateStore) applyBatch(batch []writeOp) {
	tx, err := s.db.Begin()
	if err != nil {
		for _, op := range batch {
			op.done <- err
		}
		return
	}

	results := make([]error, len(batch))
	for i, op := range batch {
		if _, spErr := tx.Exec("SAVEPOINT op"); spErr != nil {
			results[i] = spErr
			continue
		}
		if execErr := op.exec(tx); execErr != nil {
			_, _ = tx.Exec("ROLLBACK TO SAVEPOINT op")
			results[i] = execErr
		}
		_, _ = tx.Exec("RELEASE SAVEPOINT op")
	}

	if err := tx.Commit(); err != nil {
		for _, op := range batch {
			op.done <- err
		}
		s.log.Error("batch commit failed", "error", err, "ops", len(batch))
		return
	}

	for i, op := range batch {
		op.done <- results[i]
	}
}

// submit enqueues exec for the writer goroutine and blocks until the
// transaction containing it commits (or the surrounding context is
// cancelled).
func (s *StateStore) submit(ctx context.Context, exec func(tx *sql.Tx) error) error {
	op := writeOp{exec: exec, done: make(chan error, 1)}
	select {
	case s.writeCh <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *StateStore) markGuarded(normalizedURL string) {
	s.guardMu.Lock()
	s.guard[xxh3.HashString(normalizedURL)] = struct{}{}
	s.guardMu.Unlock()
}

func (s *StateStore) unmarkGuarded(normalizedURL string) {
	s.guardMu.Lock()
	delete(s.guard, xxh3.HashString(normalizedURL))
	s.guardMu.Unlock()
}

// IsClaimedInProcess reports whether normalizedURL is already marked
// processing by this in-memory guard, without a round trip to sqlite.
func (s *StateStore) IsClaimedInProcess(normalizedURL string) bool {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	_, ok := s.guard[xxh3.HashString(normalizedURL)]
	return ok
}
