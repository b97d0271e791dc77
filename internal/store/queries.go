package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/corpuscore/acquire/internal/models"
)

// Seed inserts a batch of freshly-normalized candidate URLs as pending,
// skipping any normalized_url already present (INSERT OR IGNORE), per
// spec.md §4.1 seed().
func (s *StateStore) Seed(ctx context.Context, records []models.URLRecord) error {
	return s.submit(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR IGNORE INTO urls
				(normalized_url, source, status, attempt_count, discovered_at,
				 gdelt_publish_date, gdelt_themes, gdelt_tone)
			VALUES (?, ?, 'pending', 0, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			if _, err := stmt.Exec(r.NormalizedURL, r.Source, r.DiscoveredAt,
				r.GdeltPublishDate, r.GdeltThemes, r.GdeltTone); err != nil {
				return fmt.Errorf("seeding %s: %w", r.NormalizedURL, err)
			}
		}
		return nil
	})
}

// ResetInFlight clears any row left in processing from a prior run back
// to pending, per spec.md §4.1's startup recovery step. Called once
// before Start, so it bypasses the write queue.
func (s *StateStore) ResetInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE urls SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("resetting in-flight urls: %w", err)
	}
	return res.RowsAffected()
}

// ClaimNext atomically selects one pending URL, marks it processing, and
// returns it. Returns sql.ErrNoRows when the queue is empty.
func (s *StateStore) ClaimNext(ctx context.Context) (*models.URLRecord, error) {
	var claimed models.URLRecord
	err := s.submit(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT normalized_url, source, attempt_count, gdelt_publish_date, gdelt_themes, gdelt_tone, discovered_at
			FROM urls
			WHERE status = 'pending'
			ORDER BY discovered_at ASC
			LIMIT 1`)

		var gdeltDate sql.NullTime
		if err := row.Scan(&claimed.NormalizedURL, &claimed.Source, &claimed.AttemptCount,
			&gdeltDate, &claimed.GdeltThemes, &claimed.GdeltTone, &claimed.DiscoveredAt); err != nil {
			return err
		}
		if gdeltDate.Valid {
			claimed.GdeltPublishDate = &gdeltDate.Time
		}

		now := time.Now()
		_, err := tx.ExecContext(ctx, `
			UPDATE urls SET status = 'processing', attempt_count = attempt_count + 1, last_attempt_at = ?
			WHERE normalized_url = ?`, now, claimed.NormalizedURL)
		if err != nil {
			return err
		}
		claimed.Status = models.StatusProcessing
		claimed.AttemptCount++
		claimed.LastAttemptAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.markGuarded(claimed.NormalizedURL)
	return &claimed, nil
}

// RecordSuccess inserts the extracted article and marks normalizedURL
// success, or — if another row already landed the same content_hash —
// marks it duplicate instead, all inside one transaction. The INSERT's
// ON CONFLICT(content_hash) clause (backed by the articles.content_hash
// UNIQUE constraint) is what makes this atomic: two workers racing on
// identical bodies can't both observe "not yet seen" and both insert,
// since the second INSERT loses the constraint race inside its own
// transaction rather than after a separate, stale read. Returns
// duplicate=true when this row lost that race.
func (s *StateStore) RecordSuccess(ctx context.Context, normalizedURL, extractorUsed string, article *models.ArticleRecord) (duplicate bool, err error) {
	err = s.submit(ctx, func(tx *sql.Tx) error {
		res, execErr := tx.ExecContext(ctx, `
			INSERT INTO articles
				(normalized_url, source, headline, authors, publish_date, publish_date_source,
				 publish_date_diverged, full_text, word_count, content_hash, extraction_timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(content_hash) DO NOTHING`,
			article.NormalizedURL, article.Source, article.Headline, article.AuthorsJoined(),
			article.PublishDate, string(article.PublishDateSource), article.PublishDateDiverged,
			article.FullText, article.WordCount, article.ContentHash, article.ExtractionTimestamp)
		if execErr != nil {
			return execErr
		}

		n, rowsErr := res.RowsAffected()
		if rowsErr != nil {
			return rowsErr
		}

		if n == 0 {
			duplicate = true
			_, updErr := tx.ExecContext(ctx, `
				UPDATE urls SET status = 'duplicate', extractor_used = ? WHERE normalized_url = ?`,
				extractorUsed, normalizedURL)
			return updErr
		}

		id, idErr := res.LastInsertId()
		if idErr != nil {
			return idErr
		}
		article.ArticleID = id

		_, updErr := tx.ExecContext(ctx, `
			UPDATE urls SET status = 'success', extractor_used = ? WHERE normalized_url = ?`,
			extractorUsed, normalizedURL)
		return updErr
	})
	if err != nil {
		return false, err
	}
	s.unmarkGuarded(normalizedURL)
	return duplicate, nil
}

// RecordFailure records a non-terminal-yet or terminal failure. When
// attemptCount has reached maxAttempts, a non-terminal status is forced
// to dead per spec.md §4.3's retry cap; otherwise the given status is
// written as is. The URL is not returned to pending.
func (s *StateStore) RecordFailure(ctx context.Context, normalizedURL string, status models.URLStatus, reason models.BlockReason, errMsg string, attemptCount, maxAttempts int) error {
	finalStatus := status
	if !finalStatus.IsTerminal() && attemptCount >= maxAttempts {
		finalStatus = models.StatusDead
	}

	err := s.submit(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE urls SET status = ?, block_reason = ?, error_message = ? WHERE normalized_url = ?`,
			string(finalStatus), string(reason), errMsg, normalizedURL)
		return err
	})
	if err != nil {
		return err
	}
	if finalStatus.IsTerminal() {
		s.unmarkGuarded(normalizedURL)
	} else {
		// Left in its failure status; no longer in flight.
		s.unmarkGuarded(normalizedURL)
	}
	return nil
}

// ContentHashExists reports whether any success-status article already
// carries this content hash, per spec.md §4.1's cross-source dedup
// invariant.
func (s *StateStore) ContentHashExists(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM articles WHERE content_hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking content hash: %w", err)
	}
	return n > 0, nil
}

// ProxyUpsert inserts or refreshes a proxy endpoint's validation
// timestamp, per spec.md §4.5's proxy validation step.
func (s *StateStore) ProxyUpsert(ctx context.Context, p *models.ProxyRecord) error {
	return s.submit(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO proxies (host, port, protocol, last_validated_at, is_active)
			VALUES (?, ?, ?, ?, 1)
			ON CONFLICT(host, port) DO UPDATE SET last_validated_at = excluded.last_validated_at, is_active = 1`,
			p.Host, p.Port, string(p.Protocol), p.LastValidatedAt)
		return err
	})
}

// ProxyRecordOutcome updates a proxy's rolling success/failure counters
// after a use, retiring it once ConsecutiveFailureCount reaches
// threshold, per spec.md §4.5's state machine.
func (s *StateStore) ProxyRecordOutcome(ctx context.Context, host string, port int, success bool, failureThreshold int) error {
	return s.submit(ctx, func(tx *sql.Tx) error {
		if success {
			_, err := tx.ExecContext(ctx, `
				UPDATE proxies SET success_count = success_count + 1, consecutive_failure_count = 0
				WHERE host = ? AND port = ?`, host, port)
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE proxies SET consecutive_failure_count = consecutive_failure_count + 1
			WHERE host = ? AND port = ?`, host, port); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE proxies SET is_active = 0
			WHERE host = ? AND port = ? AND consecutive_failure_count >= ?`, host, port, failureThreshold)
		return err
	})
}

// RetireProxy unconditionally marks a proxy inactive, e.g. on a
// transport-level dial failure that precedes any recorded outcome.
func (s *StateStore) RetireProxy(ctx context.Context, host string, port int) error {
	return s.submit(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE proxies SET is_active = 0 WHERE host = ? AND port = ?`, host, port)
		return err
	})
}

// ListActiveProxies returns every proxy currently marked active, read
// directly since it never contends with the write queue.
func (s *StateStore) ListActiveProxies(ctx context.Context) ([]*models.ProxyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, host, port, protocol, last_validated_at, success_count, consecutive_failure_count, is_active
		FROM proxies WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("listing active proxies: %w", err)
	}
	defer rows.Close()

	var out []*models.ProxyRecord
	for rows.Next() {
		p := &models.ProxyRecord{}
		var lastValidated sql.NullTime
		var protocol string
		if err := rows.Scan(&p.ID, &p.Host, &p.Port, &protocol, &lastValidated,
			&p.SuccessCount, &p.ConsecutiveFailureCount, &p.IsActive); err != nil {
			return nil, err
		}
		p.Protocol = models.ProxyProtocol(protocol)
		if lastValidated.Valid {
			p.LastValidatedAt = &lastValidated.Time
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Metrics returns the grouped source/status counts for the completion
// summary, shaped to feed stats.Snapshot directly.
func (s *StateStore) Metrics(ctx context.Context) (counts map[string]map[string]int64, totalSuccess, total int64, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, status, COUNT(1) FROM urls GROUP BY source, status`)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("querying metrics: %w", err)
	}
	defer rows.Close()

	counts = map[string]map[string]int64{}
	for rows.Next() {
		var source, status string
		var count int64
		if scanErr := rows.Scan(&source, &status, &count); scanErr != nil {
			return nil, 0, 0, scanErr
		}
		if counts[source] == nil {
			counts[source] = map[string]int64{}
		}
		counts[source][status] = count
		total += count
		if status == string(models.StatusSuccess) {
			totalSuccess += count
		}
	}
	return counts, totalSuccess, total, rows.Err()
}
