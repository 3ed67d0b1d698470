package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// Pager walks a DataSource page by page with a per-page timeout, bounded retries and an optional
// rate limit. A single Pager is shared by all shards so the concurrency limit applies globally.
type Pager struct {
	src               DataSource
	pageSize          int
	pageTimeout       time.Duration
	maxRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
	limiter           *rate.Limiter // nil = unlimited
	sem               *semaphore.Weighted
	log               *logrus.Entry
}

// NewPager creates a pager from a validated fetch configuration
func NewPager(src DataSource, cfg config.FetchConfig, log *logrus.Entry) *Pager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Pager{
		src:               src,
		pageSize:          max(cfg.PageSize, 1),
		pageTimeout:       cfg.PageTimeout,
		maxRetries:        max(cfg.MaxRetries, 0),
		initialRetryDelay: cfg.InitialRetryDelay,
		maxRetryDelay:     cfg.MaxRetryDelay,
		sem:               semaphore.NewWeighted(int64(max(cfg.ShardConcurrency, 1))),
		log:               log.WithField("component", "pager"),
	}
	if cfg.RatePerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1))
	}
	return p
}

// Source returns the underlying data source
func (p *Pager) Source() DataSource { return p.src }

// FetchAll fetches every page of q in order and hands each to fn. It holds one concurrency slot
// for the whole walk since pages of a query are sequential. Returns the number of rows fetched.
// A page that still fails after all retries aborts the walk with ErrRetryFailed.
func (p *Pager) FetchAll(ctx context.Context, q Query, fn func(page []models.Record) error) (int, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("%w: %w", utils.ErrSemaphoreTimeout, err)
	}
	defer p.sem.Release(1)

	total := 0
	for offset := 0; ; {
		rows, hasMore, err := p.fetchPage(ctx, q, offset)
		if err != nil {
			return total, err
		}
		total += len(rows)
		if len(rows) > 0 {
			if err := fn(rows); err != nil {
				return total, err
			}
		}
		if !hasMore {
			return total, nil
		}
		if len(rows) == 0 {
			return total, fmt.Errorf("%w: %s source reported more rows after an empty page at offset %d",
				utils.ErrDatabase, q.Entity, offset)
		}
		offset += len(rows)
	}
}

func (p *Pager) fetchPage(ctx context.Context, q Query, offset int) ([]models.Record, bool, error) {
	var (
		rows    []models.Record
		hasMore bool
		lastErr error
		attempt int
	)
	op := func() error {
		attempt++
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		pageCtx := ctx
		if p.pageTimeout > 0 {
			var cancel context.CancelFunc
			pageCtx, cancel = context.WithTimeout(ctx, p.pageTimeout)
			defer cancel()
		}
		var err error
		rows, hasMore, err = p.src.FetchPage(pageCtx, q, offset, p.pageSize)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// The run itself was cancelled, not just this page
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) || pageCtx.Err() != nil {
			err = fmt.Errorf("%w after %v: %w", utils.ErrPageTimeout, p.pageTimeout, err)
		}
		lastErr = err
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialRetryDelay
	if p.maxRetryDelay > 0 {
		b.MaxInterval = p.maxRetryDelay
	}
	b.MaxElapsedTime = 0 // Bounded by retry count only
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.maxRetries)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, delay time.Duration) {
		p.log.WithFields(logrus.Fields{
			"entity": q.Entity, "offset": offset, "attempt": attempt, "max_retries": p.maxRetries, "delay": delay,
		}).WithError(err).Warn("Page fetch failed, retrying...")
	})
	if err == nil {
		return rows, hasMore, nil
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	if lastErr == nil {
		lastErr = err
	}
	return nil, false, fmt.Errorf("%w: %s page at offset %d after %d attempt(s): %w",
		utils.ErrRetryFailed, q.Entity, offset, attempt, lastErr)
}
