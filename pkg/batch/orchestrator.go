// Package batch runs the paginated update pipeline: one worker per listing
// page, each fetching, transforming, and conditionally writing back every
// user on its page. Failures are aggregated per page and per user; only the
// initial listing call is fatal for a run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bibops/alma-user-batch/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for batch runs.
var (
	batchUsersProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_users_processed_total",
		Help: "Users processed by outcome (updated, unchanged, failed)",
	}, []string{"outcome"})

	batchPagesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batch_pages_completed_total",
		Help: "Listing pages fully processed",
	})
)

// ErrWorkerPanic marks a page worker that terminated abnormally instead of
// returning a result.
var ErrWorkerPanic = errors.New("page worker panicked")

// Client is the slice of the Alma client the pipeline needs.
type Client interface {
	UserIDsAndTotal(ctx context.Context, offset, limit int) ([]string, int, error)
	UserIDs(ctx context.Context, offset, limit int) ([]string, error)
	User(ctx context.Context, id string) (record.Document, error)
	UpdateUser(ctx context.Context, id string, doc record.Document) error
}

// Config for one batch run. Offsets are in pages, not records.
type Config struct {
	// PageSize is the listing limit per page. Alma caps it at 100.
	PageSize int

	// FromOffset is the first page offset to process.
	FromOffset int

	// ToOffset bounds the last page offset; a negative value means run to
	// the last page the total record count implies.
	ToOffset int

	// MaxConcurrency caps simultaneously running page workers. Zero or
	// negative means one worker per page with no cap.
	MaxConcurrency int
}

// RecordError attributes a failure to a single user id, or to the page
// itself when ID is empty (listing failure, worker panic).
type RecordError struct {
	ID  string
	Err error
}

// PageResult is the outcome of one page worker.
type PageResult struct {
	Offset    int
	Updated   int
	Unchanged int
	Errors    []RecordError
}

// Summary aggregates every page of a run. Nothing is persisted; the summary
// exists to be logged.
type Summary struct {
	TotalRecords int
	Updated      int
	Unchanged    int
	Failed       int
	Pages        []PageResult
}

// Runner drives one batch run. The transformer and configuration are shared
// read-only by every page worker; the only mutable shared state is the rate
// limiter inside the client.
type Runner struct {
	client      Client
	transformer *record.Transformer
	cfg         Config
	logger      zerolog.Logger
}

// NewRunner creates a Runner.
func NewRunner(client Client, transformer *record.Transformer, cfg Config) *Runner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Runner{
		client:      client,
		transformer: transformer,
		cfg:         cfg,
		logger:      log.With().Str("component", "batch").Logger(),
	}
}

// Run executes the whole batch: list the first page (fatal on failure, since
// without the total count no page range exists), spawn one worker per page,
// collect every result. Every later failure is recorded in the summary and
// the run completes. Pages run fully concurrently; within a page, users are
// processed in listing order.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	limit := r.cfg.PageSize

	firstIDs, total, err := r.client.UserIDsAndTotal(ctx, r.cfg.FromOffset*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list first page (offset %d): %w", r.cfg.FromOffset, err)
	}

	lastOffset := total / limit
	if r.cfg.ToOffset >= 0 && r.cfg.ToOffset < lastOffset {
		lastOffset = r.cfg.ToOffset
	}

	r.logger.Info().
		Int("total_records", total).
		Int("from_offset", r.cfg.FromOffset).
		Int("last_offset", lastOffset).
		Int("page_size", limit).
		Msg("Starting batch run")

	// The first page was already fetched and is always processed, even when
	// the requested range lies past the last page the total implies.
	pageCount := lastOffset - r.cfg.FromOffset + 1
	if pageCount < 1 {
		pageCount = 1
	}

	results := make(chan PageResult, pageCount)
	var wg sync.WaitGroup

	var sem chan struct{}
	if r.cfg.MaxConcurrency > 0 {
		sem = make(chan struct{}, r.cfg.MaxConcurrency)
	}

	spawn := func(offset int, ids []string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			results <- r.runPage(ctx, offset, ids)
		}()
	}

	spawn(r.cfg.FromOffset, firstIDs)
	for offset := r.cfg.FromOffset + 1; offset <= lastOffset; offset++ {
		spawn(offset, nil)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	summary := &Summary{TotalRecords: total}
	for res := range results {
		summary.Pages = append(summary.Pages, res)
		summary.Updated += res.Updated
		summary.Unchanged += res.Unchanged
		summary.Failed += len(res.Errors)
		batchPagesCompletedTotal.Inc()

		r.logger.Info().
			Int("offset", res.Offset).
			Int("updated", res.Updated).
			Int("unchanged", res.Unchanged).
			Int("errors", len(res.Errors)).
			Msg("Page complete")
	}

	sort.Slice(summary.Pages, func(i, j int) bool {
		return summary.Pages[i].Offset < summary.Pages[j].Offset
	})
	return summary, nil
}

// runPage lists the page (unless its ids were already fetched with the total
// count) and processes every id in listing order. A panic inside the worker
// is captured and reported as a page-level failure distinct from business
// errors, so one bad page never tears down the run.
func (r *Runner) runPage(ctx context.Context, offset int, ids []string) (res PageResult) {
	res.Offset = offset
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Int("offset", offset).
				Interface("panic", rec).
				Msg("Page worker panicked")
			res.Errors = append(res.Errors, RecordError{Err: fmt.Errorf("%w: %v", ErrWorkerPanic, rec)})
		}
	}()

	if ids == nil {
		var err error
		ids, err = r.client.UserIDs(ctx, offset*r.cfg.PageSize, r.cfg.PageSize)
		if err != nil {
			r.logger.Error().Int("offset", offset).Err(err).Msg("Failed to list page")
			res.Errors = append(res.Errors, RecordError{Err: fmt.Errorf("list page: %w", err)})
			return res
		}
	}

	for _, id := range ids {
		updated, err := r.ProcessUser(ctx, id)
		switch {
		case err != nil:
			batchUsersProcessedTotal.WithLabelValues("failed").Inc()
			r.logger.Error().
				Str("user_id", id).
				Int("offset", offset).
				Err(err).
				Msg("User processing failed")
			res.Errors = append(res.Errors, RecordError{ID: id, Err: err})
		case updated:
			batchUsersProcessedTotal.WithLabelValues("updated").Inc()
			res.Updated++
		default:
			batchUsersProcessedTotal.WithLabelValues("unchanged").Inc()
			res.Unchanged++
		}
	}
	return res
}

// ProcessUser runs the fetch -> transform -> conditional replace pipeline
// for a single user. The record is replaced only when the transform actually
// changed it.
func (r *Runner) ProcessUser(ctx context.Context, id string) (bool, error) {
	doc, err := r.client.User(ctx, id)
	if err != nil {
		return false, fmt.Errorf("fetch: %w", err)
	}
	if !r.transformer.Apply(id, doc) {
		return false, nil
	}
	if err := r.client.UpdateUser(ctx, id, doc); err != nil {
		return false, fmt.Errorf("update: %w", err)
	}
	return true, nil
}
