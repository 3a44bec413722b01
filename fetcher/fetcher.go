// Package fetcher drives the purchase-order download: it walks listing
// pages per organization, enriches matching orders through a bounded
// worker pool and hands finished rows to the output pipeline in listing
// order.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aluiziolira/go-fetch-ordenes/config"
	"github.com/aluiziolira/go-fetch-ordenes/models"
	"github.com/aluiziolira/go-fetch-ordenes/pipeline"
	"github.com/aluiziolira/go-fetch-ordenes/progress"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// Fetcher owns the shared requester and metrics for one run.
type Fetcher struct {
	cfg       *config.Config
	requester *Requester
	reporter  progress.Reporter
	Metrics   *Metrics
}

// New builds a fetcher configured from cfg.
func New(cfg *config.Config) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	metrics := NewMetrics()
	limiter := NewLimiter(cfg.ListingDelay, cfg.DetailDelay)
	return &Fetcher{
		cfg:       cfg,
		requester: NewRequester(cfg, limiter, metrics),
		Metrics:   metrics,
	}, nil
}

// SetReporter replaces the default progress reporter. Mostly useful for
// tests and embedding.
func (f *Fetcher) SetReporter(r progress.Reporter) {
	f.reporter = r
}

// Run lists, enriches and writes orders until every organization is
// exhausted or a fatal error stops the run. Individual order failures
// are tolerated and counted; listing failures are fatal. The returned
// result is populated even when err != nil.
func (f *Fetcher) Run(ctx context.Context, p *pipeline.Pipeline) (*models.FetchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	seen, err := lru.New[string, struct{}](f.cfg.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("building dedupe cache: %w", err)
	}

	reporter := f.reporter
	if reporter == nil {
		reporter = progress.Auto("descargando ordenes", f.cfg.ProgressEvery, -1)
	}

	result := &models.FetchResult{StartTime: time.Now()}

	summaries := make(chan indexedSummary)
	results := make(chan detailResult, f.cfg.Workers)
	enricher := NewEnricher(f.requester, f.Metrics, f.cfg.Ticket, f.cfg.Desde, f.cfg.Hasta, f.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)

	// Listing producer: walk every organization in config order and
	// assign each unique matching order its output position.
	g.Go(func() error {
		defer close(summaries)
		index := 0
		for _, organismo := range f.cfg.Organismos {
			slog.Info("listando ordenes", slog.String("organismo", organismo))
			w := NewWalker(f.requester, f.Metrics, f.cfg.Ticket, organismo, f.cfg.Desde, f.cfg.Hasta, f.cfg.PageSize)
			for {
				s, ok, err := w.Next(gctx)
				if err != nil {
					result.PageCount += w.Pages()
					result.FilteredOut += w.Filtered()
					result.Matched = index
					return err
				}
				if !ok {
					break
				}
				if found, _ := seen.ContainsOrAdd(s.Codigo, struct{}{}); found {
					result.Duplicates++
					continue
				}
				f.Metrics.IncListed()
				index++
				reporter.SetTotal(int64(index))
				select {
				case summaries <- indexedSummary{index: index - 1, summary: s}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			result.PageCount += w.Pages()
			result.FilteredOut += w.Filtered()
			slog.Info("organismo listed",
				slog.String("organismo", organismo),
				slog.Int("paginas", w.Pages()),
				slog.Int("acumulado", index),
			)
		}
		result.Matched = index
		return nil
	})

	// Enrichment pool. Closes results once every worker stopped.
	g.Go(func() error {
		defer close(results)
		return enricher.Run(gctx, summaries, results)
	})

	// Single consumer: reorders results back into listing order and is
	// the only goroutine feeding the pipeline.
	g.Go(func() error {
		buf := newReorderBuffer()
		for r := range results {
			for _, ready := range buf.add(r) {
				reporter.Add(1)
				switch {
				case ready.row != nil:
					if err := p.Process(ready.row); err != nil {
						return fmt.Errorf("pipeline: %w", err)
					}
					result.Enriched++
				case ready.failed:
					result.Failed++
					result.FailedCodigos = append(result.FailedCodigos, ready.codigo)
				default:
					result.Skipped++
				}
			}
		}
		return nil
	})

	err = g.Wait()
	reporter.Finish()

	result.EndTime = time.Now()
	result.RequestCount = f.requester.TotalRequests()
	result.RetryCount = f.requester.TotalRetries()
	result.ErrorsByType = f.requester.SnapshotErrors()

	return result, err
}
