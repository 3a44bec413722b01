package fetcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-fetch-ordenes/models"
	"github.com/aluiziolira/go-fetch-ordenes/parser"
	"golang.org/x/sync/errgroup"
)

// indexedSummary is a listing summary tagged with its emission position.
type indexedSummary struct {
	index   int
	summary models.OrderSummary
}

// detailResult is the outcome of enriching one summary. row is nil for
// failed and skipped items; the index still occupies its slot so output
// order never depends on worker scheduling.
type detailResult struct {
	index   int
	codigo  string
	row     *models.Row
	failed  bool
	skipped bool
}

// Enricher downloads order details with a bounded worker pool. A failed
// item does not stop the run: it is reported in its slot and the pool
// moves on.
type Enricher struct {
	req     *Requester
	metrics *Metrics
	ticket  string
	desde   time.Time
	hasta   time.Time
	workers int
}

func NewEnricher(req *Requester, metrics *Metrics, ticket string, desde, hasta time.Time, workers int) *Enricher {
	if workers < 1 {
		workers = 1
	}
	return &Enricher{
		req:     req,
		metrics: metrics,
		ticket:  ticket,
		desde:   desde,
		hasta:   hasta,
		workers: workers,
	}
}

// Run consumes summaries until in closes and writes exactly one result
// per summary to out. It returns once every worker has stopped; closing
// out is the caller's job.
func (e *Enricher) Run(ctx context.Context, in <-chan indexedSummary, out chan<- detailResult) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case s, ok := <-in:
					if !ok {
						return nil
					}
					res := e.enrichOne(ctx, s)
					select {
					case out <- res:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		})
	}
	return g.Wait()
}

func (e *Enricher) enrichOne(ctx context.Context, s indexedSummary) detailResult {
	res := detailResult{index: s.index, codigo: s.summary.Codigo}

	body, err := e.req.Do(ctx, detailRequest(e.ticket, s.summary.Codigo))
	if err != nil {
		res.failed = true
		if ctx.Err() != nil {
			return res
		}
		slog.Error("detail fetch failed",
			slog.String("codigo", s.summary.Codigo),
			slog.Any("error", err),
		)
		e.metrics.IncFailed()
		return res
	}

	det, ok, err := parser.ParseDetail(body)
	if err != nil {
		slog.Error("detail parse failed",
			slog.String("codigo", s.summary.Codigo),
			slog.Any("error", err),
		)
		e.metrics.IncFailed()
		res.failed = true
		return res
	}
	if !ok {
		slog.Debug("detail empty", slog.String("codigo", s.summary.Codigo))
		e.metrics.IncSkipped()
		res.skipped = true
		return res
	}

	// The detail's own creation date is authoritative for the range
	// filter; listings have been seen disagreeing with details.
	fecha, ok := parser.ParseAPIDate(det.Fechas.FechaCreacion)
	if !ok || fecha.Before(e.desde) || fecha.After(e.hasta) {
		slog.Debug("detail outside range",
			slog.String("codigo", s.summary.Codigo),
			slog.String("fecha", det.Fechas.FechaCreacion),
		)
		e.metrics.IncSkipped()
		res.skipped = true
		return res
	}

	row := parser.BuildRow(det)
	row.Index = s.index
	e.metrics.IncEnriched()
	res.row = row
	return res
}
