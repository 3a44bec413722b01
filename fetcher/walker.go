package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-fetch-ordenes/models"
	"github.com/aluiziolira/go-fetch-ordenes/parser"
)

// WalkerState is the lifecycle of a Walker. A walker only moves forward:
// once Exhausted or Failed it never produces again.
type WalkerState int

const (
	WalkerIdle WalkerState = iota
	WalkerFetching
	WalkerFiltering
	WalkerEmitting
	WalkerExhausted
	WalkerFailed
)

func (s WalkerState) String() string {
	switch s {
	case WalkerIdle:
		return "idle"
	case WalkerFetching:
		return "fetching"
	case WalkerFiltering:
		return "filtering"
	case WalkerEmitting:
		return "emitting"
	case WalkerExhausted:
		return "exhausted"
	case WalkerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Walker lazily pages through one organization's listing and yields the
// summaries whose creation date falls inside the configured range,
// boundaries included. Pagination ends when the API's total says every
// record was seen or when a page comes back short; both signals are
// honored because the API is inconsistent about sending the total.
//
// A walker is single-use and not safe for concurrent callers.
type Walker struct {
	req       *Requester
	metrics   *Metrics
	ticket    string
	organismo string
	desde     time.Time
	hasta     time.Time
	pageSize  int

	state    WalkerState
	page     int
	fetched  int
	total    int
	hasTotal bool
	done     bool
	err      error

	buf    []models.OrderSummary
	bufIdx int

	pages    int
	filtered int
}

// NewWalker builds a walker for one organization. pageSize must be
// positive; config validation guarantees it before a walker exists.
func NewWalker(req *Requester, metrics *Metrics, ticket, organismo string, desde, hasta time.Time, pageSize int) *Walker {
	return &Walker{
		req:       req,
		metrics:   metrics,
		ticket:    ticket,
		organismo: organismo,
		desde:     desde,
		hasta:     hasta,
		pageSize:  pageSize,
		state:     WalkerIdle,
		page:      1,
	}
}

// Next returns the next matching summary. The boolean is false when the
// walker is exhausted. After an error Next keeps returning the same
// error without touching the network again.
func (w *Walker) Next(ctx context.Context) (models.OrderSummary, bool, error) {
	for {
		if w.err != nil {
			return models.OrderSummary{}, false, w.err
		}
		if w.bufIdx < len(w.buf) {
			s := w.buf[w.bufIdx]
			w.bufIdx++
			w.state = WalkerEmitting
			return s, true, nil
		}
		if w.done {
			w.state = WalkerExhausted
			return models.OrderSummary{}, false, nil
		}
		if err := w.fetchPage(ctx); err != nil {
			w.state = WalkerFailed
			w.err = err
			return models.OrderSummary{}, false, err
		}
	}
}

// State returns the walker's current state.
func (w *Walker) State() WalkerState {
	return w.state
}

// Pages returns how many listing pages were fetched.
func (w *Walker) Pages() int {
	return w.pages
}

// Filtered returns how many summaries the date filter dropped.
func (w *Walker) Filtered() int {
	return w.filtered
}

func (w *Walker) fetchPage(ctx context.Context) error {
	w.state = WalkerFetching

	req := listingRequest(w.ticket, w.organismo, w.desde, w.hasta, w.page, w.pageSize)
	body, err := w.req.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("listado organismo %s pagina %d: %w", w.organismo, w.page, err)
	}

	page, err := parser.ParseListingPage(body)
	if err != nil {
		return fmt.Errorf("listado organismo %s pagina %d: %w", w.organismo, w.page, err)
	}

	w.pages++
	w.metrics.IncPage()

	w.state = WalkerFiltering
	var kept []models.OrderSummary
	for _, s := range page.Items {
		if w.matches(s) {
			kept = append(kept, s)
		} else {
			w.filtered++
		}
	}

	w.fetched += len(page.Items)
	if page.HasTotal {
		w.total = page.Total
		w.hasTotal = true
	}
	switch {
	case len(page.Items) == 0:
		w.done = true
	case w.hasTotal && w.fetched >= w.total:
		w.done = true
	case len(page.Items) < w.pageSize:
		w.done = true
	}

	slog.Debug("listing page fetched",
		slog.String("organismo", w.organismo),
		slog.Int("pagina", w.page),
		slog.Int("items", len(page.Items)),
		slog.Int("kept", len(kept)),
		slog.Bool("done", w.done),
	)

	w.buf = kept
	w.bufIdx = 0
	w.page++
	return nil
}

// matches applies the inclusive date-range filter. Summaries whose date
// did not parse carry a zero time and never match.
func (w *Walker) matches(s models.OrderSummary) bool {
	if s.FechaCreacion.IsZero() {
		return false
	}
	return !s.FechaCreacion.Before(w.desde) && !s.FechaCreacion.After(w.hasta)
}
