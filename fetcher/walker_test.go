package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-fetch-ordenes/models"
	"github.com/jarcoal/httpmock"
)

type listingFixtureItem struct {
	Codigo        string `json:"Codigo"`
	Nombre        string `json:"Nombre"`
	CodigoEstado  string `json:"CodigoEstado"`
	FechaCreacion string `json:"FechaCreacion"`
}

func listingBody(t *testing.T, total int, hasTotal bool, items []listingFixtureItem) string {
	t.Helper()
	payload := map[string]interface{}{"Listado": items}
	if hasTotal {
		payload["Cantidad"] = total
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return string(body)
}

// pageServer serves listing fixtures keyed by the pagina parameter and
// answers 404 for anything else, so an extra page fetch fails loudly.
type pageServer struct {
	mu    sync.Mutex
	pages map[string]string
	calls map[string]int
}

func newPageServer(pages map[string]string) *pageServer {
	return &pageServer{pages: pages, calls: make(map[string]int)}
}

func (ps *pageServer) responder(req *http.Request) (*http.Response, error) {
	page := req.URL.Query().Get("pagina")
	ps.mu.Lock()
	ps.calls[page]++
	body, ok := ps.pages[page]
	ps.mu.Unlock()
	if !ok {
		return httpmock.NewStringResponse(http.StatusNotFound, ""), nil
	}
	return httpmock.NewStringResponse(http.StatusOK, body), nil
}

func (ps *pageServer) callCount(page string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.calls[page]
}

func newTestWalker(t *testing.T, ps *pageServer, desde, hasta time.Time, pageSize int) *Walker {
	t.Helper()
	cfg := testRequesterConfig()
	cfg.MaxRetries = 0

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", cfg.BaseURL, ps.responder)

	r := newTestRequester(cfg, transport)
	return NewWalker(r, NewMetrics(), cfg.Ticket, "7019", desde, hasta, pageSize)
}

func drainWalker(t *testing.T, w *Walker) []models.OrderSummary {
	t.Helper()
	var out []models.OrderSummary
	for {
		s, ok, err := w.Next(context.Background())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, s)
	}
}

func TestWalkerStopsAtReportedTotal(t *testing.T) {
	desde := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	hasta := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	ps := newPageServer(map[string]string{
		"1": listingBody(t, 4, true, []listingFixtureItem{
			{Codigo: "A-1", FechaCreacion: "2024-03-01T10:00:00"},
			{Codigo: "A-2", FechaCreacion: "2024-03-02T10:00:00"},
		}),
		"2": listingBody(t, 4, true, []listingFixtureItem{
			{Codigo: "A-3", FechaCreacion: "2024-03-03T10:00:00"},
			{Codigo: "A-4", FechaCreacion: "2024-03-04T10:00:00"},
		}),
	})

	w := newTestWalker(t, ps, desde, hasta, 2)
	got := drainWalker(t, w)

	if len(got) != 4 {
		t.Fatalf("summaries=%d, want 4", len(got))
	}
	if w.State() != WalkerExhausted {
		t.Fatalf("state=%s, want exhausted", w.State())
	}
	if w.Pages() != 2 {
		t.Fatalf("pages=%d, want 2", w.Pages())
	}
	// Page 2 was full, but the reported total says everything was seen.
	if ps.callCount("3") != 0 {
		t.Fatalf("page 3 was requested despite the total")
	}
}

func TestWalkerStopsOnShortPage(t *testing.T) {
	desde := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	hasta := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	ps := newPageServer(map[string]string{
		"1": listingBody(t, 0, false, []listingFixtureItem{
			{Codigo: "B-1", FechaCreacion: "2024-03-01T10:00:00"},
			{Codigo: "B-2", FechaCreacion: "2024-03-02T10:00:00"},
		}),
		"2": listingBody(t, 0, false, []listingFixtureItem{
			{Codigo: "B-3", FechaCreacion: "2024-03-03T10:00:00"},
		}),
	})

	w := newTestWalker(t, ps, desde, hasta, 2)
	got := drainWalker(t, w)

	if len(got) != 3 {
		t.Fatalf("summaries=%d, want 3", len(got))
	}
	if got[0].Codigo != "B-1" || got[1].Codigo != "B-2" || got[2].Codigo != "B-3" {
		t.Fatalf("unexpected order: %v", got)
	}
	if w.Pages() != 2 {
		t.Fatalf("pages=%d, want 2", w.Pages())
	}
	if ps.callCount("3") != 0 {
		t.Fatalf("page 3 was requested after a short page")
	}
}

func TestWalkerEmptyFirstPage(t *testing.T) {
	desde := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	hasta := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	ps := newPageServer(map[string]string{
		"1": listingBody(t, 0, false, nil),
	})

	w := newTestWalker(t, ps, desde, hasta, 2)
	got := drainWalker(t, w)

	if len(got) != 0 {
		t.Fatalf("summaries=%d, want 0", len(got))
	}
	if w.State() != WalkerExhausted {
		t.Fatalf("state=%s, want exhausted", w.State())
	}
	if w.Pages() != 1 {
		t.Fatalf("pages=%d, want 1", w.Pages())
	}
}

func TestWalkerDateFilterInclusive(t *testing.T) {
	desde := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	hasta := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	ps := newPageServer(map[string]string{
		"1": listingBody(t, 0, false, []listingFixtureItem{
			{Codigo: "C-0", FechaCreacion: "2024-02-29T10:00:00"},
			{Codigo: "C-1", FechaCreacion: "2024-03-01T00:00:00"},
			{Codigo: "C-2", FechaCreacion: "2024-03-05T23:59:59"},
			{Codigo: "C-3", FechaCreacion: "2024-03-06"},
		}),
	})

	w := newTestWalker(t, ps, desde, hasta, 10)
	got := drainWalker(t, w)

	if len(got) != 2 {
		t.Fatalf("summaries=%d, want 2", len(got))
	}
	if got[0].Codigo != "C-1" || got[1].Codigo != "C-2" {
		t.Fatalf("kept %v, want boundary dates included", got)
	}
	if w.Filtered() != 2 {
		t.Fatalf("filtered=%d, want 2", w.Filtered())
	}
}

func TestWalkerFailureLatches(t *testing.T) {
	desde := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	hasta := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	ps := newPageServer(nil) // every page answers 404

	w := newTestWalker(t, ps, desde, hasta, 2)

	_, ok, err := w.Next(context.Background())
	if ok || err == nil {
		t.Fatalf("expected failure, got ok=%v err=%v", ok, err)
	}
	var client ErrClientStatus
	if !errors.As(err, &client) {
		t.Fatalf("err=%v, want client status", err)
	}
	if w.State() != WalkerFailed {
		t.Fatalf("state=%s, want failed", w.State())
	}

	_, _, second := w.Next(context.Background())
	if !errors.Is(second, err) {
		t.Fatalf("second error %v differs from first %v", second, err)
	}
	if ps.callCount("1") != 1 {
		t.Fatalf("page 1 fetched %d times after failure, want 1", ps.callCount("1"))
	}
}

func TestWalkerStateProgression(t *testing.T) {
	desde := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	hasta := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	ps := newPageServer(map[string]string{
		"1": listingBody(t, 0, false, []listingFixtureItem{
			{Codigo: "D-1", FechaCreacion: "2024-03-01T10:00:00"},
		}),
	})

	w := newTestWalker(t, ps, desde, hasta, 2)
	if w.State() != WalkerIdle {
		t.Fatalf("state=%s, want idle", w.State())
	}

	if _, ok, err := w.Next(context.Background()); err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if w.State() != WalkerEmitting {
		t.Fatalf("state=%s, want emitting", w.State())
	}

	if _, ok, err := w.Next(context.Background()); err != nil || ok {
		t.Fatalf("expected exhaustion, got ok=%v err=%v", ok, err)
	}
	if w.State() != WalkerExhausted {
		t.Fatalf("state=%s, want exhausted", w.State())
	}
}
