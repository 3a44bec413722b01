package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-fetch-ordenes/config"
)

// Request is one API call to perform. Desc is a short human-readable
// label for logs; it never includes the ticket.
type Request struct {
	Class  Class
	Params url.Values
	Desc   string
}

// Requester issues API requests with rate limiting, typed error
// classification and bounded retries. MaxRetries counts additional
// attempts beyond the first, so a request is tried at most MaxRetries+1
// times.
type Requester struct {
	cfg     *config.Config
	client  *http.Client
	limiter *Limiter
	metrics *Metrics

	requestCount int64
	retryCount   int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// NewRequester builds a requester sharing one tuned transport for both
// request classes.
func NewRequester(cfg *config.Config, limiter *Limiter, metrics *Metrics) *Requester {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &Requester{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		limiter:      limiter,
		metrics:      metrics,
		errorsByType: make(map[string]int),
	}
}

// WithTransport replaces the underlying HTTP transport. Useful for
// tests and proxying.
func (r *Requester) WithTransport(rt http.RoundTripper) {
	r.client.Transport = rt
}

// Do performs req until it succeeds, fails fatally or exhausts the
// attempt budget. The returned body is the raw response payload.
func (r *Requester) Do(ctx context.Context, req Request) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := r.limiter.Wait(ctx, req.Class); err != nil {
			return nil, err
		}

		body, err := r.once(ctx, req)
		if err == nil {
			if attempt > 0 {
				slog.Info("request recovered",
					slog.String("request", req.Desc),
					slog.Int("attempt", attempt+1),
				)
			}
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		r.countError(err)
		if !retryable(err) {
			slog.Error("request failed",
				slog.String("request", req.Desc),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
			return nil, err
		}

		lastErr = err
		if attempt == r.cfg.MaxRetries {
			break
		}

		delay := r.backoff(attempt)
		slog.Warn("request failed, retrying",
			slog.String("request", req.Desc),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		atomic.AddInt64(&r.retryCount, 1)
		r.metrics.IncRetries()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	attempts := r.cfg.MaxRetries + 1
	slog.Error("request retries exhausted",
		slog.String("request", req.Desc),
		slog.Int("attempts", attempts),
		slog.Any("error", lastErr),
	)
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

// once performs a single HTTP round trip and classifies the outcome.
func (r *Requester) once(ctx context.Context, req Request) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.URL.RawQuery = req.Params.Encode()
	httpReq.Header.Set("User-Agent", r.cfg.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	atomic.AddInt64(&r.requestCount, 1)
	r.metrics.IncRequest(string(req.Class))

	start := time.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, classify(0, err)
	}
	defer resp.Body.Close()
	defer func() {
		r.metrics.ObserveDuration(string(req.Class), time.Since(start))
	}()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, classify(resp.StatusCode, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(0, err)
	}
	return body, nil
}

// backoff computes the delay before the attempt after `attempt` failed:
// base doubled per attempt, capped, with up to 25% jitter on top.
func (r *Requester) backoff(attempt int) time.Duration {
	base := r.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if attempt > 16 {
		attempt = 16
	}

	delay := base * time.Duration(1<<uint(attempt))
	if limit := r.cfg.RetryBackoffMax; limit > 0 && delay > limit {
		delay = limit
	}
	if delay > 0 {
		delay += time.Duration(randInt63n(int64(delay)/4 + 1))
	}
	return delay
}

func (r *Requester) countError(err error) {
	label := errorTypeLabel(err)
	r.mu.Lock()
	r.errorsByType[label]++
	r.mu.Unlock()
	r.metrics.IncError(label)
}

// TotalRequests returns the number of HTTP round trips issued, retries
// included.
func (r *Requester) TotalRequests() int {
	return int(atomic.LoadInt64(&r.requestCount))
}

// TotalRetries returns the number of retry sleeps taken.
func (r *Requester) TotalRetries() int {
	return int(atomic.LoadInt64(&r.retryCount))
}

// SnapshotErrors copies the per-type error counts.
func (r *Requester) SnapshotErrors() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.errorsByType))
	for k, v := range r.errorsByType {
		out[k] = v
	}
	return out
}

// listingRequest builds a paginated listing call for one organization
// over the whole date range.
func listingRequest(ticket, organismo string, desde, hasta time.Time, page, pageSize int) Request {
	params := url.Values{}
	params.Set("ticket", ticket)
	params.Set("CodigoOrganismo", organismo)
	params.Set("fechaDesde", config.APIDate(desde))
	params.Set("fechaHasta", config.APIDate(hasta))
	params.Set("pagina", strconv.Itoa(page))
	params.Set("registrosPorPagina", strconv.Itoa(pageSize))
	return Request{
		Class:  ClassListing,
		Params: params,
		Desc:   fmt.Sprintf("listado organismo=%s pagina=%d", organismo, page),
	}
}

// detailRequest builds a detail call for one order code.
func detailRequest(ticket, codigo string) Request {
	params := url.Values{}
	params.Set("ticket", ticket)
	params.Set("codigo", codigo)
	return Request{
		Class:  ClassDetail,
		Params: params,
		Desc:   fmt.Sprintf("detalle codigo=%s", codigo),
	}
}
