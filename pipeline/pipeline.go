// Package pipeline validates, deduplicates and batch-writes finished
// rows, and turns the finalized CSV into the spreadsheet export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-fetch-ordenes/config"
	"github.com/aluiziolira/go-fetch-ordenes/models"
	"github.com/aluiziolira/go-fetch-ordenes/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when Close gives up waiting for
	// queued rows to drain.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out draining rows")
)

// drainTimeout bounds how long Close waits for the writer goroutine.
var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for row output.
type OutputWriter interface {
	Write(rows []*models.Row) error
	Close() error
	Validate() error
}

// Pipeline coordinates validation, de-duplication and batched output
// writing. One writer goroutine owns the output file, so rows land in
// exactly the order they were processed and every flush is a whole
// batch; a crash loses at most the batch being accumulated.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	rowCh     chan *models.Row
	batchSize int

	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu      sync.Mutex // guards closed/err/started
	closed  bool
	started bool
	err     error

	done         chan struct{}
	startOnce    sync.Once
	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline. cfg supplies the batch size, the
// channel buffer and the dedupe cache capacity.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}

	dedupeSize := cfg.DedupeMaxSize
	if dedupeSize <= 0 {
		dedupeSize = 1
	}
	seen, _ := lru.New[string, struct{}](dedupeSize)

	bufferSize := cfg.PipelineBufferSize
	if bufferSize <= 0 {
		bufferSize = 1
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		rowCh:     make(chan *models.Row, bufferSize),
		batchSize: batchSize,
		seen:      seen,
		metrics:   newMetrics(),
		done:      make(chan struct{}),
		shutdown:  make(chan struct{}),
	}
}

// Start launches the writer goroutine. Calling it again is a no-op.
func (p *Pipeline) Start() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.startOnce.Do(func() {
		go p.run()
	})
}

// Process enqueues rows for writing.
func (p *Pipeline) Process(rows ...*models.Row) error {
	if len(rows) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, row := range rows {
		if row == nil {
			continue
		}
		if err := p.enqueue(row); err != nil {
			return err
		}
	}
	return nil
}

// Close stops intake, waits up to drainTimeout for queued rows to be
// flushed and reports the first write error, if any.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	started := p.started
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.rowCh)
	})

	if started {
		select {
		case <-p.done:
		case <-time.After(drainTimeout):
			return ErrPipelineCloseTimeout
		}
	}
	return p.Err()
}

// Err returns the first error encountered during writing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs until shutdown.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snapshot := p.GetMetrics()
				processed := snapshot["processed_rows"].(int64)
				validation := snapshot["validation_errors"].(map[string]int)
				slog.Info("pipeline progress",
					slog.Int64("processed", processed),
					slog.Int("validation_errors", len(validation)),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

// run is the single writer goroutine.
func (p *Pipeline) run() {
	defer close(p.done)

	batch := make([]*models.Row, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		p.metrics.addFlush()
		batch = batch[:0]
		return nil
	}

	for row := range p.rowCh {
		prepared := p.prepare(row)
		if prepared == nil {
			continue
		}
		batch = append(batch, prepared)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) prepare(row *models.Row) *models.Row {
	if err := parser.ValidateRow(row); err != nil {
		p.metrics.addValidation("invalid_record")
		return nil
	}

	if found, _ := p.seen.ContainsOrAdd(row.CodigoOC, struct{}{}); found {
		p.metrics.addValidation("duplicate_codigo")
		return nil
	}

	p.metrics.incrementProcessed()
	return row
}

func (p *Pipeline) enqueue(row *models.Row) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.rowCh <- row:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.rowCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	batches    int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addFlush() {
	m.mu.Lock()
	m.batches++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_rows":    m.processed,
		"batches_flushed":   m.batches,
		"validation_errors": copyValidation,
	}
}
