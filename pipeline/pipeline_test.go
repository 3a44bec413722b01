package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-fetch-ordenes/config"
	"github.com/aluiziolira/go-fetch-ordenes/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.Row
	closed      bool
	writeErr    error
	validateErr error
}

func (mw *mockWriter) Write(rows []*models.Row) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.writeErr != nil {
		return mw.writeErr
	}
	copyBatch := make([]*models.Row, len(rows))
	copy(copyBatch, rows)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(rows []*models.Row) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

func testRow(codigo string) *models.Row {
	return &models.Row{
		CodigoOC:        codigo,
		Nombre:          "Orden " + codigo,
		CodigoEstado:    "4",
		FechaCreacion:   "01-03-2024",
		NombreOrganismo: "Servicio de Salud Centro",
		Total:           "150000",
	}
}

func TestPipelineProcessValidationAndDedup(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	valid := testRow("1057-241-SE24")
	invalid := testRow("")
	duplicate := testRow("1057-241-SE24")

	if err := p.Process(valid, invalid, duplicate); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written rows = %d, want 1", got)
	}

	metrics := p.GetMetrics()
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["invalid_record"] == 0 {
		t.Fatalf("expected invalid_record validation error")
	}
	if validation["duplicate_codigo"] == 0 {
		t.Fatalf("expected duplicate_codigo validation error")
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	for i := 0; i < 65; i++ {
		if err := p.Process(testRow("750-" + strconv.Itoa(i) + "-SE24")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	for i := 0; i < 100; i++ {
		if err := p.Process(testRow("750-" + strconv.Itoa(i+200) + "-SE24")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written rows = %d, want 100", got)
	}
}

func TestPipelinePreservesProcessOrder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 7
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	want := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		codigo := "880-" + strconv.Itoa(i) + "-CM24"
		want = append(want, codigo)
		if err := p.Process(testRow(codigo)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := make([]string, 0, 50)
	for _, batch := range writer.batches {
		for _, row := range batch {
			got = append(got, row.CodigoOC)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("written rows = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := p.Process(testRow("1057-1-SE24")); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("process after close = %v, want ErrPipelineClosed", err)
	}
}

func TestPipelineWriterErrorSurfaces(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1
	wantErr := errors.New("disk full")
	writer := &mockWriter{writeErr: wantErr}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	if err := p.Process(testRow("1057-9-SE24")); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); !errors.Is(err, wantErr) {
		t.Fatalf("close = %v, want wrapped %v", err, wantErr)
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1

	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start()

	if err := p.Process(testRow("1057-8-SE24")); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}

type benchWriter struct {
	mu    sync.Mutex
	count int
}

func (bw *benchWriter) Write(rows []*models.Row) error {
	bw.mu.Lock()
	bw.count += len(rows)
	bw.mu.Unlock()
	return nil
}

func (bw *benchWriter) Close() error {
	return nil
}

func (bw *benchWriter) Validate() error {
	return nil
}

func BenchmarkPipelineThroughput(b *testing.B) {
	for _, batchSize := range []int{64, 256, 1024} {
		b.Run("batch="+strconv.Itoa(batchSize), func(b *testing.B) {
			cfg := config.DefaultConfig()
			cfg.PipelineBufferSize = 1024
			cfg.BatchSize = batchSize
			cfg.DedupeMaxSize = 5_000_000

			writer := &benchWriter{}
			p := NewPipeline(context.Background(), writer, cfg)
			p.Start()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := p.Process(testRow(strconv.Itoa(i) + "-1-SE24")); err != nil {
					b.Fatalf("process: %v", err)
				}
			}
			b.StopTimer()
			if err := p.Close(); err != nil {
				b.Fatalf("close: %v", err)
			}
			elapsed := b.Elapsed().Seconds()
			if elapsed > 0 {
				b.ReportMetric(float64(b.N)/elapsed, "rows/sec")
			}
		})
	}
}
