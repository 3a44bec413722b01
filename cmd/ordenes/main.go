package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-fetch-ordenes/config"
	"github.com/aluiziolira/go-fetch-ordenes/fetcher"
	"github.com/aluiziolira/go-fetch-ordenes/models"
	"github.com/aluiziolira/go-fetch-ordenes/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type options struct {
	desde           string
	hasta           string
	ticket          string
	baseURL         string
	timeout         time.Duration
	sleepMs         int
	sleepDetailMs   int
	retries         int
	backoffMs       int
	backoffMaxMs    int
	workers         int
	pageSize        int
	batchSize       int
	progressEvery   int
	outputFile      string
	excelFile       string
	organismos      string
	organismosFile  string
	logFile         string
	metricsAddr     string
	verbose         bool
}

func main() {
	defaultCfg := config.DefaultConfig()

	ticketDefault := ""
	if value, ok := config.EnvString("ORDENES_TICKET"); ok {
		ticketDefault = value
	}
	workersDefault := defaultCfg.Workers
	if value, ok, err := config.EnvInt("ORDENES_WORKERS"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid ORDENES_WORKERS: %v\n", err)
		os.Exit(1)
	} else if ok {
		workersDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("ORDENES_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("ORDENES_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	var opts options
	flag.StringVar(&opts.desde, "desde", "", "Start date, DD-MM-YYYY (required)")
	flag.StringVar(&opts.hasta, "hasta", "", "End date, DD-MM-YYYY (required)")
	flag.StringVar(&opts.ticket, "ticket", ticketDefault, "API access ticket (env ORDENES_TICKET)")
	flag.StringVar(&opts.baseURL, "base-url", defaultCfg.BaseURL, "API base URL")
	flag.DurationVar(&opts.timeout, "timeout", defaultCfg.Timeout, "Per-request timeout")
	flag.IntVar(&opts.sleepMs, "sleep", int(defaultCfg.ListingDelay/time.Millisecond), "Minimum delay between listing requests (milliseconds)")
	flag.IntVar(&opts.sleepDetailMs, "sleep-detail", int(defaultCfg.DetailDelay/time.Millisecond), "Minimum delay between detail requests (milliseconds)")
	flag.IntVar(&opts.retries, "retries", defaultCfg.MaxRetries, "Additional retry attempts per request")
	flag.IntVar(&opts.backoffMs, "retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	flag.IntVar(&opts.backoffMaxMs, "retry-backoff-max", int(defaultCfg.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	flag.IntVar(&opts.workers, "workers", workersDefault, "Concurrent detail downloads (env ORDENES_WORKERS)")
	flag.IntVar(&opts.pageSize, "page-size", defaultCfg.PageSize, "Listing page size")
	flag.IntVar(&opts.batchSize, "batch-size", defaultCfg.BatchSize, "Rows per output flush")
	flag.IntVar(&opts.progressEvery, "progress-every", defaultCfg.ProgressEvery, "Progress log frequency outside a terminal")
	flag.StringVar(&opts.outputFile, "output", outputDefault, "CSV output path (env ORDENES_OUTPUT)")
	flag.StringVar(&opts.excelFile, "excel", defaultCfg.ExcelFile, "XLSX output path")
	flag.StringVar(&opts.organismos, "organismos", "", "Comma-separated organization codes (overrides the built-in list)")
	flag.StringVar(&opts.organismosFile, "organismos-file", "", "YAML file with organization codes")
	flag.StringVar(&opts.logFile, "log-file", defaultCfg.LogFile, "Log file (mirrored to the console)")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	flag.BoolVar(&opts.verbose, "v", false, "Enable verbose logging")
	flag.Parse()

	logger, level, closeLog, err := newLogger(opts.verbose, opts.logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)
	setLogLoggerLevel(level.Level())

	cfg, err := buildConfig(opts)
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting fetch",
		slog.String("desde", cfg.Desde.Format(config.FlagDateLayout)),
		slog.String("hasta", cfg.Hasta.Format(config.FlagDateLayout)),
		slog.Int("organismos", len(cfg.Organismos)),
		slog.Int("workers", cfg.Workers),
	)

	f, err := fetcher.New(cfg)
	if err != nil {
		slog.Error("initialising fetcher", slog.Any("error", err))
		os.Exit(1)
	}

	writer, err := pipeline.NewCSVWriter(cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && f.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(f.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start()
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, err := f.Run(ctx, p)
	if err != nil {
		// Flush what the pipeline already accepted; flushed batches
		// stay valid even when the run dies.
		if closeErr := p.Close(); closeErr != nil {
			slog.Error("pipeline shutdown failed", slog.Any("error", closeErr))
		}
		slog.Error("fetch failed", slog.Any("error", err))
		copyLogArtifact(cfg.LogFile)
		os.Exit(1)
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		copyLogArtifact(cfg.LogFile)
		os.Exit(1)
	}
	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		copyLogArtifact(cfg.LogFile)
		os.Exit(1)
	}

	slog.Info("generating excel", slog.String("file", cfg.ExcelFile))
	if err := pipeline.ExportExcel(cfg.OutputFile, cfg.ExcelFile, cfg.SheetName); err != nil {
		slog.Error("excel export failed", slog.Any("error", err))
		copyLogArtifact(cfg.LogFile)
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if result.Failed > 0 {
		slog.Warn("some orders could not be downloaded",
			slog.Int("failed", result.Failed),
		)
		slog.Debug("failed order codes", slog.Any("codigos", result.FailedCodigos))
	}

	metrics := p.GetMetrics()
	duration := time.Since(startTime)
	written := int64(0)
	if processed, ok := metrics["processed_rows"].(int64); ok {
		written = processed
	}
	rowsPerSec := 0.0
	if duration.Seconds() > 0 {
		rowsPerSec = float64(written) / duration.Seconds()
	}

	printSummary(result, duration, rowsPerSec, cfg, metrics)
	copyLogArtifact(cfg.LogFile)
}

func buildConfig(opts options) (*config.Config, error) {
	if opts.desde == "" || opts.hasta == "" {
		return nil, fmt.Errorf("flags -desde and -hasta are required")
	}

	cfg := config.DefaultConfig()
	cfg.BaseURL = opts.baseURL
	cfg.Ticket = opts.ticket
	cfg.Timeout = opts.timeout
	cfg.ListingDelay = time.Duration(opts.sleepMs) * time.Millisecond
	cfg.DetailDelay = time.Duration(opts.sleepDetailMs) * time.Millisecond
	cfg.MaxRetries = opts.retries
	cfg.RetryBackoff = time.Duration(opts.backoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(opts.backoffMaxMs) * time.Millisecond
	cfg.Workers = opts.workers
	cfg.PageSize = opts.pageSize
	cfg.BatchSize = opts.batchSize
	cfg.ProgressEvery = opts.progressEvery
	cfg.OutputFile = opts.outputFile
	cfg.ExcelFile = opts.excelFile
	cfg.LogFile = opts.logFile
	cfg.MetricsAddr = opts.metricsAddr
	cfg.Verbose = opts.verbose

	desde, err := config.ParseDate(opts.desde)
	if err != nil {
		return nil, err
	}
	hasta, err := config.ParseDate(opts.hasta)
	if err != nil {
		return nil, err
	}
	cfg.Desde = desde
	cfg.Hasta = hasta

	switch {
	case opts.organismos != "":
		cfg.Organismos = config.SplitOrganismos(opts.organismos)
	case opts.organismosFile != "":
		list, err := config.LoadOrganismosFile(opts.organismosFile)
		if err != nil {
			return nil, err
		}
		cfg.Organismos = list
	}

	return cfg, nil
}

func printSummary(result *models.FetchResult, duration time.Duration, rowsPerSec float64, cfg *config.Config, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Fetch complete")

	written := int64(0)
	if processed, ok := metrics["processed_rows"].(int64); ok {
		written = processed
	}

	fmt.Printf("  Matched:       %d\n", result.Matched)
	fmt.Printf("  Written rows:  %d\n", written)
	fmt.Printf("  Enriched:      %d\n", result.Enriched)
	fmt.Printf("  Failed:        %d\n", result.Failed)
	fmt.Printf("  Skipped:       %d\n", result.Skipped)
	fmt.Printf("  Duplicates:    %d\n", result.Duplicates)
	fmt.Printf("  Filtered out:  %d\n", result.FilteredOut)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)

	errorCount := 0
	for _, n := range result.ErrorsByType {
		errorCount += n
	}
	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-errorCount) / float64(result.RequestCount) * 100
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Rows/sec:      %.2f\n", rowsPerSec)
	fmt.Printf("  CSV output:    %s\n", cfg.OutputFile)
	fmt.Printf("  XLSX output:   %s\n", cfg.ExcelFile)
	fmt.Println(separator)
}

// copyLogArtifact duplicates the log file under its extensionless name,
// which downstream jobs expect next to the outputs.
func copyLogArtifact(logFile string) {
	if logFile == "" {
		return
	}
	ext := filepath.Ext(logFile)
	if ext == "" {
		return
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		slog.Warn("duplicating log file", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(strings.TrimSuffix(logFile, ext), data, 0o644); err != nil {
		slog.Warn("duplicating log file", slog.Any("error", err))
	}
}

func newLogger(verbose bool, logFile string) (*slog.Logger, *slog.LevelVar, func(), error) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	out := io.Writer(os.Stdout)
	closeFn := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler), level, closeFn, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
