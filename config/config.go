package config

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"
)

// FlagDateLayout is the date format accepted on the command line.
const FlagDateLayout = "02-01-2006"

// apiDateLayout is the compact date format the API expects in query
// parameters.
const apiDateLayout = "02012006"

// Config holds fetcher configuration.
type Config struct {
	BaseURL            string
	Ticket             string
	Desde              time.Time
	Hasta              time.Time
	Organismos         []string
	Workers            int
	PageSize           int
	Timeout            time.Duration
	ListingDelay       time.Duration
	DetailDelay        time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	RetryBackoffMax    time.Duration
	BatchSize          int
	ProgressEvery      int
	PipelineBufferSize int
	DedupeMaxSize      int
	OutputFile         string
	ExcelFile          string
	SheetName          string
	LogFile            string
	MetricsAddr        string
	UserAgent          string
	Verbose            bool
}

// DefaultConfig returns the defaults tuned for the public purchase-order
// API. Workers is capped at 8 because the API throttles aggressively
// beyond that.
func DefaultConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	if workers < 1 {
		workers = 1
	}
	return &Config{
		BaseURL:            "https://api.mercadopublico.cl/servicios/v1/publico/ordenesdecompra.json",
		Organismos:         DefaultOrganismos(),
		Workers:            workers,
		PageSize:           100,
		Timeout:            120 * time.Second,
		ListingDelay:       200 * time.Millisecond,
		DetailDelay:        220 * time.Millisecond,
		MaxRetries:         5,
		RetryBackoff:       1 * time.Second,
		RetryBackoffMax:    30 * time.Second,
		BatchSize:          1000,
		ProgressEvery:      100,
		PipelineBufferSize: 512,
		DedupeMaxSize:      1_000_000,
		OutputFile:         "consulta_api.csv",
		ExcelFile:          "consulta_api.xlsx",
		SheetName:          "Órdenes de Compra",
		LogFile:            "log_api.txt",
		MetricsAddr:        "",
		UserAgent:          "go-fetch-ordenes/1.0",
		Verbose:            false,
	}
}

// Validate ensures all configuration values are coherent. It runs before
// any network activity so a bad value never produces partial output.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if strings.TrimSpace(c.Ticket) == "" {
		return fmt.Errorf("ticket cannot be empty")
	}
	if c.Desde.IsZero() {
		return fmt.Errorf("desde date is required")
	}
	if c.Hasta.IsZero() {
		return fmt.Errorf("hasta date is required")
	}
	if c.Hasta.Before(c.Desde) {
		return fmt.Errorf("hasta date (%s) cannot be before desde date (%s)",
			c.Hasta.Format(FlagDateLayout), c.Desde.Format(FlagDateLayout))
	}
	if len(c.Organismos) == 0 {
		return fmt.Errorf("organismos list cannot be empty")
	}
	for _, org := range c.Organismos {
		if strings.TrimSpace(org) == "" {
			return fmt.Errorf("organismos list contains an empty code")
		}
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ListingDelay < 0 {
		return fmt.Errorf("listing delay cannot be negative")
	}
	if c.DetailDelay < 0 {
		return fmt.Errorf("detail delay cannot be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.ProgressEvery <= 0 {
		return fmt.Errorf("progress interval must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.ExcelFile == "" {
		return fmt.Errorf("excel file cannot be empty")
	}
	if c.SheetName == "" {
		return fmt.Errorf("sheet name cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// ParseDate parses a DD-MM-YYYY command line date into a UTC date.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(FlagDateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected DD-MM-YYYY)", value)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// APIDate renders a date in the compact DDMMYYYY form used by query
// parameters.
func APIDate(t time.Time) string {
	return t.Format(apiDateLayout)
}
