package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// CallTimeout bounds a single HTTP call. It is independent of RetryDelay.
const CallTimeout = 30 * time.Second

// Config holds scraper configuration.
type Config struct {
	BaseURL         string
	ZipCode         string
	Category        string
	Proxy           string // LOGIN:PASSWORD@IP:PORT
	PagesPerKeyword int
	RetryDelay      time.Duration
	Parallelism     int
	KeywordsFile    string
	StrictKeywords  bool
	OutputFile      string
	OutputFormat    string // csv, json, dual or postgres
	DatabaseURL     string
	MetricsAddr     string
	Verbose         bool

	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int
	RedirectCacheSize  int
}

// DefaultConfig returns the defaults used when no environment is set.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://www.amazon.com",
		ZipCode:            "10001",
		PagesPerKeyword:    10,
		RetryDelay:         1 * time.Second,
		Parallelism:        1,
		KeywordsFile:       "res/keywords.txt",
		OutputFile:         "output/listings.csv",
		OutputFormat:       "csv",
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,
		RedirectCacheSize:  1024,
	}
}

// Validate ensures all configuration values are coherent.
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

	if c.PagesPerKeyword <= 0 {
		return fmt.Errorf("pages per keyword must be positive")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if c.RetryDelay >= CallTimeout {
		return fmt.Errorf("retry delay (%s) must be shorter than the call timeout (%s)", c.RetryDelay, CallTimeout)
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Proxy != "" && strings.Contains(c.Proxy, "://") {
		return fmt.Errorf("proxy must be LOGIN:PASSWORD@IP:PORT without a scheme")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.RedirectCacheSize <= 0 {
		return fmt.Errorf("redirect cache size must be positive")
	}

	switch c.OutputFormat {
	case "csv", "json", "dual":
		if c.OutputFile == "" {
			return fmt.Errorf("output file cannot be empty")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("postgres output requires a database URL")
		}
	default:
		return fmt.Errorf("output format must be csv, json, dual, or postgres")
	}

	return nil
}

// ProxyURL returns the proxy address with its scheme, or "" when unset.
func (c *Config) ProxyURL() string {
	if c.Proxy == "" {
		return ""
	}
	return "http://" + c.Proxy
}
