package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-ranks/config"
	"github.com/aluiziolira/go-scrape-ranks/models"
	"github.com/aluiziolira/go-scrape-ranks/pipeline"
	"github.com/aluiziolira/go-scrape-ranks/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const postgresMaxConns = 4

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one scrape and returns the process exit code. Deferred
// cleanup, including closing the writer, runs on every path.
func run(args []string) int {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid .env: %v\n", err)
		return 1
	}

	envCfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("scraper", flag.ContinueOnError)
	pages := fs.Int("pages", envCfg.PagesPerKeyword, "Result pages to parse per keyword")
	parallelism := fs.Int("parallel", envCfg.Parallelism, "Number of keywords processed concurrently")
	retryDelay := fs.Duration("retry-delay", envCfg.RetryDelay, "Wait between attempts of one request")
	zipCode := fs.String("zip", envCfg.ZipCode, "Delivery ZIP code set on every session (empty to skip)")
	category := fs.String("category", envCfg.Category, "Search category, sent as the i query parameter")
	proxy := fs.String("proxy", envCfg.Proxy, "Proxy as LOGIN:PASSWORD@IP:PORT")
	keywordsFile := fs.String("keywords", envCfg.KeywordsFile, "Keywords file, one keyword per line")
	strict := fs.Bool("strict-keywords", envCfg.StrictKeywords, "Trim keywords and drop blank or repeated lines")
	outputFile := fs.String("output", envCfg.OutputFile, "Output file path")
	outputFormat := fs.String("format", envCfg.OutputFormat, "Output format: csv, json, dual or postgres")
	databaseURL := fs.String("database-url", envCfg.DatabaseURL, "Postgres DSN for the postgres format")
	verbose := fs.Bool("v", false, "Enable verbose logging")
	baseURL := fs.String("base-url", envCfg.BaseURL, "Marketplace origin")
	metricsAddr := fs.String("metrics-addr", envCfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := envCfg
	cfg.PagesPerKeyword = *pages
	cfg.Parallelism = *parallelism
	cfg.RetryDelay = *retryDelay
	cfg.ZipCode = *zipCode
	cfg.Category = *category
	cfg.Proxy = *proxy
	cfg.KeywordsFile = *keywordsFile
	cfg.StrictKeywords = *strict
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.DatabaseURL = *databaseURL
	cfg.Verbose = *verbose
	cfg.BaseURL = *baseURL
	cfg.MetricsAddr = *metricsAddr

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}

	keywords, err := config.LoadKeywords(cfg.KeywordsFile, cfg.StrictKeywords)
	if err != nil {
		slog.Error("loading keywords", slog.Any("error", err))
		return 1
	}

	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("keywords", len(keywords)),
		slog.Int("pages_per_keyword", cfg.PagesPerKeyword),
		slog.Int("workers", cfg.Parallelism),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	writer, err := createWriter(ctx, cfg)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	runner := scraper.NewRunner(cfg)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(runner.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(1)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, runErr := runner.Run(ctx, keywords, p)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("scraping failed", slog.Any("error", runErr))
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		return 1
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, cfg.OutputFile, p.Stats())

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		return 1
	}
	return 0
}

func createWriter(ctx context.Context, cfg *config.Config) (pipeline.OutputWriter, error) {
	switch cfg.OutputFormat {
	case "json":
		return pipeline.NewJSONWriter(cfg.OutputFile)
	case "csv":
		return pipeline.NewCSVWriter(cfg.OutputFile)
	case "dual":
		jsonFilename := strings.TrimSuffix(cfg.OutputFile, ".csv") + ".json"
		return pipeline.NewDualWriter(cfg.OutputFile, jsonFilename)
	case "postgres":
		return pipeline.NewPostgresWriter(ctx, cfg.DatabaseURL, postgresMaxConns)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

func printSummary(result *models.ScraperResult, outputFile string, stats pipeline.Stats) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	duration := result.EndTime.Sub(result.StartTime)

	fmt.Printf("  Keywords:      %d\n", result.Keywords)
	fmt.Printf("  Listings:      %d (%d handed to sink)\n", result.TotalCount, stats.Accepted)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Page gaps:     %d\n", len(result.Gaps))
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Identities:    %d\n", result.RotationCount)
	if result.FailedLocations > 0 {
		fmt.Printf("  Location set:  failed for %d session(s)\n", result.FailedLocations)
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if len(stats.Rejected) > 0 {
		fmt.Printf("  Rejected:      %v\n", stats.Rejected)
	}
	if stats.WriteErrors > 0 {
		fmt.Printf("  Write errors:  %d\n", stats.WriteErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output:        %s\n", outputFile)

	if len(result.CountByKeyword) > 0 {
		keys := make([]string, 0, len(result.CountByKeyword))
		for k := range result.CountByKeyword {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("  Per keyword:")
		for _, k := range keys {
			fmt.Printf("    %-24s %d\n", k, result.CountByKeyword[k])
		}
	}
	for _, gap := range result.Gaps {
		fmt.Printf("  Gap: %q page %d: %s\n", gap.Keyword, gap.PageNumber, gap.Err)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
