package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-ranks/config"
	"github.com/aluiziolira/go-scrape-ranks/models"
	"github.com/aluiziolira/go-scrape-ranks/pipeline"
	"golang.org/x/sync/errgroup"
)

// Runner processes a keyword list. Each worker owns its own Scraper, and with
// it its own cookie jar and identity stream.
type Runner struct {
	cfg     *config.Config
	opts    []Option
	Metrics *Metrics

	mu     sync.Mutex
	result *models.ScraperResult
}

// NewRunner returns a runner sharing one metrics bundle across its workers.
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	var resolved clientOptions
	for _, opt := range opts {
		opt(&resolved)
	}
	if resolved.metrics == nil {
		resolved.metrics = NewMetrics()
		opts = append(opts, WithMetrics(resolved.metrics))
	}
	return &Runner{cfg: cfg, opts: opts, Metrics: resolved.metrics}
}

// Run parses every keyword and hands each keyword's listings to p as one
// batch. Unavailable pages are reported in the result, not as errors.
func (r *Runner) Run(ctx context.Context, keywords []string, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	r.result = &models.ScraperResult{
		StartTime:      time.Now(),
		Keywords:       len(keywords),
		CountByKeyword: make(map[string]int),
		ErrorsByType:   make(map[string]int),
	}

	if len(keywords) == 0 {
		r.result.EndTime = time.Now()
		return r.result, nil
	}

	workers := r.cfg.Parallelism
	if workers > len(keywords) {
		workers = len(keywords)
	}
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, keyword := range keywords {
			select {
			case jobs <- keyword:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			return r.work(gctx, jobs, p)
		})
	}

	err := g.Wait()
	r.result.EndTime = time.Now()
	return r.result, err
}

func (r *Runner) work(ctx context.Context, jobs <-chan string, p *pipeline.Pipeline) error {
	s, err := NewScraper(r.cfg, r.opts...)
	if err != nil {
		return fmt.Errorf("initialise scraper: %w", err)
	}
	defer r.collect(s)

	if r.cfg.ZipCode != "" {
		if _, err := s.Client.SetLocation(ctx, r.cfg.ZipCode); err != nil {
			if stop := s.stopOn(ctx, err); stop != nil {
				return stop
			}
			slog.Error("set location failed", slog.String("zip_code", r.cfg.ZipCode), slog.Any("error", err))
			r.mu.Lock()
			r.result.FailedLocations++
			r.mu.Unlock()
		}
	}

	for keyword := range jobs {
		listings, err := s.ParseKeyword(ctx, keyword, r.cfg.PagesPerKeyword)
		if err != nil {
			return err
		}
		if err := p.Process(listings...); err != nil {
			return fmt.Errorf("hand off listings for %q: %w", keyword, err)
		}

		slog.Info("keyword parsed",
			slog.String("keyword", keyword),
			slog.Int("listings", len(listings)),
		)
		r.mu.Lock()
		r.result.CountByKeyword[keyword] += len(listings)
		r.result.TotalCount += len(listings)
		r.mu.Unlock()
	}
	return nil
}

func (r *Runner) collect(s *Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.result.Gaps = append(r.result.Gaps, s.Gaps()...)
	r.result.PageCount += s.PageCount()
	r.result.RequestCount += s.Client.RequestCount()
	r.result.RotationCount += s.Client.RotationCount()
	for k, v := range s.Client.ErrorsByType() {
		r.result.ErrorsByType[k] += v
	}
}
