package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-scrape-ranks/config"
	"github.com/aluiziolira/go-scrape-ranks/models"
	"github.com/aluiziolira/go-scrape-ranks/parser"
)

// PageFetcher fetches search pages.
type PageFetcher interface {
	FetchSearchPage(ctx context.Context, keyword string, page int, category string) (string, error)
}

// PageExtractor turns page markup into listings.
type PageExtractor interface {
	Extract(ctx context.Context, html, keyword string, page int) ([]*models.Listing, error)
}

// Scraper walks the result pages of one keyword at a time. It is not safe for
// concurrent use; give each worker its own Scraper.
type Scraper struct {
	cfg       *config.Config
	Client    *Client
	fetcher   PageFetcher
	extractor PageExtractor
	Metrics   *Metrics

	mu        sync.Mutex
	gaps      []models.KeywordGap
	pageCount int
}

// NewScraper builds a scraper with its own client session.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	s := newScraper(cfg, client, parser.NewExtractor(client.BaseURL(), client), client.Metrics)
	s.Client = client
	return s, nil
}

func newScraper(cfg *config.Config, fetcher PageFetcher, extractor PageExtractor, metrics *Metrics) *Scraper {
	return &Scraper{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		Metrics:   metrics,
	}
}

// ParseKeyword fetches pages 1..pages for keyword and returns their listings
// in page then document order. Pages that cannot be fetched are skipped and
// recorded as gaps. Only identity pool exhaustion and cancellation are
// returned as errors.
func (s *Scraper) ParseKeyword(ctx context.Context, keyword string, pages int) ([]*models.Listing, error) {
	listings := []*models.Listing{}

	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return listings, err
		}
		slog.Debug("parse page", slog.String("keyword", keyword), slog.Int("page", page))

		html, err := s.fetcher.FetchSearchPage(ctx, keyword, page, s.cfg.Category)
		if err != nil {
			if stop := s.stopOn(ctx, err); stop != nil {
				return listings, stop
			}
			s.recordGap(keyword, page, err)
			continue
		}

		extracted, err := s.extractor.Extract(ctx, html, keyword, page)
		if err != nil {
			if stop := s.stopOn(ctx, err); stop != nil {
				return listings, stop
			}
			s.recordGap(keyword, page, err)
			continue
		}

		s.mu.Lock()
		s.pageCount++
		s.mu.Unlock()
		s.Metrics.IncPage("fetched")
		for _, l := range extracted {
			s.Metrics.AddListings(string(l.RankType), 1)
		}
		listings = append(listings, extracted...)
	}

	return listings, nil
}

// Gaps returns the pages skipped so far.
func (s *Scraper) Gaps() []models.KeywordGap {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.KeywordGap, len(s.gaps))
	copy(out, s.gaps)
	return out
}

// PageCount returns the number of pages fetched and extracted.
func (s *Scraper) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageCount
}

func (s *Scraper) stopOn(ctx context.Context, err error) error {
	if isFatal(err) {
		return fmt.Errorf("keyword pipeline aborted: %w", err)
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	return nil
}

func (s *Scraper) recordGap(keyword string, page int, err error) {
	slog.Error("page unavailable",
		slog.String("keyword", keyword),
		slog.Int("page", page),
		slog.Any("error", err),
	)
	s.Metrics.IncPage("gap")

	s.mu.Lock()
	s.gaps = append(s.gaps, models.KeywordGap{Keyword: keyword, PageNumber: page, Err: err.Error()})
	s.mu.Unlock()
}
