package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-ranks/models"
	"github.com/aluiziolira/go-scrape-ranks/useragent"
)

const (
	resultSelector = "div.s-result-list.sg-row > div.s-result-item.s-asin"
	linkSelector   = "div div a.a-link-normal"
	badgeSelector  = `span[data-component-type="s-status-badge-component"]`
	badgeAttr      = "data-component-props"
	sponsoredClass = "AdHolder"
	redirectMarker = "slredirect"
)

// Session is the part of the fetch client the extractor depends on.
type Session interface {
	ResolveRedirect(ctx context.Context, relativeURL string) (string, error)
	RotateIdentity() error
}

// Extractor turns one search results page into listings.
type Extractor struct {
	base    *url.URL
	session Session
	now     func() time.Time
}

// NewExtractor returns an extractor resolving relative links against base.
// session may be nil, in which case redirect wrappers are left unresolved.
func NewExtractor(base *url.URL, session Session) *Extractor {
	return &Extractor{
		base:    base,
		session: session,
		now:     time.Now,
	}
}

// placement is a node's position inside its rank type group.
type placement struct {
	rankType models.RankType
	rank     int
}

// Extract parses markup into listings in document order. The only errors
// returned are markup errors and identity pool exhaustion; missing links or
// badges degrade to defaults.
func (e *Extractor) Extract(ctx context.Context, html, keyword string, page int) ([]*models.Listing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}

	nodes := doc.Find(resultSelector)
	slog.Debug("selected result nodes", slog.String("keyword", keyword), slog.Int("page", page), slog.Int("count", nodes.Length()))

	if nodes.Length() == 0 {
		// An empty result list is usually a soft block.
		if e.session != nil {
			if err := e.session.RotateIdentity(); err != nil {
				return nil, err
			}
		}
		return []*models.Listing{}, nil
	}

	placements := rankPlacements(nodes)
	capturedAt := e.now()
	listings := make([]*models.Listing, 0, nodes.Length())

	var fatal error
	nodes.EachWithBreak(func(i int, node *goquery.Selection) bool {
		itemID, err := e.itemID(ctx, node)
		if err != nil {
			fatal = err
			return false
		}
		badge := badgeOf(node)

		listing := &models.Listing{
			Timestamp:         capturedAt,
			ItemID:            itemID,
			Keyword:           keyword,
			RankType:          placements[i].rankType,
			Rank:              placements[i].rank,
			PageNumber:        page,
			BestsellerBadge:   badge == models.BadgeBestSeller,
			AmazonChoiceBadge: badge == models.BadgeAmazonsChoice,
		}
		slog.Debug("parsed listing",
			slog.String("keyword", keyword),
			slog.Int("page", page),
			slog.String("item_id", listing.ItemIDOrEmpty()),
			slog.String("rank_type", string(listing.RankType)),
			slog.Int("rank", listing.Rank),
			slog.String("badge", badge.String()),
		)
		listings = append(listings, listing)
		return true
	})
	if fatal != nil {
		return nil, fatal
	}

	return listings, nil
}

// rankPlacements splits nodes into sponsored and organic groups, both in
// document order, and indexes each node's rank within its group.
func rankPlacements(nodes *goquery.Selection) []placement {
	var sponsored, organic []int
	nodes.Each(func(i int, node *goquery.Selection) {
		if node.HasClass(sponsoredClass) {
			sponsored = append(sponsored, i)
		} else {
			organic = append(organic, i)
		}
	})

	out := make([]placement, nodes.Length())
	for rank, i := range sponsored {
		out[i] = placement{rankType: models.RankSponsored, rank: rank + 1}
	}
	for rank, i := range organic {
		out[i] = placement{rankType: models.RankOrganic, rank: rank + 1}
	}
	return out
}

func (e *Extractor) itemID(ctx context.Context, node *goquery.Selection) (*string, error) {
	href, ok := node.Find(linkSelector).First().Attr("href")
	if !ok {
		return nil, nil
	}

	link := e.absolute(href)
	if strings.Contains(link, redirectMarker) {
		if e.session == nil {
			return nil, nil
		}
		final, err := e.session.ResolveRedirect(ctx, link)
		if err != nil {
			if errors.Is(err, useragent.ErrPoolExhausted) {
				return nil, err
			}
			slog.Warn("resolve redirect failed", slog.String("url", link), slog.Any("error", err))
			return nil, nil
		}
		link = final
	}

	return ItemIDFromURL(link), nil
}

func (e *Extractor) absolute(href string) string {
	if e.base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return e.base.ResolveReference(ref).String()
}

// ItemIDFromURL returns the path segment just before the last one, e.g.
// B000123456 for /dp/B000123456/ref=sr_1_1.
func ItemIDFromURL(raw string) *string {
	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.Path
	} else if i := strings.IndexAny(raw, "?#"); i >= 0 {
		path = raw[:i]
	}

	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return nil
	}
	id := segments[len(segments)-2]
	if id == "" {
		return nil
	}
	return &id
}

func badgeOf(node *goquery.Selection) models.BadgeType {
	props, ok := node.Find(badgeSelector).First().Attr(badgeAttr)
	if !ok {
		return models.BadgeNone
	}
	return DecodeBadge(props)
}
