// Package models defines data structures for the scraper.
package models

import "time"

// RankType partitions the listings of a page into paid and natural placements.
type RankType string

const (
	RankSponsored RankType = "sponsored"
	RankOrganic   RankType = "organic"
)

// Valid reports whether r is one of the known rank types.
func (r RankType) Valid() bool {
	return r == RankSponsored || r == RankOrganic
}

// BadgeType is the decoded status badge attached to a listing.
type BadgeType int

const (
	BadgeNone BadgeType = iota
	BadgeBestSeller
	BadgeAmazonsChoice
)

func (b BadgeType) String() string {
	switch b {
	case BadgeBestSeller:
		return "best-seller"
	case BadgeAmazonsChoice:
		return "amazons-choice"
	default:
		return "none"
	}
}

// Listing is one item occurrence on a search results page.
type Listing struct {
	Timestamp         time.Time `csv:"dt" json:"dt"`
	ItemID            *string   `csv:"product_id" json:"product_id"`
	Keyword           string    `csv:"keyword" json:"keyword"`
	RankType          RankType  `csv:"rank_type" json:"rank_type"`
	Rank              int       `csv:"rank" json:"rank"`
	PageNumber        int       `csv:"page_number" json:"page_number"`
	BestsellerBadge   bool      `csv:"bestseller_badge" json:"bestseller_badge"`
	AmazonChoiceBadge bool      `csv:"amazonchoice_badge" json:"amazonchoice_badge"`
}

// ItemIDOrEmpty returns the item id, or "" when none was found.
func (l *Listing) ItemIDOrEmpty() string {
	if l == nil || l.ItemID == nil {
		return ""
	}
	return *l.ItemID
}

// KeywordGap records a page that could not be fetched for a keyword.
type KeywordGap struct {
	Keyword    string
	PageNumber int
	Err        string
}

// ScraperResult holds the overall result of a scraping run
type ScraperResult struct {
	StartTime       time.Time
	EndTime         time.Time
	Keywords        int
	TotalCount      int
	CountByKeyword  map[string]int
	Gaps            []KeywordGap
	ErrorsByType    map[string]int
	RequestCount    int
	RotationCount   int
	PageCount       int
	FailedLocations int
}
