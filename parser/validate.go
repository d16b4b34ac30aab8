// Package parser extracts ranked listings from search result markup.
package parser

import (
	"fmt"

	"github.com/aluiziolira/go-scrape-ranks/models"
)

// ValidateListing ensures the extractor produced a well-formed record.
func ValidateListing(l *models.Listing) error {
	if l == nil {
		return fmt.Errorf("listing is nil")
	}
	if !l.RankType.Valid() {
		return fmt.Errorf("listing has unknown rank type %q", l.RankType)
	}
	if l.Rank < 1 {
		return fmt.Errorf("listing rank %d must be positive", l.Rank)
	}
	if l.PageNumber < 1 {
		return fmt.Errorf("listing page %d must be positive", l.PageNumber)
	}
	if l.Timestamp.IsZero() {
		return fmt.Errorf("listing missing timestamp for keyword %q", l.Keyword)
	}
	return nil
}
