package parser

import (
	"encoding/json"

	"github.com/aluiziolira/go-scrape-ranks/models"
)

type badgeProps struct {
	BadgeType string `json:"badgeType"`
}

// DecodeBadge reads the badgeType of a status badge payload. Malformed
// payloads decode to BadgeNone.
func DecodeBadge(props string) models.BadgeType {
	var payload badgeProps
	if err := json.Unmarshal([]byte(props), &payload); err != nil {
		return models.BadgeNone
	}

	switch payload.BadgeType {
	case "best-seller":
		return models.BadgeBestSeller
	case "amazons-choice":
		return models.BadgeAmazonsChoice
	default:
		return models.BadgeNone
	}
}
