package repository

import (
	"strings"

	"ZepixTrader/internal/domain/models"
)

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf models.Timeframe) bool {
	switch tf {
	case models.TF5m, models.TF15m, models.TF1h, models.TF1d:
		return true
	default:
		return false
	}
}

// NormalizeTimeframe converts chart interval spellings ("5", "15", "60",
// "D", "1H") to a supported timeframe. Unknown input is returned lower-cased
// so validation reports it verbatim.
func NormalizeTimeframe(s string) models.Timeframe {
	raw := strings.ToLower(strings.TrimSpace(s))
	switch raw {
	case "5", "5min":
		return models.TF5m
	case "15", "15min":
		return models.TF15m
	case "60", "1hr", "h", "h1":
		return models.TF1h
	case "d", "1day", "d1", "1440":
		return models.TF1d
	}
	return models.Timeframe(raw)
}
