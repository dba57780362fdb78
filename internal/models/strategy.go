package models

import "time"

// Side of a signal or order.
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Signal is a strategy's trade candidate.
type Signal struct {
	ID         string
	TraderID   string
	Symbol     string
	Timeframe  string
	Type       Side
	Strategy   string
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Reason     string
	CreatedAt  time.Time
	Metadata   map[string]any
}

// Fingerprint returns the dedup fingerprint stored in metadata, if any.
func (s Signal) Fingerprint() string {
	if s.Metadata == nil {
		return ""
	}
	fp, _ := s.Metadata[MetaFingerprint].(string)
	return fp
}

const MetaFingerprint = "fingerprint"
