package helper

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// NormTF приводит таймфрейм к нижнему регистру без префикса "candle": "1H" -> "1h", "60m" -> "1h".
func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "candle")
	switch s {
	case "60m", "1h":
		return "1h"
	case "1440m", "24h", "1d":
		return "1d"
	default:
		return s
	}
}

// TimeframeDuration returns the bar length of a normalized timeframe, 0 if unknown.
func TimeframeDuration(tf string) time.Duration {
	switch NormTF(tf) {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// ValidTimeframe reports whether tf has a known bar length.
func ValidTimeframe(tf string) bool {
	return TimeframeDuration(tf) > 0
}

// OKXBar maps a normalized timeframe to OKX's bar notation.
func OKXBar(tf string) (string, error) {
	switch s := NormTF(tf); s {
	case "1m", "3m", "5m", "15m", "30m":
		return s, nil
	case "1h", "2h", "4h", "6h", "12h", "1d", "1w":
		return strings.ToUpper(s), nil
	}
	return "", fmt.Errorf("unsupported timeframe for OKX bar: %q", tf)
}

// FloorTime режет время вниз до кратного width по Unix-эпохе. width <= 0 возвращает t как есть.
func FloorTime(t time.Time, width time.Duration) time.Time {
	if width <= 0 {
		return t
	}
	return t.Truncate(width)
}

// BucketIndex is floor(unix / width); 0 when bucketing is disabled.
func BucketIndex(t time.Time, width time.Duration) int64 {
	if width <= 0 {
		return 0
	}
	return t.UnixNano() / int64(width)
}

func RoundDownToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step+1e-12) * step
}
