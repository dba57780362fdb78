package models

import "time"

type EventType string

const (
	EventTraderStarted     EventType = "trader_started"
	EventTraderStopped     EventType = "trader_stopped"
	EventTraderError       EventType = "trader_error"
	EventTraderRecovered   EventType = "trader_recovered"
	EventHealthCheckFailed EventType = "health_check_failed"
)

// Event is published by the trader manager to in-process subscribers.
type Event struct {
	ID       string
	Type     EventType
	TraderID string
	Time     time.Time
	Payload  map[string]any
}
