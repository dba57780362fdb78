package sessions

import (
	"time"

	"github.com/shopspring/decimal"
)

// Metrics is a snapshot of a trader's counters.
type Metrics struct {
	TradesTotal     int64
	TradesSucceeded int64
	TradesFailed    int64
	Closed          int64 // сделки, закрывшие позицию
	Wins            int64
	Errors          int64
	Signals         int64
	PnL             decimal.Decimal
	LastTradeAt     time.Time
}

// WinRate is wins over closing trades, 0 without them.
func (m Metrics) WinRate() float64 {
	if m.Closed == 0 {
		return 0
	}
	return float64(m.Wins) / float64(m.Closed)
}

// ErrorRecord is one entry of the bounded error history.
type ErrorRecord struct {
	At      time.Time
	Message string
}

// errorRing keeps the last cap(buf) records, dropping the oldest on overflow.
type errorRing struct {
	buf  []ErrorRecord
	next int
	full bool
}

func newErrorRing(n int) errorRing {
	if n <= 0 {
		n = 1
	}
	return errorRing{buf: make([]ErrorRecord, n)}
}

func (r *errorRing) add(rec ErrorRecord) {
	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// list returns records oldest first.
func (r *errorRing) list() []ErrorRecord {
	if !r.full {
		return append([]ErrorRecord(nil), r.buf[:r.next]...)
	}
	out := make([]ErrorRecord, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
