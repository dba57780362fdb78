package runner

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trade_supervisor/internal/models"
)

// Handler receives manager events. It runs on the publisher's goroutine and must not block.
type Handler func(models.Event)

// EventBus is best-effort in-process delivery. A panicking handler is logged and skipped.
type EventBus struct {
	log *zap.Logger
	now func() time.Time

	mu     sync.RWMutex
	nextID int
	byType map[models.EventType]map[int]Handler
	all    map[int]Handler
}

func NewEventBus(log *zap.Logger) *EventBus {
	return &EventBus{
		log:    log.Named("events"),
		now:    time.Now,
		byType: make(map[models.EventType]map[int]Handler),
		all:    make(map[int]Handler),
	}
}

// Subscribe registers h for one event type and returns the unsubscribe func.
func (b *EventBus) Subscribe(t models.EventType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.byType[t] == nil {
		b.byType[t] = make(map[int]Handler)
	}
	b.byType[t][id] = h
	return func() {
		b.mu.Lock()
		delete(b.byType[t], id)
		b.mu.Unlock()
	}
}

// SubscribeAll registers h for every event type.
func (b *EventBus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.all[id] = h
	return func() {
		b.mu.Lock()
		delete(b.all, id)
		b.mu.Unlock()
	}
}

func (b *EventBus) Publish(t models.EventType, traderID string, payload map[string]any) {
	ev := models.Event{
		ID:       uuid.NewString(),
		Type:     t,
		TraderID: traderID,
		Time:     b.now(),
		Payload:  payload,
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.byType[t])+len(b.all))
	for _, h := range b.byType[t] {
		hs = append(hs, h)
	}
	for _, h := range b.all {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		b.call(h, ev)
	}
}

func (b *EventBus) call(h Handler, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panic",
				zap.String("event", string(ev.Type)),
				zap.String("trader_id", ev.TraderID),
				zap.Any("panic", r),
			)
		}
	}()
	h(ev)
}
