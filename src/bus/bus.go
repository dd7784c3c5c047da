package bus

import (
	"sync"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

// Kind enumerates every event the engine publishes. The set is closed on
// purpose: listener dispatch switches over it and new kinds must be handled
// explicitly rather than sliding through on a string name.
type Kind uint16

const (
	EvOrderCreated Kind = iota + 1
	EvOrderFilled
	EvOrderCanceled
	EvOrderCleaned
	EvOrderRetried
	EvOrdersChanged
	EvSyncComplete
	EvSyncProgress
	EvPriceRefreshStarted
	EvPriceRefreshCompleted
	EvPriceRefreshError
	EvConnStateChanged
)

func (k Kind) String() string {
	switch k {
	case EvOrderCreated:
		return "order_created"
	case EvOrderFilled:
		return "order_filled"
	case EvOrderCanceled:
		return "order_canceled"
	case EvOrderCleaned:
		return "order_cleaned"
	case EvOrderRetried:
		return "order_retried"
	case EvOrdersChanged:
		return "orders_changed"
	case EvSyncComplete:
		return "sync_complete"
	case EvSyncProgress:
		return "sync_progress"
	case EvPriceRefreshStarted:
		return "price_refresh_started"
	case EvPriceRefreshCompleted:
		return "price_refresh_completed"
	case EvPriceRefreshError:
		return "price_refresh_error"
	case EvConnStateChanged:
		return "conn_state_changed"
	}
	return "unknown"
}

// Handler receives the payload published for a kind. Payload types per kind
// are documented on the publishing component.
type Handler func(kind Kind, payload any)

// Subscription identifies one registered handler.
type Subscription struct {
	kind Kind
	id   uuid.UUID
}

// Bus is a typed in-process fan-out. A panicking handler is logged and does
// not stop delivery to the remaining handlers.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind]map[uuid.UUID]Handler
}

func New() *Bus {
	return &Bus{subs: make(map[Kind]map[uuid.UUID]Handler)}
}

// Subscribe registers a handler for one kind and returns the token needed to
// unsubscribe it.
func (b *Bus) Subscribe(kind Kind, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[kind] == nil {
		b.subs[kind] = make(map[uuid.UUID]Handler)
	}
	id := uuid.New()
	b.subs[kind][id] = h
	return Subscription{kind: kind, id: id}
}

// SubscribeAll registers a handler for every kind and returns all tokens.
// Used by bridges (e.g. the SSE feed) that mirror the whole stream.
func (b *Bus) SubscribeAll(h Handler) []Subscription {
	kinds := []Kind{
		EvOrderCreated, EvOrderFilled, EvOrderCanceled, EvOrderCleaned,
		EvOrderRetried, EvOrdersChanged, EvSyncComplete, EvSyncProgress,
		EvPriceRefreshStarted, EvPriceRefreshCompleted, EvPriceRefreshError,
		EvConnStateChanged,
	}
	subs := make([]Subscription, 0, len(kinds))
	for _, k := range kinds {
		subs = append(subs, b.Subscribe(k, h))
	}
	return subs
}

// Unsubscribe removes a previously registered handler. Unknown tokens are a
// no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.subs[sub.kind]; ok {
		delete(handlers, sub.id)
	}
}

// Publish delivers the payload to every handler registered for the kind,
// synchronously, in unspecified order.
func (b *Bus) Publish(kind Kind, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[kind]))
	for _, h := range b.subs[kind] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(kind, payload, h)
	}
}

func (b *Bus) deliver(kind Kind, payload any, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("event", kind.String()).
				WithField("panic", r).
				Error("event handler panicked")
		}
	}()
	h(kind, payload)
}

// SyncProgress is the payload for EvSyncProgress.
type SyncProgress struct {
	Fetched      int `json:"fetched"`
	Total        int `json:"total"`
	Batch        int `json:"batch"`
	TotalBatches int `json:"total_batches"`
}
