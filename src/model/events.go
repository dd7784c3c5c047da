package model

// OrderEventKind enumerates the five order lifecycle events the escrow
// contract emits. The set is closed so cache dispatch can be exhaustive.
type OrderEventKind uint8

const (
	OrderCreated OrderEventKind = iota + 1
	OrderFilled
	OrderCanceled
	OrderCleaned
	OrderRetried
)

func (k OrderEventKind) String() string {
	switch k {
	case OrderCreated:
		return "order_created"
	case OrderFilled:
		return "order_filled"
	case OrderCanceled:
		return "order_canceled"
	case OrderCleaned:
		return "order_cleaned"
	case OrderRetried:
		return "order_retried"
	}
	return "unknown"
}

// OrderEvent is one decoded lifecycle event ready for cache application.
// Order is populated for Created and Retried (the freshly read record for
// the new ID); NewID and Tries are only meaningful for Retried.
type OrderEvent struct {
	Kind  OrderEventKind
	ID    uint64
	NewID uint64
	Tries uint32
	Order *Order
}
