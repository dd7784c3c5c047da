package connectors

import (
	"fmt"

	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
)

// DecodeOrderLog turns one raw contract log into a lifecycle event skeleton.
// Only topic-carried fields are filled here; the listener is responsible for
// reading the full order record when the event needs one (created/retried).
// Wrong arity or an unknown topic is an error, never a panic: malformed logs
// are dropped by the caller.
func DecodeOrderLog(topics []common.Hash, data []byte) (model.OrderEvent, error) {
	var ev model.OrderEvent
	if len(topics) == 0 {
		return ev, fmt.Errorf("log without topics")
	}

	switch topics[0] {
	case TopicOrderCreated:
		if len(topics) != 3 {
			return ev, fmt.Errorf("OrderCreated: want 3 topics, got %d", len(topics))
		}
		ev.Kind = model.OrderCreated
		ev.ID = topicToID(topics[1])

	case TopicOrderFilled:
		if len(topics) != 3 {
			return ev, fmt.Errorf("OrderFilled: want 3 topics, got %d", len(topics))
		}
		ev.Kind = model.OrderFilled
		ev.ID = topicToID(topics[1])

	case TopicOrderCanceled:
		if len(topics) != 2 {
			return ev, fmt.Errorf("OrderCanceled: want 2 topics, got %d", len(topics))
		}
		ev.Kind = model.OrderCanceled
		ev.ID = topicToID(topics[1])

	case TopicOrderCleaned:
		if len(topics) != 2 {
			return ev, fmt.Errorf("OrderCleaned: want 2 topics, got %d", len(topics))
		}
		ev.Kind = model.OrderCleaned
		ev.ID = topicToID(topics[1])

	case TopicOrderRetried:
		if len(topics) != 3 {
			return ev, fmt.Errorf("OrderRetried: want 3 topics, got %d", len(topics))
		}
		out, err := escrowABI.Unpack("OrderRetried", data)
		if err != nil {
			return ev, fmt.Errorf("OrderRetried data: %w", err)
		}
		ev.Kind = model.OrderRetried
		ev.ID = topicToID(topics[1])
		ev.NewID = topicToID(topics[2])
		ev.Tries = out[0].(uint32)

	default:
		return ev, fmt.Errorf("unknown event topic %s", topics[0].Hex())
	}
	return ev, nil
}

// topicToID reads a uint256 topic as an order ID. IDs are contract counters
// and fit u64 in practice; the high bytes are simply zero.
func topicToID(t common.Hash) uint64 {
	return t.Big().Uint64()
}
