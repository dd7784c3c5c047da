package cache

import (
	"ordersync/src/bus"
	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
)

// ApplyEvent patches the cache for one decoded lifecycle event. Status only
// moves forward: fill/cancel of an order that is no longer Active is ignored,
// and a retry replaces the old ID with the new one rather than mutating in
// place. Every applied mutation publishes its kind-scoped event plus the
// generic orders-changed notification.
func (c *Cache) ApplyEvent(ev model.OrderEvent) {
	switch ev.Kind {
	case model.OrderCreated:
		c.applyInsert(ev)
	case model.OrderFilled:
		c.applyStatus(ev, model.StatusFilled, bus.EvOrderFilled)
	case model.OrderCanceled:
		c.applyStatus(ev, model.StatusCanceled, bus.EvOrderCanceled)
	case model.OrderCleaned:
		c.applyCleaned(ev)
	case model.OrderRetried:
		c.applyRetried(ev)
	default:
		logger.WithField("kind", uint8(ev.Kind)).Warn("dropping order event of unknown kind")
	}
}

func (c *Cache) applyInsert(ev model.OrderEvent) {
	if ev.Order == nil {
		logger.WithField("id", ev.ID).Warn("created event without order record, dropping")
		return
	}
	if ev.Order.Maker == (common.Address{}) {
		// Cleaned slot read back between event and fetch. Nothing to insert.
		return
	}

	o := ev.Order.Clone()
	c.mu.Lock()
	o.ComputeTiming(c.orderExpiry, c.gracePeriod)
	o.Deal = c.dealFor(&o)
	c.orders[o.ID] = o
	c.mu.Unlock()

	logger.WithField("id", o.ID).Info("order created")
	c.events.Publish(bus.EvOrderCreated, o.Clone())
	c.events.Publish(bus.EvOrdersChanged, 1)
}

func (c *Cache) applyStatus(ev model.OrderEvent, status model.Status, kind bus.Kind) {
	c.mu.Lock()
	o, ok := c.orders[ev.ID]
	if !ok || o.Status != model.StatusActive {
		c.mu.Unlock()
		return
	}
	o.Status = status
	c.orders[ev.ID] = o
	clone := o.Clone()
	c.mu.Unlock()

	logger.WithField("id", ev.ID).WithField("status", status.String()).Info("order status changed")
	c.events.Publish(kind, clone)
	c.events.Publish(bus.EvOrdersChanged, 1)
}

func (c *Cache) applyCleaned(ev model.OrderEvent) {
	c.mu.Lock()
	_, ok := c.orders[ev.ID]
	if ok {
		delete(c.orders, ev.ID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	logger.WithField("id", ev.ID).Info("order cleaned")
	c.events.Publish(bus.EvOrderCleaned, ev.ID)
	c.events.Publish(bus.EvOrdersChanged, 1)
}

// applyRetried deletes the old ID and inserts the record under the new ID.
// The new record comes from the listener's fresh contract read; the tries
// counter from the event wins over whatever the read returned, the event is
// the authoritative increment.
func (c *Cache) applyRetried(ev model.OrderEvent) {
	if ev.Order == nil {
		logger.WithField("old_id", ev.ID).WithField("new_id", ev.NewID).
			Warn("retried event without order record, dropping")
		return
	}

	o := ev.Order.Clone()
	o.ID = ev.NewID
	o.Tries = ev.Tries

	c.mu.Lock()
	delete(c.orders, ev.ID)
	o.ComputeTiming(c.orderExpiry, c.gracePeriod)
	o.Deal = c.dealFor(&o)
	c.orders[o.ID] = o
	c.mu.Unlock()

	logger.WithField("old_id", ev.ID).
		WithField("new_id", ev.NewID).
		WithField("tries", ev.Tries).
		Info("order retried")
	c.events.Publish(bus.EvOrderRetried, o.Clone())
	c.events.Publish(bus.EvOrdersChanged, 1)
}
