package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"ordersync/src/bus"
	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Source is the fetch surface the cache syncs from (the batch fetcher).
type Source interface {
	NextOrderID(ctx context.Context) (uint64, error)
	FetchAllBatched(ctx context.Context, total uint64) ([]model.Order, error)
}

// TokenMeta is the token registry surface the cache consumes.
type TokenMeta interface {
	Get(ctx context.Context, addr common.Address) (model.TokenInfo, error)
	Peek(addr common.Address) (model.TokenInfo, bool)
}

// PriceSource is the pricing surface the cache consumes during ingestion
// and recomputation.
type PriceSource interface {
	FetchPrices(ctx context.Context, tokens []common.Address) (map[common.Address]model.PricePoint, error)
	Point(addr common.Address) model.PricePoint
}

// Cache is the authoritative in-memory order book. It is rebuilt from
// scratch by FullSync and patched in place by ApplyEvent; readers only ever
// see clones, so they can filter and sort without holding anything.
type Cache struct {
	fetch    Source
	prices   PriceSource
	registry TokenMeta
	events   *bus.Bus

	mu          sync.RWMutex
	orders      map[uint64]model.Order
	orderExpiry time.Duration
	gracePeriod time.Duration
	lastSync    time.Time

	// syncGroup collapses overlapping FullSync calls into the in-flight one:
	// a second caller waits for and shares the first caller's result.
	syncGroup singleflight.Group

	now func() time.Time
}

func New(fetch Source, prices PriceSource, registry TokenMeta, events *bus.Bus) *Cache {
	return &Cache{
		fetch:    fetch,
		prices:   prices,
		registry: registry,
		events:   events,
		orders:   make(map[uint64]model.Order),
		now:      time.Now,
	}
}

// SetConstants stores the contract-wide timing constants. Called at init and
// again after every reconnect, before the accompanying FullSync.
func (c *Cache) SetConstants(orderExpiry, gracePeriod time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderExpiry = orderExpiry
	c.gracePeriod = gracePeriod
}

// Size returns the number of live orders.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.orders)
}

// LastSync returns when the last successful full sync completed.
func (c *Cache) LastSync() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSync
}

// FullSync rebuilds the cache from the contract. A call that arrives while a
// sync is already running joins it and returns its result rather than
// starting a second pass. On any failure the cache is cleared and an empty
// snapshot is published: consumers never see a half-built book.
func (c *Cache) FullSync(ctx context.Context) error {
	_, err, _ := c.syncGroup.Do("full_sync", func() (any, error) {
		return nil, c.doFullSync(ctx)
	})
	return err
}

func (c *Cache) doFullSync(ctx context.Context) error {
	started := c.now()

	total, err := c.fetch.NextOrderID(ctx)
	if err != nil {
		c.failSync(err)
		return err
	}

	orders, err := c.fetch.FetchAllBatched(ctx, total)
	if err != nil {
		c.failSync(err)
		return err
	}

	// Warm token metadata and prices for everything the book references,
	// then compute derived fields. Metadata failures degrade the affected
	// order's deal metrics, never the sync.
	seen := collectTokens(orders)
	for _, t := range seen {
		if _, err := c.registry.Get(ctx, t); err != nil {
			logger.WithError(err).WithField("token", t.Hex()).Warn("token info unavailable")
		}
	}
	if _, err := c.prices.FetchPrices(ctx, seen); err != nil {
		logger.WithError(err).Warn("price warm-up failed during sync")
	}

	fresh := make(map[uint64]model.Order, len(orders))
	c.mu.Lock()
	for _, o := range orders {
		o.ComputeTiming(c.orderExpiry, c.gracePeriod)
		o.Deal = c.dealFor(&o)
		fresh[o.ID] = o
	}
	c.orders = fresh
	c.lastSync = c.now()
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	logger.WithField("orders", len(snapshot)).
		WithField("scanned", total).
		WithField("took", time.Since(started).String()).
		Info("full sync complete")

	c.events.Publish(bus.EvSyncComplete, snapshot)
	return nil
}

// failSync clears the cache and publishes an empty snapshot. A partial book
// is worse than an empty one.
func (c *Cache) failSync(err error) {
	logger.WithError(err).Error("full sync failed, clearing cache")
	c.mu.Lock()
	c.orders = make(map[uint64]model.Order)
	c.mu.Unlock()
	c.events.Publish(bus.EvSyncComplete, []model.Order{})
}

// Clear empties the cache, used on shutdown and network switch.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.orders = make(map[uint64]model.Order)
	c.mu.Unlock()
}

// Query returns clones of every order matching the predicate, sorted by ID.
// A nil predicate matches everything.
func (c *Cache) Query(pred func(*model.Order) bool) []model.Order {
	c.mu.RLock()
	out := make([]model.Order, 0, len(c.orders))
	for id := range c.orders {
		o := c.orders[id]
		if pred == nil || pred(&o) {
			out = append(out, o.Clone())
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a clone of one order.
func (c *Cache) Get(id uint64) (model.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[id]
	if !ok {
		return model.Order{}, false
	}
	return o.Clone(), true
}

// RemoveOrders drops orders locally ahead of the confirmed on-chain cleanup,
// so the UI reflects a user action immediately.
func (c *Cache) RemoveOrders(ids []uint64) {
	c.mu.Lock()
	removed := 0
	for _, id := range ids {
		if _, ok := c.orders[id]; ok {
			delete(c.orders, id)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.events.Publish(bus.EvOrdersChanged, removed)
	}
}

// RecomputeAllDealMetrics rebuilds the price-dependent fields of every order
// from the current price and token snapshots. Wired to price refreshes.
func (c *Cache) RecomputeAllDealMetrics() {
	c.mu.Lock()
	for id, o := range c.orders {
		o.Deal = c.dealFor(&o)
		c.orders[id] = o
	}
	n := len(c.orders)
	c.mu.Unlock()

	logger.WithField("orders", n).Debug("deal metrics recomputed")
	c.events.Publish(bus.EvOrdersChanged, n)
}

// dealFor computes metrics from cached metadata only; it never touches the
// network. Missing decimals leave the metrics unset for that order.
func (c *Cache) dealFor(o *model.Order) *model.DealMetrics {
	sellInfo, okSell := c.registry.Peek(o.SellToken)
	buyInfo, okBuy := c.registry.Peek(o.BuyToken)
	if !okSell || !okBuy {
		return nil
	}
	return model.ComputeDeal(o, sellInfo.Decimals, buyInfo.Decimals,
		c.prices.Point(o.SellToken), c.prices.Point(o.BuyToken))
}

func (c *Cache) snapshotLocked() []model.Order {
	out := make([]model.Order, 0, len(c.orders))
	for id := range c.orders {
		o := c.orders[id]
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func collectTokens(orders []model.Order) []common.Address {
	set := make(map[common.Address]bool)
	for i := range orders {
		set[orders[i].SellToken] = true
		set[orders[i].BuyToken] = true
	}
	out := make([]common.Address, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out
}
