package cache

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ordersync/src/bus"
	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	tokenA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tokenB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	maker  = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type stubSource struct {
	mu     sync.Mutex
	orders []model.Order
	err    error

	delay     time.Duration
	nextCalls atomic.Int32
}

func (s *stubSource) NextOrderID(ctx context.Context) (uint64, error) {
	s.nextCalls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var max uint64
	for _, o := range s.orders {
		if o.ID >= max {
			max = o.ID + 1
		}
	}
	return max, nil
}

func (s *stubSource) FetchAllBatched(ctx context.Context, total uint64) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o.Clone())
	}
	return out, nil
}

func (s *stubSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type stubRegistry struct {
	tokens map[common.Address]model.TokenInfo
}

func (r *stubRegistry) Get(ctx context.Context, addr common.Address) (model.TokenInfo, error) {
	info, ok := r.tokens[addr]
	if !ok {
		return model.TokenInfo{}, errors.New("unknown token")
	}
	return info, nil
}

func (r *stubRegistry) Peek(addr common.Address) (model.TokenInfo, bool) {
	info, ok := r.tokens[addr]
	return info, ok
}

type stubPrices struct {
	mu     sync.Mutex
	points map[common.Address]model.PricePoint
}

func (p *stubPrices) FetchPrices(ctx context.Context, tokens []common.Address) (map[common.Address]model.PricePoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[common.Address]model.PricePoint, len(tokens))
	for _, t := range tokens {
		out[t] = p.points[t]
	}
	return out, nil
}

func (p *stubPrices) Point(addr common.Address) model.PricePoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.points[addr]
}

func (p *stubPrices) set(addr common.Address, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points[addr] = model.PricePoint{
		Value:     decimal.RequireFromString(value),
		State:     model.PriceKnown,
		FetchedAt: time.Now(),
	}
}

func wei(units int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func testOrder(id uint64) model.Order {
	return model.Order{
		ID:         id,
		Maker:      maker,
		SellToken:  tokenA,
		SellAmount: wei(100),
		BuyToken:   tokenB,
		BuyAmount:  wei(50),
		CreatedAt:  time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC),
		Status:     model.StatusActive,
	}
}

// harness wires a cache over fully stubbed dependencies.
func harness(orders ...model.Order) (*Cache, *stubSource, *stubPrices, *bus.Bus) {
	source := &stubSource{orders: orders}
	registry := &stubRegistry{tokens: map[common.Address]model.TokenInfo{
		tokenA: {Address: tokenA, Symbol: "AAA", Decimals: 18},
		tokenB: {Address: tokenB, Symbol: "BBB", Decimals: 18},
	}}
	prices := &stubPrices{points: make(map[common.Address]model.PricePoint)}
	prices.set(tokenA, "2")
	prices.set(tokenB, "5")

	events := bus.New()
	c := New(source, prices, registry, events)
	c.SetConstants(24*time.Hour, 6*time.Hour)
	return c, source, prices, events
}

func TestFullSyncBuildsBook(t *testing.T) {
	c, _, _, events := harness(testOrder(2), testOrder(0))

	var snapshots [][]model.Order
	events.Subscribe(bus.EvSyncComplete, func(_ bus.Kind, payload any) {
		snapshots = append(snapshots, payload.([]model.Order))
	})

	if err := c.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2", c.Size())
	}
	if c.LastSync().IsZero() {
		t.Fatal("lastSync not recorded")
	}

	all := c.Query(nil)
	if len(all) != 2 || all[0].ID != 0 || all[1].ID != 2 {
		t.Fatalf("query not sorted by id: %+v", all)
	}

	o := all[0]
	if !o.ExpiresAt.Equal(o.CreatedAt.Add(24 * time.Hour)) {
		t.Fatalf("expiry not derived: %s", o.ExpiresAt)
	}
	if !o.GraceEndsAt.Equal(o.ExpiresAt.Add(6 * time.Hour)) {
		t.Fatalf("grace end not derived: %s", o.GraceEndsAt)
	}
	if o.Deal == nil || !o.Deal.Deal.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("deal metrics not computed: %+v", o.Deal)
	}

	if len(snapshots) != 1 || len(snapshots[0]) != 2 {
		t.Fatalf("want one snapshot with 2 orders, got %v", snapshots)
	}
}

func TestFullSyncIsIdempotent(t *testing.T) {
	c, _, _, _ := harness(testOrder(0), testOrder(1), testOrder(2))

	if err := c.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := c.Query(nil)

	if err := c.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	second := c.Query(nil)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated syncs disagree:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestFullSyncFailureClearsCache(t *testing.T) {
	c, source, _, events := harness(testOrder(0), testOrder(1))

	if err := c.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2", c.Size())
	}

	var lastSnapshot []model.Order
	events.Subscribe(bus.EvSyncComplete, func(_ bus.Kind, payload any) {
		lastSnapshot = payload.([]model.Order)
	})

	source.fail(errors.New("rpc down"))
	if err := c.FullSync(context.Background()); err == nil {
		t.Fatal("want the sync error to propagate")
	}
	if c.Size() != 0 {
		t.Fatal("failed sync must clear the cache, not leave the stale book")
	}
	if lastSnapshot == nil || len(lastSnapshot) != 0 {
		t.Fatalf("failed sync must publish an empty snapshot, got %v", lastSnapshot)
	}
}

func TestConcurrentFullSyncsShareOnePass(t *testing.T) {
	c, source, _, _ := harness(testOrder(0))
	source.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.FullSync(context.Background())
		}()
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	if n := source.nextCalls.Load(); n != 1 {
		t.Fatalf("overlapping syncs ran %d passes, want 1", n)
	}
}

func TestApplyCreated(t *testing.T) {
	c, _, _, events := harness()

	var created []model.Order
	events.Subscribe(bus.EvOrderCreated, func(_ bus.Kind, payload any) {
		created = append(created, payload.(model.Order))
	})

	o := testOrder(7)
	c.ApplyEvent(model.OrderEvent{Kind: model.OrderCreated, ID: 7, Order: &o})

	got, ok := c.Get(7)
	if !ok {
		t.Fatal("created order not in cache")
	}
	if got.ExpiresAt.IsZero() || got.Deal == nil {
		t.Fatalf("derived fields not computed on insert: %+v", got)
	}
	if len(created) != 1 || created[0].ID != 7 {
		t.Fatalf("created event not published: %v", created)
	}

	// Without the full record there is nothing to insert.
	c.ApplyEvent(model.OrderEvent{Kind: model.OrderCreated, ID: 8})
	if _, ok := c.Get(8); ok {
		t.Fatal("insert without a record must be dropped")
	}

	// A slot cleaned between event and read-back comes back zero-maker.
	gone := model.Order{ID: 9}
	c.ApplyEvent(model.OrderEvent{Kind: model.OrderCreated, ID: 9, Order: &gone})
	if _, ok := c.Get(9); ok {
		t.Fatal("zero-maker record must never be inserted")
	}
}

func TestApplyStatusMovesForwardOnly(t *testing.T) {
	c, _, _, events := harness(testOrder(1))
	if err := c.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	fills := 0
	events.Subscribe(bus.EvOrderFilled, func(bus.Kind, any) { fills++ })

	c.ApplyEvent(model.OrderEvent{Kind: model.OrderFilled, ID: 1})
	got, _ := c.Get(1)
	if got.Status != model.StatusFilled {
		t.Fatalf("status = %s, want filled", got.Status)
	}
	if fills != 1 {
		t.Fatalf("fill event published %d times, want 1", fills)
	}

	// Terminal states never move again.
	c.ApplyEvent(model.OrderEvent{Kind: model.OrderCanceled, ID: 1})
	got, _ = c.Get(1)
	if got.Status != model.StatusFilled {
		t.Fatalf("terminal status mutated to %s", got.Status)
	}

	// Events for unknown IDs are ignored.
	c.ApplyEvent(model.OrderEvent{Kind: model.OrderFilled, ID: 99})
	if fills != 1 {
		t.Fatal("fill of an unknown id must not publish")
	}
}

func TestApplyCleaned(t *testing.T) {
	c, _, _, events := harness(testOrder(1))
	if err := c.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	cleans := 0
	events.Subscribe(bus.EvOrderCleaned, func(bus.Kind, any) { cleans++ })

	c.ApplyEvent(model.OrderEvent{Kind: model.OrderCleaned, ID: 1})
	if _, ok := c.Get(1); ok {
		t.Fatal("cleaned order still in cache")
	}
	if cleans != 1 {
		t.Fatalf("cleaned event published %d times, want 1", cleans)
	}

	c.ApplyEvent(model.OrderEvent{Kind: model.OrderCleaned, ID: 1})
	if cleans != 1 {
		t.Fatal("cleaning an absent id must not publish")
	}
}

func TestApplyRetried(t *testing.T) {
	c, _, _, _ := harness(testOrder(5))
	if err := c.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	fresh := testOrder(9)
	c.ApplyEvent(model.OrderEvent{
		Kind:  model.OrderRetried,
		ID:    5,
		NewID: 9,
		Tries: 2,
		Order: &fresh,
	})

	if _, ok := c.Get(5); ok {
		t.Fatal("retried order still present under the old id")
	}
	got, ok := c.Get(9)
	if !ok {
		t.Fatal("retried order missing under the new id")
	}
	if got.Tries != 2 {
		t.Fatalf("tries = %d, the event counter must win", got.Tries)
	}
	if got.ExpiresAt.IsZero() || got.Deal == nil {
		t.Fatalf("derived fields not computed on retry insert: %+v", got)
	}
}

func TestRemoveOrders(t *testing.T) {
	c, _, _, events := harness(testOrder(1), testOrder(2), testOrder(3))
	if err := c.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	var changed []int
	events.Subscribe(bus.EvOrdersChanged, func(_ bus.Kind, payload any) {
		changed = append(changed, payload.(int))
	})

	c.RemoveOrders([]uint64{1, 3, 42})
	if c.Size() != 1 {
		t.Fatalf("size = %d, want 1", c.Size())
	}
	if len(changed) != 1 || changed[0] != 2 {
		t.Fatalf("changed notifications = %v, want one with count 2", changed)
	}

	c.RemoveOrders([]uint64{42})
	if len(changed) != 1 {
		t.Fatal("removing absent ids must not publish")
	}
}

func TestRecomputeAllDealMetrics(t *testing.T) {
	c, _, prices, _ := harness(testOrder(1))
	if err := c.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	before, _ := c.Get(1)
	if !before.Deal.Deal.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("deal = %s, want 1.25", before.Deal.Deal)
	}

	prices.set(tokenB, "10") // buy leg price doubles
	c.RecomputeAllDealMetrics()

	after, _ := c.Get(1)
	if !after.Deal.Deal.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("deal = %s after refresh, want 2.5", after.Deal.Deal)
	}
}

func TestQueryHandsOutClones(t *testing.T) {
	c, _, _, _ := harness(testOrder(1))
	if err := c.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := c.Query(nil)
	got[0].SellAmount.SetInt64(1)
	got[0].Status = model.StatusCanceled

	fresh, _ := c.Get(1)
	if fresh.SellAmount.Cmp(wei(100)) != 0 || fresh.Status != model.StatusActive {
		t.Fatal("mutating a query result leaked into the cache")
	}
}

func TestQueryPredicate(t *testing.T) {
	filled := testOrder(2)
	filled.Status = model.StatusFilled

	c, _, _, _ := harness(testOrder(1), filled)
	if err := c.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}

	active := c.Query(func(o *model.Order) bool { return o.Status == model.StatusActive })
	if len(active) != 1 || active[0].ID != 1 {
		t.Fatalf("predicate query = %+v, want only order 1", active)
	}
}
