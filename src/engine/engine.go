package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ordersync/src/bus"
	"ordersync/src/cache"
	"ordersync/src/connectors"
	"ordersync/src/fetcher"
	"ordersync/src/governor"
	"ordersync/src/listener"
	"ordersync/src/model"
	"ordersync/src/pricing"
	"ordersync/src/tokens"

	"github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
)

// Engine wires the sync components together and owns their lifecycle. It is
// constructed explicitly and passed around; there is no ambient instance.
type Engine struct {
	cfg      Config
	connCfg  connectors.Config
	priceCfg pricing.Config

	events    *bus.Bus
	gov       *governor.Governor
	eth       *connectors.EthClient
	escrow    *connectors.Escrow
	multicall *connectors.Multicall
	registry  *tokens.Registry
	prices    *pricing.Service
	book      *cache.Cache
	listen    *listener.Listener

	mu          sync.Mutex
	initialized bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	priceSub    bus.Subscription
}

// New builds the full dependency graph from configuration. Nothing touches
// the network until Initialize.
func New() (*Engine, error) {
	cfg := GetConfig()
	connCfg := connectors.GetConfig()
	priceCfg := pricing.GetConfig()

	if connCfg.RPCURL == "" {
		return nil, errors.New("RPC_URL is required")
	}
	if connCfg.RPCWSURL == "" {
		return nil, errors.New("RPC_WS_URL is required")
	}
	if !common.IsHexAddress(connCfg.EscrowAddress) {
		return nil, fmt.Errorf("ESCROW_ADDRESS %q is not a valid address", connCfg.EscrowAddress)
	}
	if connCfg.MulticallAddress != "" && !common.IsHexAddress(connCfg.MulticallAddress) {
		return nil, fmt.Errorf("MULTICALL_ADDRESS %q is not a valid address", connCfg.MulticallAddress)
	}

	eth, err := connectors.NewEthClient(connCfg.Endpoints(), connCfg.RPCTimeout)
	if err != nil {
		return nil, err
	}

	events := bus.New()
	gov := governor.New(governor.GetConfig())
	escrow := connectors.NewEscrow(eth, common.HexToAddress(connCfg.EscrowAddress))

	var multicall *connectors.Multicall
	var aggregator fetcher.Aggregator
	if connCfg.MulticallAddress != "" {
		multicall = connectors.NewMulticall(eth, common.HexToAddress(connCfg.MulticallAddress))
		aggregator = multicall
	} else {
		logger.Warn("no multicall address configured, batch fetches will use the per-order path")
	}

	registry := tokens.NewRegistry(eth, gov)
	priceClient := connectors.NewPairScanClient(connCfg.PriceAPIBaseURL, connCfg.PriceAPIChainID, connCfg.PriceTimeout)
	prices := pricing.NewService(priceClient, registry, events, priceCfg)

	fetch := fetcher.New(escrow, aggregator, gov, events, fetcher.GetConfig())
	book := cache.New(fetch, prices, registry, events)

	e := &Engine{
		cfg:       cfg,
		connCfg:   connCfg,
		priceCfg:  priceCfg,
		events:    events,
		gov:       gov,
		eth:       eth,
		escrow:    escrow,
		multicall: multicall,
		registry:  registry,
		prices:    prices,
		book:      book,
	}
	e.listen = listener.New(connCfg.RPCWSURL, escrow.Address(), fetch, book, events, e.readConstants, listener.GetConfig())
	return e, nil
}

// Bus exposes the event feed to consumers.
func (e *Engine) Bus() *bus.Bus { return e.events }

// Initialize checks the contract is reachable, reads its constants and
// starts the listener (whose connection sequence performs the first full
// sync) plus the periodic price refresh loop. A failure here leaves the
// engine uninitialized; it is the one error class that is not retried
// internally.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if err := e.waitForContract(ctx); err != nil {
		return fmt.Errorf("contract not reachable: %w", err)
	}
	if err := e.readConstants(ctx); err != nil {
		return fmt.Errorf("reading contract constants: %w", err)
	}

	// Price refreshes feed straight back into the order book.
	e.priceSub = e.events.Subscribe(bus.EvPriceRefreshCompleted, func(bus.Kind, any) {
		e.book.RecomputeAllDealMetrics()
	})

	runCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.cancel = cancel
	e.initialized = true
	e.mu.Unlock()

	e.listen.Start(runCtx)

	e.wg.Add(1)
	go e.priceRefreshLoop(runCtx)

	logger.WithField("contract", e.escrow.Address().Hex()).Info("engine initialized")
	return nil
}

// Shutdown stops the listener and loops and clears the cache.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return
	}
	e.initialized = false
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.listen.Stop()
	e.wg.Wait()
	e.events.Unsubscribe(e.priceSub)
	e.book.Clear()
	logger.Info("engine shut down")
}

// waitForContract polls until the endpoint answers and the escrow address
// has code. Bounded: this is a readiness probe, not a retry loop.
func (e *Engine) waitForContract(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < e.cfg.ContractWaitAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.ContractWaitDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := e.gov.Do(ctx, "readiness", func(ctx context.Context) error {
			if _, cerr := e.eth.ChainID(ctx); cerr != nil {
				return cerr
			}
			code, cerr := e.eth.CodeAt(ctx, e.escrow.Address())
			if cerr != nil {
				return cerr
			}
			if len(code) == 0 {
				return fmt.Errorf("no code at %s", e.escrow.Address().Hex())
			}
			return nil
		})
		if err == nil {
			return nil
		}
		lastErr = err
		logger.WithError(err).WithField("attempt", attempt+1).Warn("contract readiness probe failed")
	}
	return lastErr
}

// readConstants pulls the contract-wide settings the derived fields depend
// on. Also runs after every reconnect, before the full sync.
func (e *Engine) readConstants(ctx context.Context) error {
	expiry, err := governor.Submit(ctx, e.gov, "orderExpiry", func(ctx context.Context) (time.Duration, error) {
		return e.escrow.OrderExpiry(ctx)
	})
	if err != nil {
		return err
	}
	grace, err := governor.Submit(ctx, e.gov, "gracePeriod", func(ctx context.Context) (time.Duration, error) {
		return e.escrow.GracePeriod(ctx)
	})
	if err != nil {
		return err
	}
	allowed, err := governor.Submit(ctx, e.gov, "allowedTokens", func(ctx context.Context) ([]common.Address, error) {
		return e.escrow.AllowedTokens(ctx)
	})
	if err != nil {
		return err
	}

	e.book.SetConstants(expiry, grace)
	e.prices.SetAllowed(allowed)
	logger.WithField("order_expiry", expiry.String()).
		WithField("grace_period", grace.String()).
		WithField("allowed_tokens", len(allowed)).
		Info("contract constants loaded")
	return nil
}

func (e *Engine) priceRefreshLoop(ctx context.Context) {
	defer e.wg.Done()

	// Warm the map immediately so first renders have prices.
	if err := e.prices.RefreshAll(ctx); err != nil {
		logger.WithError(err).Warn("initial price refresh failed")
	}

	ticker := time.NewTicker(e.priceCfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.prices.RefreshAll(ctx); err != nil {
				logger.WithError(err).Warn("periodic price refresh failed")
			}
		}
	}
}

// --- query API ---

// Orders returns the cached orders, optionally filtered by projected status.
func (e *Engine) Orders(status *model.Status, now time.Time) []model.Order {
	if status == nil {
		return e.book.Query(nil)
	}
	want := *status
	return e.book.Query(func(o *model.Order) bool {
		return o.StatusAt(now) == want
	})
}

// Order returns one cached order by ID.
func (e *Engine) Order(id uint64) (model.Order, bool) {
	return e.book.Get(id)
}

// TokenInfo returns (and lazily fetches) ERC-20 metadata.
func (e *Engine) TokenInfo(ctx context.Context, addr common.Address) (model.TokenInfo, error) {
	return e.registry.Get(ctx, addr)
}

// Price returns the token's price point, including its tri-state.
func (e *Engine) Price(addr common.Address) model.PricePoint {
	return e.prices.Point(addr)
}

// IsEstimated reports whether the token's quote is derived or missing.
func (e *Engine) IsEstimated(addr common.Address) bool {
	return e.prices.IsEstimated(addr)
}

// Prices returns a copy of the whole price map keyed by hex address.
func (e *Engine) Prices() map[string]model.PricePoint {
	snap := e.prices.Snapshot()
	out := make(map[string]model.PricePoint, len(snap))
	for addr, p := range snap {
		out[addr.Hex()] = p
	}
	return out
}

// --- command API ---

// TriggerFullSync starts (or joins) a full sync.
func (e *Engine) TriggerFullSync(ctx context.Context) error {
	return e.book.FullSync(ctx)
}

// TriggerPriceRefresh starts (or joins) a refresh of the allowed universe.
func (e *Engine) TriggerPriceRefresh(ctx context.Context) error {
	return e.prices.RefreshAll(ctx)
}

// RemoveOrders removes orders locally ahead of on-chain confirmation.
func (e *Engine) RemoveOrders(ids []uint64) {
	e.book.RemoveOrders(ids)
}

// Status is the operational snapshot served by the HTTP API.
type Status struct {
	ConnState  string    `json:"conn_state"`
	CacheSize  int       `json:"cache_size"`
	LastSync   time.Time `json:"last_sync"`
	RPCURL     string    `json:"rpc_url"`
	Contract   string    `json:"contract"`
	PriceState string    `json:"price_state"`
}

// Status reports the engine's operational state.
func (e *Engine) Status() Status {
	return Status{
		ConnState:  e.listen.State().String(),
		CacheSize:  e.book.Size(),
		LastSync:   e.book.LastSync(),
		RPCURL:     e.eth.Endpoint(),
		Contract:   e.escrow.Address().Hex(),
		PriceState: fmt.Sprintf("%d tokens tracked", len(e.prices.Snapshot())),
	}
}
