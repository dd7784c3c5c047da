package fetcher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"ordersync/src/bus"
	"ordersync/src/connectors"
	"ordersync/src/governor"
	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
)

// ContractReader is the slice of the escrow wrapper the fetcher needs.
type ContractReader interface {
	Address() common.Address
	PackGetOrder(id uint64) ([]byte, error)
	DecodeOrder(id uint64, raw []byte) (model.Order, error)
	GetOrder(ctx context.Context, id uint64) (model.Order, error)
	NextOrderID(ctx context.Context) (uint64, error)
}

// Aggregator is the multicall surface. Nil means no aggregator is deployed
// on this network and the per-order path is used permanently.
type Aggregator interface {
	TryAggregate(ctx context.Context, requireSuccess bool, calls []connectors.Call) ([]connectors.Result, error)
}

// Fetcher reads contiguous order-ID ranges from the escrow contract. The
// fast path is one aggregated multicall per range; when the aggregator is
// missing, times out or keeps failing, it falls back to per-ID reads with a
// small worker pool. All RPC traffic goes through the governor.
type Fetcher struct {
	escrow    ContractReader
	multicall Aggregator
	gov       *governor.Governor
	events    *bus.Bus
	cfg       Config
}

func New(escrow ContractReader, multicall Aggregator, gov *governor.Governor, events *bus.Bus, cfg Config) *Fetcher {
	return &Fetcher{
		escrow:    escrow,
		multicall: multicall,
		gov:       gov,
		events:    events,
		cfg:       cfg,
	}
}

// NextOrderID reads the contract's order counter through the governor.
func (f *Fetcher) NextOrderID(ctx context.Context) (uint64, error) {
	return governor.Submit(ctx, f.gov, "nextOrderId", func(ctx context.Context) (uint64, error) {
		return f.escrow.NextOrderID(ctx)
	})
}

// FetchOne reads a single order. The bool is false for empty storage slots
// (zero maker) and for rows that fail to decode; both are normal, not errors.
func (f *Fetcher) FetchOne(ctx context.Context, id uint64) (model.Order, bool, error) {
	order, err := governor.Submit(ctx, f.gov, "getOrder", func(ctx context.Context) (model.Order, error) {
		return f.escrow.GetOrder(ctx, id)
	})
	if errors.Is(err, connectors.ErrUndecodableOrder) {
		logger.WithError(err).WithField("id", id).Debug("dropping undecodable order slot")
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, err
	}
	if order.Maker == (common.Address{}) {
		return model.Order{}, false, nil
	}
	return order, true, nil
}

// FetchRange reads orders for IDs in [start, end). Results are sorted by ID
// and never contain zero-maker rows.
func (f *Fetcher) FetchRange(ctx context.Context, start, end uint64) ([]model.Order, error) {
	if end <= start {
		return nil, nil
	}

	if f.multicall != nil {
		orders, err := f.fetchAggregated(ctx, start, end)
		if err == nil {
			return orders, nil
		}
		// A timed-out aggregate will likely time out again. Skip the retry.
		if connectors.IsTimeout(err) {
			logger.WithError(err).
				WithField("start", start).
				WithField("end", end).
				Warn("aggregated fetch timed out, using per-order fallback")
			return f.fetchIndividually(ctx, start, end)
		}
		logger.WithError(err).
			WithField("start", start).
			WithField("end", end).
			Warn("aggregated fetch failed, retrying once")

		select {
		case <-time.After(f.cfg.AggregateRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		orders, err = f.fetchAggregated(ctx, start, end)
		if err == nil {
			return orders, nil
		}
		logger.WithError(err).Warn("aggregated fetch failed again, using per-order fallback")
	}

	return f.fetchIndividually(ctx, start, end)
}

func (f *Fetcher) fetchAggregated(ctx context.Context, start, end uint64) ([]model.Order, error) {
	calls := make([]connectors.Call, 0, end-start)
	for id := start; id < end; id++ {
		data, err := f.escrow.PackGetOrder(id)
		if err != nil {
			return nil, err
		}
		calls = append(calls, connectors.Call{Target: f.escrow.Address(), CallData: data})
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.AggregateTimeout)
	defer cancel()

	results, err := governor.Submit(ctx, f.gov, "tryAggregate", func(ctx context.Context) ([]connectors.Result, error) {
		return f.multicall.TryAggregate(ctx, false, calls)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]model.Order, 0, len(results))
	for i, res := range results {
		id := start + uint64(i)
		if !res.Success || len(res.ReturnData) == 0 {
			continue
		}
		order, err := f.escrow.DecodeOrder(id, res.ReturnData)
		if err != nil {
			logger.WithError(err).WithField("id", id).Debug("dropping undecodable order slot")
			continue
		}
		if order.Maker == (common.Address{}) {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (f *Fetcher) fetchIndividually(ctx context.Context, start, end uint64) ([]model.Order, error) {
	type slot struct {
		order model.Order
		ok    bool
		err   error
	}

	ids := make(chan uint64)
	out := make(map[uint64]slot, end-start)
	var outMu sync.Mutex
	var wg sync.WaitGroup

	workers := f.cfg.FallbackWorkers
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				order, ok, err := f.FetchOne(ctx, id)
				outMu.Lock()
				out[id] = slot{order: order, ok: ok, err: err}
				outMu.Unlock()
			}
		}()
	}

	for id := start; id < end; id++ {
		select {
		case ids <- id:
		case <-ctx.Done():
			close(ids)
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	close(ids)
	wg.Wait()

	orders := make([]model.Order, 0, len(out))
	for id := start; id < end; id++ {
		s := out[id]
		if s.err != nil {
			return nil, s.err
		}
		if s.ok {
			orders = append(orders, s.order)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

// FetchAllBatched walks the full ID space [0, total) in fixed-size windows,
// publishing a progress event after each one so long syncs can render
// incrementally. A short inter-batch pause throttles burstiness.
func (f *Fetcher) FetchAllBatched(ctx context.Context, total uint64) ([]model.Order, error) {
	batchSize := f.cfg.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	totalBatches := int((total + uint64(batchSize) - 1) / uint64(batchSize))
	all := make([]model.Order, 0, total)

	batch := 0
	for start := uint64(0); start < total; start += uint64(batchSize) {
		end := start + uint64(batchSize)
		if end > total {
			end = total
		}

		orders, err := f.FetchRange(ctx, start, end)
		if err != nil {
			return nil, err
		}
		all = append(all, orders...)
		batch++

		f.events.Publish(bus.EvSyncProgress, bus.SyncProgress{
			Fetched:      int(end),
			Total:        int(total),
			Batch:        batch,
			TotalBatches: totalBatches,
		})

		if end < total && f.cfg.InterBatchDelay > 0 {
			select {
			case <-time.After(f.cfg.InterBatchDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return all, nil
}
