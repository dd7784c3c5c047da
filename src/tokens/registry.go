package tokens

import (
	"context"
	"sync"

	"ordersync/src/connectors"
	"ordersync/src/governor"
	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Registry caches ERC-20 metadata per token address. Entries are fetched
// lazily on first reference and never invalidated within a session: symbol,
// name and decimals are immutable on chain.
type Registry struct {
	eth *connectors.EthClient
	gov *governor.Governor

	mu     sync.RWMutex
	tokens map[common.Address]model.TokenInfo

	group singleflight.Group
}

func NewRegistry(eth *connectors.EthClient, gov *governor.Governor) *Registry {
	return &Registry{
		eth:    eth,
		gov:    gov,
		tokens: make(map[common.Address]model.TokenInfo),
	}
}

// Get returns the token info, fetching it on first reference. Concurrent
// callers for the same address share one fetch.
func (r *Registry) Get(ctx context.Context, addr common.Address) (model.TokenInfo, error) {
	r.mu.RLock()
	info, ok := r.tokens[addr]
	r.mu.RUnlock()
	if ok {
		return info, nil
	}

	v, err, _ := r.group.Do(addr.Hex(), func() (any, error) {
		info, err := governor.Submit(ctx, r.gov, "tokenInfo", func(ctx context.Context) (model.TokenInfo, error) {
			return connectors.FetchTokenInfo(ctx, r.eth, addr)
		})
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.tokens[addr] = info
		r.mu.Unlock()

		logger.WithField("token", info.Symbol).
			WithField("address", addr.Hex()).
			Debug("token info cached")
		return info, nil
	})
	if err != nil {
		return model.TokenInfo{}, err
	}
	return v.(model.TokenInfo), nil
}

// Peek returns the cached info without triggering a fetch.
func (r *Registry) Peek(addr common.Address) (model.TokenInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tokens[addr]
	return info, ok
}

// SetIcon attaches an icon URL learned from the price feed. Only fills the
// field for already-cached tokens and never overwrites an existing icon.
func (r *Registry) SetIcon(addr common.Address, iconURL string) {
	if iconURL == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.tokens[addr]; ok && info.IconURL == "" {
		info.IconURL = iconURL
		r.tokens[addr] = info
	}
}
