package pricing

import (
	"context"
	"sync"
	"time"

	"ordersync/src/bus"
	"ordersync/src/connectors"
	"ordersync/src/model"
	"ordersync/src/tokens"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// pairSource is the slice of the price API the service needs. Kept as an
// interface so tests can stub the upstream.
type pairSource interface {
	GetPairs(ctx context.Context, tokens []common.Address) ([]connectors.Pair, error)
}

// Service owns the USD price map. Prices are fetched from a DEX pair-scan
// API, validated, deduplicated per token and tracked for staleness. "No
// price" stays observable as PriceUnknown; it is never defaulted to a number.
type Service struct {
	source   pairSource
	events   *bus.Bus
	registry *tokens.Registry
	cfg      Config

	mu      sync.RWMutex
	prices  map[common.Address]model.PricePoint
	pending map[common.Address]bool
	allowed []common.Address

	refreshGroup singleflight.Group

	now func() time.Time
}

func NewService(source pairSource, registry *tokens.Registry, events *bus.Bus, cfg Config) *Service {
	return &Service{
		source:   source,
		events:   events,
		registry: registry,
		cfg:      cfg,
		prices:   make(map[common.Address]model.PricePoint),
		pending:  make(map[common.Address]bool),
		now:      time.Now,
	}
}

// SetAllowed replaces the default refresh universe, normally the contract's
// token whitelist read at engine init.
func (s *Service) SetAllowed(list []common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = append([]common.Address(nil), list...)
}

// GetPrice returns the last known USD price. The bool is false when no valid
// quote has ever been fetched for the token.
func (s *Service) GetPrice(token common.Address) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[token]
	if !ok || p.State == model.PriceUnknown {
		return decimal.Zero, false
	}
	return p.Value, true
}

// IsEstimated reports whether the token's quote was derived through a paired
// token rather than quoted directly. True also when there is no quote at all.
func (s *Service) IsEstimated(token common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[token]
	return !ok || p.State != model.PriceKnown
}

// Point returns the full price point for a token.
func (s *Service) Point(token common.Address) model.PricePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prices[token]
}

// Snapshot returns a copy of the whole price map.
func (s *Service) Snapshot() map[common.Address]model.PricePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[common.Address]model.PricePoint, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

// FetchPrices refreshes quotes for the given tokens. Tokens that are already
// being fetched by another caller, or whose quote is still within the
// staleness window, are skipped — overlapping callers cost one upstream call
// per token, not one per caller. Returns the resulting points for all
// requested tokens.
func (s *Service) FetchPrices(ctx context.Context, requested []common.Address) (map[common.Address]model.PricePoint, error) {
	now := s.now()

	s.mu.Lock()
	var toFetch []common.Address
	for _, t := range requested {
		if s.pending[t] {
			continue
		}
		if !s.prices[t].StaleAfter(now, s.cfg.CacheExpiry) {
			continue
		}
		s.pending[t] = true
		toFetch = append(toFetch, t)
	}
	s.mu.Unlock()

	if len(toFetch) > 0 {
		err := s.fetchAndStore(ctx, toFetch)

		s.mu.Lock()
		for _, t := range toFetch {
			delete(s.pending, t)
		}
		s.mu.Unlock()

		if err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	out := make(map[common.Address]model.PricePoint, len(requested))
	for _, t := range requested {
		out[t] = s.prices[t]
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *Service) fetchAndStore(ctx context.Context, toFetch []common.Address) error {
	pairs, err := s.source.GetPairs(ctx, toFetch)
	if err != nil {
		return err
	}

	resolved := resolveFromPairs(toFetch, pairs)
	fetchedAt := s.now()

	s.mu.Lock()
	for token, q := range resolved {
		if !validPrice(q.value) {
			logger.WithField("token", token.Hex()).
				WithField("price", q.value.String()).
				Warn("rejecting invalid price quote")
			continue
		}
		s.prices[token] = model.PricePoint{
			Value:     q.value,
			State:     q.state,
			FetchedAt: fetchedAt,
		}
	}
	s.mu.Unlock()

	if s.registry != nil {
		for _, p := range pairs {
			s.registry.SetIcon(p.BaseToken.Address, p.BaseToken.IconURL)
			s.registry.SetIcon(p.QuoteToken.Address, p.QuoteToken.IconURL)
		}
	}
	return nil
}

// RefreshAll refreshes the whole allowed-token universe. Concurrent calls
// coalesce into the in-flight refresh instead of stacking upstream calls.
func (s *Service) RefreshAll(ctx context.Context) error {
	_, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		s.mu.RLock()
		universe := append([]common.Address(nil), s.allowed...)
		s.mu.RUnlock()

		s.events.Publish(bus.EvPriceRefreshStarted, len(universe))

		updated, err := s.FetchPrices(ctx, universe)
		if err != nil {
			logger.WithError(err).Error("price refresh failed")
			s.events.Publish(bus.EvPriceRefreshError, err)
			return nil, err
		}

		s.events.Publish(bus.EvPriceRefreshCompleted, updated)
		return nil, nil
	})
	return err
}

// validPrice rejects quotes that would poison deal math.
var maxSanePrice = decimal.New(1, 12) // 1e12 USD

func validPrice(v decimal.Decimal) bool {
	if v.IsNegative() || v.IsZero() {
		return false
	}
	return v.LessThanOrEqual(maxSanePrice)
}
