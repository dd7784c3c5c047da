package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TokenInfo is the ERC-20 metadata for one token address. It is fetched
// lazily on first reference and treated as immutable for the session.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Decimals uint8          `json:"decimals"`
	IconURL  string         `json:"icon_url,omitempty"`
}

// PriceState distinguishes a real quote from a derived one and from no quote
// at all. "No price" is deliberately not collapsed to zero; deal math over a
// defaulted price would be misleading.
type PriceState uint8

const (
	PriceUnknown PriceState = iota
	PriceEstimated
	PriceKnown
)

func (s PriceState) String() string {
	switch s {
	case PriceEstimated:
		return "estimated"
	case PriceKnown:
		return "known"
	}
	return "unknown"
}

// PricePoint is the last known USD price for a token.
type PricePoint struct {
	Value     decimal.Decimal `json:"value"`
	State     PriceState      `json:"state"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// StaleAfter reports whether the point is older than the given expiry at the
// given time. Unknown points are always stale.
func (p PricePoint) StaleAfter(now time.Time, expiry time.Duration) bool {
	if p.State == PriceUnknown {
		return true
	}
	return now.Sub(p.FetchedAt) > expiry
}
