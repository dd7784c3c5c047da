package connectors

// DEX PAIR-SCAN PRICE API CLIENT (dexscreener-style /pairs endpoint)

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Pair is one liquidity pool quoting a token. PriceUSD may be empty when the
// API has no direct USD quote; PriceNative is the pool exchange rate against
// the quote token and is always present.
type Pair struct {
	BaseToken    PairToken       `json:"baseToken"`
	QuoteToken   PairToken       `json:"quoteToken"`
	PriceUSD     decimal.Decimal `json:"priceUsd"`
	PriceNative  decimal.Decimal `json:"priceNative"`
	LiquidityUSD decimal.Decimal `json:"liquidityUsd"`
}

type PairToken struct {
	Address common.Address `json:"address"`
	Symbol  string         `json:"symbol"`
	Name    string         `json:"name"`
	IconURL string         `json:"iconUrl,omitempty"`
}

type pairsResponse struct {
	Pairs []Pair `json:"pairs"`
	Error string `json:"error,omitempty"`
}

// PairScanClient fetches DEX pool quotes for a set of token addresses.
type PairScanClient struct {
	http    *resty.Client
	chainID string
}

func NewPairScanClient(baseURL, chainID string, timeout time.Duration) *PairScanClient {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		})

	return &PairScanClient{http: httpClient, chainID: chainID}
}

// GetPairs returns every pool the API knows for the given tokens. A token
// with no pools simply does not appear in the result.
func (c *PairScanClient) GetPairs(ctx context.Context, tokens []common.Address) ([]Pair, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	joined := make([]string, len(tokens))
	for i, t := range tokens {
		joined[i] = strings.ToLower(t.Hex())
	}

	var out pairsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/pairs/%s/%s", c.chainID, strings.Join(joined, ",")))
	if err != nil {
		return nil, fmt.Errorf("price api: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("price api: status %d", resp.StatusCode())
	}
	if out.Error != "" {
		return nil, fmt.Errorf("price api: %s", out.Error)
	}

	logger.WithField("tokens", len(tokens)).
		WithField("pairs", len(out.Pairs)).
		Debug("fetched pair quotes")
	return out.Pairs, nil
}
