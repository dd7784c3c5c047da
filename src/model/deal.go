package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// DealMetrics carries the price-dependent view of an order: human-scaled
// amounts, the USD value of each leg and their ratio. It is recomputed
// whenever either token's price changes.
type DealMetrics struct {
	SellAmount decimal.Decimal `json:"sell_amount"`
	BuyAmount  decimal.Decimal `json:"buy_amount"`

	SellPriceUSD decimal.Decimal `json:"sell_price_usd"`
	BuyPriceUSD  decimal.Decimal `json:"buy_price_usd"`

	SellValueUSD decimal.Decimal `json:"sell_value_usd"`
	BuyValueUSD  decimal.Decimal `json:"buy_value_usd"`

	// Deal is buy value over sell value. Above 1 the taker receives more
	// value than they give up.
	Deal decimal.Decimal `json:"deal"`

	// Estimated is true when at least one leg was priced from an estimated
	// or missing quote, so Deal must not be trusted for execution decisions.
	Estimated bool `json:"estimated"`
}

// ScaleAmount converts a raw on-chain integer amount into its decimal form
// using the token's decimals. The raw amount stays arbitrary precision until
// this point.
func ScaleAmount(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// ComputeDeal builds the metrics for one order from already-resolved inputs.
// A leg without a known price keeps a zero USD value and marks the whole
// metric estimated; Deal is only populated when both legs have real prices
// and the sell value is non-zero.
func ComputeDeal(o *Order, sellDecimals, buyDecimals uint8, sellPrice, buyPrice PricePoint) *DealMetrics {
	m := &DealMetrics{
		SellAmount: ScaleAmount(o.SellAmount, sellDecimals),
		BuyAmount:  ScaleAmount(o.BuyAmount, buyDecimals),
	}

	if sellPrice.State != PriceUnknown {
		m.SellPriceUSD = sellPrice.Value
		m.SellValueUSD = m.SellAmount.Mul(sellPrice.Value)
	}
	if buyPrice.State != PriceUnknown {
		m.BuyPriceUSD = buyPrice.Value
		m.BuyValueUSD = m.BuyAmount.Mul(buyPrice.Value)
	}

	m.Estimated = sellPrice.State != PriceKnown || buyPrice.State != PriceKnown

	if sellPrice.State != PriceUnknown && buyPrice.State != PriceUnknown && !m.SellValueUSD.IsZero() {
		m.Deal = m.BuyValueUSD.Div(m.SellValueUSD)
	}
	return m
}
