package pricing

import (
	"ordersync/src/connectors"
	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type quote struct {
	value     decimal.Decimal
	state     model.PriceState
	liquidity decimal.Decimal
}

// resolveFromPairs picks one quote per requested token from the pool list.
// A direct USD quote wins over a derived one; between pools of the same
// class the one with the deepest liquidity wins. Tokens with no usable pool
// are absent from the result.
func resolveFromPairs(requested []common.Address, pairs []connectors.Pair) map[common.Address]quote {
	wanted := make(map[common.Address]bool, len(requested))
	for _, t := range requested {
		wanted[t] = true
	}

	out := make(map[common.Address]quote)

	consider := func(token common.Address, q quote) {
		if !wanted[token] || q.value.IsZero() {
			return
		}
		cur, ok := out[token]
		if !ok {
			out[token] = q
			return
		}
		if q.state == model.PriceKnown && cur.state != model.PriceKnown {
			out[token] = q
			return
		}
		if q.state == cur.state && q.liquidity.GreaterThan(cur.liquidity) {
			out[token] = q
		}
	}

	// First pass: direct USD quotes on the base token.
	for _, p := range pairs {
		if !p.PriceUSD.IsZero() {
			consider(p.BaseToken.Address, quote{
				value:     p.PriceUSD,
				state:     model.PriceKnown,
				liquidity: p.LiquidityUSD,
			})
		}
	}

	// Second pass: derive the missing side through the pool's native rate.
	// base = quoteUSD * priceNative; quote = baseUSD / priceNative.
	for _, p := range pairs {
		if p.PriceNative.IsZero() {
			continue
		}
		if q, ok := out[p.QuoteToken.Address]; ok && q.state == model.PriceKnown {
			consider(p.BaseToken.Address, quote{
				value:     q.value.Mul(p.PriceNative),
				state:     model.PriceEstimated,
				liquidity: p.LiquidityUSD,
			})
		}
		if b, ok := out[p.BaseToken.Address]; ok && b.state == model.PriceKnown {
			consider(p.QuoteToken.Address, quote{
				value:     b.value.Div(p.PriceNative),
				state:     model.PriceEstimated,
				liquidity: p.LiquidityUSD,
			})
		}
	}
	return out
}
