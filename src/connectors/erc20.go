package connectors

import (
	"context"
	"fmt"

	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
  {"type":"function","name":"symbol","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"name","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

// FetchTokenInfo reads the ERC-20 metadata triple for one token. The result
// is immutable on chain, so callers cache it for the session.
func FetchTokenInfo(ctx context.Context, eth *EthClient, token common.Address) (model.TokenInfo, error) {
	info := model.TokenInfo{Address: token}

	sym, err := callString(ctx, eth, token, "symbol")
	if err != nil {
		return info, fmt.Errorf("token %s symbol: %w", token.Hex(), err)
	}
	name, err := callString(ctx, eth, token, "name")
	if err != nil {
		return info, fmt.Errorf("token %s name: %w", token.Hex(), err)
	}

	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return info, err
	}
	raw, err := eth.CallContract(ctx, token, data)
	if err != nil {
		return info, fmt.Errorf("token %s decimals: %w", token.Hex(), err)
	}
	out, err := erc20ABI.Unpack("decimals", raw)
	if err != nil {
		return info, fmt.Errorf("token %s decimals: %w", token.Hex(), err)
	}

	info.Symbol = sym
	info.Name = name
	info.Decimals = out[0].(uint8)
	return info, nil
}

func callString(ctx context.Context, eth *EthClient, to common.Address, method string) (string, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return "", err
	}
	raw, err := eth.CallContract(ctx, to, data)
	if err != nil {
		return "", err
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}
