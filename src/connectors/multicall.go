package connectors

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Multicall2-style aggregator. tryAggregate with requireSuccess=false gives
// per-call success flags so empty storage slots don't fail the whole batch.
const multicallABIJSON = `[
  {"type":"function","name":"tryAggregate","stateMutability":"view",
   "inputs":[
     {"name":"requireSuccess","type":"bool"},
     {"name":"calls","type":"tuple[]","components":[
       {"name":"target","type":"address"},
       {"name":"callData","type":"bytes"}]}],
   "outputs":[
     {"name":"returnData","type":"tuple[]","components":[
       {"name":"success","type":"bool"},
       {"name":"returnData","type":"bytes"}]}]}
]`

var multicallABI = mustParseABI(multicallABIJSON)

// Call is one (target, calldata) pair for the aggregator.
type Call struct {
	Target   common.Address `abi:"target"`
	CallData []byte         `abi:"callData"`
}

// Result is the per-call outcome from tryAggregate.
type Result struct {
	Success    bool   `abi:"success"`
	ReturnData []byte `abi:"returnData"`
}

// Multicall batches many read calls into one eth_call round trip.
type Multicall struct {
	eth  *EthClient
	addr common.Address
}

// NewMulticall returns nil when no aggregator address is configured; callers
// treat a nil Multicall as "aggregation unavailable" and use the per-call
// fallback permanently.
func NewMulticall(eth *EthClient, addr common.Address) *Multicall {
	if addr == (common.Address{}) {
		return nil
	}
	return &Multicall{eth: eth, addr: addr}
}

// TryAggregate executes all calls in one aggregated eth_call. With
// requireSuccess=false individual reverts surface as Success=false results.
func (m *Multicall) TryAggregate(ctx context.Context, requireSuccess bool, calls []Call) ([]Result, error) {
	data, err := multicallABI.Pack("tryAggregate", requireSuccess, calls)
	if err != nil {
		return nil, fmt.Errorf("packing tryAggregate: %w", err)
	}
	raw, err := m.eth.CallContract(ctx, m.addr, data)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("tryAggregate returned no data")
	}
	out, err := multicallABI.Unpack("tryAggregate", raw)
	if err != nil {
		return nil, fmt.Errorf("decoding tryAggregate: %w", err)
	}
	results := *abi.ConvertType(out[0], new([]Result)).(*[]Result)
	if len(results) != len(calls) {
		return nil, fmt.Errorf("tryAggregate returned %d results for %d calls", len(results), len(calls))
	}
	return results, nil
}
