package connectors

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// escrowABIJSON is the read surface of the escrow contract plus its five
// lifecycle events. The deployed contract defines the wire format; this is
// bit-exact to it and must not be "improved".
const escrowABIJSON = `[
  {"type":"function","name":"getOrder","stateMutability":"view",
   "inputs":[{"name":"id","type":"uint256"}],
   "outputs":[
     {"name":"maker","type":"address"},
     {"name":"taker","type":"address"},
     {"name":"sellToken","type":"address"},
     {"name":"sellAmount","type":"uint256"},
     {"name":"buyToken","type":"address"},
     {"name":"buyAmount","type":"uint256"},
     {"name":"feeToken","type":"address"},
     {"name":"creationFee","type":"uint256"},
     {"name":"createdAt","type":"uint256"},
     {"name":"status","type":"uint8"},
     {"name":"tries","type":"uint32"}]},
  {"type":"function","name":"nextOrderId","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"orderExpiry","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"gracePeriod","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowedTokens","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"address[]"}]},
  {"type":"event","name":"OrderCreated","inputs":[
    {"name":"id","type":"uint256","indexed":true},
    {"name":"maker","type":"address","indexed":true}]},
  {"type":"event","name":"OrderFilled","inputs":[
    {"name":"id","type":"uint256","indexed":true},
    {"name":"taker","type":"address","indexed":true}]},
  {"type":"event","name":"OrderCanceled","inputs":[
    {"name":"id","type":"uint256","indexed":true}]},
  {"type":"event","name":"OrderCleaned","inputs":[
    {"name":"id","type":"uint256","indexed":true}]},
  {"type":"event","name":"OrderRetried","inputs":[
    {"name":"oldId","type":"uint256","indexed":true},
    {"name":"newId","type":"uint256","indexed":true},
    {"name":"tries","type":"uint32","indexed":false}]}
]`

var escrowABI = mustParseABI(escrowABIJSON)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Errorf("parsing abi: %w", err))
	}
	return parsed
}

// Event topic hashes, used both to build the subscription filter and to
// route incoming logs.
var (
	TopicOrderCreated  = escrowABI.Events["OrderCreated"].ID
	TopicOrderFilled   = escrowABI.Events["OrderFilled"].ID
	TopicOrderCanceled = escrowABI.Events["OrderCanceled"].ID
	TopicOrderCleaned  = escrowABI.Events["OrderCleaned"].ID
	TopicOrderRetried  = escrowABI.Events["OrderRetried"].ID
)

// Escrow wraps the read-only calls against the deployed escrow contract.
type Escrow struct {
	eth  *EthClient
	addr common.Address
}

func NewEscrow(eth *EthClient, addr common.Address) *Escrow {
	return &Escrow{eth: eth, addr: addr}
}

func (e *Escrow) Address() common.Address { return e.addr }

// PackGetOrder builds the calldata for getOrder(id). Exposed so the batch
// fetcher can hand the same calldata to the multicall aggregator.
func (e *Escrow) PackGetOrder(id uint64) ([]byte, error) {
	return escrowABI.Pack("getOrder", new(big.Int).SetUint64(id))
}

// DecodeOrder decodes a getOrder return payload. The ID is not part of the
// payload, the caller supplies it. Failures wrap ErrUndecodableOrder so
// callers can tell a bad payload from a failed read.
func DecodeOrder(id uint64, raw []byte) (model.Order, error) {
	var o model.Order
	out, err := escrowABI.Unpack("getOrder", raw)
	if err != nil {
		return o, fmt.Errorf("decoding order %d: %w: %v", id, ErrUndecodableOrder, err)
	}
	if len(out) != 11 {
		return o, fmt.Errorf("decoding order %d: %w: got %d fields", id, ErrUndecodableOrder, len(out))
	}

	o.ID = id
	o.Maker = out[0].(common.Address)
	o.Taker = out[1].(common.Address)
	o.SellToken = out[2].(common.Address)
	o.SellAmount = out[3].(*big.Int)
	o.BuyToken = out[4].(common.Address)
	o.BuyAmount = out[5].(*big.Int)
	o.FeeToken = out[6].(common.Address)
	o.CreationFee = out[7].(*big.Int)

	createdAt := out[8].(*big.Int)
	if !createdAt.IsInt64() {
		return o, fmt.Errorf("decoding order %d: %w: createdAt out of range", id, ErrUndecodableOrder)
	}
	o.CreatedAt = time.Unix(createdAt.Int64(), 0).UTC()
	o.Status = model.Status(out[9].(uint8))
	o.Tries = out[10].(uint32)
	return o, nil
}

// DecodeOrder is the method form of the package function, so consumers can
// decode aggregator return data through the same interface they read with.
func (e *Escrow) DecodeOrder(id uint64, raw []byte) (model.Order, error) {
	return DecodeOrder(id, raw)
}

// GetOrder reads one order by ID.
func (e *Escrow) GetOrder(ctx context.Context, id uint64) (model.Order, error) {
	data, err := e.PackGetOrder(id)
	if err != nil {
		return model.Order{}, err
	}
	raw, err := e.eth.CallContract(ctx, e.addr, data)
	if err != nil {
		return model.Order{}, err
	}
	return DecodeOrder(id, raw)
}

// NextOrderID reads the contract's running order counter. It is an upper
// bound for the fetch range, not a live-order count.
func (e *Escrow) NextOrderID(ctx context.Context) (uint64, error) {
	v, err := e.callUint(ctx, "nextOrderId")
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("nextOrderId out of uint64 range")
	}
	return v.Uint64(), nil
}

// OrderExpiry reads the contract-wide order lifetime.
func (e *Escrow) OrderExpiry(ctx context.Context) (time.Duration, error) {
	return e.callDuration(ctx, "orderExpiry")
}

// GracePeriod reads the post-expiry cancellation window.
func (e *Escrow) GracePeriod(ctx context.Context) (time.Duration, error) {
	return e.callDuration(ctx, "gracePeriod")
}

// AllowedTokens reads the token whitelist, the default pricing universe.
func (e *Escrow) AllowedTokens(ctx context.Context) ([]common.Address, error) {
	data, err := escrowABI.Pack("allowedTokens")
	if err != nil {
		return nil, err
	}
	raw, err := e.eth.CallContract(ctx, e.addr, data)
	if err != nil {
		return nil, err
	}
	out, err := escrowABI.Unpack("allowedTokens", raw)
	if err != nil {
		return nil, fmt.Errorf("decoding allowedTokens: %w", err)
	}
	return out[0].([]common.Address), nil
}

func (e *Escrow) callUint(ctx context.Context, method string) (*big.Int, error) {
	data, err := escrowABI.Pack(method)
	if err != nil {
		return nil, err
	}
	raw, err := e.eth.CallContract(ctx, e.addr, data)
	if err != nil {
		return nil, err
	}
	out, err := escrowABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", method, err)
	}
	return out[0].(*big.Int), nil
}

func (e *Escrow) callDuration(ctx context.Context, method string) (time.Duration, error) {
	v, err := e.callUint(ctx, method)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() || v.Int64() > int64(math.MaxInt64/int64(time.Second)) {
		return 0, fmt.Errorf("%s out of range", method)
	}
	return time.Duration(v.Int64()) * time.Second, nil
}
