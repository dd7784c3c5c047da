package connectors

// LIGHTWEIGHT JSON-RPC CLIENT FOR PUBLIC ETHEREUM ENDPOINTS
// RESTY ONLY + ENDPOINT FAILOVER

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// EthClient speaks eth_* JSON-RPC over HTTP. It deliberately does not retry
// by itself beyond endpoint rotation: retry/backoff policy belongs to the
// request governor so all call sites share one budget.
type EthClient struct {
	http      *resty.Client
	endpoints []string

	mu     sync.Mutex
	active int

	reqID atomic.Uint64
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// NewEthClient builds a client over the primary endpoint plus fallbacks.
// At least one endpoint is required.
func NewEthClient(endpoints []string, timeout time.Duration) (*EthClient, error) {
	clean := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		if s := strings.TrimSpace(e); s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return nil, errors.New("no rpc endpoints configured")
	}

	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &EthClient{http: httpClient, endpoints: clean}, nil
}

// Endpoint returns the endpoint currently in use.
func (c *EthClient) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints[c.active]
}

// rotate advances to the next fallback endpoint after a connection-class
// failure. Returns false once every endpoint has been tried for this call.
func (c *EthClient) rotate(tried int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tried >= len(c.endpoints)-1 {
		return false
	}
	c.active = (c.active + 1) % len(c.endpoints)
	logger.WithField("endpoint", c.endpoints[c.active]).Warn("rotating to fallback rpc endpoint")
	return true
}

// Call performs one JSON-RPC call and unmarshals the result. Rate-limit
// errors come back as *RPCError so the governor can recognize them;
// transport failures rotate through the fallback endpoints first.
func (c *EthClient) Call(ctx context.Context, result any, method string, params ...any) error {
	if params == nil {
		params = []any{}
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	}

	for tried := 0; ; tried++ {
		var out rpcResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			Post(c.Endpoint())

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.rotate(tried) {
				continue
			}
			return fmt.Errorf("%s: all endpoints failed: %w", method, err)
		}

		if resp.StatusCode() == 429 {
			return &RPCError{Code: -32005, Message: "too many requests", HTTPStatus: 429}
		}
		if resp.StatusCode() >= 500 {
			if c.rotate(tried) {
				continue
			}
			return fmt.Errorf("%s: endpoint returned status %d", method, resp.StatusCode())
		}
		if out.Error != nil {
			out.Error.HTTPStatus = resp.StatusCode()
			return out.Error
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(out.Result, result); err != nil {
			return fmt.Errorf("%s: decoding result: %w", method, err)
		}
		return nil
	}
}

// BlockNumber returns the head block number.
func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	var raw string
	if err := c.Call(ctx, &raw, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return hexutil.DecodeUint64(raw)
}

// ChainID returns the chain id, used as a readiness probe at startup.
func (c *EthClient) ChainID(ctx context.Context) (uint64, error) {
	var raw string
	if err := c.Call(ctx, &raw, "eth_chainId"); err != nil {
		return 0, err
	}
	return hexutil.DecodeUint64(raw)
}

// CodeAt returns the deployed bytecode at an address. Empty code means the
// contract is not there (wrong network or not yet deployed).
func (c *EthClient) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	var raw string
	if err := c.Call(ctx, &raw, "eth_getCode", addr.Hex(), "latest"); err != nil {
		return nil, err
	}
	return hexutil.Decode(raw)
}

// CallContract executes a read-only eth_call against the latest block.
func (c *EthClient) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	call := map[string]string{
		"to":   to.Hex(),
		"data": hexutil.Encode(data),
	}
	var raw string
	if err := c.Call(ctx, &raw, "eth_call", call, "latest"); err != nil {
		return nil, err
	}
	return hexutil.Decode(raw)
}
