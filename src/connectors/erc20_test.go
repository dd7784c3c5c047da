package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// erc20Server answers symbol/name/decimals eth_calls for one fake token.
func erc20Server(t *testing.T, symbol, name string, decimals uint8) *httptest.Server {
	t.Helper()
	pack := func(method string, value any) string {
		out, err := erc20ABI.Methods[method].Outputs.Pack(value)
		if err != nil {
			t.Fatalf("packing %s: %v", method, err)
		}
		return hexutil.Encode(out)
	}
	bySelector := map[string]string{
		hexutil.Encode(erc20ABI.Methods["symbol"].ID):   pack("symbol", symbol),
		hexutil.Encode(erc20ABI.Methods["name"].ID):     pack("name", name),
		hexutil.Encode(erc20ABI.Methods["decimals"].ID): pack("decimals", decimals),
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			return
		}
		var call map[string]string
		_ = json.Unmarshal(req.Params[0], &call)

		result, ok := bySelector[call["data"]]
		if !ok {
			t.Errorf("unexpected calldata %s", call["data"])
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

func TestFetchTokenInfo(t *testing.T) {
	srv := erc20Server(t, "USDC", "USD Coin", 6)
	defer srv.Close()

	eth := newTestClient(t, srv.URL)
	token := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")

	info, err := FetchTokenInfo(context.Background(), eth, token)
	if err != nil {
		t.Fatal(err)
	}
	if info.Address != token || info.Symbol != "USDC" || info.Name != "USD Coin" || info.Decimals != 6 {
		t.Fatalf("got %+v", info)
	}
}

func TestFetchTokenInfoSurfacesCallErrors(t *testing.T) {
	srv := rpcServer(t, func(string) (any, *RPCError) {
		return nil, &RPCError{Code: -32000, Message: "execution reverted"}
	})
	defer srv.Close()

	eth := newTestClient(t, srv.URL)
	if _, err := FetchTokenInfo(context.Background(), eth, common.Address{}); err == nil {
		t.Fatal("want the revert to propagate")
	}
}
