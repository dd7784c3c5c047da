package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ordersync/src/engine"
	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type mockCommander struct {
	syncErr    error
	refreshErr error
	removed    []uint64
	syncCalls  int
}

func (m *mockCommander) TriggerFullSync(ctx context.Context) error {
	m.syncCalls++
	return m.syncErr
}

func (m *mockCommander) TriggerPriceRefresh(ctx context.Context) error { return m.refreshErr }

func (m *mockCommander) RemoveOrders(ids []uint64) { m.removed = ids }

func (m *mockCommander) Status() engine.Status {
	return engine.Status{ConnState: "connected", CacheSize: 3}
}

type mockTokenReader struct {
	info  model.TokenInfo
	err   error
	point model.PricePoint
}

func (m *mockTokenReader) TokenInfo(ctx context.Context, addr common.Address) (model.TokenInfo, error) {
	return m.info, m.err
}

func (m *mockTokenReader) Price(addr common.Address) model.PricePoint { return m.point }

func (m *mockTokenReader) IsEstimated(addr common.Address) bool {
	return m.point.State != model.PriceKnown
}

func TestTriggerSyncHandler(t *testing.T) {
	mockCmd := &mockCommander{}
	handler := TriggerSyncHandler(mockCmd)

	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, mockCmd.syncCalls)
}

func TestTriggerSyncHandler_Error(t *testing.T) {
	handler := TriggerSyncHandler(&mockCommander{syncErr: assert.AnError})

	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestTriggerPriceRefreshHandler_Error(t *testing.T) {
	handler := TriggerPriceRefreshHandler(&mockCommander{refreshErr: assert.AnError})

	req := httptest.NewRequest(http.MethodPost, "/prices/refresh", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestRemoveOrdersHandler(t *testing.T) {
	mockCmd := &mockCommander{}
	handler := RemoveOrdersHandler(mockCmd)

	req := httptest.NewRequest(http.MethodPost, "/orders/remove", strings.NewReader(`{"ids":[1,2,3]}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []uint64{1, 2, 3}, mockCmd.removed)
}

func TestRemoveOrdersHandler_BadBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"empty ids", `{"ids":[]}`},
		{"missing ids", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockCmd := &mockCommander{}
			handler := RemoveOrdersHandler(mockCmd)

			req := httptest.NewRequest(http.MethodPost, "/orders/remove", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Nil(t, mockCmd.removed)
		})
	}
}

func TestStatusHandler(t *testing.T) {
	handler := StatusHandler(&mockCommander{})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var status engine.Status
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, 3, status.CacheSize)
	assert.Equal(t, "connected", status.ConnState)
}

func tokenRouter(reader tokenReader) http.Handler {
	r := chi.NewRouter()
	r.Get("/tokens/{address}", GetTokenHandler(reader))
	r.Get("/prices/{address}", GetPriceHandler(reader))
	return r
}

func TestGetTokenHandler(t *testing.T) {
	router := tokenRouter(&mockTokenReader{
		info: model.TokenInfo{Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
	})

	req := httptest.NewRequest(http.MethodGet,
		"/tokens/0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var info model.TokenInfo
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, "WETH", info.Symbol)
}

func TestGetTokenHandler_BadAddress(t *testing.T) {
	router := tokenRouter(&mockTokenReader{})

	req := httptest.NewRequest(http.MethodGet, "/tokens/nothex", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetTokenHandler_FetchError(t *testing.T) {
	router := tokenRouter(&mockTokenReader{err: assert.AnError})

	req := httptest.NewRequest(http.MethodGet,
		"/tokens/0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestGetPriceHandler(t *testing.T) {
	router := tokenRouter(&mockTokenReader{
		point: model.PricePoint{Value: decimal.RequireFromString("2.5"), State: model.PriceEstimated},
	})

	req := httptest.NewRequest(http.MethodGet,
		"/prices/0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		State     string `json:"state"`
		Estimated bool   `json:"estimated"`
	}
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "estimated", body.State)
	assert.True(t, body.Estimated)
}

func TestGetPriceHandler_UnknownStaysObservable(t *testing.T) {
	router := tokenRouter(&mockTokenReader{}) // zero point: no quote at all

	req := httptest.NewRequest(http.MethodGet,
		"/prices/0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		State string `json:"state"`
	}
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "unknown", body.State)
}
