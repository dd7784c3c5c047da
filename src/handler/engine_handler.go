package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"ordersync/src/engine"
	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type engineCommander interface {
	TriggerFullSync(ctx context.Context) error
	TriggerPriceRefresh(ctx context.Context) error
	RemoveOrders(ids []uint64)
	Status() engine.Status
}

type tokenReader interface {
	TokenInfo(ctx context.Context, addr common.Address) (model.TokenInfo, error)
	Price(addr common.Address) model.PricePoint
	IsEstimated(addr common.Address) bool
}

// TriggerSyncHandler kicks a full sync. A sync already in flight is joined,
// not duplicated, so hammering the endpoint is harmless.
func TriggerSyncHandler(cmd engineCommander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cmd.TriggerFullSync(r.Context()); err != nil {
			logger.WithError(err).Error("manual full sync failed")
			http.Error(w, "sync failed", http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]string{"result": "ok"})
	}
}

// TriggerPriceRefreshHandler kicks a refresh of the allowed-token universe.
func TriggerPriceRefreshHandler(cmd engineCommander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cmd.TriggerPriceRefresh(r.Context()); err != nil {
			logger.WithError(err).Error("manual price refresh failed")
			http.Error(w, "refresh failed", http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]string{"result": "ok"})
	}
}

// RemoveOrdersHandler drops orders from the local cache ahead of the
// confirmed on-chain cleanup.
func RemoveOrdersHandler(cmd engineCommander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []uint64 `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if len(body.IDs) == 0 {
			http.Error(w, "no ids given", http.StatusBadRequest)
			return
		}
		cmd.RemoveOrders(body.IDs)
		writeJSON(w, map[string]any{"result": "ok", "removed": body.IDs})
	}
}

// StatusHandler reports the engine's operational state.
func StatusHandler(cmd engineCommander) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, cmd.Status())
	}
}

// GetTokenHandler returns (and lazily fetches) ERC-20 metadata.
func GetTokenHandler(reader tokenReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addrParam := chi.URLParam(r, "address")
		if !common.IsHexAddress(addrParam) {
			http.Error(w, "invalid token address", http.StatusBadRequest)
			return
		}

		info, err := reader.TokenInfo(r.Context(), common.HexToAddress(addrParam))
		if err != nil {
			logger.WithError(err).WithField("address", addrParam).Error("token info fetch failed")
			http.Error(w, "token lookup failed", http.StatusBadGateway)
			return
		}
		writeJSON(w, info)
	}
}

// GetPriceHandler returns the token's price point including its tri-state,
// so "no price" stays observable instead of reading as zero.
func GetPriceHandler(reader tokenReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addrParam := chi.URLParam(r, "address")
		if !common.IsHexAddress(addrParam) {
			http.Error(w, "invalid token address", http.StatusBadRequest)
			return
		}
		addr := common.HexToAddress(addrParam)
		point := reader.Price(addr)

		writeJSON(w, map[string]any{
			"address":   addr.Hex(),
			"price":     point,
			"state":     point.State.String(),
			"estimated": reader.IsEstimated(addr),
		})
	}
}
