package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"ordersync/src/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type orderReader interface {
	Orders(status *model.Status, now time.Time) []model.Order
	Order(id uint64) (model.Order, bool)
}

// orderView is one order plus the caller-relative projections. The account
// comes from the query string; there is no session state in this service.
type orderView struct {
	model.Order
	EffectiveStatus string `json:"effective_status"`
	CanFill         *bool  `json:"can_fill,omitempty"`
	CanCancel       *bool  `json:"can_cancel,omitempty"`
}

// ListOrdersHandler returns the cached order book, optionally filtered by
// projected status, optionally annotated for an account.
func ListOrdersHandler(reader orderReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()

		var status *model.Status
		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			parsed, ok := model.ParseStatus(statusParam)
			if !ok {
				http.Error(w, "invalid status", http.StatusBadRequest)
				return
			}
			status = &parsed
		}

		var account *common.Address
		if accountParam := r.URL.Query().Get("account"); accountParam != "" {
			if !common.IsHexAddress(accountParam) {
				http.Error(w, "invalid account", http.StatusBadRequest)
				return
			}
			addr := common.HexToAddress(accountParam)
			account = &addr
		}

		orders := reader.Orders(status, now)
		views := make([]orderView, 0, len(orders))
		for i := range orders {
			views = append(views, makeView(&orders[i], account, now))
		}

		writeJSON(w, views)
	}
}

// GetOrderHandler returns one order by ID.
func GetOrderHandler(reader orderReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		order, ok := reader.Order(id)
		if !ok {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}

		var account *common.Address
		if accountParam := r.URL.Query().Get("account"); accountParam != "" {
			if !common.IsHexAddress(accountParam) {
				http.Error(w, "invalid account", http.StatusBadRequest)
				return
			}
			addr := common.HexToAddress(accountParam)
			account = &addr
		}

		view := makeView(&order, account, time.Now())
		writeJSON(w, view)
	}
}

func makeView(o *model.Order, account *common.Address, now time.Time) orderView {
	v := orderView{
		Order:           *o,
		EffectiveStatus: o.StatusAt(now).String(),
	}
	if account != nil {
		fill := o.CanFill(*account, now)
		cancel := o.CanCancel(*account, now)
		v.CanFill = &fill
		v.CanCancel = &cancel
	}
	return v
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.WithError(err).Error("failed to encode response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
