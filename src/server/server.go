package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ordersync/src/engine"
	"ordersync/src/handler"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

// NewRouter wires the engine's query and command API.
func NewRouter(eng *engine.Engine) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Get("/status", handler.StatusHandler(eng))
	r.Get("/orders", handler.ListOrdersHandler(eng))
	r.Get("/orders/{id}", handler.GetOrderHandler(eng))
	r.Get("/tokens/{address}", handler.GetTokenHandler(eng))
	r.Get("/prices/{address}", handler.GetPriceHandler(eng))
	r.Get("/events", handler.EventsHandler(eng.Bus()))

	r.Post("/sync", handler.TriggerSyncHandler(eng))
	r.Post("/prices/refresh", handler.TriggerPriceRefreshHandler(eng))
	r.Post("/orders/remove", handler.RemoveOrdersHandler(eng))

	return r
}

// StartServer serves the API until SIGINT/SIGTERM, then shuts down
// gracefully and stops the engine.
func StartServer(port string, eng *engine.Engine) {
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: NewRouter(eng),
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
	eng.Shutdown()
}
