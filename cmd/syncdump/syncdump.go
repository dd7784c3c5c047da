package syncdump

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"ordersync/src/bus"
	"ordersync/src/engine"

	logger "github.com/sirupsen/logrus"
)

// Run performs one full sync against the configured contract and prints the
// resulting order book to stdout. Useful for eyeballing a deployment without
// starting the API server.
func Run() error {
	eng, err := engine.New()
	if err != nil {
		return err
	}

	eng.Bus().Subscribe(bus.EvSyncProgress, func(_ bus.Kind, payload any) {
		if p, ok := payload.(bus.SyncProgress); ok {
			logger.WithField("batch", p.Batch).
				WithField("total_batches", p.TotalBatches).
				WithField("fetched", p.Fetched).
				Info("sync progress")
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := eng.Initialize(ctx); err != nil {
		return err
	}
	defer eng.Shutdown()

	if err := eng.TriggerFullSync(ctx); err != nil {
		return err
	}

	orders := eng.Orders(nil, time.Now())
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(orders)
}
