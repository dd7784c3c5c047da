package pricedump

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"ordersync/src/engine"
)

// Run fetches USD quotes for the contract's allowed tokens and prints them.
func Run() error {
	eng, err := engine.New()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := eng.Initialize(ctx); err != nil {
		return err
	}
	defer eng.Shutdown()

	if err := eng.TriggerPriceRefresh(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(eng.Prices())
}
