package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	RPCURL          string   `envconfig:"RPC_URL"`
	RPCFallbackURLs []string `envconfig:"RPC_FALLBACK_URLS"`
	RPCWSURL        string   `envconfig:"RPC_WS_URL"`

	EscrowAddress string `envconfig:"ESCROW_ADDRESS"`
	// MulticallAddress is optional. When empty the batch fetcher uses the
	// per-order fallback path permanently.
	MulticallAddress string `envconfig:"MULTICALL_ADDRESS"`

	PriceAPIBaseURL string `envconfig:"PRICE_API_BASE_URL" default:"https://api.dexscreener.com/latest/dex"`
	PriceAPIChainID string `envconfig:"PRICE_API_CHAIN_ID" default:"ethereum"`

	RPCTimeout   time.Duration `envconfig:"RPC_TIMEOUT" default:"15s"`
	PriceTimeout time.Duration `envconfig:"PRICE_API_TIMEOUT" default:"10s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Endpoints returns the primary plus fallback HTTP endpoints in order.
func (c Config) Endpoints() []string {
	return append([]string{c.RPCURL}, c.RPCFallbackURLs...)
}
