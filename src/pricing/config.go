package pricing

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// CacheExpiry is the staleness window: quotes younger than this are not
	// refetched.
	CacheExpiry time.Duration `envconfig:"PRICE_CACHE_EXPIRY" default:"5m"`
	// RefreshInterval drives the engine's periodic RefreshAll loop.
	RefreshInterval time.Duration `envconfig:"PRICE_REFRESH_INTERVAL" default:"2m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
