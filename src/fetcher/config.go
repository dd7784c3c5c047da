package fetcher

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BatchSize           int           `envconfig:"FETCH_BATCH_SIZE" default:"50"`
	AggregateTimeout    time.Duration `envconfig:"FETCH_AGGREGATE_TIMEOUT" default:"10s"`
	AggregateRetryDelay time.Duration `envconfig:"FETCH_AGGREGATE_RETRY_DELAY" default:"1s"`
	FallbackWorkers     int           `envconfig:"FETCH_FALLBACK_WORKERS" default:"3"`
	InterBatchDelay     time.Duration `envconfig:"FETCH_INTER_BATCH_DELAY" default:"200ms"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
