package governor

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MaxInflight int           `envconfig:"GOVERNOR_MAX_INFLIGHT" default:"2"`
	MinSpacing  time.Duration `envconfig:"GOVERNOR_MIN_SPACING" default:"100ms"`
	RetryDelay  time.Duration `envconfig:"GOVERNOR_RETRY_DELAY" default:"2s"`
	MaxRetries  int           `envconfig:"GOVERNOR_MAX_RETRIES" default:"5"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
