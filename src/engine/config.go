package engine

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	ContractWaitAttempts int           `envconfig:"CONTRACT_WAIT_ATTEMPTS" default:"5"`
	ContractWaitDelay    time.Duration `envconfig:"CONTRACT_WAIT_DELAY" default:"2s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
