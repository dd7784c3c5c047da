package listener

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MaxReconnectAttempts int           `envconfig:"LISTENER_MAX_RECONNECT_ATTEMPTS" default:"8"`
	HandshakeTimeout     time.Duration `envconfig:"LISTENER_HANDSHAKE_TIMEOUT" default:"10s"`
	ReadTimeout          time.Duration `envconfig:"LISTENER_READ_TIMEOUT" default:"120s"`
	PingInterval         time.Duration `envconfig:"LISTENER_PING_INTERVAL" default:"30s"`
	HeartbeatLogEvery    time.Duration `envconfig:"LISTENER_HEARTBEAT_LOG_EVERY" default:"1m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
