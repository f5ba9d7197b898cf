package redis

import (
	"time"

	"github.com/anggasct/logicdriver/pkg/config"
)

// Config describes the Redis connection used for replication.
type Config struct {
	ConnectionURL  string        `env:"LD_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"LD_REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"LD_REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"LD_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	// ChannelPrefix is prepended to the machine name to build the pub/sub channel.
	ChannelPrefix string `env:"LD_REDIS_CHANNEL_PREFIX" envDefault:"logicdriver:"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
