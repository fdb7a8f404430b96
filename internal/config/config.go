package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN    string `env:"DATABASE_DSN,required=true"`
	DBMaxOpenConns int    `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns int    `env:"DB_MAX_IDLE_CONNS,default=5"`
	DBLogQueries   bool   `env:"DB_LOG_QUERIES,default=false"`
	RedisURL       string `env:"REDIS_URL,required=true"`
	// AMQPURL is optional; without it lifecycle events are dropped.
	AMQPURL   string `env:"AMQP_URL"`
	JWTSecret string `env:"JWT_SECRET,required=true"`

	SMTPHost     string `env:"SMTP_HOST,required=true"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM,required=true"`

	SMSGatewayURL  string `env:"SMS_GATEWAY_URL,required=true"`
	PushGatewayURL string `env:"PUSH_GATEWAY_URL,required=true"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	SweepIntervalSeconds int `env:"SWEEP_INTERVAL_SECONDS,default=30"`
	SweepConcurrency     int `env:"SWEEP_CONCURRENCY,default=4"`

	ConnectionRateLimit         int `env:"CONNECTION_RATE_LIMIT,default=10"`
	ConnectionRateWindowSeconds int `env:"CONNECTION_RATE_WINDOW_SECONDS,default=60"`
	HeartbeatSeconds            int `env:"HEARTBEAT_SECONDS,default=30"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) ConnectionRateWindow() time.Duration {
	return time.Duration(c.ConnectionRateWindowSeconds) * time.Second
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}
