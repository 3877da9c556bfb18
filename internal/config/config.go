package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	// MaxBatchSize caps the number of items per bulk submission request.
	MaxBatchSize int `env:"MAX_BATCH_SIZE,default=500"`
	// RateLimitPerMin caps batch submission requests per evaluator per minute.
	RateLimitPerMin int `env:"RATE_LIMIT_PER_MIN,default=60"`
	// ManualFormsStayActive keeps manually activated periodic forms Active
	// across window boundaries until they are explicitly closed.
	ManualFormsStayActive bool `env:"MANUAL_FORMS_STAY_ACTIVE,default=true"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
