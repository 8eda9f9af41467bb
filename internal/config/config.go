// Package config loads runtime configuration from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// App holds every tunable of the admission service.
type App struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// Postgres
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"postgres"`
	DBPassword string `envconfig:"DB_PASSWORD" default:"postgres"`
	DBName     string `envconfig:"DB_NAME" default:"admission"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	// Redis (join throttle); empty disables throttling.
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	// RabbitMQ (collaborator signals); empty falls back to log output.
	AMQPURL      string `envconfig:"AMQP_URL" default:""`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"admission.signals"`

	// Auth
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	// Join throttle: at most JoinBurst attempts per person per window.
	JoinBurst  int           `envconfig:"JOIN_BURST" default:"3"`
	JoinWindow time.Duration `envconfig:"JOIN_WINDOW" default:"2s"`
}

// Load reads the configuration from environment variables.
func Load() (App, error) {
	var c App
	err := envconfig.Process("", &c)
	return c, err
}
