package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ServerAddress string        `env:"SERVER_ADDRESS" envDefault:"0.0.0.0:8080"`
	PostgresConn  string        `env:"POSTGRES_CONN"`
	BaseURL       string        `env:"BASE_URL" envDefault:"http://localhost:8080"`
	MailRelayURL  string        `env:"MAIL_RELAY_URL"`
	SessionSecret string        `env:"SESSION_SECRET" envDefault:"dev-secret"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	AdminEmail    string        `env:"ADMIN_EMAIL" envDefault:"admin@localhost"`
	AdminPassword string        `env:"ADMIN_PASSWORD"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.PostgresConn == "" {
		return cfg, fmt.Errorf("POSTGRES_CONN is required")
	}
	return cfg, nil
}
