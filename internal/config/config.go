package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Host       string `env:"TTT_HOST" envDefault:"127.0.0.1"`
	Port       int    `env:"TTT_PORT" envDefault:"7350"`
	ServerKey  string `env:"TTT_SERVER_KEY" envDefault:"defaultkey"`
	UseSSL     bool   `env:"TTT_USE_SSL" envDefault:"false"`
	DeviceSalt string `env:"TTT_DEVICE_SALT" envDefault:"ttt-device-v1"`
	DataDir    string `env:"TTT_DATA_DIR" envDefault:".tttclient"`
	Debug      bool   `env:"TTT_DEBUG" envDefault:"false"`

	// Devserver only; the real authority manages its own signing keys.
	JWTSecret string `env:"TTT_JWT_SECRET" envDefault:"dev-only-signing-key"`
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// BaseURL is the HTTP endpoint for authentication calls.
func (c Config) BaseURL() string {
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// SocketURL is the realtime channel endpoint.
func (c Config) SocketURL() string {
	scheme := "ws"
	if c.UseSSL {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/ws", scheme, c.Host, c.Port)
}
