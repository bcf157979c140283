package roomchat

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls how the SDK connects and reconnects.
type Config struct {
	URL              string        `env:"URL"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT"`
	ReadTimeout      time.Duration `env:"READ_TIMEOUT"` // 0 relies on pings for idle detection
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT"`
	PingInterval     time.Duration `env:"PING_INTERVAL"`

	// ConnectTimeout bounds the wait for transport readiness.
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT"`

	AutoReconnect        bool          `env:"AUTO_RECONNECT"`
	ReconnectInterval    time.Duration `env:"RECONNECT_INTERVAL"`
	MaxReconnectDelay    time.Duration `env:"MAX_RECONNECT_DELAY"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS"`

	// SessionDir is where examples keep the saved session.
	SessionDir string `env:"SESSION_DIR"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		PingInterval:         25 * time.Second,
		ConnectTimeout:       10 * time.Second,
		AutoReconnect:        true,
		ReconnectInterval:    time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// LoadConfig returns DefaultConfig overlaid with ROOMCHAT_* environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "ROOMCHAT_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
