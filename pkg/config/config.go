// Package config loads OttoEngine's boot-time configuration from
// environment variables, per §6.4 of the engine specification.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds OttoEngine's boot-time configuration.
type Config struct {
	// RESTPort is the port the REST façade listens on.
	RESTPort int

	// RemoteHost/RemotePort/RemoteToken/RemoteTLS locate and authenticate
	// against the Home Assistant-style remote-assistant websocket.
	RemoteHost  string
	RemotePort  int
	RemoteToken string
	RemoteTLS   bool

	// DefaultTZ is the configured default IANA zone name. Nothing reads it
	// after Load; a TimeSpec that omits its zone gets UTC from
	// scheduler.NewTimeSpec.
	DefaultTZ string

	// RulesDirectory is where one YAML file per AutomationRule is kept.
	RulesDirectory string

	// LogLevel is one of CRITICAL|ERROR|WARN|DEBUG; default INFO.
	LogLevel string

	// TestServerPort is the optional port for an in-process loopback echo
	// server standing in for the remote assistant. It is only recorded: no
	// component starts such a server.
	TestServerPort int
}

// missingFieldError reports a required configuration value that was not set.
type missingFieldError struct {
	field string
}

func (e *missingFieldError) Error() string {
	return fmt.Sprintf("config: required field %q is not set", e.field)
}

// Load loads configuration from environment variables, optionally reading
// a .env file first (ignored if absent).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: getEnv("OTTOENGINE_LOG_LEVEL", "INFO"),
	}

	var err error
	if cfg.RESTPort, err = requireIntEnv("OTTOENGINE_REST_PORT"); err != nil {
		return nil, err
	}
	if cfg.RemoteHost, err = requireEnv("OTTOENGINE_REMOTE_HOST"); err != nil {
		return nil, err
	}
	if cfg.RemotePort, err = requireIntEnv("OTTOENGINE_REMOTE_PORT"); err != nil {
		return nil, err
	}
	if cfg.RemoteToken, err = requireEnv("OTTOENGINE_REMOTE_TOKEN"); err != nil {
		return nil, err
	}
	if cfg.RemoteTLS, err = requireBoolEnv("OTTOENGINE_REMOTE_TLS"); err != nil {
		return nil, err
	}
	if cfg.DefaultTZ, err = requireEnv("OTTOENGINE_DEFAULT_TZ"); err != nil {
		return nil, err
	}
	if cfg.RulesDirectory, err = requireEnv("OTTOENGINE_RULES_DIRECTORY"); err != nil {
		return nil, err
	}

	if raw := os.Getenv("OTTOENGINE_TEST_SERVER_PORT"); raw != "" {
		port, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return nil, fmt.Errorf("config: OTTOENGINE_TEST_SERVER_PORT must be an int: %w", convErr)
		}
		cfg.TestServerPort = port
	}

	return cfg, nil
}

// HasTestServer reports whether TestServerPort is set.
func (c *Config) HasTestServer() bool {
	return c.TestServerPort != 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", &missingFieldError{field: key}
	}
	return value, nil
}

func requireIntEnv(key string) (int, error) {
	raw, err := requireEnv(key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an int: %w", key, err)
	}
	return v, nil
}

func requireBoolEnv(key string) (bool, error) {
	raw, err := requireEnv(key)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a bool: %w", key, err)
	}
	return v, nil
}
