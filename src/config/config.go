package config

import (
	"fmt"
	"os"
	"strings"

	"market-fanout/src/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}

	// 3. Secrets come from .env / environment, never from the YAML in the repo
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	config.ApplyEnv(os.Getenv)
	config.ApplyDefaults()

	// 4. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// ApplyEnv overrides credentials and connection strings from the environment.
// Provider keys are read from FANOUT_<PROVIDER>_API_KEY / FANOUT_<PROVIDER>_API_SECRET.
func (c *Config) ApplyEnv(getenv func(string) string) {
	for i := range c.Exchange.Providers {
		p := &c.Exchange.Providers[i]
		prefix := "FANOUT_" + strings.ToUpper(p.Name)
		if v := getenv(prefix + "_API_KEY"); v != "" {
			p.APIKey = v
		}
		if v := getenv(prefix + "_API_SECRET"); v != "" {
			p.APISecret = v
		}
	}
	if v := getenv("FANOUT_DB_CONNECTION_STRING"); v != "" {
		c.Storage.DBConnectionString = v
	}
	if v := getenv("FANOUT_REDIS_PASSWORD"); v != "" {
		c.Cache.RedisPassword = v
	}
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills every zero timing and sizing knob.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Endpoints.TradePath, "/ws/trade")
	setDefault(&c.Endpoints.TickersPath, "/ws/tickers")

	u := &c.Upstream
	setDefaultInt(&u.PollDelayMs, 100)
	setDefaultInt(&u.FlushIntervalMs, 250)
	setDefaultInt(&u.TickersStreamDelayMs, 250)
	setDefaultInt(&u.TickersPollDelayMs, 1000)
	setDefaultInt(&u.CredentialsBackoffSec, 300)
	setDefaultInt(&u.ErrorBackoffSec, 5)
	setDefaultInt(&u.HealthCheckIntervalSec, 180)
	setDefaultInt(&u.ReconnectAttempts, 5)
	setDefaultInt(&u.ReconnectBaseDelayMs, 1000)

	setDefaultInt(&c.Session.SendBuffer, 256)
	setDefaultInt(&c.Session.RegisterAttempts, 10)
	setDefaultInt(&c.Session.RegisterDelayMs, 50)

	setDefault(&c.Storage.DBType, "sqlite")
	setDefaultInt(&c.Cache.TTLSec, 30)
	setDefaultInt(&c.Network.RequestTimeout, 10)
}

func setDefault(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setDefaultInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration (Flattened)
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535) {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}
	if c.Endpoints.TradePath == c.Endpoints.TickersPath {
		return fmt.Errorf("trade and tickers endpoints must differ")
	}

	// Validate Exchange configuration
	if c.Exchange.ActiveProvider == "" {
		return fmt.Errorf("active exchange provider cannot be empty")
	}
	if _, ok := c.Exchange.Provider(c.Exchange.ActiveProvider); !ok {
		return fmt.Errorf("active provider '%s' is not declared under exchange.providers", c.Exchange.ActiveProvider)
	}
	for i, p := range c.Exchange.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d must have a name", i)
		}
		if p.RequestsPerSecond < 0 {
			return fmt.Errorf("provider '%s' requests_per_second cannot be negative", p.Name)
		}
	}

	// Validate Storage configuration
	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("database connection string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Storage.DBType)
	}

	// Validate Network configuration
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
