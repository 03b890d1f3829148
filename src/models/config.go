package models

import "time"

// MConfig Structure
type MConfig struct {
	Name      string           `yaml:"name"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	LogLevel  string           `yaml:"log_level"`
	GrpcHost  string           `yaml:"grpc_host"`
	GrpcPort  int              `yaml:"grpc_port"`
	Endpoints MEndpointsConfig `yaml:"endpoints"`
	Exchange  MExchangeConfig  `yaml:"exchange"`
	Upstream  MUpstreamConfig  `yaml:"upstream"`
	Session   MSessionConfig   `yaml:"session"`
	Storage   MStorageConfig   `yaml:"storage"`
	Cache     MCacheConfig     `yaml:"cache"`
	Network   MNetworkConfig   `yaml:"network"`
}

type MEndpointsConfig struct {
	TradePath   string `yaml:"trade_path"`
	TickersPath string `yaml:"tickers_path"`
}

type MExchangeConfig struct {
	ActiveProvider    string            `yaml:"active_provider"`
	Providers         []MProviderConfig `yaml:"providers"`
	PollOnlyTickers   []string          `yaml:"poll_only_tickers"`
	StrictCredentials []string          `yaml:"strict_credentials"`
}

type MProviderConfig struct {
	Name              string  `yaml:"name"`
	BaseURL           string  `yaml:"base_url"`
	APIKey            string  `yaml:"api_key"`
	APISecret         string  `yaml:"api_secret"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type MUpstreamConfig struct {
	PollDelayMs            int `yaml:"poll_delay_ms"`
	FlushIntervalMs        int `yaml:"flush_interval_ms"`
	TickersStreamDelayMs   int `yaml:"tickers_stream_delay_ms"`
	TickersPollDelayMs     int `yaml:"tickers_poll_delay_ms"`
	CredentialsBackoffSec  int `yaml:"credentials_backoff_sec"`
	ErrorBackoffSec        int `yaml:"error_backoff_sec"`
	HealthCheckIntervalSec int `yaml:"health_check_interval_sec"`
	ReconnectAttempts      int `yaml:"reconnect_attempts"`
	ReconnectBaseDelayMs   int `yaml:"reconnect_base_delay_ms"`
}

type MSessionConfig struct {
	SendBuffer       int `yaml:"send_buffer"`
	RegisterAttempts int `yaml:"register_attempts"`
	RegisterDelayMs  int `yaml:"register_delay_ms"`
}

type MStorageConfig struct {
	DBType             string   `yaml:"db_type"`
	DBPath             string   `yaml:"db_path"`
	DBConnectionString string   `yaml:"db_connection_string"`
	SeedMarkets        []string `yaml:"seed_markets"`
}

type MCacheConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTLSec        int    `yaml:"ttl_sec"`
}

type MNetworkConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Proxies        []string `yaml:"proxies"`
	RequestTimeout int      `yaml:"timeout"`
	MaxRetries     int      `yaml:"retries"`
	UserAgent      string   `yaml:"user_agent"`
}

// Provider returns the configuration block of a named provider.
func (c *MExchangeConfig) Provider(name string) (MProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return MProviderConfig{}, false
}

// -----------------------------------------------------------------------------

func ms(v int) time.Duration  { return time.Duration(v) * time.Millisecond }
func sec(v int) time.Duration { return time.Duration(v) * time.Second }

func (u MUpstreamConfig) PollDelay() time.Duration          { return ms(u.PollDelayMs) }
func (u MUpstreamConfig) FlushInterval() time.Duration      { return ms(u.FlushIntervalMs) }
func (u MUpstreamConfig) TickersStreamDelay() time.Duration { return ms(u.TickersStreamDelayMs) }
func (u MUpstreamConfig) TickersPollDelay() time.Duration   { return ms(u.TickersPollDelayMs) }
func (u MUpstreamConfig) CredentialsBackoff() time.Duration { return sec(u.CredentialsBackoffSec) }
func (u MUpstreamConfig) ErrorBackoff() time.Duration       { return sec(u.ErrorBackoffSec) }
func (u MUpstreamConfig) HealthCheckInterval() time.Duration {
	return sec(u.HealthCheckIntervalSec)
}
func (u MUpstreamConfig) ReconnectBaseDelay() time.Duration { return ms(u.ReconnectBaseDelayMs) }

func (s MSessionConfig) RegisterDelay() time.Duration { return ms(s.RegisterDelayMs) }

func (c MCacheConfig) TTL() time.Duration { return sec(c.TTLSec) }
