package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "RELAYDEBATE"

// Config holds all configuration for the relaydebate server and tools.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Debate  DebateConfig  `mapstructure:"debate"`
	Hub     HubConfig     `mapstructure:"hub"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `mapstructure:"addr"`
	// HTTPTimeout bounds reads and writes on the HTTP server. It must exceed
	// the long-poll timeout or waiting clients are cut off.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	// AuthToken, when set, is the static bearer token every request must carry.
	AuthToken string `mapstructure:"auth_token"`
	// JWTSecret, when set, also accepts HS256 tokens signed with it.
	JWTSecret string `mapstructure:"jwt_secret"`
	// MaxBodySlack is added to the content limit to get the request body limit.
	MaxBodySlack int64 `mapstructure:"max_body_slack"`
	// RateLimitMax requests per client address per window; zero disables it.
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
}

type StoreConfig struct {
	// DSN selects the backend: a path or sqlite:// URL, memory://, or
	// postgres://.
	DSN            string        `mapstructure:"dsn"`
	BusyTimeout    time.Duration `mapstructure:"busy_timeout"`
	BusyMaxRetries int           `mapstructure:"busy_max_retries"`
	BusyBaseDelay  time.Duration `mapstructure:"busy_base_delay"`
}

type DebateConfig struct {
	MaxContentLength int           `mapstructure:"max_content_length"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout"`
}

type HubConfig struct {
	OutboundBuffer int `mapstructure:"outbound_buffer"`
}

type WatchConfig struct {
	// Enabled watches the SQLite file for writes by other processes.
	Enabled bool `mapstructure:"enabled"`
}

type RelayConfig struct {
	// RedisAddr enables the cross-process relay when set.
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisChannel string `mapstructure:"redis_channel"`
}

type LoggingConfig struct {
	Mode string `mapstructure:"mode"`
}

type TracingConfig struct {
	Stdout bool `mapstructure:"stdout"`
	// OTLPEndpoint, when set, exports spans over OTLP/HTTP instead of stdout.
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:3456",
			HTTPTimeout:     65 * time.Second,
			MaxBodySlack:    1024,
			RateLimitWindow: time.Minute,
		},
		Store: StoreConfig{
			DSN:            DefaultDBPath(),
			BusyTimeout:    5 * time.Second,
			BusyMaxRetries: 7,
			BusyBaseDelay:  10 * time.Millisecond,
		},
		Debate: DebateConfig{
			MaxContentLength: 10240,
			PollTimeout:      60 * time.Second,
		},
		Hub: HubConfig{
			OutboundBuffer: 16,
		},
		Watch: WatchConfig{
			Enabled: true,
		},
		Relay: RelayConfig{
			RedisChannel: "relaydebate",
		},
		Logging: LoggingConfig{
			Mode: "development",
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// SetDefaults registers default values and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.http_timeout", defaults.Server.HTTPTimeout)
	v.SetDefault("server.auth_token", defaults.Server.AuthToken)
	v.SetDefault("server.jwt_secret", defaults.Server.JWTSecret)
	v.SetDefault("server.max_body_slack", defaults.Server.MaxBodySlack)
	v.SetDefault("server.rate_limit_max", defaults.Server.RateLimitMax)
	v.SetDefault("server.rate_limit_window", defaults.Server.RateLimitWindow)

	v.SetDefault("store.dsn", defaults.Store.DSN)
	v.SetDefault("store.busy_timeout", defaults.Store.BusyTimeout)
	v.SetDefault("store.busy_max_retries", defaults.Store.BusyMaxRetries)
	v.SetDefault("store.busy_base_delay", defaults.Store.BusyBaseDelay)

	v.SetDefault("debate.max_content_length", defaults.Debate.MaxContentLength)
	v.SetDefault("debate.poll_timeout", defaults.Debate.PollTimeout)

	v.SetDefault("hub.outbound_buffer", defaults.Hub.OutboundBuffer)
	v.SetDefault("watch.enabled", defaults.Watch.Enabled)

	v.SetDefault("relay.redis_addr", defaults.Relay.RedisAddr)
	v.SetDefault("relay.redis_channel", defaults.Relay.RedisChannel)

	v.SetDefault("logging.mode", defaults.Logging.Mode)
	v.SetDefault("tracing.stdout", defaults.Tracing.Stdout)
	v.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.otlp_insecure", defaults.Tracing.OTLPInsecure)
	v.SetDefault("tracing.sample_ratio", defaults.Tracing.SampleRatio)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from v into a Config struct and validates it
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// DefaultDBPath is ~/.relaydebate/debate.db, or a path relative to the
// working directory when the home directory is unknown.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".relaydebate", "debate.db")
	}
	return filepath.Join(home, ".relaydebate", "debate.db")
}
