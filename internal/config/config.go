package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the fully-resolved bridge configuration. It is loaded once at
// startup and immutable afterwards; invalid configuration is fatal.
type Config struct {
	// Devices to poll. At least one is required.
	Devices []Device `mapstructure:"devices"`

	Fetch  FetchConfig  `mapstructure:"fetch"`
	Poll   PollConfig   `mapstructure:"poll"`
	Stream StreamConfig `mapstructure:"stream"`

	// Global mapping and filter settings, overridable per device.
	Mapping Mapping `mapstructure:"mapping"`
	Filter  Filter  `mapstructure:"filter"`

	Sink     SinkConfig     `mapstructure:"sink"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	API      APIConfig      `mapstructure:"api"`

	// Watermark persistence
	StatePath string `mapstructure:"state_path"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// Device describes one access-control device. Immutable after load; the
// poller owns one instance per configured device for its lifetime.
type Device struct {
	Name        string `mapstructure:"name"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	HTTPS       bool   `mapstructure:"https"`
	InsecureTLS bool   `mapstructure:"insecure_tls"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`

	// Optional per-device overrides of the global mapping/filter sections.
	Mapping *Mapping `mapstructure:"mapping"`
	Filter  *Filter  `mapstructure:"filter"`
}

// ID returns the device identity used in canonical events and watermark keys:
// the configured name, or host:port when no name was given.
func (d *Device) ID() string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// BaseURL returns the scheme://host:port prefix for device requests.
func (d *Device) BaseURL() string {
	scheme := "http"
	if d.HTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, d.Host, d.Port)
}

// FetchConfig controls the history retrieval requests.
type FetchConfig struct {
	// HistoryAPI is the history endpoint path. Empty means the vendor
	// default. Canonicalized at request time (leading slash, format=json).
	HistoryAPI string `mapstructure:"history_api"`
	// TimeAPI is the device clock endpoint path.
	TimeAPI        string `mapstructure:"time_api"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PageSize       int    `mapstructure:"page_size"`
	// ClockOffsetHours is the fixed offset applied to the host wall clock
	// when the device clock endpoint cannot be read.
	ClockOffsetHours int `mapstructure:"clock_offset_hours"`
}

// PollConfig controls the unbounded poll loop.
type PollConfig struct {
	WindowMinutes int `mapstructure:"window_minutes"`
	TickSeconds   int `mapstructure:"tick_seconds"`
}

// StreamConfig controls the lag-adjusted tail loop.
type StreamConfig struct {
	SliceMinutes    int `mapstructure:"slice_minutes"`
	InitBackMinutes int `mapstructure:"init_back_minutes"`
	LagSeconds      int `mapstructure:"lag_seconds"`
}

// Mapping holds the lookup tables used to derive direction and success from
// raw device codes.
type Mapping struct {
	// ReaderDirection maps readerNo (as string) to IN/OUT/....
	ReaderDirection map[string]string `mapstructure:"reader_direction"`
	// SuccessMinorCodes lists the minor codes considered a successful pass.
	SuccessMinorCodes []int `mapstructure:"success_minor_codes"`
}

// Filter holds the acceptance policy applied to canonical events.
type Filter struct {
	AllowedDirections       []string `mapstructure:"allowed_directions"`
	OnlySuccess             bool     `mapstructure:"only_success"`
	IncludeUnknownDirection bool     `mapstructure:"include_unknown_direction"`
}

// SinkConfig enables and configures the downstream destinations.
type SinkConfig struct {
	Database DatabaseSinkConfig `mapstructure:"database"`
	HTTP     HTTPSinkConfig     `mapstructure:"http"`
	Redis    RedisSinkConfig    `mapstructure:"redis"`
	Log      LogSinkConfig      `mapstructure:"log"`
}

// DatabaseSinkConfig configures the relational sink.
type DatabaseSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"` // "postgres" or "sqlite3"
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
	// InsertSQL overrides the generated statement. Placeholders must match
	// the 13-column canonical layout.
	InsertSQL string `mapstructure:"insert_sql"`
}

// HTTPSinkConfig configures the HTTP batch ingestion sink.
type HTTPSinkConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	EndpointBase   string            `mapstructure:"endpoint_base"`
	TableName      string            `mapstructure:"table_name"`
	BasicUsername  string            `mapstructure:"basic_username"`
	BasicPassword  string            `mapstructure:"basic_password"`
	Headers        map[string]string `mapstructure:"headers"`
	BatchSize      int               `mapstructure:"batch_size"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
}

// RedisSinkConfig configures the Redis list sink.
type RedisSinkConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	ListKey  string `mapstructure:"list_key"`
	// MaxLen trims the list after each push when > 0.
	MaxLen int64 `mapstructure:"max_len"`
}

// LogSinkConfig configures the diagnostic logging sink.
type LogSinkConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ExchangeConfig configures the one-shot encrypted upload to the data
// exchange platform. Not part of the polling pipeline.
type ExchangeConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	PersonPath string `mapstructure:"person_path"`
	AESKey     string `mapstructure:"aes_key"`

	AuthType string `mapstructure:"auth_type"` // "basic" or "login"
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	LoginPath         string `mapstructure:"login_path"`
	LoginContentType  string `mapstructure:"login_content_type"`
	LoginBodyTemplate string `mapstructure:"login_body_template"`
	TokenField        string `mapstructure:"token_field"`
	TokenHeaderName   string `mapstructure:"token_header_name"`
	TokenHeaderFormat string `mapstructure:"token_header_format"`

	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// APIConfig configures the optional status/live-feed HTTP server.
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Fetch: FetchConfig{
			TimeAPI:          "/ISAPI/System/time",
			TimeoutSeconds:   15,
			PageSize:         200,
			ClockOffsetHours: 8,
		},
		Poll: PollConfig{
			WindowMinutes: 5,
			TickSeconds:   60,
		},
		Stream: StreamConfig{
			SliceMinutes:    1,
			InitBackMinutes: 5,
			LagSeconds:      10,
		},
		Sink: SinkConfig{
			Database: DatabaseSinkConfig{
				Driver: "postgres",
				Table:  "access_events",
			},
			HTTP: HTTPSinkConfig{
				BatchSize:      200,
				TimeoutSeconds: 30,
			},
			Redis: RedisSinkConfig{
				ListKey: "access_events",
			},
			Log: LogSinkConfig{Enabled: true},
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8081",
		},
		StatePath: "./bridge-state.db",
		LogLevel:  "info",
	}
}

// Load loads configuration from file and environment variables.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/acs-event-bridge")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".acs-event-bridge"))
		}
	}

	v.SetEnvPrefix("ACS_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing file is OK when everything needed comes from env/defaults.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("fetch.time_api", cfg.Fetch.TimeAPI)
	v.SetDefault("fetch.timeout_seconds", cfg.Fetch.TimeoutSeconds)
	v.SetDefault("fetch.page_size", cfg.Fetch.PageSize)
	v.SetDefault("fetch.clock_offset_hours", cfg.Fetch.ClockOffsetHours)
	v.SetDefault("poll.window_minutes", cfg.Poll.WindowMinutes)
	v.SetDefault("poll.tick_seconds", cfg.Poll.TickSeconds)
	v.SetDefault("stream.slice_minutes", cfg.Stream.SliceMinutes)
	v.SetDefault("stream.init_back_minutes", cfg.Stream.InitBackMinutes)
	v.SetDefault("stream.lag_seconds", cfg.Stream.LagSeconds)
	v.SetDefault("sink.database.driver", cfg.Sink.Database.Driver)
	v.SetDefault("sink.database.table", cfg.Sink.Database.Table)
	v.SetDefault("sink.http.batch_size", cfg.Sink.HTTP.BatchSize)
	v.SetDefault("sink.http.timeout_seconds", cfg.Sink.HTTP.TimeoutSeconds)
	v.SetDefault("sink.redis.list_key", cfg.Sink.Redis.ListKey)
	v.SetDefault("sink.log.enabled", cfg.Sink.Log.Enabled)
	v.SetDefault("api.listen_addr", cfg.API.ListenAddr)
	v.SetDefault("state_path", cfg.StatePath)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
}

// Validate validates the configuration. Configuration errors are fatal at
// startup only.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return fmt.Errorf("at least one device is required")
	}
	seen := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Host == "" {
			return fmt.Errorf("device %d: host is required", i)
		}
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("device %q: port must be in 1..65535", d.ID())
		}
		if seen[d.ID()] {
			return fmt.Errorf("duplicate device id %q", d.ID())
		}
		seen[d.ID()] = true
	}

	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be positive")
	}
	if c.Fetch.PageSize <= 0 {
		return fmt.Errorf("fetch.page_size must be positive")
	}
	if c.Poll.WindowMinutes <= 0 {
		return fmt.Errorf("poll.window_minutes must be positive")
	}
	if c.Poll.TickSeconds < 5 {
		return fmt.Errorf("poll.tick_seconds must be at least 5")
	}
	if c.Stream.SliceMinutes <= 0 {
		return fmt.Errorf("stream.slice_minutes must be positive")
	}
	if c.Stream.LagSeconds <= 0 {
		return fmt.Errorf("stream.lag_seconds must be positive")
	}

	if c.Sink.Database.Enabled {
		if c.Sink.Database.DSN == "" {
			return fmt.Errorf("sink.database.dsn is required when sink.database.enabled=true")
		}
		switch c.Sink.Database.Driver {
		case "postgres", "sqlite3":
		default:
			return fmt.Errorf("sink.database.driver must be postgres or sqlite3")
		}
	}
	if c.Sink.HTTP.Enabled && c.Sink.HTTP.EndpointBase == "" {
		return fmt.Errorf("sink.http.endpoint_base is required when sink.http.enabled=true")
	}
	if c.Sink.Redis.Enabled && c.Sink.Redis.Addr == "" {
		return fmt.Errorf("sink.redis.addr is required when sink.redis.enabled=true")
	}

	if c.StatePath == "" {
		return fmt.Errorf("state_path is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return nil
}
