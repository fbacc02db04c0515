// Package config loads the depthsim runtime configuration from YAML files
// and environment variables, with built-in defaults for the supported venues.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode selects the data source feeding the book engine.
type Mode string

const (
	ModeLive Mode = "live"
	ModeDemo Mode = "demo"
)

// Config is the root configuration.
type Config struct {
	LogLevel string       `mapstructure:"log_level"`
	Mode     Mode         `mapstructure:"mode"`
	Server   ServerConfig `mapstructure:"server"`
	Book     BookConfig   `mapstructure:"book"`
	Demo     DemoConfig   `mapstructure:"demo"`
	Venues   []Venue      `mapstructure:"venues"`
	Symbols  []string     `mapstructure:"symbols"`
}

// ServerConfig configures the HTTP/WebSocket API server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BookConfig configures the reconstruction engine.
type BookConfig struct {
	// MaxDepth caps the retained levels per side after every mutation.
	MaxDepth int `mapstructure:"max_depth"`
}

// DemoConfig configures the synthetic offline feed.
type DemoConfig struct {
	Interval   time.Duration      `mapstructure:"interval"`
	Levels     int                `mapstructure:"levels"`
	BasePrices map[string]float64 `mapstructure:"base_prices"`
}

// Venue is the static wire-level description of one venue. These entries are
// data, not branching logic: adding a venue means adding an entry here plus a
// parser in internal/venues.
type Venue struct {
	Name                 string            `mapstructure:"name"`
	WSURL                string            `mapstructure:"ws_url"`
	Depth                int               `mapstructure:"depth"`
	UpdateRate           string            `mapstructure:"update_rate"`
	ConnectTimeout       time.Duration     `mapstructure:"connect_timeout"`
	PingInterval         time.Duration     `mapstructure:"ping_interval"`
	ReconnectBase        time.Duration     `mapstructure:"reconnect_base"`
	MaxReconnectAttempts int               `mapstructure:"max_reconnect_attempts"`
	SymbolMap            map[string]string `mapstructure:"symbol_map"`
}

// MapSymbol translates a display symbol (e.g. BTC-USD) into the venue's
// native instrument name. Unknown symbols pass through unchanged.
func (v Venue) MapSymbol(symbol string) string {
	if native, ok := v.SymbolMap[symbol]; ok {
		return native
	}
	return symbol
}

// Load reads configuration from the given file (optional) plus DEPTHSIM_*
// environment variables, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("DEPTHSIM")

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Venues) == 0 {
		cfg.Venues = DefaultVenues()
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("mode", string(ModeLive))
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("book.max_depth", 20)
	v.SetDefault("demo.interval", 500*time.Millisecond)
	v.SetDefault("demo.levels", 15)
	v.SetDefault("demo.base_prices", map[string]float64{
		"BTC-USD":  67000,
		"ETH-USD":  3400,
		"SOL-USD":  180,
		"ADA-USD":  0.75,
		"DOT-USD":  9,
		"LINK-USD": 18,
	})
	v.SetDefault("symbols", []string{
		"BTC-USD", "ETH-USD", "SOL-USD", "ADA-USD", "DOT-USD", "LINK-USD",
	})
}

func validate(cfg *Config) error {
	if cfg.Mode != ModeLive && cfg.Mode != ModeDemo {
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Book.MaxDepth <= 0 {
		return fmt.Errorf("book max_depth must be > 0")
	}
	seen := make(map[string]bool, len(cfg.Venues))
	for i := range cfg.Venues {
		ven := &cfg.Venues[i]
		if ven.Name == "" {
			return fmt.Errorf("venue %d has no name", i)
		}
		if seen[ven.Name] {
			return fmt.Errorf("duplicate venue: %s", ven.Name)
		}
		seen[ven.Name] = true
		if ven.WSURL == "" {
			return fmt.Errorf("venue %s has no ws_url", ven.Name)
		}
		if ven.ConnectTimeout <= 0 {
			ven.ConnectTimeout = 15 * time.Second
		}
		if ven.ReconnectBase <= 0 {
			ven.ReconnectBase = 2 * time.Second
		}
		if ven.MaxReconnectAttempts <= 0 {
			ven.MaxReconnectAttempts = 5
		}
	}
	return nil
}

// DefaultVenues returns the built-in wire table for the supported venues.
func DefaultVenues() []Venue {
	usdtMap := map[string]string{
		"BTC-USD":  "BTCUSDT",
		"ETH-USD":  "ETHUSDT",
		"SOL-USD":  "SOLUSDT",
		"ADA-USD":  "ADAUSDT",
		"DOT-USD":  "DOTUSDT",
		"LINK-USD": "LINKUSDT",
	}
	perpMap := map[string]string{
		"BTC-USD":  "BTC-PERPETUAL",
		"ETH-USD":  "ETH-PERPETUAL",
		"SOL-USD":  "SOL-PERPETUAL",
		"ADA-USD":  "ADA-PERPETUAL",
		"DOT-USD":  "DOT-PERPETUAL",
		"LINK-USD": "LINK-PERPETUAL",
	}
	return []Venue{
		{
			Name: "binance",
			// The combined-stream endpoint wraps each payload with its stream
			// name; the bare /ws endpoint omits the symbol, which only works
			// with a single subscription per connection.
			WSURL:                "wss://stream.binance.com:9443/stream",
			Depth:                20,
			UpdateRate:           "100ms",
			ConnectTimeout:       15 * time.Second,
			PingInterval:         3 * time.Minute,
			ReconnectBase:        2 * time.Second,
			MaxReconnectAttempts: 5,
			SymbolMap:            usdtMap,
		},
		{
			Name:                 "bybit",
			WSURL:                "wss://stream.bybit.com/v5/public/spot",
			Depth:                50,
			ConnectTimeout:       15 * time.Second,
			PingInterval:         20 * time.Second,
			ReconnectBase:        2 * time.Second,
			MaxReconnectAttempts: 5,
			SymbolMap:            usdtMap,
		},
		{
			Name:                 "deribit",
			WSURL:                "wss://www.deribit.com/ws/api/v2",
			UpdateRate:           "100ms",
			ConnectTimeout:       15 * time.Second,
			PingInterval:         time.Minute,
			ReconnectBase:        2 * time.Second,
			MaxReconnectAttempts: 5,
			SymbolMap:            perpMap,
		},
	}
}
