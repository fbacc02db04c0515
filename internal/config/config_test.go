package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeLive, cfg.Mode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Book.MaxDepth)
	assert.Contains(t, cfg.Symbols, "BTC-USD")

	// The built-in venue table covers all three venues with supervision
	// defaults filled in.
	require.Len(t, cfg.Venues, 3)
	for _, venue := range cfg.Venues {
		assert.NotEmpty(t, venue.WSURL, venue.Name)
		assert.Equal(t, 15*time.Second, venue.ConnectTimeout, venue.Name)
		assert.Equal(t, 2*time.Second, venue.ReconnectBase, venue.Name)
		assert.Equal(t, 5, venue.MaxReconnectAttempts, venue.Name)

		// Binance must use the combined-stream endpoint: bare /ws payloads
		// carry no symbol, so multiple subscriptions per connection would be
		// unresolvable.
		if venue.Name == "binance" {
			assert.Equal(t, "wss://stream.binance.com:9443/stream", venue.WSURL)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
mode: demo
log_level: debug
server:
  port: 9090
book:
  max_depth: 10
demo:
  interval: 250ms
  levels: 5
venues:
  - name: bybit
    ws_url: wss://example.test/v5/public/spot
    depth: 50
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ModeDemo, cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Book.MaxDepth)
	assert.Equal(t, 250*time.Millisecond, cfg.Demo.Interval)

	require.Len(t, cfg.Venues, 1)
	venue := cfg.Venues[0]
	assert.Equal(t, "bybit", venue.Name)
	// Supervision defaults are filled for fields the file omits.
	assert.Equal(t, 15*time.Second, venue.ConnectTimeout)
	assert.Equal(t, 5, venue.MaxReconnectAttempts)
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		content string
	}{
		{"bad mode", "mode: replay\n"},
		{"bad port", "server:\n  port: -1\n"},
		{"bad depth", "book:\n  max_depth: 0\n"},
		{"venue without url", "venues:\n  - name: bybit\n"},
		{"duplicate venue", "venues:\n  - name: bybit\n    ws_url: wss://a\n  - name: bybit\n    ws_url: wss://b\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DEPTHSIM_SERVER_PORT", "7777")
	t.Setenv("DEPTHSIM_MODE", "demo")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, ModeDemo, cfg.Mode)
}

func TestMapSymbol(t *testing.T) {
	venue := Venue{SymbolMap: map[string]string{"BTC-USD": "BTCUSDT"}}
	assert.Equal(t, "BTCUSDT", venue.MapSymbol("BTC-USD"))
	assert.Equal(t, "XRP-USD", venue.MapSymbol("XRP-USD"))
}
