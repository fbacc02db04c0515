package venues

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/depthsim/internal/config"
)

func TestRegistryBuildsConfiguredAdapters(t *testing.T) {
	reg, err := NewRegistry([]config.Venue{
		{Name: "binance", WSURL: "wss://x"},
		{Name: "bybit", WSURL: "wss://y"},
		{Name: "deribit", WSURL: "wss://z"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"binance", "bybit", "deribit"}, reg.Names())
	for _, name := range reg.Names() {
		adapter, ok := reg.Get(name)
		require.True(t, ok)
		assert.Equal(t, name, adapter.Name())
	}

	_, ok := reg.Get("kraken")
	assert.False(t, ok)
}

func TestRegistryRejectsUnknownVenue(t *testing.T) {
	_, err := NewRegistry([]config.Venue{{Name: "kraken"}})
	assert.ErrorIs(t, err, ErrVenueUnknown)
}

func TestParseStringLevels(t *testing.T) {
	raw := [][]string{
		{"100.5", "2"},
		{"0", "1"},       // non-positive price
		{"-3", "1"},      // negative price
		{"99", "-1"},     // negative quantity
		{"98", "0"},      // zero quantity
		{"97"},           // short pair
		{"abc", "1"},     // unparseable price
		{"96", "abc"},    // unparseable quantity
		{"95", "1.0001"},
	}

	strict := parseStringLevels(raw, false)
	require.Len(t, strict, 2)
	assert.Equal(t, "100.5", strict[0].Price.String())
	assert.Equal(t, "95", strict[1].Price.String())

	// Delta mode keeps zero-quantity tombstones.
	withZero := parseStringLevels(raw, true)
	require.Len(t, withZero, 3)
	assert.True(t, withZero[1].Quantity.IsZero())
}
