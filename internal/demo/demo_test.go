package demo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Aidin1998/depthsim/internal/book"
	"github.com/Aidin1998/depthsim/internal/config"
)

func testDemoCfg() config.DemoConfig {
	return config.DemoConfig{
		Interval: 10 * time.Millisecond,
		Levels:   15,
		BasePrices: map[string]float64{
			"BTC-USD": 67000,
			"ETH-USD": 3400,
		},
	}
}

func TestFeederPopulatesBooks(t *testing.T) {
	engine := book.NewEngine(20, zaptest.NewLogger(t))
	feeder := NewFeeder(testDemoCfg(), []string{"BTC-USD", "ETH-USD"}, engine, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go feeder.Run(ctx)

	require.Eventually(t, func() bool {
		_, okBTC := engine.View(book.Key{Venue: "demo", Symbol: "BTC-USD"})
		_, okETH := engine.View(book.Key{Venue: "demo", Symbol: "ETH-USD"})
		return okBTC && okETH
	}, 2*time.Second, 10*time.Millisecond)

	view, _ := engine.View(book.Key{Venue: "demo", Symbol: "BTC-USD"})
	assert.True(t, view.HasBothSides())
	assert.Len(t, view.Bids, 15)
	assert.Len(t, view.Asks, 15)
	assert.True(t, view.BestBid.LessThan(view.BestAsk), "book must not be crossed")
}

func TestFeederSkipsSymbolsWithoutBasePrice(t *testing.T) {
	engine := book.NewEngine(20, zaptest.NewLogger(t))
	feeder := NewFeeder(testDemoCfg(), []string{"BTC-USD", "XRP-USD"}, engine, zaptest.NewLogger(t))

	assert.Equal(t, []string{"BTC-USD"}, feeder.symbols)
}

func TestGeneratedBooksNeverCross(t *testing.T) {
	engine := book.NewEngine(20, zaptest.NewLogger(t))
	feeder := NewFeeder(testDemoCfg(), []string{"BTC-USD"}, engine, zaptest.NewLogger(t))

	for i := 0; i < 200; i++ {
		bids, asks := feeder.generate("BTC-USD")
		require.NotEmpty(t, bids)
		require.NotEmpty(t, asks)
		assert.True(t, bids[0].Price.LessThan(asks[0].Price),
			"iteration %d: best bid %s crossed best ask %s", i, bids[0].Price, asks[0].Price)
	}
}
