// Package demo generates synthetic order books on a fixed interval so the
// rest of the system can run without live venue connectivity. Prices follow
// a small random walk around a per-symbol base price.
package demo

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/depthsim/internal/book"
	"github.com/Aidin1998/depthsim/internal/config"
	"github.com/Aidin1998/depthsim/pkg/models"
)

const demoVenue = "demo"

// Feeder writes synthetic snapshots straight into the book engine.
type Feeder struct {
	engine  *book.Engine
	cfg     config.DemoConfig
	symbols []string
	logger  *zap.Logger
	rng     *rand.Rand

	// mid prices drift between ticks so consecutive books look alive.
	mids map[string]float64
	seq  int64
}

// NewFeeder seeds one walking mid price per configured symbol. Symbols
// without a configured base price are skipped.
func NewFeeder(cfg config.DemoConfig, symbols []string, engine *book.Engine, logger *zap.Logger) *Feeder {
	f := &Feeder{
		engine: engine,
		cfg:    cfg,
		logger: logger.Named("demo"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		mids:   make(map[string]float64, len(symbols)),
	}
	for _, symbol := range symbols {
		base, ok := cfg.BasePrices[symbol]
		if !ok || base <= 0 {
			f.logger.Warn("no base price for symbol, skipping", zap.String("symbol", symbol))
			continue
		}
		f.symbols = append(f.symbols, symbol)
		f.mids[symbol] = base
	}
	return f
}

// Run publishes a fresh snapshot for every symbol each tick until the
// context is canceled.
func (f *Feeder) Run(ctx context.Context) {
	interval := f.cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	f.logger.Info("demo feed started",
		zap.Duration("interval", interval), zap.Strings("symbols", f.symbols))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	f.tick()
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("demo feed stopped")
			return
		case <-ticker.C:
			f.tick()
		}
	}
}

func (f *Feeder) tick() {
	f.seq++
	now := time.Now()
	for _, symbol := range f.symbols {
		bids, asks := f.generate(symbol)
		key := book.Key{Venue: demoVenue, Symbol: symbol}
		if err := f.engine.ApplySnapshot(key, bids, asks, f.seq, now); err != nil {
			f.logger.Warn("snapshot rejected", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// generate builds both sides around the current mid: a half-spread of
// 0.005% on each side, then levels stepped away at up to 0.02% apart with
// sizes that grow with depth.
func (f *Feeder) generate(symbol string) (bids, asks []models.PriceLevel) {
	mid := f.mids[symbol]
	// Random walk of up to ±0.05% per tick.
	mid *= 1 + (f.rng.Float64()-0.5)*0.001
	f.mids[symbol] = mid

	levels := f.cfg.Levels
	if levels <= 0 {
		levels = 15
	}

	// Coarse price rounding on cheap instruments would collapse the spread.
	precision := int32(2)
	if mid < 1000 {
		precision = 6
	}

	halfSpread := mid * 0.00005
	bid := mid - halfSpread
	ask := mid + halfSpread
	for i := 0; i < levels; i++ {
		step := mid * 0.0002 * f.rng.Float64()
		bid -= step
		ask += step
		qty := 0.05 + f.rng.Float64()*float64(i+1)*0.5

		bids = append(bids, models.PriceLevel{
			Price:    decimal.NewFromFloat(bid).Round(precision),
			Quantity: decimal.NewFromFloat(qty).Round(6),
		})
		asks = append(asks, models.PriceLevel{
			Price:    decimal.NewFromFloat(ask).Round(precision),
			Quantity: decimal.NewFromFloat(qty).Round(6),
		})
	}
	return bids, asks
}
