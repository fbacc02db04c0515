// Package book reconstructs canonical order books from venue snapshots and
// deltas. One book exists per (venue, instrument) key; the engine is the sole
// mutator and serves immutable views that are swapped in atomically, so
// readers always observe a fully-applied update.
package book

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/depthsim/pkg/metrics"
	"github.com/Aidin1998/depthsim/pkg/models"
)

var (
	// ErrNoBook means a delta arrived before any snapshot created the book.
	ErrNoBook = errors.New("book: no book for key, delta dropped")
	// ErrStaleDelta means the delta's sequence marker is not newer than the
	// last applied one.
	ErrStaleDelta = errors.New("book: stale or duplicate delta")
	// ErrCrossedBook means applying the update would cross best bid over
	// best ask; the prior book is kept untouched.
	ErrCrossedBook = errors.New("book: update would cross the book")
)

// Key identifies one canonical book.
type Key struct {
	Venue  string `json:"venue"`
	Symbol string `json:"symbol"`
}

func (k Key) String() string { return k.Venue + ":" + k.Symbol }

// bookState is the engine-owned mutable state behind one key. The side maps
// are keyed by the canonical decimal string of the price, which also
// de-duplicates levels per side.
type bookState struct {
	bids    map[string]models.PriceLevel
	asks    map[string]models.PriceLevel
	lastSeq int64
	view    *models.BookView
}

// Engine applies snapshots and deltas and maintains one view per key.
type Engine struct {
	mu       sync.RWMutex
	books    map[Key]*bookState
	maxDepth int
	logger   *zap.Logger

	subMu   sync.RWMutex
	subs    map[int]chan *models.BookView
	nextSub int
}

// NewEngine creates an engine capping each side at maxDepth levels.
func NewEngine(maxDepth int, logger *zap.Logger) *Engine {
	if maxDepth <= 0 {
		maxDepth = 20
	}
	return &Engine{
		books:    make(map[Key]*bookState),
		maxDepth: maxDepth,
		logger:   logger.Named("book"),
		subs:     make(map[int]chan *models.BookView),
	}
}

// ApplySnapshot replaces the book under key wholesale. Duplicate prices in
// the same snapshot resolve last-write-wins; non-positive prices and
// quantities are filtered. Applying the same snapshot twice is idempotent.
func (e *Engine) ApplySnapshot(key Key, bids, asks []models.PriceLevel, seq int64, ts time.Time) error {
	newBids := levelMap(bids, false)
	newAsks := levelMap(asks, false)

	e.mu.Lock()
	view, err := buildView(key, newBids, newAsks, seq, ts, e.maxDepth)
	if err != nil {
		e.mu.Unlock()
		metrics.RejectedUpdates.WithLabelValues(key.Venue, "crossed").Inc()
		e.logger.Warn("rejected crossed snapshot",
			zap.String("key", key.String()), zap.Int64("seq", seq))
		return err
	}
	state, ok := e.books[key]
	if !ok {
		state = &bookState{}
		e.books[key] = state
	}
	state.bids = trimmedMap(view.Bids)
	state.asks = trimmedMap(view.Asks)
	state.lastSeq = seq
	state.view = view
	e.mu.Unlock()

	metrics.BookUpdates.WithLabelValues(key.Venue, "snapshot").Inc()
	e.publish(view)
	return nil
}

// ApplyDelta applies incremental per-price updates. A zero quantity removes
// the level; anything else upserts it. Deltas never create a book: the first
// message on a fresh subscription must be a snapshot. Stale deltas (sequence
// marker not newer than the last applied, when both are present) and deltas
// that would cross the book are dropped whole, leaving the prior state.
func (e *Engine) ApplyDelta(key Key, bids, asks []models.PriceLevel, seq int64, ts time.Time) error {
	e.mu.Lock()
	state, ok := e.books[key]
	if !ok || state.view == nil {
		e.mu.Unlock()
		metrics.RejectedUpdates.WithLabelValues(key.Venue, "no_book").Inc()
		e.logger.Debug("delta before snapshot dropped", zap.String("key", key.String()))
		return ErrNoBook
	}
	if seq != 0 && state.lastSeq != 0 && seq <= state.lastSeq {
		e.mu.Unlock()
		metrics.RejectedUpdates.WithLabelValues(key.Venue, "stale").Inc()
		e.logger.Debug("stale delta dropped",
			zap.String("key", key.String()),
			zap.Int64("seq", seq), zap.Int64("last_seq", state.lastSeq))
		return ErrStaleDelta
	}

	// Apply against copies so a rejected delta leaves no partial state.
	newBids := applyLevels(state.bids, bids)
	newAsks := applyLevels(state.asks, asks)

	view, err := buildView(key, newBids, newAsks, seq, ts, e.maxDepth)
	if err != nil {
		e.mu.Unlock()
		metrics.RejectedUpdates.WithLabelValues(key.Venue, "crossed").Inc()
		e.logger.Warn("rejected crossing delta",
			zap.String("key", key.String()), zap.Int64("seq", seq))
		return err
	}
	state.bids = trimmedMap(view.Bids)
	state.asks = trimmedMap(view.Asks)
	if seq != 0 {
		state.lastSeq = seq
	}
	state.view = view
	e.mu.Unlock()

	metrics.BookUpdates.WithLabelValues(key.Venue, "delta").Inc()
	e.publish(view)
	return nil
}

// View returns the current immutable view for key.
func (e *Engine) View(key Key) (*models.BookView, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state, ok := e.books[key]
	if !ok || state.view == nil {
		return nil, false
	}
	return state.view, true
}

// Drop discards the book for key, typically on subscription teardown.
func (e *Engine) Drop(key Key) {
	e.mu.Lock()
	delete(e.books, key)
	e.mu.Unlock()
}

// DropVenue discards every book belonging to a venue.
func (e *Engine) DropVenue(venue string) {
	e.mu.Lock()
	for key := range e.books {
		if key.Venue == venue {
			delete(e.books, key)
		}
	}
	e.mu.Unlock()
}

// Keys lists the keys with a live book.
func (e *Engine) Keys() []Key {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]Key, 0, len(e.books))
	for key := range e.books {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Subscribe registers a consumer for accepted book views. Slow consumers
// miss intermediate views rather than blocking the update path. The returned
// cancel function unregisters and closes the channel.
func (e *Engine) Subscribe(buffer int) (<-chan *models.BookView, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *models.BookView, buffer)
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	cancel := func() {
		e.subMu.Lock()
		if existing, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(existing)
		}
		e.subMu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) publish(view *models.BookView) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- view:
		default:
			// Channel full, drop; the next view supersedes this one anyway.
		}
	}
}

// levelMap filters and de-duplicates levels into a price-keyed map.
func levelMap(levels []models.PriceLevel, allowZero bool) map[string]models.PriceLevel {
	m := make(map[string]models.PriceLevel, len(levels))
	for _, lvl := range levels {
		if lvl.Price.Sign() <= 0 || lvl.Quantity.Sign() < 0 {
			continue
		}
		if lvl.Quantity.Sign() == 0 && !allowZero {
			continue
		}
		m[lvl.Price.String()] = models.PriceLevel{Price: lvl.Price, Quantity: lvl.Quantity}
	}
	return m
}

// applyLevels copies the base map and applies delta instructions to the copy.
func applyLevels(base map[string]models.PriceLevel, updates []models.PriceLevel) map[string]models.PriceLevel {
	out := make(map[string]models.PriceLevel, len(base)+len(updates))
	for k, v := range base {
		out[k] = v
	}
	for _, lvl := range updates {
		if lvl.Price.Sign() <= 0 || lvl.Quantity.Sign() < 0 {
			continue
		}
		priceKey := lvl.Price.String()
		if lvl.Quantity.Sign() == 0 {
			delete(out, priceKey)
			continue
		}
		out[priceKey] = models.PriceLevel{Price: lvl.Price, Quantity: lvl.Quantity}
	}
	return out
}

// trimmedMap rebuilds the side map from the capped view levels so the
// retained state matches what readers see.
func trimmedMap(levels []models.PriceLevel) map[string]models.PriceLevel {
	m := make(map[string]models.PriceLevel, len(levels))
	for _, lvl := range levels {
		m[lvl.Price.String()] = models.PriceLevel{Price: lvl.Price, Quantity: lvl.Quantity}
	}
	return m
}

// buildView sorts both sides, caps the depth, computes cumulative totals and
// derived prices, and rejects crossed books.
func buildView(key Key, bids, asks map[string]models.PriceLevel, seq int64, ts time.Time, maxDepth int) (*models.BookView, error) {
	sortedBids := sortSide(bids, true, maxDepth)
	sortedAsks := sortSide(asks, false, maxDepth)

	view := &models.BookView{
		Venue:        key.Venue,
		Symbol:       key.Symbol,
		Bids:         sortedBids,
		Asks:         sortedAsks,
		LastUpdateID: seq,
		UpdatedAt:    ts,
	}
	if len(sortedBids) > 0 {
		view.BestBid = sortedBids[0].Price
	}
	if len(sortedAsks) > 0 {
		view.BestAsk = sortedAsks[0].Price
	}
	if len(sortedBids) > 0 && len(sortedAsks) > 0 {
		if view.BestBid.GreaterThanOrEqual(view.BestAsk) {
			return nil, ErrCrossedBook
		}
		view.Spread = view.BestAsk.Sub(view.BestBid)
		view.MidPrice = view.BestBid.Add(view.BestAsk).Div(decimal.NewFromInt(2))
		if view.MidPrice.Sign() > 0 {
			view.SpreadPct = view.Spread.Div(view.MidPrice).Mul(decimal.NewFromInt(100))
		}
	}
	return view, nil
}

// sortSide orders one side by price priority, trims to maxDepth, and fills
// in cumulative totals over the retained levels.
func sortSide(side map[string]models.PriceLevel, descending bool, maxDepth int) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, len(side))
	for _, lvl := range side {
		levels = append(levels, lvl)
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	if len(levels) > maxDepth {
		levels = levels[:maxDepth]
	}
	running := decimal.Zero
	for i := range levels {
		running = running.Add(levels[i].Quantity)
		levels[i].Total = running
	}
	return levels
}
