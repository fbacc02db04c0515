// Package supervisor owns one logical websocket connection per venue and
// drives its full lifecycle: connect, handshake, subscribe, steady-state
// keepalives, and backoff-reconnect with resubscription. Venues are fully
// independent; a failing venue never blocks another.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Aidin1998/depthsim/internal/book"
	"github.com/Aidin1998/depthsim/internal/config"
	"github.com/Aidin1998/depthsim/internal/events"
	"github.com/Aidin1998/depthsim/internal/venues"
	"github.com/Aidin1998/depthsim/pkg/metrics"
	"github.com/Aidin1998/depthsim/pkg/models"
)

var (
	// ErrVenueUnknown is returned for venues outside the configured set.
	ErrVenueUnknown = errors.New("supervisor: unknown venue")
	// ErrNotConnected means a wire message could not be sent because the
	// transport is not open. Subscription intent is still recorded.
	ErrNotConnected = errors.New("supervisor: venue not connected")
	// ErrAlreadyConnected means Connect was a no-op.
	ErrAlreadyConnected = errors.New("supervisor: connect already in progress")
)

const writeTimeout = 10 * time.Second

// Supervisor manages the per-venue connections. It is explicitly constructed
// and torn down; independent instances never share state.
type Supervisor struct {
	registry *venues.Registry
	engine   *book.Engine
	eventLog *events.Log
	logger   *zap.Logger

	mu    sync.RWMutex
	conns map[string]*venueConn
}

// New builds a supervisor for every venue in the registry.
func New(venueCfgs []config.Venue, registry *venues.Registry, engine *book.Engine, eventLog *events.Log, logger *zap.Logger) (*Supervisor, error) {
	s := &Supervisor{
		registry: registry,
		engine:   engine,
		eventLog: eventLog,
		logger:   logger.Named("supervisor"),
		conns:    make(map[string]*venueConn, len(venueCfgs)),
	}
	for _, vc := range venueCfgs {
		adapter, ok := registry.Get(vc.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrVenueUnknown, vc.Name)
		}
		s.conns[vc.Name] = &venueConn{
			cfg:      vc,
			adapter:  adapter,
			engine:   engine,
			eventLog: eventLog,
			logger:   s.logger.With(zap.String("venue", vc.Name)),
			state:    models.ConnDisconnected,
			subs:     make(map[string]string),
		}
	}
	return s, nil
}

// Connect starts the connection lifecycle for a venue. It is a no-op when a
// connect sequence is already in flight or the venue is connected; calling it
// on a venue in terminal error state resets the attempt counter and resumes.
func (s *Supervisor) Connect(venue string) error {
	c, err := s.conn(venue)
	if err != nil {
		return err
	}
	return c.start()
}

// Disconnect performs an explicit, clean close for a venue: all timers and
// the read stream are canceled, the subscription set is cleared, the venue's
// books are discarded, and no reconnection is attempted.
func (s *Supervisor) Disconnect(venue string) error {
	c, err := s.conn(venue)
	if err != nil {
		return err
	}
	c.stop()
	s.engine.DropVenue(venue)
	return nil
}

// Close disconnects every venue.
func (s *Supervisor) Close() {
	for _, venue := range s.registry.Names() {
		_ = s.Disconnect(venue)
	}
}

// Subscribe records the subscription and, when the transport is open, sends
// the venue-specific subscribe request. The intent is tracked regardless of
// transport readiness so resubscription after a reconnect is always correct.
func (s *Supervisor) Subscribe(venue, symbol string) error {
	c, err := s.conn(venue)
	if err != nil {
		return err
	}
	return c.subscribe(symbol)
}

// Unsubscribe removes the tracked subscription, sends the unsubscribe
// request when the transport is open, and discards the book for the key.
func (s *Supervisor) Unsubscribe(venue, symbol string) error {
	c, err := s.conn(venue)
	if err != nil {
		return err
	}
	err = c.unsubscribe(symbol)
	s.engine.Drop(book.Key{Venue: venue, Symbol: symbol})
	return err
}

// State returns the connection state for a venue.
func (s *Supervisor) State(venue string) (models.ConnState, error) {
	c, err := s.conn(venue)
	if err != nil {
		return "", err
	}
	return c.currentState(), nil
}

// States returns the connection state of every venue.
func (s *Supervisor) States() map[string]models.ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.ConnState, len(s.conns))
	for venue, c := range s.conns {
		out[venue] = c.currentState()
	}
	return out
}

// Subscriptions returns the tracked display symbols for a venue.
func (s *Supervisor) Subscriptions(venue string) ([]string, error) {
	c, err := s.conn(venue)
	if err != nil {
		return nil, err
	}
	return c.subscriptions(), nil
}

func (s *Supervisor) conn(venue string) (*venueConn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[venue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVenueUnknown, venue)
	}
	return c, nil
}

// venueConn is the single-writer owner of one venue's connection state.
type venueConn struct {
	cfg      config.Venue
	adapter  venues.Adapter
	engine   *book.Engine
	eventLog *events.Log
	logger   *zap.Logger

	mu      sync.Mutex
	state   models.ConnState
	attempt int
	subs    map[string]string // display symbol -> native instrument
	ws      *websocket.Conn
	cancel  context.CancelFunc
	running bool

	writeMu sync.Mutex
}

func (c *venueConn) start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.attempt = 0
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

func (c *venueConn) stop() {
	c.mu.Lock()
	cancel := c.cancel
	ws := c.ws
	running := c.running
	c.cancel = nil
	c.subs = make(map[string]string)
	c.mu.Unlock()

	if ws != nil {
		// Distinguishable clean close; the run loop sees the canceled
		// context and will not schedule a reconnect.
		deadline := time.Now().Add(writeTimeout)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), deadline)
	}
	if cancel != nil {
		cancel()
	}
	if !running {
		// No lifecycle loop is alive to transition the state, e.g. after a
		// terminal backoff exhaustion.
		c.setState(models.ConnDisconnected)
	}
}

// run is the venue's lifecycle loop. It exits on explicit disconnect or
// after the reconnect attempt cap is exhausted.
func (c *venueConn) run(ctx context.Context) {
	defer func() {
		// Explicit disconnect wins over whatever state the loop was in.
		if ctx.Err() != nil {
			c.setState(models.ConnDisconnected)
		}
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			c.setState(models.ConnDisconnected)
			return
		}
		c.setState(models.ConnConnecting)

		ws, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("connect failed", zap.Error(err))
			if !c.backoff(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.attempt = 0
		c.mu.Unlock()
		c.setState(models.ConnConnected)
		c.logger.Info("connected", zap.String("url", c.cfg.WSURL))

		err = c.session(ctx, ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		_ = ws.Close()

		if ctx.Err() != nil {
			c.setState(models.ConnDisconnected)
			c.logger.Info("disconnected")
			return
		}

		c.setState(models.ConnError)
		c.logger.Warn("connection lost", zap.Error(err))
		if !c.backoff(ctx) {
			return
		}
	}
}

// dial opens the transport with the venue's connection-establishment timeout.
func (c *venueConn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	ws, _, err := dialer.DialContext(dialCtx, c.cfg.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", c.cfg.WSURL, err)
	}
	return ws, nil
}

// backoff sleeps base * 2^attempt before the next connect, respecting
// cancellation. It reports false once the attempt cap is reached, leaving
// the venue in terminal error until an explicit reconnect request.
func (c *venueConn) backoff(ctx context.Context) bool {
	c.mu.Lock()
	attempt := c.attempt
	c.attempt++
	c.mu.Unlock()

	if attempt >= c.cfg.MaxReconnectAttempts {
		c.setState(models.ConnError)
		c.eventLog.Record(events.TypeState, c.cfg.Name, "max reconnection attempts reached")
		c.logger.Error("max reconnection attempts reached",
			zap.Int("attempts", c.cfg.MaxReconnectAttempts))
		return false
	}

	delay := c.cfg.ReconnectBase * (1 << attempt)
	metrics.Reconnects.WithLabelValues(c.cfg.Name).Inc()
	c.logger.Info("scheduling reconnect",
		zap.Duration("delay", delay), zap.Int("attempt", attempt+1))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// session runs the steady state for one established connection: handshake,
// resubscription, keepalives and the read loop. It returns when the
// transport fails or the context is canceled.
func (c *venueConn) session(ctx context.Context, ws *websocket.Conn) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the blocking read when the session is torn down.
	go func() {
		<-sessionCtx.Done()
		_ = ws.Close()
	}()

	if payload, ok := c.adapter.HandshakeRequest(); ok {
		if err := c.write(ws, payload); err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
	}

	if err := c.resubscribe(ws); err != nil {
		return err
	}

	if c.cfg.PingInterval > 0 {
		if _, ok := c.adapter.KeepalivePayload(); ok {
			go c.keepalive(sessionCtx, ws)
		}
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		metrics.MessagesReceived.WithLabelValues(c.cfg.Name).Inc()
		c.handleMessage(ws, raw)
	}
}

func (c *venueConn) keepalive(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, ok := c.adapter.KeepalivePayload()
			if !ok {
				return
			}
			if err := c.write(ws, payload); err != nil {
				c.logger.Warn("keepalive write failed", zap.Error(err))
				return
			}
		}
	}
}

// resubscribe replays every tracked subscription onto a fresh connection.
func (c *venueConn) resubscribe(ws *websocket.Conn) error {
	c.mu.Lock()
	natives := make([]string, 0, len(c.subs))
	for _, native := range c.subs {
		natives = append(natives, native)
	}
	c.mu.Unlock()

	for _, native := range natives {
		payload, err := c.adapter.BuildSubscribe(native)
		if err != nil {
			return fmt.Errorf("build subscribe %s: %w", native, err)
		}
		if err := c.write(ws, payload); err != nil {
			return fmt.Errorf("resubscribe %s: %w", native, err)
		}
		c.logger.Info("resubscribed", zap.String("instrument", native))
	}
	return nil
}

// handleMessage classifies one inbound payload and acts on it. Per-message
// errors never unwind the connection.
func (c *venueConn) handleMessage(ws *websocket.Conn, raw []byte) {
	msg := c.adapter.Classify(raw)
	switch msg.Kind {
	case venues.KindIgnore:
	case venues.KindParseError:
		metrics.ParseErrors.WithLabelValues(c.cfg.Name).Inc()
		c.eventLog.Record(events.TypeProtocol, c.cfg.Name, msg.Reason)
		c.logger.Debug("unparseable message dropped", zap.String("reason", msg.Reason))
	case venues.KindConnectionAck:
		c.logger.Info("connection acknowledged")
	case venues.KindSubscriptionAck:
		c.logger.Info("subscription acknowledged", zap.String("channel", msg.Channel))
	case venues.KindHeartbeat:
		if payload, ok := c.adapter.HeartbeatReply(msg); ok {
			if err := c.write(ws, payload); err != nil {
				c.logger.Warn("heartbeat reply failed", zap.Error(err))
			}
		}
	case venues.KindVenueError:
		// Venue-reported application error: surfaced, connection stays up
		// unless the venue closes it.
		c.eventLog.Record(events.TypeVenue, c.cfg.Name, msg.Reason)
		c.logger.Warn("venue error", zap.String("reason", msg.Reason))
	case venues.KindBookUpdate:
		c.applyUpdate(msg.Update)
	}
}

// applyUpdate forwards a canonical book update to the engine, resolving the
// instrument for venues whose stream payloads omit it.
func (c *venueConn) applyUpdate(update *venues.BookUpdate) {
	if update == nil {
		return
	}
	native := update.Instrument
	if native == "" {
		c.mu.Lock()
		if len(c.subs) == 1 {
			for _, n := range c.subs {
				native = n
			}
		}
		c.mu.Unlock()
		if native == "" {
			c.logger.Debug("book update without instrument dropped")
			return
		}
	}

	display := c.adapter.DisplaySymbol(native)
	c.mu.Lock()
	_, tracked := c.subs[display]
	c.mu.Unlock()
	if !tracked {
		// Late messages after an unsubscribe must not resurrect the book.
		c.logger.Debug("update for untracked instrument dropped",
			zap.String("instrument", native))
		return
	}

	key := book.Key{Venue: c.cfg.Name, Symbol: display}
	var err error
	switch update.Kind {
	case venues.UpdateSnapshot:
		err = c.engine.ApplySnapshot(key, update.Bids, update.Asks, update.Sequence, update.Timestamp)
	case venues.UpdateDelta:
		err = c.engine.ApplyDelta(key, update.Bids, update.Asks, update.Sequence, update.Timestamp)
	}
	if err != nil {
		if errors.Is(err, book.ErrCrossedBook) {
			c.eventLog.Record(events.TypeData, c.cfg.Name,
				fmt.Sprintf("rejected crossing update for %s", display))
		}
		c.logger.Debug("book update rejected",
			zap.String("symbol", display), zap.Error(err))
	}
}

func (c *venueConn) subscribe(symbol string) error {
	native := c.adapter.NativeSymbol(symbol)

	c.mu.Lock()
	c.subs[symbol] = native
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return ErrNotConnected
	}
	payload, err := c.adapter.BuildSubscribe(native)
	if err != nil {
		return err
	}
	if err := c.write(ws, payload); err != nil {
		return err
	}
	c.logger.Info("subscribed",
		zap.String("symbol", symbol), zap.String("instrument", native))
	return nil
}

func (c *venueConn) unsubscribe(symbol string) error {
	c.mu.Lock()
	native, tracked := c.subs[symbol]
	delete(c.subs, symbol)
	ws := c.ws
	c.mu.Unlock()

	if !tracked {
		native = c.adapter.NativeSymbol(symbol)
	}
	if ws == nil {
		return ErrNotConnected
	}
	payload, err := c.adapter.BuildUnsubscribe(native)
	if err != nil {
		return err
	}
	if err := c.write(ws, payload); err != nil {
		return err
	}
	c.logger.Info("unsubscribed", zap.String("symbol", symbol))
	return nil
}

func (c *venueConn) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for symbol := range c.subs {
		out = append(out, symbol)
	}
	return out
}

// write serializes outbound frames; gorilla permits one concurrent writer.
func (c *venueConn) write(ws *websocket.Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *venueConn) currentState() models.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *venueConn) setState(state models.ConnState) {
	c.mu.Lock()
	prev := c.state
	c.state = state
	c.mu.Unlock()

	if prev == state {
		return
	}
	for _, s := range []models.ConnState{models.ConnDisconnected, models.ConnConnecting, models.ConnConnected, models.ConnError} {
		value := 0.0
		if s == state {
			value = 1.0
		}
		metrics.ConnectionState.WithLabelValues(c.cfg.Name, string(s)).Set(value)
	}
	c.eventLog.Record(events.TypeState, c.cfg.Name, string(state))
	c.logger.Info("state change",
		zap.String("from", string(prev)), zap.String("to", string(state)))
}
