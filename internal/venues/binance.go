package venues

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/depthsim/internal/config"
)

// Binance speaks the public stream protocol at stream.binance.com. The
// partial-depth stream (symbol@depth<levels>@<rate>) delivers a full top-N
// snapshot on every tick, so every book update is a wholesale replacement.
type Binance struct {
	cfg config.Venue
	symbolMapper
	// Request ids are handed out atomically: subscribe/unsubscribe requests
	// arrive from API handlers and from resubscribe replay concurrently.
	subID atomic.Int64
}

// NewBinance builds the Binance adapter from its wire-table entry.
func NewBinance(cfg config.Venue) *Binance {
	if cfg.Depth <= 0 {
		cfg.Depth = 20
	}
	if cfg.UpdateRate == "" {
		cfg.UpdateRate = "100ms"
	}
	return &Binance{cfg: cfg, symbolMapper: newSymbolMapper(cfg.SymbolMap)}
}

func (b *Binance) Name() string { return b.cfg.Name }

type binanceEnvelope struct {
	// Subscription responses.
	ID     *int64          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error,omitempty"`
	// Combined-stream wrapper.
	Stream string          `json:"stream,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	// Bare partial-depth payload.
	LastUpdateID int64      `json:"lastUpdateId,omitempty"`
	Bids         [][]string `json:"bids,omitempty"`
	Asks         [][]string `json:"asks,omitempty"`
}

// Classify implements Adapter.
func (b *Binance) Classify(raw []byte) Message {
	var env binanceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return parseError("binance: %v", err)
	}

	if env.Error != nil {
		return Message{Kind: KindVenueError, Reason: fmt.Sprintf("code %d: %s", env.Error.Code, env.Error.Msg)}
	}
	// A null result echoing our request id confirms the subscription.
	if env.ID != nil {
		return Message{Kind: KindSubscriptionAck}
	}

	if env.Stream != "" {
		if !strings.Contains(env.Stream, "@depth") {
			return Message{Kind: KindIgnore}
		}
		var depth binanceEnvelope
		if err := json.Unmarshal(env.Data, &depth); err != nil {
			return parseError("binance: stream data: %v", err)
		}
		instrument := strings.ToUpper(strings.SplitN(env.Stream, "@", 2)[0])
		return b.bookUpdate(instrument, &depth)
	}

	if env.LastUpdateID != 0 && (len(env.Bids) > 0 || len(env.Asks) > 0) {
		// Bare stream payloads omit the symbol; the supervisor resolves it
		// from the tracked subscription.
		return b.bookUpdate("", &env)
	}

	return Message{Kind: KindIgnore}
}

func (b *Binance) bookUpdate(instrument string, depth *binanceEnvelope) Message {
	return Message{
		Kind: KindBookUpdate,
		Update: &BookUpdate{
			Instrument: instrument,
			Bids:       parseStringLevels(depth.Bids, false),
			Asks:       parseStringLevels(depth.Asks, false),
			Kind:       UpdateSnapshot,
			Sequence:   depth.LastUpdateID,
			Timestamp:  time.Now(),
		},
	}
}

func (b *Binance) channel(instrument string) string {
	return fmt.Sprintf("%s@depth%d@%s", strings.ToLower(instrument), b.cfg.Depth, b.cfg.UpdateRate)
}

type binanceRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// BuildSubscribe implements Adapter.
func (b *Binance) BuildSubscribe(instrument string) ([]byte, error) {
	return json.Marshal(binanceRequest{
		Method: "SUBSCRIBE",
		Params: []string{b.channel(instrument)},
		ID:     b.subID.Add(1),
	})
}

// BuildUnsubscribe implements Adapter.
func (b *Binance) BuildUnsubscribe(instrument string) ([]byte, error) {
	return json.Marshal(binanceRequest{
		Method: "UNSUBSCRIBE",
		Params: []string{b.channel(instrument)},
		ID:     b.subID.Add(1),
	})
}

// HandshakeRequest implements Adapter; Binance needs none.
func (b *Binance) HandshakeRequest() ([]byte, bool) { return nil, false }

// KeepalivePayload implements Adapter. Binance pings at the websocket
// protocol level and the transport answers those automatically.
func (b *Binance) KeepalivePayload() ([]byte, bool) { return nil, false }

// HeartbeatReply implements Adapter; Binance sends no application heartbeats.
func (b *Binance) HeartbeatReply(Message) ([]byte, bool) { return nil, false }
