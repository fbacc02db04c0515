package venues

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Aidin1998/depthsim/internal/config"
)

// Bybit speaks the v5 public spot protocol. The orderbook.<depth> topic sends
// one full snapshot per subscription followed by incremental deltas keyed by
// a monotonic update id, and expects the client both to ping proactively and
// to answer server-initiated pings.
type Bybit struct {
	cfg config.Venue
	symbolMapper
}

// NewBybit builds the Bybit adapter from its wire-table entry.
func NewBybit(cfg config.Venue) *Bybit {
	if cfg.Depth <= 0 {
		cfg.Depth = 50
	}
	return &Bybit{cfg: cfg, symbolMapper: newSymbolMapper(cfg.SymbolMap)}
}

func (b *Bybit) Name() string { return b.cfg.Name }

type bybitEnvelope struct {
	Success *bool  `json:"success,omitempty"`
	Op      string `json:"op,omitempty"`
	RetMsg  string `json:"ret_msg,omitempty"`
	ConnID  string `json:"conn_id,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Type    string `json:"type,omitempty"`
	TS      int64  `json:"ts,omitempty"`
	Data    *struct {
		Symbol   string     `json:"s"`
		Bids     [][]string `json:"b"`
		Asks     [][]string `json:"a"`
		UpdateID int64      `json:"u"`
		Seq      int64      `json:"seq"`
	} `json:"data,omitempty"`
}

// Classify implements Adapter.
func (b *Bybit) Classify(raw []byte) Message {
	var env bybitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return parseError("bybit: %v", err)
	}

	if env.Op == "ping" || env.Op == "pong" || env.RetMsg == "pong" {
		msg := Message{Kind: KindHeartbeat}
		if env.Op == "ping" && env.RetMsg != "pong" {
			// Server-initiated ping wants an op:pong back. A ret_msg of
			// pong is the response to our own ping and needs no reply.
			msg.heartbeatEcho = []byte("ping")
		}
		return msg
	}
	if env.Success != nil {
		if !*env.Success {
			return Message{Kind: KindVenueError, Reason: env.RetMsg}
		}
		switch env.Op {
		case "subscribe", "unsubscribe":
			return Message{Kind: KindSubscriptionAck, Channel: env.RetMsg}
		case "auth":
			return Message{Kind: KindConnectionAck}
		default:
			return Message{Kind: KindIgnore}
		}
	}

	if strings.HasPrefix(env.Topic, "orderbook.") && env.Data != nil {
		kind := UpdateDelta
		if env.Type == "snapshot" {
			kind = UpdateSnapshot
		}
		instrument := env.Data.Symbol
		if instrument == "" {
			// orderbook.<depth>.<symbol>
			parts := strings.Split(env.Topic, ".")
			instrument = parts[len(parts)-1]
		}
		ts := time.Now()
		if env.TS > 0 {
			ts = time.UnixMilli(env.TS)
		}
		return Message{
			Kind: KindBookUpdate,
			Update: &BookUpdate{
				Instrument: instrument,
				Bids:       parseStringLevels(env.Data.Bids, kind == UpdateDelta),
				Asks:       parseStringLevels(env.Data.Asks, kind == UpdateDelta),
				Kind:       kind,
				Sequence:   env.Data.UpdateID,
				Timestamp:  ts,
			},
		}
	}

	return Message{Kind: KindIgnore}
}

type bybitRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

func (b *Bybit) topic(instrument string) string {
	return "orderbook." + strconv.Itoa(b.cfg.Depth) + "." + instrument
}

// BuildSubscribe implements Adapter.
func (b *Bybit) BuildSubscribe(instrument string) ([]byte, error) {
	return json.Marshal(bybitRequest{Op: "subscribe", Args: []string{b.topic(instrument)}})
}

// BuildUnsubscribe implements Adapter.
func (b *Bybit) BuildUnsubscribe(instrument string) ([]byte, error) {
	return json.Marshal(bybitRequest{Op: "unsubscribe", Args: []string{b.topic(instrument)}})
}

// HandshakeRequest implements Adapter; the public spot stream needs none.
func (b *Bybit) HandshakeRequest() ([]byte, bool) { return nil, false }

// KeepalivePayload implements Adapter: Bybit expects a client op:ping.
func (b *Bybit) KeepalivePayload() ([]byte, bool) {
	payload, err := json.Marshal(bybitRequest{Op: "ping"})
	if err != nil {
		return nil, false
	}
	return payload, true
}

// HeartbeatReply implements Adapter: answer a server op:ping with op:pong.
func (b *Bybit) HeartbeatReply(msg Message) ([]byte, bool) {
	if string(msg.heartbeatEcho) != "ping" {
		return nil, false
	}
	payload, err := json.Marshal(bybitRequest{Op: "pong"})
	if err != nil {
		return nil, false
	}
	return payload, true
}
