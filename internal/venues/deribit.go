package venues

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/depthsim/internal/config"
	"github.com/Aidin1998/depthsim/pkg/models"
)

// handshakeID tags the post-connect public/test request so its response can
// be told apart from subscription responses.
const handshakeID = 1

// Deribit speaks JSON-RPC 2.0. The book.<instrument>.<interval> channel sends
// an initial snapshot followed by change notifications ordered by change_id,
// with levels encoded as [action, price, amount] triplets. Server heartbeats
// must be answered with public/heartbeat and the connection kept warm with
// periodic public/test requests.
type Deribit struct {
	cfg config.Venue
	symbolMapper
	// Request ids are handed out atomically: subscribe requests and the
	// keepalive ticker mint ids from separate goroutines.
	reqID atomic.Int64
}

// NewDeribit builds the Deribit adapter from its wire-table entry.
func NewDeribit(cfg config.Venue) *Deribit {
	if cfg.UpdateRate == "" {
		cfg.UpdateRate = "100ms"
	}
	d := &Deribit{cfg: cfg, symbolMapper: newSymbolMapper(cfg.SymbolMap)}
	d.reqID.Store(handshakeID)
	return d
}

func (d *Deribit) Name() string { return d.cfg.Name }

type deribitEnvelope struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Params *struct {
		Type    string          `json:"type,omitempty"`
		Channel string          `json:"channel,omitempty"`
		Data    json.RawMessage `json:"data,omitempty"`
	} `json:"params,omitempty"`
}

type deribitBook struct {
	Type         string              `json:"type"`
	Timestamp    int64               `json:"timestamp"`
	Instrument   string              `json:"instrument_name"`
	ChangeID     int64               `json:"change_id"`
	PrevChangeID int64               `json:"prev_change_id"`
	Bids         [][]json.RawMessage `json:"bids"`
	Asks         [][]json.RawMessage `json:"asks"`
}

// Classify implements Adapter.
func (d *Deribit) Classify(raw []byte) Message {
	var env deribitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return parseError("deribit: %v", err)
	}

	if env.Error != nil {
		return Message{Kind: KindVenueError, Reason: env.Error.Message}
	}
	if env.Method == "heartbeat" {
		msg := Message{Kind: KindHeartbeat}
		if env.Params != nil {
			msg.heartbeatEcho, _ = json.Marshal(env.Params)
		}
		if env.ID != nil {
			msg.heartbeatID = *env.ID
		}
		return msg
	}
	if env.ID != nil && len(env.Result) > 0 {
		// RPC response. The handshake id confirms the connection is usable;
		// everything else (subscribe results, keepalive test replies) is a
		// plain acknowledgement.
		if *env.ID == handshakeID {
			return Message{Kind: KindConnectionAck}
		}
		return Message{Kind: KindIgnore}
	}

	if env.Method == "subscription" && env.Params != nil && strings.HasPrefix(env.Params.Channel, "book.") {
		var book deribitBook
		if err := json.Unmarshal(env.Params.Data, &book); err != nil {
			return parseError("deribit: book data: %v", err)
		}
		kind := UpdateDelta
		if book.Type == "snapshot" {
			kind = UpdateSnapshot
		}
		instrument := book.Instrument
		if instrument == "" {
			// book.<instrument>.<interval>
			parts := strings.Split(env.Params.Channel, ".")
			if len(parts) >= 2 {
				instrument = parts[1]
			}
		}
		ts := time.Now()
		if book.Timestamp > 0 {
			ts = time.UnixMilli(book.Timestamp)
		}
		return Message{
			Kind: KindBookUpdate,
			Update: &BookUpdate{
				Instrument: instrument,
				Bids:       parseActionLevels(book.Bids, kind == UpdateDelta),
				Asks:       parseActionLevels(book.Asks, kind == UpdateDelta),
				Kind:       kind,
				Sequence:   book.ChangeID,
				Timestamp:  ts,
			},
		}
	}

	return Message{Kind: KindIgnore}
}

// parseActionLevels converts [action, price, amount] triplets. A "delete"
// action collapses to a zero-quantity tombstone.
func parseActionLevels(raw [][]json.RawMessage, allowZero bool) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, len(raw))
	for _, triple := range raw {
		if len(triple) < 3 {
			continue
		}
		var action string
		if err := json.Unmarshal(triple[0], &action); err != nil {
			continue
		}
		price, err := decimal.NewFromString(string(triple[1]))
		if err != nil || price.Sign() <= 0 {
			continue
		}
		qty, err := decimal.NewFromString(string(triple[2]))
		if err != nil || qty.Sign() < 0 {
			continue
		}
		if action == "delete" {
			qty = decimal.Zero
		}
		if qty.Sign() == 0 && !allowZero {
			continue
		}
		levels = append(levels, models.PriceLevel{Price: price, Quantity: qty})
	}
	return levels
}

type deribitRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

func (d *Deribit) channel(instrument string) string {
	return "book." + instrument + "." + d.cfg.UpdateRate
}

func (d *Deribit) nextID() int64 {
	return d.reqID.Add(1)
}

// BuildSubscribe implements Adapter.
func (d *Deribit) BuildSubscribe(instrument string) ([]byte, error) {
	return json.Marshal(deribitRequest{
		JSONRPC: "2.0",
		ID:      d.nextID(),
		Method:  "public/subscribe",
		Params:  map[string][]string{"channels": {d.channel(instrument)}},
	})
}

// BuildUnsubscribe implements Adapter.
func (d *Deribit) BuildUnsubscribe(instrument string) ([]byte, error) {
	return json.Marshal(deribitRequest{
		JSONRPC: "2.0",
		ID:      d.nextID(),
		Method:  "public/unsubscribe",
		Params:  map[string][]string{"channels": {d.channel(instrument)}},
	})
}

// HandshakeRequest implements Adapter: a public/test request whose response
// doubles as the connection acknowledgement.
func (d *Deribit) HandshakeRequest() ([]byte, bool) {
	payload, err := json.Marshal(deribitRequest{
		JSONRPC: "2.0",
		ID:      handshakeID,
		Method:  "public/test",
	})
	if err != nil {
		return nil, false
	}
	return payload, true
}

// KeepalivePayload implements Adapter: periodic public/test keeps the
// connection warm.
func (d *Deribit) KeepalivePayload() ([]byte, bool) {
	payload, err := json.Marshal(deribitRequest{
		JSONRPC: "2.0",
		ID:      d.nextID(),
		Method:  "public/test",
	})
	if err != nil {
		return nil, false
	}
	return payload, true
}

// HeartbeatReply implements Adapter: echo the heartbeat params back through
// public/heartbeat.
func (d *Deribit) HeartbeatReply(msg Message) ([]byte, bool) {
	var params interface{}
	if len(msg.heartbeatEcho) > 0 {
		params = json.RawMessage(msg.heartbeatEcho)
	}
	payload, err := json.Marshal(deribitRequest{
		JSONRPC: "2.0",
		ID:      msg.heartbeatID,
		Method:  "public/heartbeat",
		Params:  params,
	})
	if err != nil {
		return nil, false
	}
	return payload, true
}
