// Package venues implements the per-venue wire protocols: message
// classification, subscription payloads and heartbeat handling. Each venue is
// one Adapter implementation selected through a venue-keyed Registry; the
// supervisor and book engine never branch on venue names.
package venues

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/depthsim/internal/config"
	"github.com/Aidin1998/depthsim/pkg/models"
)

var (
	// ErrVenueUnknown is returned by the registry for unconfigured venues.
	ErrVenueUnknown = errors.New("venues: unknown venue")
	// ErrUnsupportedMessage marks messages an adapter cannot build a reply for.
	ErrUnsupportedMessage = errors.New("venues: unsupported message")
)

// Kind classifies an inbound venue message.
type Kind int

const (
	// KindIgnore marks valid messages that carry nothing actionable
	// (e.g. JSON-RPC responses to requests we do not track).
	KindIgnore Kind = iota
	KindConnectionAck
	KindSubscriptionAck
	KindHeartbeat
	KindVenueError
	KindBookUpdate
	// KindParseError marks malformed input; the caller logs and drops it.
	KindParseError
)

func (k Kind) String() string {
	switch k {
	case KindIgnore:
		return "ignore"
	case KindConnectionAck:
		return "connection_ack"
	case KindSubscriptionAck:
		return "subscription_ack"
	case KindHeartbeat:
		return "heartbeat"
	case KindVenueError:
		return "venue_error"
	case KindBookUpdate:
		return "book_update"
	case KindParseError:
		return "parse_error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// UpdateKind distinguishes wholesale snapshots from incremental deltas.
type UpdateKind string

const (
	UpdateSnapshot UpdateKind = "snapshot"
	UpdateDelta    UpdateKind = "delta"
)

// BookUpdate is the canonical, venue-agnostic form of a book message.
// In delta payloads a zero quantity is a deletion instruction for that price.
// Instrument may be empty for venues whose raw stream omits the symbol; the
// supervisor resolves it from the tracked subscription in that case.
type BookUpdate struct {
	Instrument string
	Bids       []models.PriceLevel
	Asks       []models.PriceLevel
	Kind       UpdateKind
	Sequence   int64
	Timestamp  time.Time
}

// Message is the result of classifying one raw inbound payload.
type Message struct {
	Kind    Kind
	Channel string      // subscription channel for SubscriptionAck
	Reason  string      // human-readable detail for VenueError/ParseError
	Update  *BookUpdate // populated for KindBookUpdate
	// heartbeatEcho carries venue-specific fields a reply must echo back.
	heartbeatEcho []byte
	heartbeatID   int64
}

// Adapter is the per-venue protocol rule set. Implementations are pure:
// Classify has no side effects and adapters hold no connection state.
type Adapter interface {
	// Name returns the venue identifier used as registry key.
	Name() string
	// Classify turns one raw inbound message into a canonical Message.
	// Malformed input yields KindParseError, never a panic or an error return.
	Classify(raw []byte) Message
	// BuildSubscribe builds the wire payload subscribing to the book channel
	// for a native instrument.
	BuildSubscribe(instrument string) ([]byte, error)
	// BuildUnsubscribe builds the matching unsubscription payload.
	BuildUnsubscribe(instrument string) ([]byte, error)
	// HandshakeRequest returns a post-connect request some venues require
	// before subscribing; ok is false when the venue has none.
	HandshakeRequest() ([]byte, bool)
	// KeepalivePayload returns the client-initiated keepalive message; ok is
	// false for venues where the transport-level ping suffices.
	KeepalivePayload() ([]byte, bool)
	// HeartbeatReply builds the answer to a server-initiated heartbeat; ok is
	// false when the message needs no reply.
	HeartbeatReply(msg Message) ([]byte, bool)
	// NativeSymbol maps a display symbol (BTC-USD) to the venue instrument.
	NativeSymbol(symbol string) string
	// DisplaySymbol maps a venue instrument back to the display symbol.
	DisplaySymbol(instrument string) string
}

// Registry holds the configured venue adapters. It is explicitly constructed
// and owned by the caller so independent instances never interfere.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry builds adapters for every configured venue. Unknown venue names
// are an error: a venue entry without a parser cannot be served.
func NewRegistry(venueCfgs []config.Venue) (*Registry, error) {
	reg := &Registry{adapters: make(map[string]Adapter, len(venueCfgs))}
	for _, vc := range venueCfgs {
		var adapter Adapter
		switch vc.Name {
		case "binance":
			adapter = NewBinance(vc)
		case "bybit":
			adapter = NewBybit(vc)
		case "deribit":
			adapter = NewDeribit(vc)
		default:
			return nil, fmt.Errorf("%w: %s", ErrVenueUnknown, vc.Name)
		}
		reg.adapters[vc.Name] = adapter
		reg.order = append(reg.order, vc.Name)
	}
	return reg, nil
}

// Get returns the adapter for a venue.
func (r *Registry) Get(venue string) (Adapter, bool) {
	a, ok := r.adapters[venue]
	return a, ok
}

// Names returns the configured venue names in configuration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// symbolMapper provides the shared two-way symbol translation.
type symbolMapper struct {
	toNative  map[string]string
	toDisplay map[string]string
}

func newSymbolMapper(mapping map[string]string) symbolMapper {
	m := symbolMapper{
		toNative:  make(map[string]string, len(mapping)),
		toDisplay: make(map[string]string, len(mapping)),
	}
	for display, native := range mapping {
		m.toNative[display] = native
		m.toDisplay[native] = display
	}
	return m
}

func (m symbolMapper) NativeSymbol(symbol string) string {
	if native, ok := m.toNative[symbol]; ok {
		return native
	}
	return symbol
}

func (m symbolMapper) DisplaySymbol(instrument string) string {
	if display, ok := m.toDisplay[instrument]; ok {
		return display
	}
	return instrument
}

// parseStringLevels converts [["price","qty"], ...] pairs into price levels.
// Levels with non-positive price or negative quantity are dropped; zero
// quantities survive only when allowZero is set (delta deletions).
func parseStringLevels(raw [][]string, allowZero bool) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil || price.Sign() <= 0 {
			continue
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil || qty.Sign() < 0 {
			continue
		}
		if qty.Sign() == 0 && !allowZero {
			continue
		}
		levels = append(levels, models.PriceLevel{Price: price, Quantity: qty})
	}
	return levels
}

func parseError(format string, args ...interface{}) Message {
	return Message{Kind: KindParseError, Reason: fmt.Sprintf(format, args...)}
}
