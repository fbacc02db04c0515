// Package models holds the shared market-data types exchanged between the
// venue adapters, the book engine, the simulator and the API layer.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which side of the book an order consumes.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType identifies how a simulated order executes.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// ConnState is the externally visible connection state of a venue.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnError        ConnState = "error"
)

// PriceLevel is a single price level on one side of a book. Total is the
// cumulative quantity from the best price down to this level and is only
// populated on views produced by the book engine.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Total    decimal.Decimal `json:"total,omitempty"`
}

// BookView is an immutable, read-only view of a reconstructed book for one
// venue+instrument key. The engine builds a fresh view on every accepted
// update and swaps it in atomically; callers must never mutate one.
type BookView struct {
	Venue        string          `json:"venue"`
	Symbol       string          `json:"symbol"`
	Bids         []PriceLevel    `json:"bids"`
	Asks         []PriceLevel    `json:"asks"`
	LastUpdateID int64           `json:"last_update_id,omitempty"`
	BestBid      decimal.Decimal `json:"best_bid"`
	BestAsk      decimal.Decimal `json:"best_ask"`
	Spread       decimal.Decimal `json:"spread"`
	SpreadPct    decimal.Decimal `json:"spread_percent"`
	MidPrice     decimal.Decimal `json:"mid_price"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// HasBothSides reports whether the view carries at least one level on each side.
func (v *BookView) HasBothSides() bool {
	return v != nil && len(v.Bids) > 0 && len(v.Asks) > 0
}

// BookMetrics are aggregate depth statistics derived from a view.
type BookMetrics struct {
	TotalBidVolume   decimal.Decimal `json:"total_bid_volume"`
	TotalAskVolume   decimal.Decimal `json:"total_ask_volume"`
	BidAskRatio      decimal.Decimal `json:"bid_ask_ratio"`
	WeightedMidPrice decimal.Decimal `json:"weighted_mid_price"`
	DepthImbalance   decimal.Decimal `json:"depth_imbalance"`
}

// SimulatedOrder is a hypothetical order evaluated against a book view.
// Price is ignored for market orders.
type SimulatedOrder struct {
	Side     Side            `json:"side"`
	Type     OrderType       `json:"type"`
	Price    decimal.Decimal `json:"price,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
}

// FillTime buckets the expected time for a simulated order to fill.
type FillTime string

const (
	FillImmediate FillTime = "immediate"
	FillFast      FillTime = "fast"
	FillMedium    FillTime = "medium"
	FillSlow      FillTime = "slow"
)

// ImpactLevel grades how disruptive a simulated order would be.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// ImpactResult is the outcome of simulating an order against a book view.
type ImpactResult struct {
	FillPercentage    decimal.Decimal `json:"fill_percentage"`
	AverageFillPrice  decimal.Decimal `json:"average_fill_price"`
	Slippage          decimal.Decimal `json:"slippage"`
	PriceImpact       decimal.Decimal `json:"price_impact"`
	ImpactedLevels    int             `json:"impacted_levels"`
	WouldCrossSpread  bool            `json:"would_cross_spread"`
	QueuePosition     int             `json:"queue_position"`
	EstimatedFillTime FillTime        `json:"estimated_fill_time"`
	ImpactLevel       ImpactLevel     `json:"impact_level"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
}
