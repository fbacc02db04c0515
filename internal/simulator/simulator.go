// Package simulator estimates how a hypothetical order would execute against
// a reconstructed book view: fill price and percentage for market and
// spread-crossing orders, queue position for resting limit orders.
package simulator

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/depthsim/pkg/models"
)

var (
	// ErrInvalidOrder means the order parameters cannot be simulated.
	ErrInvalidOrder = errors.New("simulator: invalid order parameters")
	// ErrNoLiquidity means the book lacks the depth to say anything useful.
	ErrNoLiquidity = errors.New("simulator: insufficient book depth")
)

var hundred = decimal.NewFromInt(100)

// Simulate runs a pure walk-the-book estimate of order against view. It never
// panics and never produces NaN: empty or one-sided books and non-positive
// order parameters return an error instead of a result.
func Simulate(order models.SimulatedOrder, view *models.BookView) (*models.ImpactResult, error) {
	if order.Quantity.Sign() <= 0 {
		return nil, ErrInvalidOrder
	}
	if order.Side != models.SideBuy && order.Side != models.SideSell {
		return nil, ErrInvalidOrder
	}
	switch order.Type {
	case models.OrderTypeMarket:
	case models.OrderTypeLimit:
		if order.Price.Sign() <= 0 {
			return nil, ErrInvalidOrder
		}
	default:
		return nil, ErrInvalidOrder
	}
	if !view.HasBothSides() {
		return nil, ErrNoLiquidity
	}

	isBuy := order.Side == models.SideBuy

	// A buy consumes asks and queues among bids; a sell is the mirror.
	levels := view.Asks
	restingLevels := view.Bids
	if !isBuy {
		levels = view.Bids
		restingLevels = view.Asks
	}

	bestBid := view.BestBid
	if bestBid.Sign() == 0 {
		bestBid = view.Bids[0].Price
	}
	bestAsk := view.BestAsk
	if bestAsk.Sign() == 0 {
		bestAsk = view.Asks[0].Price
	}
	midPrice := view.MidPrice
	if midPrice.Sign() == 0 {
		midPrice = bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	}
	if midPrice.Sign() <= 0 {
		return nil, ErrNoLiquidity
	}

	filledQty := decimal.Zero
	filledValue := decimal.Zero
	impactedLevels := 0
	wouldCross := false
	position := -1

	switch {
	case order.Type == models.OrderTypeMarket:
		wouldCross = true
		filledQty, filledValue, impactedLevels = walkBook(levels, order.Quantity, decimal.Zero, false, isBuy)

	case isBuy && order.Price.GreaterThanOrEqual(bestAsk):
		wouldCross = true
		filledQty, filledValue, impactedLevels = walkBook(levels, order.Quantity, order.Price, true, isBuy)

	case !isBuy && order.Price.LessThanOrEqual(bestBid):
		wouldCross = true
		filledQty, filledValue, impactedLevels = walkBook(levels, order.Quantity, order.Price, true, isBuy)

	default:
		// The order rests; count resting levels priced strictly better.
		position = queuePosition(restingLevels, order.Price, isBuy)
		filledQty = order.Quantity
		filledValue = order.Quantity.Mul(order.Price)
	}

	avgFillPrice := order.Price
	if filledQty.Sign() > 0 {
		avgFillPrice = filledValue.Div(filledQty)
	}

	touchPrice := bestAsk
	if !isBuy {
		touchPrice = bestBid
	}
	slippage := avgFillPrice.Sub(midPrice).Abs().Div(midPrice).Mul(hundred)
	priceImpact := avgFillPrice.Sub(touchPrice).Abs().Div(midPrice).Mul(hundred)

	fillPct := filledQty.Div(order.Quantity).Mul(hundred)
	if fillPct.GreaterThan(hundred) {
		fillPct = hundred
	}

	return &models.ImpactResult{
		FillPercentage:    fillPct,
		AverageFillPrice:  avgFillPrice,
		Slippage:          slippage,
		PriceImpact:       priceImpact,
		ImpactedLevels:    impactedLevels,
		WouldCrossSpread:  wouldCross,
		QueuePosition:     position,
		EstimatedFillTime: fillTime(wouldCross, position),
		ImpactLevel:       impactLevel(slippage, impactedLevels),
		TotalCost:         filledValue,
		RemainingQuantity: order.Quantity.Sub(filledQty),
	}, nil
}

// walkBook consumes levels from the best price outward until the quantity is
// filled or the book runs out. With a limit, only levels priced at-or-better
// than limitPrice are touched; the walk stops at the first worse level
// (higher than the limit for a buy, lower for a sell).
func walkBook(levels []models.PriceLevel, quantity, limitPrice decimal.Decimal, limited, isBuy bool) (filledQty, filledValue decimal.Decimal, impacted int) {
	filledQty = decimal.Zero
	filledValue = decimal.Zero
	for i := range levels {
		if filledQty.GreaterThanOrEqual(quantity) {
			break
		}
		level := levels[i]
		if limited {
			if isBuy && level.Price.GreaterThan(limitPrice) {
				break
			}
			if !isBuy && level.Price.LessThan(limitPrice) {
				break
			}
		}
		take := decimal.Min(level.Quantity, quantity.Sub(filledQty))
		filledQty = filledQty.Add(take)
		filledValue = filledValue.Add(take.Mul(level.Price))
		impacted = i + 1
	}
	return filledQty, filledValue, impacted
}

// queuePosition counts resting levels priced strictly better than price.
func queuePosition(restingLevels []models.PriceLevel, price decimal.Decimal, isBuy bool) int {
	for i, level := range restingLevels {
		if isBuy {
			// Resting bids ahead of a new bid are those priced above it.
			if level.Price.LessThan(price) {
				return i
			}
		} else {
			if level.Price.GreaterThan(price) {
				return i
			}
		}
	}
	return len(restingLevels)
}

func fillTime(wouldCross bool, position int) models.FillTime {
	switch {
	case wouldCross:
		return models.FillImmediate
	case position < 5:
		return models.FillFast
	case position < 20:
		return models.FillMedium
	default:
		return models.FillSlow
	}
}

var (
	slippageHigh   = decimal.NewFromFloat(0.5)
	slippageMedium = decimal.NewFromFloat(0.1)
)

func impactLevel(slippage decimal.Decimal, impactedLevels int) models.ImpactLevel {
	switch {
	case slippage.GreaterThan(slippageHigh) || impactedLevels > 10:
		return models.ImpactHigh
	case slippage.GreaterThan(slippageMedium) || impactedLevels > 5:
		return models.ImpactMedium
	default:
		return models.ImpactLow
	}
}
