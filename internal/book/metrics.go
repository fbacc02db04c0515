package book

import (
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/depthsim/pkg/models"
)

// ComputeMetrics derives aggregate depth statistics from a view. Empty views
// yield zero metrics rather than division errors.
func ComputeMetrics(view *models.BookView) models.BookMetrics {
	var m models.BookMetrics
	if view == nil {
		return m
	}

	bidVolume, bidNotional := sideTotals(view.Bids)
	askVolume, askNotional := sideTotals(view.Asks)

	m.TotalBidVolume = bidVolume
	m.TotalAskVolume = askVolume
	if askVolume.Sign() > 0 {
		m.BidAskRatio = bidVolume.Div(askVolume)
	}
	totalVolume := bidVolume.Add(askVolume)
	if totalVolume.Sign() > 0 {
		m.WeightedMidPrice = bidNotional.Add(askNotional).Div(totalVolume)
		// -1 = all asks, +1 = all bids, 0 = balanced.
		m.DepthImbalance = bidVolume.Sub(askVolume).Div(totalVolume)
	}
	return m
}

func sideTotals(levels []models.PriceLevel) (volume, notional decimal.Decimal) {
	volume = decimal.Zero
	notional = decimal.Zero
	for _, lvl := range levels {
		volume = volume.Add(lvl.Quantity)
		notional = notional.Add(lvl.Price.Mul(lvl.Quantity))
	}
	return volume, notional
}
