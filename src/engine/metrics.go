package engine

import "math"

type MarkingMethod int

const (
	MarkMid  MarkingMethod = 0
	MarkLast MarkingMethod = 1
)

const (
	TradingDaysPerYear = 252
	HoursPerDay        = 6.5
)

type MetricsConfig struct {
	TickSize                 float64
	MakerRebatePerShareTicks int64
	TakerFeePerShareTicks    int64
	ReturnBucketIntervalUs   int64
	MarkingMethod            MarkingMethod
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		TickSize:                 0.01,
		MakerRebatePerShareTicks: 0,
		TakerFeePerShareTicks:    0,
		ReturnBucketIntervalUs:   100_000,
		MarkingMethod:            MarkMid,
	}
}

// OrderCacheData remembers per-order arrival context for slippage and fill
// attribution.
type OrderCacheData struct {
	Side                  Side
	ArrivalMarkPriceTicks int64
	ArrivalTimestampUs    int64
	IntendedQuantity      int64
	RemainingQty          int64
	IsIOC                 bool
}

// Metrics accumulates P&L, fill and risk statistics from book events.
// All money-like quantities are integer ticks; only ratios, volatility and
// Sharpe use floating point.
type Metrics struct {
	Config MetricsConfig

	Position               int64
	AverageEntryPriceTicks int64
	RealizedPnlTicks       int64
	UnrealizedPnlTicks     int64
	TotalPnlTicks          int64
	FeesTicks              int64

	GrossTradedQty      int64
	RestingAttemptedQty int64
	RestingFilledQty    int64
	RestingCancelledQty int64
	TotalSlippageTicks  int64

	EquityValuePeakTicks int64
	MaxDrawdownTicks     int64
	equityInitialized    bool

	GrossProfit   int64
	GrossLoss     int64
	winningTrades int64
	losingTrades  int64
	closingTrades int64

	TimestampSeries          []int64
	TotalPnlTicksSeries      []int64
	RealizedPnlTicksSeries   []int64
	UnrealizedPnlTicksSeries []int64
	SpreadTicksSeries        []int64
	MarketPriceTicksSeries   []int64
	ReturnsSeries            []int64

	LastReturnBucketStartUs       int64
	LastReturnBucketTotalPnlTicks int64

	CurrentBestBidPriceTicks int64
	CurrentBestAskPriceTicks int64
	LastTradePriceTicks      int64
	LastMarkPriceTicks       int64

	OrderCache map[int64]*OrderCacheData

	Volatility  float64
	SharpeRatio float64
}

func NewMetrics(config MetricsConfig) *Metrics {
	m := &Metrics{}
	m.SetConfig(config)
	m.Reset()
	return m
}

func (m *Metrics) SetConfig(config MetricsConfig) {
	m.Config = config
}

// Reset clears all accumulated state, keeping the configuration.
func (m *Metrics) Reset() {
	m.Position = 0
	m.AverageEntryPriceTicks = 0
	m.RealizedPnlTicks = 0
	m.UnrealizedPnlTicks = 0
	m.TotalPnlTicks = 0
	m.FeesTicks = 0
	m.GrossTradedQty = 0
	m.RestingAttemptedQty = 0
	m.RestingFilledQty = 0
	m.RestingCancelledQty = 0
	m.TotalSlippageTicks = 0
	m.EquityValuePeakTicks = 0
	m.MaxDrawdownTicks = 0
	m.equityInitialized = false
	m.GrossProfit = 0
	m.GrossLoss = 0
	m.winningTrades = 0
	m.losingTrades = 0
	m.closingTrades = 0
	m.TimestampSeries = nil
	m.TotalPnlTicksSeries = nil
	m.RealizedPnlTicksSeries = nil
	m.UnrealizedPnlTicksSeries = nil
	m.SpreadTicksSeries = nil
	m.MarketPriceTicksSeries = nil
	m.ReturnsSeries = nil
	m.LastReturnBucketStartUs = -1
	m.LastReturnBucketTotalPnlTicks = 0
	m.CurrentBestBidPriceTicks = 0
	m.CurrentBestAskPriceTicks = 0
	m.LastTradePriceTicks = 0
	m.LastMarkPriceTicks = 0
	m.OrderCache = make(map[int64]*OrderCacheData)
	m.Volatility = 0
	m.SharpeRatio = 0
}

// OnOrderPlaced caches arrival context for a new order. Only resting (non-IOC)
// orders count toward the attempted-quantity denominator of the fill ratio.
func (m *Metrics) OnOrderPlaced(orderID int64, side Side, markPriceTicks, tsUs, intendedQty int64, isIOC bool) {
	m.OrderCache[orderID] = &OrderCacheData{
		Side:                  side,
		ArrivalMarkPriceTicks: markPriceTicks,
		ArrivalTimestampUs:    tsUs,
		IntendedQuantity:      intendedQty,
		RemainingQty:          intendedQty,
		IsIOC:                 isIOC,
	}
	if !isIOC {
		m.RestingAttemptedQty += intendedQty
	}
}

func (m *Metrics) OnOrderCancelled(orderID, cancelledQty int64) {
	m.RestingCancelledQty += cancelledQty
	delete(m.OrderCache, orderID)
}

// OnFill updates position, average entry, realized P&L, fees, slippage and
// the fill counters for one execution. Fills for order ids the cache does not
// know are ignored: they belong to the synthetic market side.
func (m *Metrics) OnFill(orderID, fillQty, fillPriceTicks int64, isMaker bool, tsUs int64) {
	cache, ok := m.OrderCache[orderID]
	if !ok {
		return
	}

	signedQty := fillQty
	if cache.Side == Sells {
		signedQty = -fillQty
	}

	var realizedDelta int64
	switch {
	case m.Position == 0 || (m.Position > 0) == (signedQty > 0):
		// increase: weighted average entry
		oldAbs := absInt64(m.Position)
		total := oldAbs + fillQty
		m.AverageEntryPriceTicks = (m.AverageEntryPriceTicks*oldAbs + fillPriceTicks*fillQty) / total
		m.Position += signedQty
	default:
		// decrease or reversal: close against the existing average first
		closeQty := absInt64(m.Position)
		if fillQty < closeQty {
			closeQty = fillQty
		}
		if m.Position > 0 {
			realizedDelta = (fillPriceTicks - m.AverageEntryPriceTicks) * closeQty
		} else {
			realizedDelta = (m.AverageEntryPriceTicks - fillPriceTicks) * closeQty
		}
		m.RealizedPnlTicks += realizedDelta
		m.Position += signedQty

		if m.Position == 0 {
			m.AverageEntryPriceTicks = 0
		} else if fillQty > closeQty {
			// reversal: the residual opens the new side at the fill price
			m.AverageEntryPriceTicks = fillPriceTicks
		}

		m.closingTrades++
		if realizedDelta > 0 {
			m.GrossProfit += realizedDelta
			m.winningTrades++
		} else if realizedDelta < 0 {
			m.GrossLoss += -realizedDelta
			m.losingTrades++
		}
	}

	if isMaker {
		m.FeesTicks -= m.Config.MakerRebatePerShareTicks * fillQty
	} else {
		m.FeesTicks += m.Config.TakerFeePerShareTicks * fillQty
	}

	m.TotalSlippageTicks += absInt64(fillPriceTicks-cache.ArrivalMarkPriceTicks) * fillQty
	m.GrossTradedQty += fillQty
	if !cache.IsIOC {
		m.RestingFilledQty += fillQty
	}

	cache.RemainingQty -= fillQty
	if cache.RemainingQty <= 0 {
		delete(m.OrderCache, orderID)
	}
}

// OnMarketPriceUpdate re-marks the open position, appends the time series
// sample, tracks drawdown, and closes a return bucket when its boundary has
// been crossed.
func (m *Metrics) OnMarketPriceUpdate(tsUs, bestBid, bestAsk, lastTradePrice int64) {
	m.CurrentBestBidPriceTicks = bestBid
	m.CurrentBestAskPriceTicks = bestAsk
	m.LastTradePriceTicks = lastTradePrice
	m.updateMarkPrice()

	m.UnrealizedPnlTicks = m.Position * (m.LastMarkPriceTicks - m.AverageEntryPriceTicks)
	m.TotalPnlTicks = m.RealizedPnlTicks + m.UnrealizedPnlTicks - m.FeesTicks

	m.TimestampSeries = append(m.TimestampSeries, tsUs)
	m.TotalPnlTicksSeries = append(m.TotalPnlTicksSeries, m.TotalPnlTicks)
	m.RealizedPnlTicksSeries = append(m.RealizedPnlTicksSeries, m.RealizedPnlTicks)
	m.UnrealizedPnlTicksSeries = append(m.UnrealizedPnlTicksSeries, m.UnrealizedPnlTicks)
	m.SpreadTicksSeries = append(m.SpreadTicksSeries, bestAsk-bestBid)
	m.MarketPriceTicksSeries = append(m.MarketPriceTicksSeries, m.LastMarkPriceTicks)

	if !m.equityInitialized {
		m.EquityValuePeakTicks = m.TotalPnlTicks
		m.equityInitialized = true
	} else if m.TotalPnlTicks > m.EquityValuePeakTicks {
		m.EquityValuePeakTicks = m.TotalPnlTicks
	}
	if drawdown := m.EquityValuePeakTicks - m.TotalPnlTicks; drawdown > m.MaxDrawdownTicks {
		m.MaxDrawdownTicks = drawdown
	}

	if m.LastReturnBucketStartUs < 0 {
		m.LastReturnBucketStartUs = tsUs
		m.LastReturnBucketTotalPnlTicks = m.TotalPnlTicks
	} else if tsUs-m.LastReturnBucketStartUs >= m.Config.ReturnBucketIntervalUs {
		m.ReturnsSeries = append(m.ReturnsSeries, m.TotalPnlTicks-m.LastReturnBucketTotalPnlTicks)
		m.LastReturnBucketStartUs = tsUs
		m.LastReturnBucketTotalPnlTicks = m.TotalPnlTicks
	}
}

func (m *Metrics) updateMarkPrice() {
	if m.Config.MarkingMethod == MarkLast {
		m.LastMarkPriceTicks = m.LastTradePriceTicks
		return
	}
	m.LastMarkPriceTicks = (m.CurrentBestBidPriceTicks + m.CurrentBestAskPriceTicks) / 2
}

func (m *Metrics) MarkPriceTicks() int64 {
	return m.LastMarkPriceTicks
}

// Finalize computes volatility and Sharpe from the return buckets; win rate,
// fill ratio and profit factor are computed by their getters on demand.
// Recomputing from the same state yields the same result, so the call is
// idempotent.
func (m *Metrics) Finalize(finalTsUs int64) {
	m.Volatility = stddevInt64(m.ReturnsSeries)

	if m.Volatility == 0 || m.Config.ReturnBucketIntervalUs <= 0 {
		m.SharpeRatio = 0
	} else {
		bucketsPerYear := TradingDaysPerYear * HoursPerDay * 3600 * 1e6 / float64(m.Config.ReturnBucketIntervalUs)
		m.SharpeRatio = meanInt64(m.ReturnsSeries) / m.Volatility * math.Sqrt(bucketsPerYear)
	}
}

func (m *Metrics) GetPosition() int64           { return m.Position }
func (m *Metrics) GetAvgEntryPriceTicks() int64 { return m.AverageEntryPriceTicks }
func (m *Metrics) GetRealizedPnlTicks() int64   { return m.RealizedPnlTicks }
func (m *Metrics) GetUnrealizedPnlTicks() int64 { return m.UnrealizedPnlTicks }
func (m *Metrics) GetTotalPnlTicks() int64      { return m.TotalPnlTicks }
func (m *Metrics) GetGrossTradedQty() int64     { return m.GrossTradedQty }
func (m *Metrics) GetMaxDrawdownTicks() int64   { return m.MaxDrawdownTicks }
func (m *Metrics) GetVolatility() float64       { return m.Volatility }
func (m *Metrics) GetSharpeRatio() float64      { return m.SharpeRatio }
func (m *Metrics) GetGrossProfit() int64        { return m.GrossProfit }
func (m *Metrics) GetGrossLoss() int64          { return m.GrossLoss }
func (m *Metrics) GetTotalSlippageTicks() int64 { return m.TotalSlippageTicks }

func (m *Metrics) GetFeesTicks() int64 { return m.FeesTicks }

// GetFillRatio is resting filled quantity over resting attempted quantity,
// zero when nothing was attempted.
func (m *Metrics) GetFillRatio() float64 {
	if m.RestingAttemptedQty == 0 {
		return 0
	}
	return float64(m.RestingFilledQty) / float64(m.RestingAttemptedQty)
}

// GetProfitFactor is gross profit over gross loss. By convention the result
// is +Inf when there are profits and no losses, and 0 when there is neither.
func (m *Metrics) GetProfitFactor() float64 {
	if m.GrossLoss == 0 {
		if m.GrossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return float64(m.GrossProfit) / float64(m.GrossLoss)
}

// GetWinRate is the fraction of position-closing executions that realized a
// profit, zero when nothing has closed.
func (m *Metrics) GetWinRate() float64 {
	if m.closingTrades == 0 {
		return 0
	}
	return float64(m.winningTrades) / float64(m.closingTrades)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func meanInt64(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// stddevInt64 is the population standard deviation, zero for fewer than two
// samples.
func stddevInt64(values []int64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := meanInt64(values)
	var sumSq float64
	for _, v := range values {
		d := float64(v) - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
