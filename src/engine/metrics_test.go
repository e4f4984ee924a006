package engine

import (
	"math"
	"testing"
)

func newTestMetrics() *Metrics {
	config := DefaultMetricsConfig()
	config.ReturnBucketIntervalUs = 1000
	return NewMetrics(config)
}

func placeAndFill(m *Metrics, orderID int64, side Side, qty, price, ts int64) {
	m.OnOrderPlaced(orderID, side, price, ts, qty, false)
	m.OnFill(orderID, qty, price, true, ts)
}

func TestWeightedAverageEntry(t *testing.T) {
	m := newTestMetrics()

	placeAndFill(m, 1, Buys, 2, 100, 1000)
	placeAndFill(m, 2, Buys, 2, 110, 2000)

	if m.Position != 4 {
		t.Errorf("Expected position 4, got: %d", m.Position)
	}
	if m.AverageEntryPriceTicks != 105 {
		t.Errorf("Expected average entry 105, got: %d", m.AverageEntryPriceTicks)
	}
	if m.RealizedPnlTicks != 0 {
		t.Errorf("Expected no realized pnl on increases, got: %d", m.RealizedPnlTicks)
	}
}

func TestRealizationOnDecrease(t *testing.T) {
	m := newTestMetrics()

	placeAndFill(m, 1, Buys, 3, 100, 1000)
	placeAndFill(m, 2, Sells, 2, 104, 2000)

	if m.Position != 1 {
		t.Errorf("Expected position 1, got: %d", m.Position)
	}
	if m.RealizedPnlTicks != 8 {
		t.Errorf("Expected realized pnl 8, got: %d", m.RealizedPnlTicks)
	}
	if m.AverageEntryPriceTicks != 100 {
		t.Errorf("Expected average entry to stay 100, got: %d", m.AverageEntryPriceTicks)
	}
	if m.GrossProfit != 8 || m.GrossLoss != 0 {
		t.Errorf("Expected gross profit 8 / loss 0, got: %d / %d", m.GrossProfit, m.GrossLoss)
	}
}

// TestReversal closes the whole long at the average and opens a short at the
// fill price with the residual.
func TestReversal(t *testing.T) {
	m := newTestMetrics()

	placeAndFill(m, 1, Buys, 2, 100, 1000)
	placeAndFill(m, 2, Sells, 5, 98, 2000)

	if m.Position != -3 {
		t.Errorf("Expected position -3, got: %d", m.Position)
	}
	// closed 2 at 98 against entry 100: -4
	if m.RealizedPnlTicks != -4 {
		t.Errorf("Expected realized pnl -4, got: %d", m.RealizedPnlTicks)
	}
	if m.AverageEntryPriceTicks != 98 {
		t.Errorf("Expected new entry at 98, got: %d", m.AverageEntryPriceTicks)
	}
	if m.GrossLoss != 4 {
		t.Errorf("Expected gross loss 4, got: %d", m.GrossLoss)
	}
}

func TestFeesAndRebates(t *testing.T) {
	config := DefaultMetricsConfig()
	config.MakerRebatePerShareTicks = 1
	config.TakerFeePerShareTicks = 2
	m := NewMetrics(config)

	m.OnOrderPlaced(1, Buys, 100, 1000, 4, false)
	m.OnFill(1, 4, 100, true, 1000)
	if m.FeesTicks != -4 {
		t.Errorf("Expected maker rebate to credit fees to -4, got: %d", m.FeesTicks)
	}

	m.OnOrderPlaced(2, Buys, 100, 2000, 3, true)
	m.OnFill(2, 3, 100, false, 2000)
	if m.FeesTicks != 2 {
		t.Errorf("Expected taker fee to bring fees to 2, got: %d", m.FeesTicks)
	}
}

func TestSlippageAgainstArrivalMark(t *testing.T) {
	m := newTestMetrics()

	m.OnOrderPlaced(1, Buys, 100, 1000, 5, false)
	m.OnFill(1, 5, 103, true, 2000)

	if m.TotalSlippageTicks != 15 {
		t.Errorf("Expected slippage 15, got: %d", m.TotalSlippageTicks)
	}
}

func TestUnknownOrderFillIgnored(t *testing.T) {
	m := newTestMetrics()

	m.OnFill(999, 5, 100, true, 1000)

	if m.Position != 0 || m.GrossTradedQty != 0 {
		t.Errorf("Expected fill for unknown order to be ignored")
	}
}

// TestPnlIdentity checks total = realized + unrealized - fees at every
// market sample.
func TestPnlIdentity(t *testing.T) {
	config := DefaultMetricsConfig()
	config.TakerFeePerShareTicks = 1
	config.ReturnBucketIntervalUs = 1000
	m := NewMetrics(config)

	m.OnOrderPlaced(1, Buys, 100, 0, 5, false)
	m.OnFill(1, 5, 100, false, 0)

	marks := []int64{99, 101, 104, 97, 100}
	for i, mark := range marks {
		ts := int64(i+1) * 500
		m.OnMarketPriceUpdate(ts, mark-1, mark+1, mark)

		if m.TotalPnlTicks != m.RealizedPnlTicks+m.UnrealizedPnlTicks-m.FeesTicks {
			t.Fatalf("PnL identity violated at sample %d", i)
		}
	}

	if len(m.TotalPnlTicksSeries) != len(marks) {
		t.Errorf("Expected %d samples, got: %d", len(marks), len(m.TotalPnlTicksSeries))
	}
}

func TestDrawdownNonNegativeAndMonotonic(t *testing.T) {
	m := newTestMetrics()

	m.OnOrderPlaced(1, Buys, 100, 0, 1, false)
	m.OnFill(1, 1, 100, true, 0)

	marks := []int64{105, 95, 110, 90, 120, 85}
	prevDrawdown := int64(0)
	for i, mark := range marks {
		m.OnMarketPriceUpdate(int64(i)*100, mark-1, mark+1, mark)
		if m.MaxDrawdownTicks < 0 {
			t.Fatalf("Drawdown went negative at sample %d", i)
		}
		if m.MaxDrawdownTicks < prevDrawdown {
			t.Fatalf("Drawdown decreased at sample %d", i)
		}
		prevDrawdown = m.MaxDrawdownTicks
	}

	if m.MaxDrawdownTicks != 35 {
		t.Errorf("Expected max drawdown 35, got: %d", m.MaxDrawdownTicks)
	}
}

func TestReturnBuckets(t *testing.T) {
	m := newTestMetrics() // bucket interval 1000us

	m.OnOrderPlaced(1, Buys, 100, 0, 1, false)
	m.OnFill(1, 1, 100, true, 0)

	m.OnMarketPriceUpdate(0, 99, 101, 100)    // opens the first bucket
	m.OnMarketPriceUpdate(500, 101, 103, 102) // inside bucket
	m.OnMarketPriceUpdate(1000, 104, 106, 105)
	m.OnMarketPriceUpdate(2000, 99, 101, 100)

	if len(m.ReturnsSeries) != 2 {
		t.Fatalf("Expected 2 returns, got: %d", len(m.ReturnsSeries))
	}
	if m.ReturnsSeries[0] != 5 {
		t.Errorf("Expected first return 5, got: %d", m.ReturnsSeries[0])
	}
	if m.ReturnsSeries[1] != -5 {
		t.Errorf("Expected second return -5, got: %d", m.ReturnsSeries[1])
	}
}

func TestMarkingMethodLast(t *testing.T) {
	config := DefaultMetricsConfig()
	config.MarkingMethod = MarkLast
	m := NewMetrics(config)

	m.OnOrderPlaced(1, Buys, 100, 0, 1, false)
	m.OnFill(1, 1, 100, true, 0)

	m.OnMarketPriceUpdate(100, 90, 110, 107)
	if m.LastMarkPriceTicks != 107 {
		t.Errorf("Expected LAST marking to use trade price 107, got: %d", m.LastMarkPriceTicks)
	}
	if m.UnrealizedPnlTicks != 7 {
		t.Errorf("Expected unrealized 7, got: %d", m.UnrealizedPnlTicks)
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	m := newTestMetrics()

	m.OnOrderPlaced(1, Buys, 100, 0, 1, false)
	m.OnFill(1, 1, 100, true, 0)
	for i := int64(0); i < 10; i++ {
		mark := int64(100 + i%3)
		m.OnMarketPriceUpdate(i*1000, mark-1, mark+1, mark)
	}

	m.Finalize(10_000)
	vol := m.Volatility
	sharpe := m.SharpeRatio

	m.Finalize(10_000)
	if m.Volatility != vol || m.SharpeRatio != sharpe {
		t.Errorf("Expected finalize to be idempotent")
	}
}

func TestRatioSentinels(t *testing.T) {
	m := newTestMetrics()

	if m.GetFillRatio() != 0 {
		t.Errorf("Expected fill ratio 0 with nothing attempted")
	}
	if m.GetWinRate() != 0 {
		t.Errorf("Expected win rate 0 with no closing trades")
	}
	if m.GetProfitFactor() != 0 {
		t.Errorf("Expected profit factor 0 with no profits or losses")
	}

	m.GrossProfit = 10
	if !math.IsInf(m.GetProfitFactor(), 1) {
		t.Errorf("Expected +Inf profit factor with profits and no losses")
	}

	m.GrossLoss = 5
	if m.GetProfitFactor() != 2 {
		t.Errorf("Expected profit factor 2, got: %f", m.GetProfitFactor())
	}

	m.Finalize(0)
	if math.IsNaN(m.Volatility) || math.IsNaN(m.SharpeRatio) {
		t.Errorf("Expected no NaN from empty returns series")
	}
}

func TestRestingCounterInvariant(t *testing.T) {
	m := newTestMetrics()

	m.OnOrderPlaced(1, Buys, 100, 0, 10, false)
	m.OnFill(1, 4, 100, true, 100)
	m.OnOrderCancelled(1, 6)

	if m.RestingAttemptedQty != 10 {
		t.Errorf("Expected attempted 10, got: %d", m.RestingAttemptedQty)
	}
	if m.RestingFilledQty+m.RestingCancelledQty > m.RestingAttemptedQty {
		t.Errorf("Invariant violated: filled %d + cancelled %d > attempted %d",
			m.RestingFilledQty, m.RestingCancelledQty, m.RestingAttemptedQty)
	}
	if m.GetFillRatio() != 0.4 {
		t.Errorf("Expected fill ratio 0.4, got: %f", m.GetFillRatio())
	}
}

func TestIOCOrdersExcludedFromRestingCounters(t *testing.T) {
	m := newTestMetrics()

	m.OnOrderPlaced(1, Buys, 100, 0, 5, true)
	m.OnFill(1, 5, 100, false, 100)

	if m.RestingAttemptedQty != 0 || m.RestingFilledQty != 0 {
		t.Errorf("Expected IOC flow to skip resting counters")
	}
	if m.GrossTradedQty != 5 {
		t.Errorf("Expected gross traded 5, got: %d", m.GrossTradedQty)
	}
}

func TestResetClearsState(t *testing.T) {
	m := newTestMetrics()

	placeAndFill(m, 1, Buys, 2, 100, 0)
	m.OnMarketPriceUpdate(100, 99, 101, 100)
	m.Reset()

	if m.Position != 0 || m.RealizedPnlTicks != 0 || len(m.TotalPnlTicksSeries) != 0 {
		t.Errorf("Expected reset to clear accumulated state")
	}
	if len(m.OrderCache) != 0 {
		t.Errorf("Expected reset to clear the order cache")
	}
}
