package engine

import (
	"math"
	"math/rand"
)

const (
	// exponential decay constant for fill probability per tick of distance
	fillDecayPerTick = 0.5
	jumpProbability  = 0.01
	jumpMaxTicks     = 3
)

// MarketEngine drives the synthetic mid price and probabilistically fills the
// strategy's resting orders. It consumes the shared PRNG in a fixed per-tick
// order (price innovation, jump draw, fill draws, latency samples) so runs
// with the same seed replay identically.
type MarketEngine struct {
	rng      *rand.Rand
	metrics  *Metrics
	book     *OrderBook
	strategy *Strategy

	midPriceTicks       int64
	spreadTicks         int64
	volatility          float64
	minVolatility       float64
	fillProbability     float64
	lastTradePriceTicks int64
}

func NewMarketEngine(rng *rand.Rand, metrics *Metrics, book *OrderBook, strategy *Strategy,
	startingMidPriceTicks, startingSpreadTicks int64,
	startingVolatility, minVolatility, fillProbability float64) *MarketEngine {
	if startingVolatility < minVolatility {
		startingVolatility = minVolatility
	}
	return &MarketEngine{
		rng:                 rng,
		metrics:             metrics,
		book:                book,
		strategy:            strategy,
		midPriceTicks:       startingMidPriceTicks,
		spreadTicks:         startingSpreadTicks,
		volatility:          startingVolatility,
		minVolatility:       minVolatility,
		fillProbability:     fillProbability,
		lastTradePriceTicks: startingMidPriceTicks,
	}
}

// Update runs one simulation tick: advance the price, sample fills against
// resting orders, publish the market state, then let the strategy react.
func (me *MarketEngine) Update(tsUs int64) {
	me.advanceMid()

	// synthetic quotes straddle the mid: bid rounds down by the larger half
	bestBid := me.midPriceTicks - (me.spreadTicks+1)/2
	bestAsk := me.midPriceTicks + me.spreadTicks/2
	if bestBid < 1 {
		bestBid = 1
	}

	me.simulateFills(tsUs)

	me.metrics.OnMarketPriceUpdate(tsUs, bestBid, bestAsk, me.lastTradePriceTicks)

	me.strategy.OnMarketUpdate(tsUs, me.midPriceTicks)
	me.strategy.ExecuteLatencyQueue(tsUs)
}

func (me *MarketEngine) advanceMid() {
	if me.volatility < me.minVolatility {
		me.volatility = me.minVolatility
	}

	delta := int64(math.Round(me.rng.NormFloat64() * me.volatility))
	me.midPriceTicks += delta

	if me.rng.Float64() < jumpProbability {
		jump := me.rng.Int63n(jumpMaxTicks) + 1
		if me.rng.Float64() < 0.5 {
			jump = -jump
		}
		me.midPriceTicks += jump
	}

	// edge case: the walk is clamped strictly positive
	if me.midPriceTicks < 1 {
		me.midPriceTicks = 1
	}
}

// simulateFills scans resting orders in ascending id order and fills each
// with probability fill_probability * exp(-k * distance_from_mid). A fill
// consumes the whole resting quantity.
func (me *MarketEngine) simulateFills(tsUs int64) {
	for _, id := range me.book.ActiveOrderIDs() {
		order, ok := me.book.GetOrder(id)
		if !ok {
			continue
		}

		distance := absInt64(me.midPriceTicks - order.PriceTick)
		pFill := me.fillProbability * math.Exp(-fillDecayPerTick*float64(distance))

		if me.rng.Float64() < pFill {
			trade, ok := me.book.FillResting(id, tsUs)
			if !ok {
				continue
			}
			me.lastTradePriceTicks = trade.PriceTick
			me.strategy.OnFill(trade)
		}
	}
}

func (me *MarketEngine) GetOrderBook() *OrderBook { return me.book }
func (me *MarketEngine) GetStrategy() *Strategy   { return me.strategy }
func (me *MarketEngine) GetMetrics() *Metrics     { return me.metrics }

func (me *MarketEngine) GetMarketPriceTicks() int64 { return me.midPriceTicks }
func (me *MarketEngine) GetSpread() int64           { return me.spreadTicks }
func (me *MarketEngine) GetVolatility() float64     { return me.volatility }
func (me *MarketEngine) GetFillProbability() float64 {
	return me.fillProbability
}
