package engine

import "math/rand"

// SimulationConfig carries every parameter of a run. The Seed fully
// determines the PRNG stream: identical configs produce byte-identical
// time series.
type SimulationConfig struct {
	StartingTimestampUs int64
	EndingTimestampUs   int64
	StepUs              int64
	Seed                int64

	QuoteSize                 int64
	TickOffset                int64
	MaxInventory              int64
	CancelThresholdTicks      int64
	CooldownBetweenRequotesUs int64

	StartingMidPriceTicks int64
	StartingSpreadTicks   int64
	StartingVolatility    float64
	MinVolatility         float64
	FillProbability       float64

	Metrics MetricsConfig
}

func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		StartingTimestampUs:       0,
		EndingTimestampUs:         1_000_000,
		StepUs:                    100,
		Seed:                      42,
		QuoteSize:                 1,
		TickOffset:                1,
		MaxInventory:              10,
		CancelThresholdTicks:      1,
		CooldownBetweenRequotesUs: 1,
		StartingMidPriceTicks:     10_000,
		StartingSpreadTicks:       2,
		StartingVolatility:        1.0,
		MinVolatility:             0.5,
		FillProbability:           0.3,
		Metrics:                   DefaultMetricsConfig(),
	}
}

// SimulationEngine owns every component and iterates the logical clock.
type SimulationEngine struct {
	config SimulationConfig

	market *MarketEngine

	currentTimestampUs int64
}

func NewSimulationEngine(config SimulationConfig) (*SimulationEngine, error) {
	if config.StepUs <= 0 {
		return nil, &InvalidConfigError{Message: "step must be positive"}
	}
	if config.EndingTimestampUs < config.StartingTimestampUs {
		return nil, &InvalidConfigError{Message: "ending timestamp precedes starting timestamp"}
	}
	if config.StartingMidPriceTicks <= 0 {
		return nil, &InvalidConfigError{Message: "starting mid price must be positive"}
	}
	if config.QuoteSize <= 0 {
		return nil, &InvalidConfigError{Message: "quote size must be positive"}
	}
	if config.Metrics.ReturnBucketIntervalUs <= 0 {
		return nil, &InvalidConfigError{Message: "return bucket interval must be positive"}
	}

	rng := rand.New(rand.NewSource(config.Seed))
	metrics := NewMetrics(config.Metrics)
	book := NewOrderBook(metrics)
	strategy := NewStrategy(metrics, book, rng,
		config.QuoteSize, config.TickOffset, config.MaxInventory,
		config.CancelThresholdTicks, config.CooldownBetweenRequotesUs)
	market := NewMarketEngine(rng, metrics, book, strategy,
		config.StartingMidPriceTicks, config.StartingSpreadTicks,
		config.StartingVolatility, config.MinVolatility, config.FillProbability)

	return &SimulationEngine{
		config:             config,
		market:             market,
		currentTimestampUs: config.StartingTimestampUs,
	}, nil
}

// Run iterates the clock from start to end in fixed steps, then finalizes
// the metrics.
func (se *SimulationEngine) Run() {
	for ts := se.config.StartingTimestampUs; ts < se.config.EndingTimestampUs; ts += se.config.StepUs {
		se.currentTimestampUs = ts
		se.market.Update(ts)
	}
	se.currentTimestampUs = se.config.EndingTimestampUs
	se.Finalize(se.config.EndingTimestampUs)
}

// Finalize recomputes the derived statistics; safe to call repeatedly.
func (se *SimulationEngine) Finalize(finalTsUs int64) {
	se.market.GetMetrics().Finalize(finalTsUs)
}

func (se *SimulationEngine) GetMarketEngine() *MarketEngine { return se.market }
func (se *SimulationEngine) GetStrategy() *Strategy         { return se.market.GetStrategy() }
func (se *SimulationEngine) GetOrderBook() *OrderBook       { return se.market.GetOrderBook() }
func (se *SimulationEngine) GetMetrics() *Metrics           { return se.market.GetMetrics() }

func (se *SimulationEngine) GetStartingTimestampUs() int64 { return se.config.StartingTimestampUs }
func (se *SimulationEngine) GetCurrentTimestampUs() int64  { return se.currentTimestampUs }
func (se *SimulationEngine) GetEndingTimestampUs() int64   { return se.config.EndingTimestampUs }
func (se *SimulationEngine) GetStepUs() int64              { return se.config.StepUs }
