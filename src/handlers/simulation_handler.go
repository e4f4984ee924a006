package handlers

import (
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"hft-sim/src/engine"
	"hft-sim/src/models"
)

type storedRun struct {
	ID      string
	Summary models.MetricsSummary
	Series  models.TimeSeriesResponse
	Trades  []models.TradeInfo
}

type SimulationHandler struct {
	StartTime            time.Time
	SimulationsRequested int64
	SimulationsCompleted int64
	SimulationsFailed    int64

	runs     map[string]*storedRun
	runOrder []string
	runsMu   sync.RWMutex
	maxRuns  int

	runtimes    []time.Duration
	runtimesMu  sync.RWMutex
	maxRuntimes int
}

func NewSimulationHandler() *SimulationHandler {
	maxRuns := 100
	if envMax := os.Getenv("SIM_MAX_STORED_RUNS"); envMax != "" {
		if parsed, err := strconv.Atoi(envMax); err == nil && parsed > 0 {
			maxRuns = parsed
		}
	}

	return &SimulationHandler{
		StartTime:   time.Now(),
		runs:        make(map[string]*storedRun),
		runOrder:    make([]string, 0),
		maxRuns:     maxRuns,
		runtimes:    make([]time.Duration, 0, 1000),
		maxRuntimes: 1000,
	}
}

func (h *SimulationHandler) RunSimulation(c *fiber.Ctx) error {
	var req models.RunSimulationRequest

	if err := c.BodyParser(&req); err != nil {
		log.Warn().
			Err(err).
			Str("ip", c.IP()).
			Str("path", c.Path()).
			Msg("Invalid request: malformed JSON")
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid request: malformed JSON",
		})
	}

	atomic.AddInt64(&h.SimulationsRequested, 1)

	config, err := buildConfig(&req)
	if err != nil {
		atomic.AddInt64(&h.SimulationsFailed, 1)
		log.Warn().
			Err(err).
			Str("profile", req.Profile).
			Str("ip", c.IP()).
			Msg("Invalid simulation request")
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: err.Error(),
		})
	}

	sim, err := engine.NewSimulationEngine(config)
	if err != nil {
		atomic.AddInt64(&h.SimulationsFailed, 1)
		log.Warn().
			Err(err).
			Str("ip", c.IP()).
			Msg("Invalid simulation config")
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: err.Error(),
		})
	}

	if len(req.LatencyProfile) == 10 {
		lp := req.LatencyProfile
		if err := sim.GetStrategy().SetLatencyConfig(
			lp[0], lp[1], lp[2], lp[3], lp[4], lp[5], lp[6], lp[7], lp[8], lp[9]); err != nil {
			atomic.AddInt64(&h.SimulationsFailed, 1)
			return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
				Error: err.Error(),
			})
		}
	}

	runID := uuid.New().String()

	log.Info().
		Str("run_id", runID).
		Str("profile", req.Profile).
		Int64("start_us", config.StartingTimestampUs).
		Int64("end_us", config.EndingTimestampUs).
		Int64("step_us", config.StepUs).
		Int64("seed", config.Seed).
		Msg("Simulation started")

	startTime := time.Now()
	sim.Run()
	runtime := time.Since(startTime)
	h.recordRuntime(runtime)

	run := buildStoredRun(runID, sim)
	h.storeRun(run)

	atomic.AddInt64(&h.SimulationsCompleted, 1)

	log.Info().
		Str("run_id", runID).
		Int64("total_pnl_ticks", run.Summary.TotalPnlTicks).
		Int64("position", run.Summary.Position).
		Float64("sharpe_ratio", run.Summary.SharpeRatio).
		Int("trades", run.Summary.TradeCount).
		Int64("runtime_ms", runtime.Milliseconds()).
		Msg("Simulation complete")

	return c.Status(fiber.StatusCreated).JSON(models.RunSimulationResponse{
		RunID:   runID,
		Status:  "COMPLETED",
		Summary: run.Summary,
	})
}

func (h *SimulationHandler) GetSimulation(c *fiber.Ctx) error {
	runID := c.Params("id")

	h.runsMu.RLock()
	run, ok := h.runs[runID]
	h.runsMu.RUnlock()

	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error: "Simulation run not found",
		})
	}

	return c.Status(fiber.StatusOK).JSON(models.SimulationResultResponse{
		RunID:   run.ID,
		Summary: run.Summary,
		Series:  run.Series,
	})
}

func (h *SimulationHandler) GetSimulationTrades(c *fiber.Ctx) error {
	runID := c.Params("id")

	h.runsMu.RLock()
	run, ok := h.runs[runID]
	h.runsMu.RUnlock()

	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error: "Simulation run not found",
		})
	}

	return c.Status(fiber.StatusOK).JSON(models.TradesResponse{
		RunID:  run.ID,
		Trades: run.Trades,
	})
}

func (h *SimulationHandler) ListProfiles(c *fiber.Ctx) error {
	profiles := engine.Profiles()
	infos := make([]models.ProfileInfo, 0, len(profiles))
	for _, p := range profiles {
		infos = append(infos, models.ProfileInfo{
			Name:                      p.Name,
			Description:               p.Description,
			QuoteSize:                 p.QuoteSize,
			TickOffset:                p.TickOffset,
			MaxInventory:              p.MaxInventory,
			CancelThresholdTicks:      p.CancelThresholdTicks,
			CooldownBetweenRequotesUs: p.CooldownBetweenRequotesUs,
		})
	}

	return c.Status(fiber.StatusOK).JSON(models.ProfilesResponse{Profiles: infos})
}

func (h *SimulationHandler) HealthCheck(c *fiber.Ctx) error {
	uptime := time.Since(h.StartTime).Seconds()

	return c.Status(fiber.StatusOK).JSON(models.HealthResponse{
		Status:         "healthy",
		UptimeSeconds:  int64(uptime),
		SimulationsRun: atomic.LoadInt64(&h.SimulationsCompleted),
	})
}

func (h *SimulationHandler) Metrics(c *fiber.Ctx) error {
	h.runsMu.RLock()
	stored := int64(len(h.runs))
	h.runsMu.RUnlock()

	p50, p99 := h.runtimePercentiles()

	return c.Status(fiber.StatusOK).JSON(models.MetricsResponse{
		SimulationsRequested: atomic.LoadInt64(&h.SimulationsRequested),
		SimulationsCompleted: atomic.LoadInt64(&h.SimulationsCompleted),
		SimulationsFailed:    atomic.LoadInt64(&h.SimulationsFailed),
		ResultsStored:        stored,
		RuntimeP50Ms:         p50,
		RuntimeP99Ms:         p99,
		ThroughputRunsPerSec: h.throughput(),
	})
}

func buildConfig(req *models.RunSimulationRequest) (engine.SimulationConfig, error) {
	config := engine.DefaultSimulationConfig()

	if req.Profile != "" {
		profile, ok := engine.ProfileByName(req.Profile)
		if !ok {
			return config, &ValidationError{Message: "Invalid request: unknown profile " + req.Profile}
		}
		config = profile.Apply(config)
	}

	if req.EndingTimestampUs != 0 || req.StartingTimestampUs != 0 {
		config.StartingTimestampUs = req.StartingTimestampUs
		config.EndingTimestampUs = req.EndingTimestampUs
	}
	if req.StepUs != 0 {
		config.StepUs = req.StepUs
	}
	if req.Seed != 0 {
		config.Seed = req.Seed
	}
	if req.QuoteSize != 0 {
		config.QuoteSize = req.QuoteSize
	}
	if req.TickOffset != 0 {
		config.TickOffset = req.TickOffset
	}
	if req.MaxInventory != 0 {
		config.MaxInventory = req.MaxInventory
	}
	if req.CancelThresholdTicks != 0 {
		config.CancelThresholdTicks = req.CancelThresholdTicks
	}
	if req.CooldownBetweenRequotesUs != 0 {
		config.CooldownBetweenRequotesUs = req.CooldownBetweenRequotesUs
	}
	if req.StartingMidPriceTicks != 0 {
		config.StartingMidPriceTicks = req.StartingMidPriceTicks
	}
	if req.StartingSpreadTicks != 0 {
		config.StartingSpreadTicks = req.StartingSpreadTicks
	}
	if req.StartingVolatility != 0 {
		config.StartingVolatility = req.StartingVolatility
	}
	if req.MinVolatility != 0 {
		config.MinVolatility = req.MinVolatility
	}
	if req.FillProbability != 0 {
		config.FillProbability = req.FillProbability
	}
	if req.MakerRebatePerShareTicks != 0 {
		config.Metrics.MakerRebatePerShareTicks = req.MakerRebatePerShareTicks
	}
	if req.TakerFeePerShareTicks != 0 {
		config.Metrics.TakerFeePerShareTicks = req.TakerFeePerShareTicks
	}
	if req.ReturnBucketIntervalUs != 0 {
		config.Metrics.ReturnBucketIntervalUs = req.ReturnBucketIntervalUs
	}

	switch req.MarkingMethod {
	case "", "MID":
		config.Metrics.MarkingMethod = engine.MarkMid
	case "LAST":
		config.Metrics.MarkingMethod = engine.MarkLast
	default:
		return config, &ValidationError{Message: "Invalid request: marking_method must be MID or LAST"}
	}

	// edge case: a latency profile must supply all ten bounds or none
	if n := len(req.LatencyProfile); n != 0 && n != 10 {
		return config, &ValidationError{Message: "Invalid request: latency_profile must contain exactly 10 integers"}
	}

	return config, nil
}

func buildStoredRun(runID string, sim *engine.SimulationEngine) *storedRun {
	metrics := sim.GetMetrics()
	tradeLog := sim.GetOrderBook().TradeLog()

	profitFactor := metrics.GetProfitFactor()
	if math.IsInf(profitFactor, 1) {
		profitFactor = -1
	}

	summary := models.MetricsSummary{
		TotalPnlTicks:      metrics.GetTotalPnlTicks(),
		RealizedPnlTicks:   metrics.GetRealizedPnlTicks(),
		UnrealizedPnlTicks: metrics.GetUnrealizedPnlTicks(),
		FeesTicks:          metrics.FeesTicks,
		Position:           metrics.GetPosition(),
		GrossTradedQty:     metrics.GetGrossTradedQty(),
		FillRatio:          metrics.GetFillRatio(),
		TotalSlippageTicks: metrics.GetTotalSlippageTicks(),
		MaxDrawdownTicks:   metrics.GetMaxDrawdownTicks(),
		Volatility:         metrics.GetVolatility(),
		SharpeRatio:        metrics.GetSharpeRatio(),
		GrossProfit:        metrics.GetGrossProfit(),
		GrossLoss:          metrics.GetGrossLoss(),
		ProfitFactor:       profitFactor,
		WinRate:            metrics.GetWinRate(),
		TradeCount:         tradeLog.Len(),
	}

	series := models.TimeSeriesResponse{
		TimestampUs:        metrics.TimestampSeries,
		TotalPnlTicks:      metrics.TotalPnlTicksSeries,
		RealizedPnlTicks:   metrics.RealizedPnlTicksSeries,
		UnrealizedPnlTicks: metrics.UnrealizedPnlTicksSeries,
		SpreadTicks:        metrics.SpreadTicksSeries,
		MarketPriceTicks:   metrics.MarketPriceTicksSeries,
		ReturnsTicks:       metrics.ReturnsSeries,
	}

	trades := make([]models.TradeInfo, 0, tradeLog.Len())
	for _, trade := range tradeLog.Trades() {
		trades = append(trades, models.TradeInfo{
			TradeID:     trade.TradeID,
			PriceTick:   trade.PriceTick,
			Quantity:    trade.Quantity,
			BuyOrderID:  trade.BuyOrderID,
			SellOrderID: trade.SellOrderID,
			TimestampUs: trade.TimestampUs,
			WasInstant:  trade.WasInstant,
		})
	}

	return &storedRun{
		ID:      runID,
		Summary: summary,
		Series:  series,
		Trades:  trades,
	}
}

func (h *SimulationHandler) storeRun(run *storedRun) {
	h.runsMu.Lock()
	defer h.runsMu.Unlock()

	h.runs[run.ID] = run
	h.runOrder = append(h.runOrder, run.ID)

	// edge case: evict the oldest stored runs beyond the retention cap
	for len(h.runOrder) > h.maxRuns {
		oldest := h.runOrder[0]
		h.runOrder = h.runOrder[1:]
		delete(h.runs, oldest)
	}
}

func (h *SimulationHandler) recordRuntime(runtime time.Duration) {
	h.runtimesMu.Lock()
	defer h.runtimesMu.Unlock()

	h.runtimes = append(h.runtimes, runtime)

	if len(h.runtimes) > h.maxRuntimes {
		removeCount := len(h.runtimes) - h.maxRuntimes
		h.runtimes = h.runtimes[removeCount:]
	}
}

func (h *SimulationHandler) runtimePercentiles() (p50, p99 float64) {
	h.runtimesMu.RLock()
	defer h.runtimesMu.RUnlock()

	if len(h.runtimes) == 0 {
		return 0, 0
	}

	sorted := make([]time.Duration, len(h.runtimes))
	copy(sorted, h.runtimes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	p50Index := int(float64(len(sorted)) * 0.50)
	p99Index := int(float64(len(sorted)) * 0.99)
	if p50Index >= len(sorted) {
		p50Index = len(sorted) - 1
	}
	if p99Index >= len(sorted) {
		p99Index = len(sorted) - 1
	}

	p50 = float64(sorted[p50Index].Nanoseconds()) / 1e6
	p99 = float64(sorted[p99Index].Nanoseconds()) / 1e6
	return p50, p99
}

func (h *SimulationHandler) throughput() float64 {
	uptime := time.Since(h.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&h.SimulationsCompleted)) / uptime
}

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
