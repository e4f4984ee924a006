package models

type RunSimulationRequest struct {
	Profile string `json:"profile,omitempty"` // aggressive | balanced | passive

	StartingTimestampUs int64 `json:"starting_timestamp_us"`
	EndingTimestampUs   int64 `json:"ending_timestamp_us"`
	StepUs              int64 `json:"step_us"`
	Seed                int64 `json:"seed"`

	QuoteSize                 int64 `json:"quote_size,omitempty"`
	TickOffset                int64 `json:"tick_offset,omitempty"`
	MaxInventory              int64 `json:"max_inventory,omitempty"`
	CancelThresholdTicks      int64 `json:"cancel_threshold_ticks,omitempty"`
	CooldownBetweenRequotesUs int64 `json:"cooldown_between_requotes_us,omitempty"`

	StartingMidPriceTicks int64   `json:"starting_mid_price_ticks,omitempty"`
	StartingSpreadTicks   int64   `json:"starting_spread_ticks,omitempty"`
	StartingVolatility    float64 `json:"starting_volatility,omitempty"`
	MinVolatility         float64 `json:"min_volatility,omitempty"`
	FillProbability       float64 `json:"fill_probability,omitempty"`

	MakerRebatePerShareTicks int64  `json:"maker_rebate_per_share_ticks,omitempty"`
	TakerFeePerShareTicks    int64  `json:"taker_fee_per_share_ticks,omitempty"`
	ReturnBucketIntervalUs   int64  `json:"return_bucket_interval_us,omitempty"`
	MarkingMethod            string `json:"marking_method,omitempty"` // MID | LAST

	LatencyProfile []int64 `json:"latency_profile,omitempty"` // ten integers: min/max per action type
}

type MetricsSummary struct {
	TotalPnlTicks      int64   `json:"total_pnl_ticks"`
	RealizedPnlTicks   int64   `json:"realized_pnl_ticks"`
	UnrealizedPnlTicks int64   `json:"unrealized_pnl_ticks"`
	FeesTicks          int64   `json:"fees_ticks"`
	Position           int64   `json:"position"`
	GrossTradedQty     int64   `json:"gross_traded_qty"`
	FillRatio          float64 `json:"fill_ratio"`
	TotalSlippageTicks int64   `json:"total_slippage_ticks"`
	MaxDrawdownTicks   int64   `json:"max_drawdown_ticks"`
	Volatility         float64 `json:"volatility"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
	GrossProfit        int64   `json:"gross_profit"`
	GrossLoss          int64   `json:"gross_loss"`
	ProfitFactor       float64 `json:"profit_factor"` // -1 encodes +Inf, which JSON cannot carry
	WinRate            float64 `json:"win_rate"`
	TradeCount         int     `json:"trade_count"`
}

type RunSimulationResponse struct {
	RunID   string         `json:"run_id"`
	Status  string         `json:"status"`
	Summary MetricsSummary `json:"summary"`
}

type TimeSeriesResponse struct {
	TimestampUs        []int64 `json:"timestamp_us"`
	TotalPnlTicks      []int64 `json:"total_pnl_ticks"`
	RealizedPnlTicks   []int64 `json:"realized_pnl_ticks"`
	UnrealizedPnlTicks []int64 `json:"unrealized_pnl_ticks"`
	SpreadTicks        []int64 `json:"spread_ticks"`
	MarketPriceTicks   []int64 `json:"market_price_ticks"`
	ReturnsTicks       []int64 `json:"returns_ticks"`
}

type SimulationResultResponse struct {
	RunID   string             `json:"run_id"`
	Summary MetricsSummary     `json:"summary"`
	Series  TimeSeriesResponse `json:"series"`
}

type TradeInfo struct {
	TradeID     int64 `json:"trade_id"`
	PriceTick   int64 `json:"price_tick"`
	Quantity    int64 `json:"quantity"`
	BuyOrderID  int64 `json:"buy_order_id"`
	SellOrderID int64 `json:"sell_order_id"`
	TimestampUs int64 `json:"timestamp_us"`
	WasInstant  bool  `json:"was_instant"`
}

type TradesResponse struct {
	RunID  string      `json:"run_id"`
	Trades []TradeInfo `json:"trades"`
}

type ProfileInfo struct {
	Name                      string `json:"name"`
	Description               string `json:"description"`
	QuoteSize                 int64  `json:"quote_size"`
	TickOffset                int64  `json:"tick_offset"`
	MaxInventory              int64  `json:"max_inventory"`
	CancelThresholdTicks      int64  `json:"cancel_threshold_ticks"`
	CooldownBetweenRequotesUs int64  `json:"cooldown_between_requotes_us"`
}

type ProfilesResponse struct {
	Profiles []ProfileInfo `json:"profiles"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	SimulationsRun int64  `json:"simulations_run"`
}

type MetricsResponse struct {
	SimulationsRequested int64   `json:"simulations_requested"`
	SimulationsCompleted int64   `json:"simulations_completed"`
	SimulationsFailed    int64   `json:"simulations_failed"`
	ResultsStored        int64   `json:"results_stored"`
	RuntimeP50Ms         float64 `json:"runtime_p50_ms"`
	RuntimeP99Ms         float64 `json:"runtime_p99_ms"`
	ThroughputRunsPerSec float64 `json:"throughput_runs_per_sec"`
}
