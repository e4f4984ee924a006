package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"hft-sim/src/models"
)

func newTestApp() (*fiber.App, *SimulationHandler) {
	app := fiber.New()
	handler := NewSimulationHandler()

	app.Post("/api/v1/simulations", handler.RunSimulation)
	app.Get("/api/v1/simulations/:id", handler.GetSimulation)
	app.Get("/api/v1/simulations/:id/trades", handler.GetSimulationTrades)
	app.Get("/api/v1/profiles", handler.ListProfiles)
	app.Get("/health", handler.HealthCheck)
	app.Get("/metrics", handler.Metrics)

	return app, handler
}

func postSimulation(t *testing.T, app *fiber.App, body models.RunSimulationRequest) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Expected request to marshal, got: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/simulations", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("Expected request to complete, got: %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Expected body read to succeed, got: %v", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("Expected JSON body, got: %v (%s)", err, string(body))
	}
}

func TestRunSimulationEndpoint(t *testing.T) {
	app, _ := newTestApp()

	resp := postSimulation(t, app, models.RunSimulationRequest{
		Profile:           "balanced",
		EndingTimestampUs: 100_000,
		StepUs:            100,
		Seed:              7,
	})

	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("Expected status 201, got: %d", resp.StatusCode)
	}

	var result models.RunSimulationResponse
	decodeJSON(t, resp, &result)

	if result.RunID == "" {
		t.Errorf("Expected a run id")
	}
	if result.Status != "COMPLETED" {
		t.Errorf("Expected status COMPLETED, got: %s", result.Status)
	}
}

func TestRunSimulationDeterministicAcrossRequests(t *testing.T) {
	app, _ := newTestApp()

	request := models.RunSimulationRequest{
		Profile:           "aggressive",
		EndingTimestampUs: 100_000,
		StepUs:            100,
		Seed:              42,
	}

	var first, second models.RunSimulationResponse
	decodeJSON(t, postSimulation(t, app, request), &first)
	decodeJSON(t, postSimulation(t, app, request), &second)

	if first.Summary.TotalPnlTicks != second.Summary.TotalPnlTicks {
		t.Errorf("Expected identical PnL for identical seeds: %d vs %d",
			first.Summary.TotalPnlTicks, second.Summary.TotalPnlTicks)
	}
	if first.Summary.SharpeRatio != second.Summary.SharpeRatio {
		t.Errorf("Expected identical Sharpe for identical seeds")
	}
	if first.Summary.TradeCount != second.Summary.TradeCount {
		t.Errorf("Expected identical trade counts for identical seeds")
	}
}

func TestGetSimulationResults(t *testing.T) {
	app, _ := newTestApp()

	var created models.RunSimulationResponse
	decodeJSON(t, postSimulation(t, app, models.RunSimulationRequest{
		EndingTimestampUs: 50_000,
		StepUs:            100,
		Seed:              3,
	}), &created)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/simulations/"+created.RunID, nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("Expected request to complete, got: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected status 200, got: %d", resp.StatusCode)
	}

	var result models.SimulationResultResponse
	decodeJSON(t, resp, &result)

	if result.RunID != created.RunID {
		t.Errorf("Expected run id %s, got: %s", created.RunID, result.RunID)
	}
	if len(result.Series.TimestampUs) == 0 {
		t.Errorf("Expected a populated time series")
	}
	if len(result.Series.TimestampUs) != len(result.Series.TotalPnlTicks) {
		t.Errorf("Expected aligned series lengths")
	}

	tradesReq := httptest.NewRequest(http.MethodGet, "/api/v1/simulations/"+created.RunID+"/trades", nil)
	tradesResp, err := app.Test(tradesReq, -1)
	if err != nil {
		t.Fatalf("Expected request to complete, got: %v", err)
	}
	if tradesResp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected status 200 for trades, got: %d", tradesResp.StatusCode)
	}

	var trades models.TradesResponse
	decodeJSON(t, tradesResp, &trades)
	if trades.RunID != created.RunID {
		t.Errorf("Expected trades for run %s", created.RunID)
	}
}

func TestGetUnknownSimulation(t *testing.T) {
	app, _ := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/simulations/does-not-exist", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("Expected request to complete, got: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("Expected status 404, got: %d", resp.StatusCode)
	}
}

func TestRunSimulationValidation(t *testing.T) {
	app, _ := newTestApp()

	resp := postSimulation(t, app, models.RunSimulationRequest{
		Profile: "reckless",
	})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown profile, got: %d", resp.StatusCode)
	}

	resp = postSimulation(t, app, models.RunSimulationRequest{
		EndingTimestampUs: 10_000,
		StepUs:            100,
		MarkingMethod:     "VWAP",
	})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for bad marking method, got: %d", resp.StatusCode)
	}

	resp = postSimulation(t, app, models.RunSimulationRequest{
		EndingTimestampUs: 10_000,
		StepUs:            100,
		LatencyProfile:    []int64{1, 2, 3},
	})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for short latency profile, got: %d", resp.StatusCode)
	}

	resp = postSimulation(t, app, models.RunSimulationRequest{
		EndingTimestampUs: 10_000,
		StepUs:            100,
		LatencyProfile:    []int64{9, 1, 0, 0, 0, 0, 0, 0, 0, 0},
	})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("Expected status 400 for min > max latency bounds, got: %d", resp.StatusCode)
	}
}

func TestListProfilesEndpoint(t *testing.T) {
	app, _ := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profiles", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("Expected request to complete, got: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected status 200, got: %d", resp.StatusCode)
	}

	var profiles models.ProfilesResponse
	decodeJSON(t, resp, &profiles)

	if len(profiles.Profiles) != 3 {
		t.Fatalf("Expected 3 built-in profiles, got: %d", len(profiles.Profiles))
	}
	names := map[string]bool{}
	for _, p := range profiles.Profiles {
		names[p.Name] = true
	}
	for _, expected := range []string{"aggressive", "balanced", "passive"} {
		if !names[expected] {
			t.Errorf("Expected profile %q in listing", expected)
		}
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	app, _ := newTestApp()

	decodeJSON(t, postSimulation(t, app, models.RunSimulationRequest{
		EndingTimestampUs: 10_000,
		StepUs:            100,
	}), &models.RunSimulationResponse{})

	healthReq := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthResp, err := app.Test(healthReq, -1)
	if err != nil {
		t.Fatalf("Expected request to complete, got: %v", err)
	}

	var health models.HealthResponse
	decodeJSON(t, healthResp, &health)
	if health.Status != "healthy" {
		t.Errorf("Expected healthy status, got: %s", health.Status)
	}
	if health.SimulationsRun != 1 {
		t.Errorf("Expected 1 simulation run, got: %d", health.SimulationsRun)
	}

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsResp, err := app.Test(metricsReq, -1)
	if err != nil {
		t.Fatalf("Expected request to complete, got: %v", err)
	}

	var metrics models.MetricsResponse
	decodeJSON(t, metricsResp, &metrics)
	if metrics.SimulationsRequested != 1 || metrics.SimulationsCompleted != 1 {
		t.Errorf("Expected counters (1, 1), got: (%d, %d)",
			metrics.SimulationsRequested, metrics.SimulationsCompleted)
	}
	if metrics.ResultsStored != 1 {
		t.Errorf("Expected 1 stored result, got: %d", metrics.ResultsStored)
	}
}
