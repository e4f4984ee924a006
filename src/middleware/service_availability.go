package middleware

import (
	"os"
	"strconv"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// ServiceAvailability guards the API with a maintenance switch and a cap on
// in-flight requests. Simulation runs are CPU-bound and synchronous, so the
// in-flight cap doubles as a cap on concurrently running simulations.
type ServiceAvailability struct {
	maintenanceMode  atomic.Bool
	maxInFlight      int64
	inFlightRequests atomic.Int64
}

func NewServiceAvailability(maxInFlight int64) *ServiceAvailability {
	sa := &ServiceAvailability{
		maxInFlight: maxInFlight,
	}

	if os.Getenv("MAINTENANCE_MODE") == "1" {
		sa.maintenanceMode.Store(true)
		log.Warn().Msg("Service is in maintenance mode - all requests will return 503")
	}

	return sa
}

func (sa *ServiceAvailability) SetMaintenanceMode(enabled bool) {
	sa.maintenanceMode.Store(enabled)
	if enabled {
		log.Warn().Msg("Service maintenance mode enabled")
	} else {
		log.Info().Msg("Service maintenance mode disabled")
	}
}

func (sa *ServiceAvailability) IsMaintenanceMode() bool {
	return sa.maintenanceMode.Load()
}

func (sa *ServiceAvailability) GetInFlightRequests() int64 {
	return sa.inFlightRequests.Load()
}

func (sa *ServiceAvailability) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// edge case: health check always available
		if c.Path() == "/health" {
			return c.Next()
		}

		if sa.maintenanceMode.Load() {
			log.Warn().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Str("ip", c.IP()).
				Msg("Request rejected: service in maintenance mode")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "Service unavailable",
				"message": "The service is currently undergoing maintenance. Please try again later.",
				"code":    503,
			})
		}

		// edge case: reject when too many simulations are already running
		if sa.maxInFlight > 0 {
			current := sa.inFlightRequests.Load()
			if current >= sa.maxInFlight {
				log.Warn().
					Str("path", c.Path()).
					Str("method", c.Method()).
					Int64("in_flight", current).
					Int64("max_in_flight", sa.maxInFlight).
					Msg("Request rejected: simulation capacity reached")
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error":   "Service unavailable",
					"message": "Simulation capacity reached. Please try again later.",
					"code":    503,
				})
			}
		}

		sa.inFlightRequests.Add(1)
		defer sa.inFlightRequests.Add(-1)

		return c.Next()
	}
}

func DefaultServiceAvailability() *ServiceAvailability {
	maxInFlight := int64(0)

	if envMax := os.Getenv("MAX_CONCURRENT_REQUESTS"); envMax != "" {
		if parsed, err := strconv.ParseInt(envMax, 10, 64); err == nil && parsed > 0 {
			maxInFlight = parsed
			log.Info().
				Int64("max_concurrent_requests", maxInFlight).
				Msg("Simulation concurrency cap enabled")
		}
	}

	return NewServiceAvailability(maxInFlight)
}
