package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
)

// BrokerHealth reports whether the message broker connection is alive.
type BrokerHealth interface {
	IsConnected() bool
}

// CacheHealth pings the idempotency cache.
type CacheHealth interface {
	Ping(ctx context.Context) error
}

// DatabaseHealth pings the record store.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
}

// BreakerHealth exposes the gateway circuit breaker state.
type BreakerHealth interface {
	BreakerState() gobreaker.State
}

type HealthHandler struct {
	broker  BrokerHealth
	cache   CacheHealth
	db      DatabaseHealth
	breaker BreakerHealth
}

func NewHealthHandler(broker BrokerHealth, cache CacheHealth, db DatabaseHealth, breaker BreakerHealth) *HealthHandler {
	return &HealthHandler{broker: broker, cache: cache, db: db, breaker: breaker}
}

// HealthCheck reports component health. The service is unhealthy when the
// broker or the idempotency cache is down; a degraded database or an open
// breaker is reported but does not fail the check, since deliveries can
// still flow.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	healthy := true

	if h.broker != nil && h.broker.IsConnected() {
		checks["rabbitmq"] = "up"
	} else {
		checks["rabbitmq"] = "down"
		healthy = false
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			checks["redis"] = "down"
			healthy = false
		} else {
			checks["redis"] = "up"
		}
	} else {
		checks["redis"] = "down"
		healthy = false
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["postgres"] = "down"
		} else {
			checks["postgres"] = "up"
		}
	} else {
		checks["postgres"] = "down"
	}

	if h.breaker != nil {
		checks["circuit_breaker"] = h.breaker.BreakerState().String()
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
	})
}
