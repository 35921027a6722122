package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockBreakerSource struct {
	mock.Mock
}

func (m *MockBreakerSource) BreakerState() gobreaker.State {
	args := m.Called()
	return args.Get(0).(gobreaker.State)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func performHealthCheck(handler *HealthHandler) (*httptest.ResponseRecorder, healthResponse) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", handler.HealthCheck)

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body healthResponse
	json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestHealthCheck_AllUp(t *testing.T) {
	broker := new(MockBroker)
	cache := new(MockPinger)
	db := new(MockPinger)
	breaker := new(MockBreakerSource)

	broker.On("IsConnected").Return(true)
	cache.On("Ping", mock.Anything).Return(nil)
	db.On("Ping", mock.Anything).Return(nil)
	breaker.On("BreakerState").Return(gobreaker.StateClosed)

	w, body := performHealthCheck(NewHealthHandler(broker, cache, db, breaker))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "up", body.Checks["rabbitmq"])
	assert.Equal(t, "up", body.Checks["redis"])
	assert.Equal(t, "up", body.Checks["postgres"])
	assert.Equal(t, "closed", body.Checks["circuit_breaker"])
}

func TestHealthCheck_BrokerDownIsUnhealthy(t *testing.T) {
	broker := new(MockBroker)
	cache := new(MockPinger)
	db := new(MockPinger)
	breaker := new(MockBreakerSource)

	broker.On("IsConnected").Return(false)
	cache.On("Ping", mock.Anything).Return(nil)
	db.On("Ping", mock.Anything).Return(nil)
	breaker.On("BreakerState").Return(gobreaker.StateClosed)

	w, body := performHealthCheck(NewHealthHandler(broker, cache, db, breaker))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "down", body.Checks["rabbitmq"])
}

func TestHealthCheck_DatabaseDownStaysHealthy(t *testing.T) {
	broker := new(MockBroker)
	cache := new(MockPinger)
	db := new(MockPinger)
	breaker := new(MockBreakerSource)

	broker.On("IsConnected").Return(true)
	cache.On("Ping", mock.Anything).Return(nil)
	db.On("Ping", mock.Anything).Return(assert.AnError)
	breaker.On("BreakerState").Return(gobreaker.StateOpen)

	w, body := performHealthCheck(NewHealthHandler(broker, cache, db, breaker))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "down", body.Checks["postgres"])
	assert.Equal(t, "open", body.Checks["circuit_breaker"])
}

func TestHealthCheck_CacheDownIsUnhealthy(t *testing.T) {
	broker := new(MockBroker)
	cache := new(MockPinger)
	db := new(MockPinger)
	breaker := new(MockBreakerSource)

	broker.On("IsConnected").Return(true)
	cache.On("Ping", mock.Anything).Return(assert.AnError)
	db.On("Ping", mock.Anything).Return(nil)
	breaker.On("BreakerState").Return(gobreaker.StateClosed)

	w, body := performHealthCheck(NewHealthHandler(broker, cache, db, breaker))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "down", body.Checks["redis"])
}
