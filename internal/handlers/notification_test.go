package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/franzego/push-notification-service/internal/models"
)

// Mock Queue Publisher

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, message interface{}, correlationID string) error {
	args := m.Called(ctx, routingKey, message, correlationID)
	return args.Error(0)
}

// Mock Idempotency Guard

type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// Mock Record Store

type MockRecordStore struct {
	mock.Mock
}

func (m *MockRecordStore) Create(ctx context.Context, n *models.Notification) error {
	args := m.Called(ctx, n)
	if args.Error(0) == nil && n.ID == "" {
		n.ID = "generated-id"
	}
	return args.Error(0)
}

func (m *MockRecordStore) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	args := m.Called(ctx, id)
	var n *models.Notification
	if v := args.Get(0); v != nil {
		n = v.(*models.Notification)
	}
	return n, args.Error(1)
}

func (m *MockRecordStore) GetByIdempotencyKey(ctx context.Context, key string) (*models.Notification, error) {
	args := m.Called(ctx, key)
	var n *models.Notification
	if v := args.Get(0); v != nil {
		n = v.(*models.Notification)
	}
	return n, args.Error(1)
}

// Mock Token Store

type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) Upsert(ctx context.Context, userID, token, deviceType, platform string) (*models.DeviceToken, error) {
	args := m.Called(ctx, userID, token, deviceType, platform)
	var t *models.DeviceToken
	if v := args.Get(0); v != nil {
		t = v.(*models.DeviceToken)
	}
	return t, args.Error(1)
}

func (m *MockTokenStore) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]models.DeviceToken, error) {
	args := m.Called(ctx, userID, activeOnly)
	var tokens []models.DeviceToken
	if v := args.Get(0); v != nil {
		tokens = v.([]models.DeviceToken)
	}
	return tokens, args.Error(1)
}

func (m *MockTokenStore) Deactivate(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

func setupRouter(handler *NotificationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/notifications/send", handler.SendPush)
	router.POST("/notifications/send-bulk", handler.SendBulk)
	router.GET("/notifications/status", handler.GetStatus)
	router.POST("/device-tokens", handler.RegisterDeviceToken)
	router.GET("/device-tokens/:user_id", handler.ListDeviceTokens)
	router.DELETE("/device-tokens/:token", handler.DeactivateDeviceToken)
	return router
}

func performJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSendPush_Success(t *testing.T) {
	mockQueue := new(MockPublisher)
	mockGuard := new(MockGuard)
	mockRecords := new(MockRecordStore)
	mockTokens := new(MockTokenStore)

	mockGuard.On("Exists", mock.Anything, "order-42").Return(false, nil)
	mockRecords.On("Create", mock.Anything, mock.Anything).Return(nil)
	mockQueue.On("Publish", mock.Anything, "push.queue", mock.MatchedBy(func(msg interface{}) bool {
		payload, ok := msg.(models.DeliveryRequest)
		return ok && payload.RetryCount == 0 &&
			payload.NotificationID == "generated-id" &&
			payload.QueuedAt != nil
	}), mock.Anything).Return(nil)

	handler := NewNotificationHandler(mockQueue, mockGuard, mockRecords, mockTokens, "push.queue", nil)
	router := setupRouter(handler)

	w := performJSON(router, "POST", "/notifications/send", models.SendPushRequest{
		Title:          "Order shipped",
		Body:           "Your order is on its way",
		Token:          "device-token-1234567890",
		IdempotencyKey: "order-42",
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var response models.APIResponse
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.True(t, response.Success)
	assert.Equal(t, "Push notification queued successfully", response.Message)

	mockGuard.AssertExpectations(t)
	mockRecords.AssertExpectations(t)
	mockQueue.AssertExpectations(t)
}

func TestSendPush_Duplicate(t *testing.T) {
	mockQueue := new(MockPublisher)
	mockGuard := new(MockGuard)
	mockRecords := new(MockRecordStore)
	mockTokens := new(MockTokenStore)

	mockGuard.On("Exists", mock.Anything, "order-42").Return(true, nil)
	mockRecords.On("GetByIdempotencyKey", mock.Anything, "order-42").
		Return(&models.Notification{ID: "notif-1", Status: models.StatusSent}, nil)

	handler := NewNotificationHandler(mockQueue, mockGuard, mockRecords, mockTokens, "push.queue", nil)
	router := setupRouter(handler)

	w := performJSON(router, "POST", "/notifications/send", models.SendPushRequest{
		Title:          "Order shipped",
		Body:           "Your order is on its way",
		Token:          "device-token-1234567890",
		IdempotencyKey: "order-42",
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var response models.APIResponse
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.True(t, response.Success)
	assert.Equal(t, "Notification already processed", response.Message)

	mockQueue.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockRecords.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSendPush_ShortTokenRejected(t *testing.T) {
	handler := NewNotificationHandler(new(MockPublisher), new(MockGuard), new(MockRecordStore), new(MockTokenStore), "push.queue", nil)
	router := setupRouter(handler)

	w := performJSON(router, "POST", "/notifications/send", models.SendPushRequest{
		Title: "Order shipped",
		Body:  "Your order is on its way",
		Token: "short",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response models.APIResponse
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.False(t, response.Success)
}

func TestSendPush_MissingTitleRejected(t *testing.T) {
	handler := NewNotificationHandler(new(MockPublisher), new(MockGuard), new(MockRecordStore), new(MockTokenStore), "push.queue", nil)
	router := setupRouter(handler)

	w := performJSON(router, "POST", "/notifications/send", models.SendPushRequest{
		Body:  "Your order is on its way",
		Token: "device-token-1234567890",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendPush_GeneratesIdempotencyKeyWhenMissing(t *testing.T) {
	mockQueue := new(MockPublisher)
	mockGuard := new(MockGuard)
	mockRecords := new(MockRecordStore)

	mockGuard.On("Exists", mock.Anything, mock.MatchedBy(func(key string) bool {
		return key != ""
	})).Return(false, nil)
	mockRecords.On("Create", mock.Anything, mock.Anything).Return(nil)
	mockQueue.On("Publish", mock.Anything, "push.queue", mock.Anything, mock.Anything).Return(nil)

	handler := NewNotificationHandler(mockQueue, mockGuard, mockRecords, new(MockTokenStore), "push.queue", nil)
	router := setupRouter(handler)

	w := performJSON(router, "POST", "/notifications/send", models.SendPushRequest{
		Title: "Order shipped",
		Body:  "Your order is on its way",
		Token: "device-token-1234567890",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	mockGuard.AssertExpectations(t)
}

func TestSendBulk_MixedOutcomes(t *testing.T) {
	mockQueue := new(MockPublisher)
	mockGuard := new(MockGuard)
	mockRecords := new(MockRecordStore)

	mockGuard.On("Exists", mock.Anything, "fresh-key").Return(false, nil)
	mockGuard.On("Exists", mock.Anything, "dup-key").Return(true, nil)
	mockRecords.On("GetByIdempotencyKey", mock.Anything, "dup-key").Return(nil, nil)
	mockRecords.On("Create", mock.Anything, mock.Anything).Return(nil)
	mockQueue.On("Publish", mock.Anything, "push.queue", mock.Anything, mock.Anything).Return(nil)

	handler := NewNotificationHandler(mockQueue, mockGuard, mockRecords, new(MockTokenStore), "push.queue", nil)
	router := setupRouter(handler)

	w := performJSON(router, "POST", "/notifications/send-bulk", models.BulkSendRequest{
		Notifications: []models.SendPushRequest{
			{Title: "A", Body: "B", Token: "device-token-1234567890", IdempotencyKey: "fresh-key"},
			{Title: "A", Body: "B", Token: "device-token-1234567890", IdempotencyKey: "dup-key"},
		},
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Success bool `json:"success"`
		Data    struct {
			Total      int                     `json:"total"`
			Queued     int                     `json:"queued"`
			Duplicates int                     `json:"duplicates"`
			Errors     int                     `json:"errors"`
			Results    []models.BulkSendResult `json:"results"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.True(t, response.Success)
	assert.Equal(t, 2, response.Data.Total)
	assert.Equal(t, 1, response.Data.Queued)
	assert.Equal(t, 1, response.Data.Duplicates)
	assert.Equal(t, 0, response.Data.Errors)
}

func TestSendBulk_EmptyBatchRejected(t *testing.T) {
	handler := NewNotificationHandler(new(MockPublisher), new(MockGuard), new(MockRecordStore), new(MockTokenStore), "push.queue", nil)
	router := setupRouter(handler)

	w := performJSON(router, "POST", "/notifications/send-bulk", models.BulkSendRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetStatus_ByNotificationID(t *testing.T) {
	mockRecords := new(MockRecordStore)
	mockRecords.On("GetByID", mock.Anything, "notif-1").Return(&models.Notification{
		ID:          "notif-1",
		DeviceToken: "a-very-long-device-token-that-should-be-truncated",
		Status:      models.StatusSent,
	}, nil)

	handler := NewNotificationHandler(new(MockPublisher), new(MockGuard), mockRecords, new(MockTokenStore), "push.queue", nil)
	router := setupRouter(handler)

	w := performJSON(router, "GET", "/notifications/status?notification_id=notif-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data models.Notification `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, models.StatusSent, response.Data.Status)
	assert.Equal(t, "a-very-long-device-t...", response.Data.DeviceToken)
}

func TestGetStatus_NotFound(t *testing.T) {
	mockRecords := new(MockRecordStore)
	mockRecords.On("GetByIdempotencyKey", mock.Anything, "missing").Return(nil, nil)

	handler := NewNotificationHandler(new(MockPublisher), new(MockGuard), mockRecords, new(MockTokenStore), "push.queue", nil)
	router := setupRouter(handler)

	w := performJSON(router, "GET", "/notifications/status?idempotency_key=missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStatus_MissingIdentifiers(t *testing.T) {
	handler := NewNotificationHandler(new(MockPublisher), new(MockGuard), new(MockRecordStore), new(MockTokenStore), "push.queue", nil)
	router := setupRouter(handler)

	w := performJSON(router, "GET", "/notifications/status", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterDeviceToken_Success(t *testing.T) {
	mockTokens := new(MockTokenStore)
	mockTokens.On("Upsert", mock.Anything, "user123", "device-token-1234567890", "mobile", "android").
		Return(&models.DeviceToken{ID: "token-1", UserID: "user123", Token: "device-token-1234567890", IsActive: true}, nil)

	handler := NewNotificationHandler(new(MockPublisher), new(MockGuard), new(MockRecordStore), mockTokens, "push.queue", nil)
	router := setupRouter(handler)

	w := performJSON(router, "POST", "/device-tokens", models.RegisterDeviceTokenRequest{
		UserID:     "user123",
		Token:      "device-token-1234567890",
		DeviceType: "mobile",
		Platform:   "android",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	mockTokens.AssertExpectations(t)
}

func TestDeactivateDeviceToken_NotFound(t *testing.T) {
	mockTokens := new(MockTokenStore)
	mockTokens.On("Deactivate", mock.Anything, "unknown-token").Return(false, nil)

	handler := NewNotificationHandler(new(MockPublisher), new(MockGuard), new(MockRecordStore), mockTokens, "push.queue", nil)
	router := setupRouter(handler)

	w := performJSON(router, "DELETE", "/device-tokens/unknown-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
