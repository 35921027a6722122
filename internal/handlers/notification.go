package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franzego/push-notification-service/internal/middleware"
	"github.com/franzego/push-notification-service/internal/models"
	"github.com/franzego/push-notification-service/internal/queue"
)

// QueuePublisher publishes delivery requests onto the exchange.
type QueuePublisher interface {
	Publish(ctx context.Context, routingKey string, message interface{}, correlationID string) error
}

// Guard answers whether an idempotency key was already processed.
type Guard interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// RecordStore is the persistence surface the API needs.
type RecordStore interface {
	Create(ctx context.Context, n *models.Notification) error
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Notification, error)
}

// TokenStore is the device-token registry surface.
type TokenStore interface {
	Upsert(ctx context.Context, userID, token, deviceType, platform string) (*models.DeviceToken, error)
	ListByUser(ctx context.Context, userID string, activeOnly bool) ([]models.DeviceToken, error)
	Deactivate(ctx context.Context, token string) (bool, error)
}

type NotificationHandler struct {
	publisher QueuePublisher
	guard     Guard
	records   RecordStore
	tokens    TokenStore
	pushQueue string
	logger    *zap.Logger
}

func NewNotificationHandler(
	publisher QueuePublisher,
	guard Guard,
	records RecordStore,
	tokens TokenStore,
	pushQueue string,
	logger *zap.Logger,
) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{
		publisher: publisher,
		guard:     guard,
		records:   records,
		tokens:    tokens,
		pushQueue: pushQueue,
		logger:    logger,
	}
}

// SendPush queues one push notification for asynchronous delivery.
func (n *NotificationHandler) SendPush(c *gin.Context) {
	ctx := c.Request.Context()
	var req models.SendPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Invalid Request Body",
		})
		return
	}

	result := n.queueOne(ctx, c.GetString(middleware.CorrelationIDKey), req)
	switch result.Status {
	case "duplicate":
		c.JSON(http.StatusOK, models.APIResponse{
			Success: true,
			Message: "Notification already processed",
			Data:    result,
		})
	case "error":
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "failed to queue notification",
			Message: "Internal Server Error",
		})
	default:
		c.JSON(http.StatusOK, models.APIResponse{
			Success: true,
			Message: "Push notification queued successfully",
			Data: models.NotificationResponse{
				NotificationID: result.NotificationID,
				IdempotencyKey: result.IdempotencyKey,
				Status:         models.StatusPending,
				QueuedAt:       time.Now(),
			},
		})
	}
}

// SendBulk queues up to 100 notifications, reporting per-item outcomes.
func (n *NotificationHandler) SendBulk(c *gin.Context) {
	ctx := c.Request.Context()
	var req models.BulkSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Invalid Request Body",
		})
		return
	}

	correlationID := c.GetString(middleware.CorrelationIDKey)
	results := make([]models.BulkSendResult, 0, len(req.Notifications))
	var queued, duplicates, errored int
	for i, item := range req.Notifications {
		result := n.queueOne(ctx, correlationID, item)
		result.Index = i
		switch result.Status {
		case "queued":
			queued++
		case "duplicate":
			duplicates++
		default:
			errored++
		}
		results = append(results, result)
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Bulk notification processing completed",
		Data: gin.H{
			"total":      len(req.Notifications),
			"queued":     queued,
			"duplicates": duplicates,
			"errors":     errored,
			"results":    results,
		},
	})
}

func (n *NotificationHandler) queueOne(ctx context.Context, correlationID string, req models.SendPushRequest) models.BulkSendResult {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	exists, err := n.guard.Exists(ctx, req.IdempotencyKey)
	if err != nil {
		n.logger.Warn("idempotency check failed", zap.Error(err))
	}
	if exists {
		result := models.BulkSendResult{
			IdempotencyKey: req.IdempotencyKey,
			Status:         "duplicate",
			Message:        "Notification already processed",
		}
		if existing, err := n.records.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil && existing != nil {
			result.NotificationID = existing.ID
		}
		return result
	}

	record := &models.Notification{
		IdempotencyKey:   req.IdempotencyKey,
		UserID:           req.UserID,
		DeviceToken:      req.Token,
		NotificationType: req.NotificationType,
		Title:            req.Title,
		Body:             req.Body,
		ImageURL:         req.Image,
		LinkURL:          req.Link,
		Data:             req.Data,
		Status:           models.StatusPending,
	}
	if err := n.records.Create(ctx, record); err != nil {
		n.logger.Error("failed to store notification", zap.Error(err))
		return models.BulkSendResult{
			IdempotencyKey: req.IdempotencyKey,
			Status:         "error",
			Message:        "Failed to queue notification",
		}
	}

	queuedAt := time.Now().UTC()
	message := models.DeliveryRequest{
		Title:            req.Title,
		Body:             req.Body,
		Token:            req.Token,
		NotificationType: req.NotificationType,
		Image:            req.Image,
		Link:             req.Link,
		Data:             req.Data,
		IdempotencyKey:   req.IdempotencyKey,
		UserID:           req.UserID,
		RetryCount:       0,
		NotificationID:   record.ID,
		QueuedAt:         &queuedAt,
	}
	if correlationID == "" {
		correlationID = queue.CorrelationID(req.IdempotencyKey)
	}
	if err := n.publisher.Publish(ctx, n.pushQueue, message, correlationID); err != nil {
		n.logger.Error("failed to publish notification", zap.Error(err))
		return models.BulkSendResult{
			IdempotencyKey: req.IdempotencyKey,
			NotificationID: record.ID,
			Status:         "error",
			Message:        "Failed to queue notification",
		}
	}

	return models.BulkSendResult{
		IdempotencyKey: req.IdempotencyKey,
		NotificationID: record.ID,
		Status:         "queued",
		Message:        "Notification queued successfully",
	}
}

// GetStatus looks up a notification by id or idempotency key so callers can
// observe the full delivery lifecycle.
func (n *NotificationHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	notificationID := c.Query("notification_id")
	idempotencyKey := c.Query("idempotency_key")
	if notificationID == "" && idempotencyKey == "" {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   "either notification_id or idempotency_key must be provided",
			Message: "Invalid Request",
		})
		return
	}

	var record *models.Notification
	var err error
	if notificationID != "" {
		record, err = n.records.GetByID(ctx, notificationID)
	} else {
		record, err = n.records.GetByIdempotencyKey(ctx, idempotencyKey)
	}
	if err != nil {
		n.logger.Error("failed to fetch notification", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "failed to retrieve notification status",
			Message: "Internal Server Error",
		})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, models.APIResponse{
			Success: false,
			Error:   "No notification found with the provided identifier",
			Message: "Notification not found",
		})
		return
	}

	record.DeviceToken = truncateToken(record.DeviceToken)
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Notification status retrieved successfully",
		Data:    record,
	})
}

// RegisterDeviceToken creates or reactivates a device token for a user.
func (n *NotificationHandler) RegisterDeviceToken(c *gin.Context) {
	var req models.RegisterDeviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Invalid Request Body",
		})
		return
	}

	token, err := n.tokens.Upsert(c.Request.Context(), req.UserID, req.Token, req.DeviceType, req.Platform)
	if err != nil {
		n.logger.Error("failed to register device token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "failed to register device token",
			Message: "Internal Server Error",
		})
		return
	}

	token.Token = truncateToken(token.Token)
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Device token registered successfully",
		Data:    token,
	})
}

func (n *NotificationHandler) ListDeviceTokens(c *gin.Context) {
	userID := c.Param("user_id")
	activeOnly := c.DefaultQuery("active_only", "true") != "false"

	tokens, err := n.tokens.ListByUser(c.Request.Context(), userID, activeOnly)
	if err != nil {
		n.logger.Error("failed to list device tokens", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "failed to retrieve device tokens",
			Message: "Internal Server Error",
		})
		return
	}

	for i := range tokens {
		tokens[i].Token = truncateToken(tokens[i].Token)
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Device tokens retrieved successfully",
		Data:    tokens,
	})
}

func (n *NotificationHandler) DeactivateDeviceToken(c *gin.Context) {
	token := c.Param("token")
	ok, err := n.tokens.Deactivate(c.Request.Context(), token)
	if err != nil {
		n.logger.Error("failed to deactivate device token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "failed to deactivate device token",
			Message: "Internal Server Error",
		})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, models.APIResponse{
			Success: false,
			Error:   "No device token found with the provided token",
			Message: "Device token not found",
		})
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Device token deactivated successfully",
	})
}

func truncateToken(token string) string {
	if len(token) > 20 {
		return token[:20] + "..."
	}
	return token
}
