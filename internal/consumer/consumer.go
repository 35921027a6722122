package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/franzego/push-notification-service/internal/fcm"
	"github.com/franzego/push-notification-service/internal/metrics"
	"github.com/franzego/push-notification-service/internal/models"
	"github.com/franzego/push-notification-service/internal/store"
)

const invalidTokenMessage = "Invalid device token"

// Publisher publishes delivery payloads onto the exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message interface{}, correlationID string) error
	PublishWithDelay(ctx context.Context, routingKey string, message interface{}, correlationID string, delay time.Duration) error
}

// Gateway performs one push delivery attempt.
type Gateway interface {
	Send(ctx context.Context, payload models.DeliveryRequest, correlationID string) (*fcm.Response, error)
}

// Guard is the idempotency check-and-set.
type Guard interface {
	Exists(ctx context.Context, key string) (bool, error)
	MarkDone(ctx context.Context, key string) error
}

// RecordStore persists notification lifecycle state.
type RecordStore interface {
	Create(ctx context.Context, n *models.Notification) error
	UpdateStatus(ctx context.Context, id, status, errorMessage string, retryCount int) (*models.Notification, error)
}

// Config carries the routing keys and retry policy for the consumer.
type Config struct {
	RetryQueue  string
	FailedQueue string
	MaxRetries  int
	BackoffBase time.Duration
}

// DeliveryConsumer drives one state machine per dequeued message: idempotency
// check, token validation, record upsert, gateway call through the breaker,
// then retry or dead-letter on failure. The message is acknowledged only
// after the outcome (including any republish) is settled, so a crash
// mid-processing leaves it for broker redelivery.
type DeliveryConsumer struct {
	publisher Publisher
	gateway   Gateway
	guard     Guard
	records   RecordStore
	cfg       Config
	validate  *validator.Validate
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func New(publisher Publisher, gateway Gateway, guard Guard, records RecordStore, cfg Config, m *metrics.Metrics, logger *zap.Logger) *DeliveryConsumer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryConsumer{
		publisher: publisher,
		gateway:   gateway,
		guard:     guard,
		records:   records,
		cfg:       cfg,
		validate:  validator.New(),
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleDelivery processes one broker delivery end to end. It owns the
// ack/reject decision and never lets an error escape to crash the consumer.
func (c *DeliveryConsumer) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	correlationID := d.CorrelationId
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	log := c.logger.With(zap.String("correlation_id", correlationID))

	var payload models.DeliveryRequest
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		// The push queue dead-letters rejected messages, so the raw body
		// still lands on the failed queue instead of being dropped.
		log.Error("rejecting unparseable message", zap.Error(err))
		c.metrics.IncDeadLettered()
		if rejectErr := d.Reject(false); rejectErr != nil {
			log.Error("failed to reject message", zap.Error(rejectErr))
		}
		return
	}

	log.Info("processing notification",
		zap.String("title", payload.Title),
		zap.Int("attempt", payload.RetryCount),
	)

	if payload.IdempotencyKey != "" {
		exists, err := c.guard.Exists(ctx, payload.IdempotencyKey)
		if err != nil {
			log.Warn("idempotency check failed, proceeding", zap.Error(err))
		} else if exists {
			log.Info("duplicate notification, skipping",
				zap.String("idempotency_key", payload.IdempotencyKey))
			c.metrics.IncDuplicate()
			c.ack(log, d)
			return
		}
	}

	if err := c.validate.Struct(payload); err != nil {
		c.failTerminal(ctx, log, d, payload, correlationID, validationReason(err))
		return
	}

	c.upsertProcessing(ctx, log, &payload)

	start := c.now()
	_, sendErr := c.gateway.Send(ctx, payload, correlationID)
	c.metrics.ObserveDeliveryDuration(c.now().Sub(start))

	if sendErr == nil {
		if payload.NotificationID != "" {
			if _, err := c.records.UpdateStatus(ctx, payload.NotificationID, models.StatusSent, "", store.KeepRetryCount); err != nil {
				log.Error("failed to mark notification sent", zap.Error(err))
			}
		}
		if payload.IdempotencyKey != "" {
			if err := c.guard.MarkDone(ctx, payload.IdempotencyKey); err != nil {
				log.Error("failed to mark idempotency key", zap.Error(err))
			}
		}
		c.metrics.IncSent()
		log.Info("notification sent successfully")
		c.ack(log, d)
		return
	}

	c.handleFailure(ctx, log, d, payload, correlationID, sendErr)
}

// handleFailure applies the retry decision: requeue with backoff while
// attempts remain, otherwise dead-letter. Store failures are logged and
// swallowed so they never block the routing decision.
func (c *DeliveryConsumer) handleFailure(ctx context.Context, log *zap.Logger, d amqp.Delivery, payload models.DeliveryRequest, correlationID string, sendErr error) {
	attempt := payload.RetryCount
	errMsg := sendErr.Error()
	log.Error("delivery attempt failed", zap.Int("attempt", attempt), zap.Error(sendErr))

	if attempt < c.cfg.MaxRetries {
		if payload.NotificationID != "" {
			if _, err := c.records.UpdateStatus(ctx, payload.NotificationID, models.StatusRetrying, errMsg, attempt); err != nil {
				log.Error("failed to mark notification retrying", zap.Error(err))
			}
		}

		retry := payload
		retry.RetryCount = attempt + 1
		delay := c.backoffDelay(attempt)
		if err := c.publisher.PublishWithDelay(ctx, c.cfg.RetryQueue, retry, correlationID, delay); err != nil {
			// Could not hand the message over to the retry queue; leave it
			// to the broker to redeliver the original.
			log.Error("failed to publish retry, requeueing original", zap.Error(err))
			c.nackRequeue(log, d)
			return
		}
		c.metrics.IncRetried()
		log.Info("message requeued for retry",
			zap.Int("next_attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		c.ack(log, d)
		return
	}

	if payload.NotificationID != "" {
		if _, err := c.records.UpdateStatus(ctx, payload.NotificationID, models.StatusFailed, errMsg, attempt); err != nil {
			log.Error("failed to mark notification failed", zap.Error(err))
		}
	}
	c.metrics.IncFailed("retry_exhausted")

	deadLetter := models.DeadLetter{DeliveryRequest: payload, Error: errMsg}
	if err := c.publisher.Publish(ctx, c.cfg.FailedQueue, deadLetter, correlationID); err != nil {
		log.Error("failed to publish dead letter, requeueing original", zap.Error(err))
		c.nackRequeue(log, d)
		return
	}
	c.metrics.IncDeadLettered()
	log.Error("message moved to dead-letter queue", zap.Int("retries", attempt))
	c.ack(log, d)
}

// failTerminal handles non-retryable validation failures: the record goes
// straight to failed and the payload to the dead-letter queue, bypassing the
// retry path entirely.
func (c *DeliveryConsumer) failTerminal(ctx context.Context, log *zap.Logger, d amqp.Delivery, payload models.DeliveryRequest, correlationID, reason string) {
	log.Error("notification failed validation", zap.String("reason", reason))

	if payload.NotificationID == "" {
		record := recordFromPayload(payload, models.StatusFailed)
		record.ErrorMessage = reason
		if err := c.records.Create(ctx, record); err != nil {
			log.Error("failed to store notification", zap.Error(err))
		} else {
			payload.NotificationID = record.ID
		}
	} else {
		if _, err := c.records.UpdateStatus(ctx, payload.NotificationID, models.StatusFailed, reason, store.KeepRetryCount); err != nil {
			log.Error("failed to mark notification failed", zap.Error(err))
		}
	}
	c.metrics.IncFailed("validation")

	deadLetter := models.DeadLetter{DeliveryRequest: payload, Error: reason}
	if err := c.publisher.Publish(ctx, c.cfg.FailedQueue, deadLetter, correlationID); err != nil {
		log.Error("failed to publish dead letter, requeueing original", zap.Error(err))
		c.nackRequeue(log, d)
		return
	}
	c.metrics.IncDeadLettered()
	c.ack(log, d)
}

// upsertProcessing creates the lifecycle record on first dequeue or moves an
// existing one to processing. Store unavailability must not abort delivery.
func (c *DeliveryConsumer) upsertProcessing(ctx context.Context, log *zap.Logger, payload *models.DeliveryRequest) {
	if payload.NotificationID == "" {
		record := recordFromPayload(*payload, models.StatusProcessing)
		if err := c.records.Create(ctx, record); err != nil {
			log.Error("failed to store notification", zap.Error(err))
			return
		}
		payload.NotificationID = record.ID
		return
	}
	if _, err := c.records.UpdateStatus(ctx, payload.NotificationID, models.StatusProcessing, "", store.KeepRetryCount); err != nil {
		log.Error("failed to mark notification processing", zap.Error(err))
	}
}

// backoffDelay is (2^attempt) * base, 5s/10s/20s with the defaults.
func (c *DeliveryConsumer) backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return c.cfg.BackoffBase * time.Duration(1<<uint(attempt))
}

func (c *DeliveryConsumer) ack(log *zap.Logger, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		log.Error("failed to ack delivery", zap.Error(err))
	}
}

func (c *DeliveryConsumer) nackRequeue(log *zap.Logger, d amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		log.Error("failed to nack delivery", zap.Error(err))
	}
}

func recordFromPayload(payload models.DeliveryRequest, status string) *models.Notification {
	return &models.Notification{
		IdempotencyKey:   payload.IdempotencyKey,
		UserID:           payload.UserID,
		DeviceToken:      payload.Token,
		NotificationType: payload.NotificationType,
		Title:            payload.Title,
		Body:             payload.Body,
		ImageURL:         payload.Image,
		LinkURL:          payload.Link,
		Data:             payload.Data,
		Status:           status,
		RetryCount:       payload.RetryCount,
	}
}

// validationReason maps struct validation failures to the deterministic
// error strings recorded on the notification and the dead letter.
func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fieldErr := verrs[0]
		if fieldErr.Field() == "Token" {
			return invalidTokenMessage
		}
		return fmt.Sprintf("invalid payload: %s is %s", strings.ToLower(fieldErr.Field()), fieldErr.Tag())
	}
	return fmt.Sprintf("invalid payload: %v", err)
}
