package models

import "time"

// Notification lifecycle statuses. Transitions per delivery attempt are
// monotonic: pending/processing -> sent, or -> retrying -> processing -> ... -> failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusRetrying   = "retrying"
)

const (
	NotificationTypeMobile = "mobile"
	NotificationTypeWeb    = "web"
)

// MinTokenLength is the minimum accepted device token length. Shorter tokens
// are a terminal validation failure, never retried.
const MinTokenLength = 10

// DeliveryRequest is the queue message for one push delivery. The producer
// publishes it on push.queue; the consumer rewrites RetryCount and
// NotificationID on each retry hop.
type DeliveryRequest struct {
	Title            string            `json:"title" validate:"required"`
	Body             string            `json:"body" validate:"required"`
	Token            string            `json:"token" validate:"required,min=10"`
	NotificationType string            `json:"notification_type,omitempty"`
	Image            string            `json:"image,omitempty"`
	Link             string            `json:"link,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
	IdempotencyKey   string            `json:"idempotency_key,omitempty"`
	UserID           string            `json:"user_id,omitempty"`
	RetryCount       int               `json:"retry_count"`
	NotificationID   string            `json:"notification_id,omitempty"`
	QueuedAt         *time.Time        `json:"queued_at,omitempty"`
}

// DeadLetter is a DeliveryRequest routed to the dead-letter queue with the
// terminal failure reason attached.
type DeadLetter struct {
	DeliveryRequest
	Error string `json:"error"`
}

// Notification is the persisted lifecycle record for one logical notification.
type Notification struct {
	ID               string            `json:"id"`
	IdempotencyKey   string            `json:"idempotency_key,omitempty"`
	UserID           string            `json:"user_id,omitempty"`
	DeviceToken      string            `json:"device_token"`
	NotificationType string            `json:"notification_type"`
	Title            string            `json:"title"`
	Body             string            `json:"body"`
	ImageURL         string            `json:"image_url,omitempty"`
	LinkURL          string            `json:"link_url,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
	Status           string            `json:"status"`
	RetryCount       int               `json:"retry_count"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	SentAt           *time.Time        `json:"sent_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// DeviceToken is a registered FCM device token for a user.
type DeviceToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Token      string     `json:"token"`
	DeviceType string     `json:"device_type"`
	Platform   string     `json:"platform,omitempty"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type SendPushRequest struct {
	Title            string            `json:"title" binding:"required"`
	Body             string            `json:"body" binding:"required"`
	Token            string            `json:"token" binding:"required,min=10"`
	NotificationType string            `json:"notification_type,omitempty"`
	Image            string            `json:"image,omitempty"`
	Link             string            `json:"link,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
	IdempotencyKey   string            `json:"idempotency_key,omitempty"`
	UserID           string            `json:"user_id,omitempty"`
}

type BulkSendRequest struct {
	Notifications []SendPushRequest `json:"notifications" binding:"required,min=1,max=100,dive"`
}

type BulkSendResult struct {
	Index          int    `json:"index"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
	Status         string `json:"status"`
	Message        string `json:"message"`
}

type RegisterDeviceTokenRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	Token      string `json:"token" binding:"required,min=10"`
	DeviceType string `json:"device_type,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
}

type NotificationResponse struct {
	NotificationID string    `json:"notification_id"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Status         string    `json:"status"`
	QueuedAt       time.Time `json:"queued_at"`
}
