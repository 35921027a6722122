package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/franzego/push-notification-service/internal/models"
)

// KeepRetryCount passed as the retryCount argument of UpdateStatus leaves the
// stored value untouched.
const KeepRetryCount = -1

// NotificationStore persists notification lifecycle records. Updates are
// last-write-wins per field; each record is owned by at most one in-flight
// delivery attempt so no optimistic locking is needed.
type NotificationStore struct {
	db DBTX
}

func NewNotificationStore(db DBTX) *NotificationStore {
	return &NotificationStore{db: db}
}

const notificationColumns = `
	id::text,
	COALESCE(idempotency_key, ''),
	COALESCE(user_id, ''),
	device_token,
	notification_type,
	title,
	body,
	COALESCE(image_url, ''),
	COALESCE(link_url, ''),
	COALESCE(data, 'null'::jsonb),
	status,
	retry_count,
	COALESCE(error_message, ''),
	sent_at,
	created_at,
	updated_at`

// Create inserts a new record. A missing ID is generated; a missing status
// defaults to pending.
func (s *NotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = models.StatusPending
	}
	if n.NotificationType == "" {
		n.NotificationType = models.NotificationTypeMobile
	}
	data, err := marshalData(n.Data)
	if err != nil {
		return err
	}
	row := s.db.QueryRow(ctx,
		`INSERT INTO notifications
		 (id, idempotency_key, user_id, device_token, notification_type,
		  title, body, image_url, link_url, data, status, retry_count, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING created_at, updated_at`,
		n.ID,
		nilIfEmpty(n.IdempotencyKey),
		nilIfEmpty(n.UserID),
		n.DeviceToken,
		n.NotificationType,
		n.Title,
		n.Body,
		nilIfEmpty(n.ImageURL),
		nilIfEmpty(n.LinkURL),
		data,
		n.Status,
		n.RetryCount,
		nilIfEmpty(n.ErrorMessage),
	)
	if err := row.Scan(&n.CreatedAt, &n.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// UpdateStatus sets the record status. errorMessage is only written when
// non-empty; retryCount only when >= 0. sent_at is stamped when the status
// becomes sent. Returns nil when no record matches.
func (s *NotificationStore) UpdateStatus(ctx context.Context, id, status, errorMessage string, retryCount int) (*models.Notification, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE notifications
		 SET status = $2,
		     error_message = CASE WHEN $3 <> '' THEN $3 ELSE error_message END,
		     retry_count = CASE WHEN $4 >= 0 THEN $4 ELSE retry_count END,
		     sent_at = CASE WHEN $2 = 'sent' THEN NOW() ELSE sent_at END,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+notificationColumns,
		id, status, errorMessage, retryCount,
	)
	return scanNotification(row)
}

func (s *NotificationStore) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	return scanNotification(row)
}

func (s *NotificationStore) GetByIdempotencyKey(ctx context.Context, key string) (*models.Notification, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE idempotency_key = $1`, key)
	return scanNotification(row)
}

func scanNotification(row pgx.Row) (*models.Notification, error) {
	var n models.Notification
	var data []byte
	err := row.Scan(
		&n.ID,
		&n.IdempotencyKey,
		&n.UserID,
		&n.DeviceToken,
		&n.NotificationType,
		&n.Title,
		&n.Body,
		&n.ImageURL,
		&n.LinkURL,
		&data,
		&n.Status,
		&n.RetryCount,
		&n.ErrorMessage,
		&n.SentAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("failed to decode notification data: %w", err)
		}
	}
	return &n, nil
}

func marshalData(data map[string]string) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification data: %w", err)
	}
	return raw, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
