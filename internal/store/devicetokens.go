package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/franzego/push-notification-service/internal/models"
)

// DeviceTokenStore maintains the registry of FCM device tokens per user.
type DeviceTokenStore struct {
	db DBTX
}

func NewDeviceTokenStore(db DBTX) *DeviceTokenStore {
	return &DeviceTokenStore{db: db}
}

const deviceTokenColumns = `
	id::text,
	user_id,
	token,
	device_type,
	COALESCE(platform, ''),
	is_active,
	last_used_at,
	created_at,
	updated_at`

// Upsert registers a token, reassigning it to the given user and
// reactivating it when it already exists.
func (s *DeviceTokenStore) Upsert(ctx context.Context, userID, token, deviceType, platform string) (*models.DeviceToken, error) {
	if deviceType == "" {
		deviceType = models.NotificationTypeMobile
	}
	row := s.db.QueryRow(ctx,
		`INSERT INTO device_tokens (id, user_id, token, device_type, platform, is_active, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, NOW())
		 ON CONFLICT (token) DO UPDATE
		 SET user_id = EXCLUDED.user_id,
		     device_type = EXCLUDED.device_type,
		     platform = EXCLUDED.platform,
		     is_active = TRUE,
		     last_used_at = NOW(),
		     updated_at = NOW()
		 RETURNING `+deviceTokenColumns,
		uuid.New().String(), userID, token, deviceType, nilIfEmpty(platform),
	)
	var t models.DeviceToken
	if err := row.Scan(
		&t.ID, &t.UserID, &t.Token, &t.DeviceType, &t.Platform,
		&t.IsActive, &t.LastUsedAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert device token: %w", err)
	}
	return &t, nil
}

func (s *DeviceTokenStore) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]models.DeviceToken, error) {
	query := `SELECT ` + deviceTokenColumns + ` FROM device_tokens WHERE user_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.DeviceToken
	for rows.Next() {
		var t models.DeviceToken
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Token, &t.DeviceType, &t.Platform,
			&t.IsActive, &t.LastUsedAt, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// Deactivate marks a token inactive. Returns false when the token is unknown.
func (s *DeviceTokenStore) Deactivate(ctx context.Context, token string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE device_tokens SET is_active = FALSE, updated_at = NOW() WHERE token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate device token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
