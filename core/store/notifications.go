package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const notificationColumns = `id, user_id, type, title, content, link, read, read_at, created_at`

// ListNotifications returns up to limit notifications of the user, newest first
func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, limit int, unreadOnly bool) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Q(`SELECT `+notificationColumns+` FROM {schema}.notifications
WHERE user_id = $1 AND (NOT $3::boolean OR read = false)
ORDER BY created_at DESC
LIMIT $2;`), userID, limit, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	notifications := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Content, &n.Link, &n.Read, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// CountUnreadNotifications returns the number of unread notifications of the user
func (s *Store) CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.db.Q(`SELECT count(*) FROM {schema}.notifications WHERE user_id = $1 AND read = false;`), userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

// SetNotificationRead marks a notification of the user as read or unread
func (s *Store) SetNotificationRead(ctx context.Context, id, userID uuid.UUID, read bool) error {
	res, err := s.db.ExecContext(ctx, s.db.Q(`UPDATE {schema}.notifications
SET read = $3, read_at = CASE WHEN $3 THEN now() ELSE NULL END
WHERE id = $1 AND user_id = $2;`), id, userID, read)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks all unread notifications of the user as read and
// returns their number
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Q(`UPDATE {schema}.notifications SET read = true, read_at = now()
WHERE user_id = $1 AND read = false;`), userID)
	if err != nil {
		return 0, fmt.Errorf("update notifications: %w", err)
	}
	return res.RowsAffected()
}

// DeleteNotification deletes a notification of the user
func (s *Store) DeleteNotification(ctx context.Context, id, userID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, s.db.Q(`DELETE FROM {schema}.notifications WHERE id = $1 AND user_id = $2;`), id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateNotification inserts an unread notification
func (s *Store) CreateNotification(ctx context.Context, nn NewNotification) (*Notification, error) {
	var n Notification
	err := s.db.QueryRowContext(ctx, s.db.Q(`INSERT INTO {schema}.notifications (user_id, type, title, content, link)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
RETURNING `+notificationColumns+`;`), nn.UserID, nn.Type, nn.Title, nn.Content, nn.Link).
		Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Content, &n.Link, &n.Read, &n.ReadAt, &n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return &n, nil
}
