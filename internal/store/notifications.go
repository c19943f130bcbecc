package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NotificationLevel is the severity of a notification.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
	LevelSuccess NotificationLevel = "success"
)

// NotificationCode is the fixed taxonomy of notification events.
type NotificationCode string

const (
	CodeValidationError      NotificationCode = "VALIDATION_ERROR"
	CodeNotFound             NotificationCode = "NOT_FOUND"
	CodeUnsupportedMediaType NotificationCode = "UNSUPPORTED_MEDIA_TYPE"
	CodePayloadTooLarge      NotificationCode = "PAYLOAD_TOO_LARGE"
	CodeLLMTimeout           NotificationCode = "LLM_TIMEOUT"
	CodeLLMBadJSON           NotificationCode = "LLM_BAD_JSON"
	CodeLLMUnavailable       NotificationCode = "LLM_UNAVAILABLE"
	CodeAliasUnknown         NotificationCode = "ALIAS_UNKNOWN"
	CodePlanDateCoerced      NotificationCode = "PLAN_DATE_COERCED"
	CodeMinutesDuplicateFile NotificationCode = "MINUTES_DUPLICATE_FILE"
	CodeConflictDetected     NotificationCode = "CONFLICT_DETECTED"
	CodeExportEmpty          NotificationCode = "EXPORT_EMPTY"
)

// DefaultLevel is the severity each code is emitted with unless overridden.
func (c NotificationCode) DefaultLevel() NotificationLevel {
	switch c {
	case CodeValidationError, CodeUnsupportedMediaType, CodePayloadTooLarge, CodeLLMUnavailable:
		return LevelError
	case CodeLLMTimeout, CodeLLMBadJSON, CodeAliasUnknown, CodePlanDateCoerced, CodeConflictDetected:
		return LevelWarning
	}
	return LevelInfo
}

// Notification is an append-only event record.
type Notification struct {
	ID        int64             `json:"id"`
	Level     NotificationLevel `json:"level"`
	Code      NotificationCode  `json:"code"`
	Text      string            `json:"text"`
	Payload   map[string]any    `json:"payload"`
	UniqueKey string            `json:"unique_key"`
	CreatedAt time.Time         `json:"created_at"`
}

// NotificationFilter controls which notifications to retrieve.
type NotificationFilter struct {
	Level   NotificationLevel // empty = all
	Code    NotificationCode  // empty = all
	SinceID int64             // only rows with id > SinceID, ascending
	Limit   int               // 0 = default 50, capped at 500
	Offset  int
}

// CreateNotification inserts a notification unless one with the same unique
// key already exists. An empty UniqueKey is derived from code, text and
// payload; an empty Level defaults from the code. Returns whether a row was
// created.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *Notification) (bool, error) {
	if n.Level == "" {
		n.Level = n.Code.DefaultLevel()
	}
	if n.Payload == nil {
		n.Payload = map[string]any{}
	}
	if n.UniqueKey == "" {
		n.UniqueKey = NotificationKey(n.Code, n.Text, n.Payload)
	}
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return false, fmt.Errorf("encoding notification payload: %w", err)
	}
	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (level, code, text, payload, unique_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(unique_key) DO NOTHING`,
		n.Level, n.Code, n.Text, string(payload), n.UniqueKey, now,
	)
	if err != nil {
		return false, fmt.Errorf("creating notification: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking notification insert: %w", err)
	}
	if rows == 0 {
		return false, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("getting notification id: %w", err)
	}
	n.ID = id
	n.CreatedAt = now
	return true, nil
}

// Notify is a shorthand for CreateNotification with the code's default level.
func (s *SQLiteStore) Notify(ctx context.Context, code NotificationCode, text string, payload map[string]any) (bool, error) {
	return s.CreateNotification(ctx, &Notification{Code: code, Text: text, Payload: payload})
}

// ListNotifications retrieves notifications matching the filter. With SinceID
// set, rows come back in creation order (ascending id); otherwise newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error) {
	var conditions []string
	var args []interface{}

	if filter.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, filter.Level)
	}
	if filter.Code != "" {
		conditions = append(conditions, "code = ?")
		args = append(args, filter.Code)
	}
	order := "id DESC"
	if filter.SinceID > 0 {
		conditions = append(conditions, "id > ?")
		args = append(args, filter.SinceID)
		order = "id ASC"
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(
		`SELECT id, level, code, text, payload, unique_key, created_at
		 FROM notifications %s ORDER BY %s LIMIT ? OFFSET ?`, where, order)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return scanNotifications(rows)
}

// ListNotificationsAfter returns up to limit notifications with id > afterID
// in ascending id order. Used as the live feed cursor; afterID 0 starts at the
// first row.
func (s *SQLiteStore) ListNotificationsAfter(ctx context.Context, afterID int64, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, level, code, text, payload, unique_key, created_at
		 FROM notifications WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications after %d: %w", afterID, err)
	}
	return scanNotifications(rows)
}

func scanNotifications(rows *sql.Rows) ([]Notification, error) {
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var payload string
		if err := rows.Scan(&n.ID, &n.Level, &n.Code, &n.Text, &payload, &n.UniqueKey, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &n.Payload); err != nil {
			n.Payload = map[string]any{"raw": payload}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
