package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-bidding/internal/domain"
)

type MySQLOutboxRepository struct {
	db *sql.DB
}

func NewMySQLOutboxRepository(db *sql.DB) *MySQLOutboxRepository {
	return &MySQLOutboxRepository{db: db}
}

func insertOutboxEvents(ctx context.Context, tx *sql.Tx, events []*domain.NotificationEvent) error {
	query := `
        INSERT INTO notification_outbox (id, kind, auction_id, recipient_id, payload, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload of %s: %w", ev.ID, err)
		}
		recipient := sql.NullString{String: ev.RecipientID, Valid: ev.RecipientID != ""}
		if _, err := tx.ExecContext(ctx, query,
			ev.ID, string(ev.Kind), ev.AuctionID, recipient, payload, ev.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// PendingEvents returns undelivered rows oldest first, skipping rows that
// already failed maxAttempts times.
func (r *MySQLOutboxRepository) PendingEvents(ctx context.Context, limit, maxAttempts int) ([]*domain.NotificationEvent, error) {
	query := `
        SELECT id, kind, auction_id, recipient_id, payload, created_at
        FROM notification_outbox
        WHERE delivered_at IS NULL AND (? = 0 OR attempts < ?)
        ORDER BY created_at ASC
        LIMIT ?
    `
	rows, err := r.db.QueryContext(ctx, query, maxAttempts, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.NotificationEvent
	for rows.Next() {
		var (
			ev        domain.NotificationEvent
			kind      string
			recipient sql.NullString
			payload   []byte
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.AuctionID, &recipient, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = domain.EventKind(kind)
		ev.RecipientID = recipient.String
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload of %s: %w", ev.ID, err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (r *MySQLOutboxRepository) MarkDelivered(ctx context.Context, eventID string) error {
	query := `UPDATE notification_outbox SET delivered_at = ?, attempts = attempts + 1 WHERE id = ?`
	return r.exec(ctx, query, time.Now(), eventID)
}

func (r *MySQLOutboxRepository) MarkFailed(ctx context.Context, eventID string, reason string) error {
	query := `UPDATE notification_outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`
	return r.exec(ctx, query, reason, eventID)
}

func (r *MySQLOutboxRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
