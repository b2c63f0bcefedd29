package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"hobbymeet-sync/internal/models"
)

var ErrMessageIncomplete = errors.New("message has no server id or room")

// MessageRepository archives confirmed chat messages.
type MessageRepository interface {
	Save(ctx context.Context, msg models.Message) error
	ListByRoom(ctx context.Context, roomID string, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed implementation.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Save inserts msg or updates the stored copy. A stored deletion is never
// cleared.
func (r *MessageRepo) Save(ctx context.Context, msg models.Message) error {
	if msg.ID == "" || msg.RoomID == "" {
		return ErrMessageIncomplete
	}
	if msg.Status == "" || msg.Status == models.MessageStatusPending {
		msg.Status = models.MessageStatusSent
	}
	msg.SentAt = msg.SentAt.UTC()
	if msg.DeletedAt != nil {
		at := msg.DeletedAt.UTC()
		msg.DeletedAt = &at
	}

	query := r.db.Rebind(`INSERT INTO messages (id, room_id, client_id, sender_id, text, sent_at, deleted_at, status)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (room_id, id) DO UPDATE SET
            text=excluded.text,
            client_id=CASE WHEN messages.client_id = '' THEN excluded.client_id ELSE messages.client_id END,
            deleted_at=COALESCE(messages.deleted_at, excluded.deleted_at),
            status=excluded.status`)
	_, err := r.db.ExecContext(ctx, query,
		msg.ID, msg.RoomID, msg.ClientID, msg.SenderID, msg.Text, msg.SentAt, msg.DeletedAt, msg.Status)
	return err
}

// ListByRoom returns up to limit of the most recent messages of roomID,
// oldest first.
func (r *MessageRepo) ListByRoom(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(`SELECT id, room_id, client_id, sender_id, text, sent_at, deleted_at, status
        FROM messages WHERE room_id=? ORDER BY sent_at DESC, id DESC LIMIT ?`), roomID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
