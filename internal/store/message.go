package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const messageColumns = `id, chat_id, account_id, chat_provider_id, provider_id, sender_id,
	sender_attendee_id, text, timestamp, is_sender, attachments, reactions, quoted, seen,
	hidden, deleted, edited, is_event, delivered, sent_by_autopilot, message_type, original,
	created_at`

// CreateMessageIfAbsent inserts m unless a message with the same id or
// provider_id already exists, in which case it returns (nil, nil).
//
// When m matches a pending outbound message (by id or provider_id) the row
// is stored as sent by us, carrying the pending row's autopilot flag. The
// check and the insert share one transaction.
func (db *DB) CreateMessageIfAbsent(ctx context.Context, m *Message) (*Message, error) {
	row := *m
	if row.ProviderID == "" {
		row.ProviderID = row.ID
	}
	row.Timestamp = NormalizeTimestamp(m.Timestamp)
	row.CreatedAt = time.Now().UnixMilli()
	if row.Attachments == nil {
		row.Attachments = Attachments{}
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var autopilot bool
	err = tx.GetContext(ctx, &autopilot, `
		SELECT sent_by_autopilot FROM pending_outbound_messages
		WHERE message_id IN (?, ?) LIMIT 1`, row.ID, row.ProviderID)
	switch {
	case err == nil:
		row.IsSender = 1
		row.SentByAutopilot = row.SentByAutopilot || autopilot
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("check pending for %s: %w", row.ID, err)
	}

	res, err := tx.NamedExecContext(ctx, `
		INSERT INTO messages (id, chat_id, account_id, chat_provider_id, provider_id, sender_id,
			sender_attendee_id, text, timestamp, is_sender, attachments, reactions, quoted, seen,
			hidden, deleted, edited, is_event, delivered, sent_by_autopilot, message_type, original,
			created_at)
		VALUES (:id, :chat_id, :account_id, :chat_provider_id, :provider_id, :sender_id,
			:sender_attendee_id, :text, :timestamp, :is_sender, :attachments, COALESCE(:reactions, '[]'),
			:quoted, :seen, :hidden, :deleted, :edited, :is_event, :delivered, :sent_by_autopilot,
			:message_type, :original, :created_at)
		ON CONFLICT DO NOTHING`, &row)
	if err != nil {
		return nil, fmt.Errorf("insert message %s: %w", row.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if len(row.Reactions) == 0 {
		row.Reactions = RawJSON("[]")
	}
	return &row, nil
}

// RefreshMessageFlags applies a later snapshot of an existing message. Fields
// are overwritten only when the snapshot is at least as new as the stored row.
func (db *DB) RefreshMessageFlags(ctx context.Context, m *Message) error {
	providerID := m.ProviderID
	if providerID == "" {
		providerID = m.ID
	}
	_, err := db.ExecContext(ctx, `
		UPDATE messages SET
			seen = ?, hidden = ?, deleted = ?, edited = ?, delivered = ?,
			reactions = COALESCE(?, reactions),
			text = ?
		WHERE provider_id = ? AND timestamp <= ?`,
		m.Seen, m.Hidden, m.Deleted, m.Edited, m.Delivered, m.Reactions, m.Text,
		providerID, NormalizeTimestamp(m.Timestamp))
	return err
}

// GetMessage returns a message by id, or ErrNotFound.
func (db *DB) GetMessage(ctx context.Context, id string) (*Message, error) {
	var m Message
	err := db.GetContext(ctx, &m, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MessageExists reports whether a message is stored whose id or provider_id
// equals id.
func (db *DB) MessageExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM messages WHERE id = ? OR provider_id = ?`, id, id)
	return n > 0, err
}

// LatestMessageTimestamp returns the newest stored timestamp for the chat, or
// "" when the chat has no messages.
func (db *DB) LatestMessageTimestamp(ctx context.Context, chatID string) (string, error) {
	var ts sql.NullString
	err := db.GetContext(ctx, &ts, `SELECT MAX(timestamp) FROM messages WHERE chat_id = ?`, chatID)
	if err != nil {
		return "", err
	}
	return ts.String, nil
}

// LatestMessage returns the chat's newest message, or ErrNotFound.
func (db *DB) LatestMessage(ctx context.Context, chatID string) (*Message, error) {
	var m Message
	err := db.GetContext(ctx, &m, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC, created_at DESC
		LIMIT 1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMessages returns the number of stored messages for a chat.
func (db *DB) CountMessages(ctx context.Context, chatID string) (int, error) {
	var n int
	err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID)
	return n, err
}

// CountAllMessages returns the total number of stored messages.
func (db *DB) CountAllMessages(ctx context.Context) (int, error) {
	var n int
	err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages`)
	return n, err
}

// MessageQuery selects a page of one chat's messages.
type MessageQuery struct {
	ChatID string
	Limit  int
	Offset int
	Desc   bool
}

// ListMessages returns a page of messages ordered by timestamp.
func (db *DB) ListMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	order := "ASC"
	if q.Desc {
		order = "DESC"
	}
	msgs := []Message{}
	err := db.SelectContext(ctx, &msgs, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp `+order+`, created_at `+order+`
		LIMIT ? OFFSET ?`, q.ChatID, q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// RecentMessages returns the chat's last n messages in chronological order.
func (db *DB) RecentMessages(ctx context.Context, chatID string, n int) ([]Message, error) {
	msgs, err := db.ListMessages(ctx, MessageQuery{ChatID: chatID, Limit: n, Desc: true})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
