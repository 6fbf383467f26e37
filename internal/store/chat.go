package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const chatColumns = `id, account_id, account_type, provider_id, COALESCE(name, '') AS name,
	COALESCE(timestamp, '') AS timestamp, unread_count, is_read, is_ignored, assist_mode,
	created_at, updated_at`

// UpsertChat inserts or updates a chat mirrored from the gateway. The stored
// timestamp only moves forward, the name is only replaced by a non-empty one
// and unread_count is overwritten. Local flags (is_read, is_ignored,
// assist_mode) are never touched. It reports whether the row was created.
func (db *DB) UpsertChat(ctx context.Context, c *Chat) (bool, error) {
	now := time.Now().UnixMilli()
	ts := NormalizeTimestamp(c.Timestamp)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM chats WHERE id = ?`, c.ID); err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, account_id, account_type, provider_id, name, timestamp, unread_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			account_type = excluded.account_type,
			provider_id = excluded.provider_id,
			name = COALESCE(excluded.name, chats.name),
			timestamp = CASE
				WHEN excluded.timestamp IS NOT NULL AND (chats.timestamp IS NULL OR excluded.timestamp > chats.timestamp)
				THEN excluded.timestamp ELSE chats.timestamp END,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.AccountID, c.AccountType, c.ProviderID, c.Name, ts, c.UnreadCount, now, now)
	if err != nil {
		return false, fmt.Errorf("upsert chat %s: %w", c.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return exists == 0, nil
}

// EnsureChat creates a stub chat when none exists with c.ID. An existing chat
// is left untouched. It reports whether the stub was created.
func (db *DB) EnsureChat(ctx context.Context, c *Chat) (bool, error) {
	now := time.Now().UnixMilli()
	mode := c.AssistMode
	if !mode.Valid() {
		mode = AssistManual
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO chats (id, account_id, account_type, provider_id, name, timestamp, unread_count, is_read, assist_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, 1, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		c.ID, c.AccountID, c.AccountType, c.ProviderID, c.Name, NormalizeTimestamp(c.Timestamp),
		c.UnreadCount, mode, now, now)
	if err != nil {
		return false, fmt.Errorf("ensure chat %s: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetChat returns a single chat by id, or ErrNotFound.
func (db *DB) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	err := db.GetContext(ctx, &c, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatQuery filters ListChats.
type ChatQuery struct {
	AccountID      string
	IsRead         *bool
	IncludeIgnored bool
	Limit          int
	Offset         int
}

// ListChats returns chats, most recent activity first.
func (db *DB) ListChats(ctx context.Context, q ChatQuery) ([]Chat, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	query := `SELECT ` + chatColumns + ` FROM chats WHERE 1 = 1`
	var args []any
	if q.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, q.AccountID)
	}
	if q.IsRead != nil {
		query += ` AND is_read = ?`
		args = append(args, *q.IsRead)
	}
	if !q.IncludeIgnored {
		query += ` AND is_ignored = 0`
	}
	query += ` ORDER BY COALESCE(timestamp, '') DESC, updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	chats := []Chat{}
	if err := db.SelectContext(ctx, &chats, query, args...); err != nil {
		return nil, err
	}
	return chats, nil
}

// ChatIDs returns the ids of every known chat, optionally scoped to one
// account.
func (db *DB) ChatIDs(ctx context.Context, accountID string) ([]string, error) {
	var ids []string
	var err error
	if accountID == "" {
		err = db.SelectContext(ctx, &ids, `SELECT id FROM chats ORDER BY id`)
	} else {
		err = db.SelectContext(ctx, &ids, `SELECT id FROM chats WHERE account_id = ? ORDER BY id`, accountID)
	}
	return ids, err
}

// AdvanceChatTimestamp moves the chat's timestamp forward to ts. Older or
// equal values are ignored.
func (db *DB) AdvanceChatTimestamp(ctx context.Context, chatID, ts string) error {
	ts = NormalizeTimestamp(ts)
	if ts == "" {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		UPDATE chats SET timestamp = ?, updated_at = ?
		WHERE id = ? AND (timestamp IS NULL OR timestamp < ?)`,
		ts, time.Now().UnixMilli(), chatID, ts)
	return err
}

// MarkChatUnread flags a chat as having unseen inbound messages.
func (db *DB) MarkChatUnread(ctx context.Context, chatID string) error {
	return db.updateChat(ctx, chatID, `is_read = 0`)
}

// MarkChatRead clears the unread flag and counter.
func (db *DB) MarkChatRead(ctx context.Context, chatID string) error {
	return db.updateChat(ctx, chatID, `is_read = 1, unread_count = 0`)
}

func (db *DB) SetAssistMode(ctx context.Context, chatID string, mode AssistMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid assist mode %q", mode)
	}
	return db.updateChat(ctx, chatID, `assist_mode = ?`, mode)
}

func (db *DB) SetIgnored(ctx context.Context, chatID string, ignored bool) error {
	return db.updateChat(ctx, chatID, `is_ignored = ?`, ignored)
}

// updateChat applies set to one chat and bumps updated_at. It returns
// ErrNotFound when no chat matched.
func (db *DB) updateChat(ctx context.Context, chatID, set string, args ...any) error {
	args = append(args, time.Now().UnixMilli(), chatID)
	res, err := db.ExecContext(ctx, `UPDATE chats SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountChats returns the number of chats and how many are unread.
func (db *DB) CountChats(ctx context.Context) (total, unread int, err error) {
	err = db.QueryRowxContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0) FROM chats`).
		Scan(&total, &unread)
	return total, unread, err
}
