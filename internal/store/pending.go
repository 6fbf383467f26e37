package store

import (
	"context"
	"fmt"
	"time"
)

const pendingColumns = `id, message_id, chat_id, text, timestamp, status, sync_attempts,
	sent_by_autopilot, created_at, updated_at`

// CreatePending records a message handed to the gateway so the reconcile
// loop can confirm it later.
func (db *DB) CreatePending(ctx context.Context, p *PendingMessage) (*PendingMessage, error) {
	now := time.Now().UnixMilli()
	row := *p
	row.Status = PendingOpen
	row.SyncAttempts = 0
	row.Timestamp = NormalizeTimestamp(p.Timestamp)
	if row.Timestamp == "" {
		row.Timestamp = FormatTimestamp(time.Now())
	}
	row.CreatedAt, row.UpdatedAt = now, now

	res, err := db.NamedExecContext(ctx, `
		INSERT INTO pending_outbound_messages (message_id, chat_id, text, timestamp, status,
			sync_attempts, sent_by_autopilot, created_at, updated_at)
		VALUES (:message_id, :chat_id, :text, :timestamp, :status, :sync_attempts,
			:sent_by_autopilot, :created_at, :updated_at)`, &row)
	if err != nil {
		return nil, fmt.Errorf("create pending %s: %w", p.MessageID, err)
	}
	if row.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return &row, nil
}

// DuePending returns pending rows created at or before cutoff, oldest first.
func (db *DB) DuePending(ctx context.Context, cutoff time.Time) ([]PendingMessage, error) {
	rows := []PendingMessage{}
	err := db.SelectContext(ctx, &rows, `
		SELECT `+pendingColumns+` FROM pending_outbound_messages
		WHERE status = 'pending' AND created_at <= ?
		ORDER BY created_at ASC, id ASC`, cutoff.UnixMilli())
	return rows, err
}

// MarkPendingSynced moves a pending row to synced.
func (db *DB) MarkPendingSynced(ctx context.Context, messageID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE pending_outbound_messages SET status = 'synced', updated_at = ?
		WHERE message_id = ? AND status = 'pending'`,
		time.Now().UnixMilli(), messageID)
	return err
}

// IncrementPendingAttempts records one more failed confirmation attempt. The
// row flips to failed once attempts reach maxAttempts. It returns the status
// after the update.
func (db *DB) IncrementPendingAttempts(ctx context.Context, messageID string, maxAttempts int) (PendingStatus, int, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE pending_outbound_messages SET
			sync_attempts = sync_attempts + 1,
			status = CASE WHEN sync_attempts + 1 >= ? THEN 'failed' ELSE status END,
			updated_at = ?
		WHERE message_id = ? AND status = 'pending'`,
		maxAttempts, time.Now().UnixMilli(), messageID)
	if err != nil {
		return "", 0, fmt.Errorf("increment attempts %s: %w", messageID, err)
	}

	var out struct {
		Status       PendingStatus `db:"status"`
		SyncAttempts int           `db:"sync_attempts"`
	}
	if err := tx.GetContext(ctx, &out, `
		SELECT status, sync_attempts FROM pending_outbound_messages WHERE message_id = ?`, messageID); err != nil {
		return "", 0, err
	}
	if err := tx.Commit(); err != nil {
		return "", 0, err
	}
	return out.Status, out.SyncAttempts, nil
}

// PurgeSynced deletes synced rows created at or before cutoff.
func (db *DB) PurgeSynced(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM pending_outbound_messages WHERE status = 'synced' AND created_at <= ?`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetPending returns the pending row for a message id, or ErrNotFound.
func (db *DB) GetPending(ctx context.Context, messageID string) (*PendingMessage, error) {
	rows := []PendingMessage{}
	err := db.SelectContext(ctx, &rows, `
		SELECT `+pendingColumns+` FROM pending_outbound_messages WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// ListPending returns rows newest first, optionally filtered by status.
func (db *DB) ListPending(ctx context.Context, status PendingStatus, limit int) ([]PendingMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows := []PendingMessage{}
	var err error
	if status == "" {
		err = db.SelectContext(ctx, &rows, `
			SELECT `+pendingColumns+` FROM pending_outbound_messages
			ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	} else {
		err = db.SelectContext(ctx, &rows, `
			SELECT `+pendingColumns+` FROM pending_outbound_messages
			WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`, status, limit)
	}
	return rows, err
}

// PendingCounts returns the number of rows per status.
func (db *DB) PendingCounts(ctx context.Context) (map[PendingStatus]int, error) {
	var rows []struct {
		Status PendingStatus `db:"status"`
		N      int           `db:"n"`
	}
	if err := db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS n FROM pending_outbound_messages GROUP BY status`); err != nil {
		return nil, err
	}
	counts := map[PendingStatus]int{PendingOpen: 0, PendingSynced: 0, PendingFailed: 0}
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
