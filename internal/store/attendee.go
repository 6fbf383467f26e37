package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const attendeeColumns = `id, account_id, provider_id, name, is_self, hidden, picture_url,
	profile_url, specifics, created_at, updated_at`

// UpsertAttendee inserts an attendee or replaces all of its mutable fields.
// Rows are keyed by provider_id; a participant re-issued under a new id
// takes over the existing row.
func (db *DB) UpsertAttendee(ctx context.Context, a *Attendee) error {
	now := time.Now().UnixMilli()
	row := *a
	row.CreatedAt, row.UpdatedAt = now, now
	if row.ProviderID == "" {
		row.ProviderID = row.ID
	}
	_, err := db.NamedExecContext(ctx, `
		INSERT INTO attendees (id, account_id, provider_id, name, is_self, hidden, picture_url,
			profile_url, specifics, created_at, updated_at)
		VALUES (:id, :account_id, :provider_id, :name, :is_self, :hidden, :picture_url,
			:profile_url, :specifics, :created_at, :updated_at)
		ON CONFLICT(provider_id) DO UPDATE SET
			id = excluded.id,
			account_id = excluded.account_id,
			name = excluded.name,
			is_self = excluded.is_self,
			hidden = excluded.hidden,
			picture_url = excluded.picture_url,
			profile_url = excluded.profile_url,
			specifics = excluded.specifics,
			updated_at = excluded.updated_at`, &row)
	if err != nil {
		return fmt.Errorf("upsert attendee %s: %w", a.ID, err)
	}
	return nil
}

// GetAttendee returns an attendee by id, or ErrNotFound.
func (db *DB) GetAttendee(ctx context.Context, id string) (*Attendee, error) {
	return db.getAttendee(ctx, `id = ?`, id)
}

// GetAttendeeByProviderID returns an attendee by provider id, or ErrNotFound.
func (db *DB) GetAttendeeByProviderID(ctx context.Context, providerID string) (*Attendee, error) {
	return db.getAttendee(ctx, `provider_id = ?`, providerID)
}

func (db *DB) getAttendee(ctx context.Context, where string, arg any) (*Attendee, error) {
	var a Attendee
	err := db.GetContext(ctx, &a, `SELECT `+attendeeColumns+` FROM attendees WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
