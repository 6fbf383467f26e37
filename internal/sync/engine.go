// Package sync pulls chats and messages from the gateway into the store.
package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/attendee"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/gateway"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options tune the pull walks.
type Options struct {
	PageSize int // items per gateway page
	MaxPages int // safety valve per cursor walk
	Workers  int // chats synced in parallel by SyncAll
}

const (
	defaultPageSize = 100
	defaultMaxPages = 1000
	defaultWorkers  = 4
)

// Engine mirrors gateway chats and messages into the store. It is safe for
// concurrent use; dedup is enforced by the store, not by the engine.
type Engine struct {
	db        *store.DB
	gw        gateway.Gateway
	bus       *bus.Bus
	attendees *attendee.Directory
	opts      Options
	logger    *zap.Logger
}

// NewEngine creates a new sync engine. attendees may be nil.
func NewEngine(db *store.DB, gw gateway.Gateway, b *bus.Bus, attendees *attendee.Directory, opts Options, logger *zap.Logger) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:        db,
		gw:        gw,
		bus:       b,
		attendees: attendees,
		opts:      opts,
		logger:    logger,
	}
}

// ChatSyncStats summarizes one SyncChats walk.
type ChatSyncStats struct {
	ChatsSynced      int      `json:"chats_synced"`
	ChatsCreated     int      `json:"chats_created"`
	ChatsUpdated     int      `json:"chats_updated"`
	ChatsFailed      int      `json:"chats_failed"`
	ChatsNeedingSync []string `json:"chats_needing_sync"`
	Pages            int      `json:"pages"`
}

// SyncChats walks the gateway chat listing and upserts every chat. A chat
// needs a message sync when it is new, its remote timestamp differs from
// the stored one, or it has no stored messages.
func (e *Engine) SyncChats(ctx context.Context, accountID string) (*ChatSyncStats, error) {
	stats := &ChatSyncStats{ChatsNeedingSync: []string{}}
	var newChats []string

	cursor := ""
	for {
		if stats.Pages >= e.opts.MaxPages {
			e.logger.Warn("chat walk hit page ceiling", zap.Int("max_pages", e.opts.MaxPages))
			break
		}
		page, err := e.gw.ListChats(ctx, gateway.ChatFilter{
			AccountID: accountID,
			Cursor:    cursor,
			Limit:     e.opts.PageSize,
		})
		if err != nil {
			return stats, fmt.Errorf("list chats: %w", err)
		}
		stats.Pages++

		for _, rc := range page.Items {
			needsSync, err := e.needsSync(ctx, rc)
			if err != nil {
				return stats, err
			}
			created, err := e.db.UpsertChat(ctx, toStoreChat(rc, e.logger))
			if err != nil {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				// One conflicting row must not stall the rest of the walk.
				e.logger.Warn("skipping chat", zap.String("chat_id", rc.ID), zap.Error(err))
				stats.ChatsFailed++
				continue
			}
			if created {
				stats.ChatsCreated++
				newChats = append(newChats, rc.ID)
			} else {
				stats.ChatsUpdated++
			}
			if needsSync {
				stats.ChatsNeedingSync = append(stats.ChatsNeedingSync, rc.ID)
			}
			stats.ChatsSynced++
		}

		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	e.syncAttendees(ctx, newChats)

	e.logger.Info("chat sync completed",
		zap.Int("chats_synced", stats.ChatsSynced),
		zap.Int("chats_created", stats.ChatsCreated),
		zap.Int("chats_failed", stats.ChatsFailed),
		zap.Int("chats_needing_sync", len(stats.ChatsNeedingSync)))
	return stats, nil
}

func (e *Engine) needsSync(ctx context.Context, rc gateway.Chat) (bool, error) {
	local, err := e.db.GetChat(ctx, rc.ID)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if rc.Timestamp != "" && store.NormalizeTimestamp(rc.Timestamp) != local.Timestamp {
		return true, nil
	}
	n, err := e.db.CountMessages(ctx, rc.ID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// syncAttendees stores the participants of newly seen chats. Failures only
// cost a later gateway lookup, so they are logged and skipped.
func (e *Engine) syncAttendees(ctx context.Context, chatIDs []string) {
	if e.attendees == nil {
		return
	}
	for _, id := range chatIDs {
		if _, err := e.attendees.SyncChat(ctx, id); err != nil {
			e.logger.Warn("attendee sync failed", zap.String("chat_id", id), zap.Error(err))
		}
	}
}

// MessageSyncStats summarizes one SyncMessages walk.
type MessageSyncStats struct {
	ChatID            string `json:"chat_id"`
	MessagesFetched   int    `json:"messages_fetched"`
	MessagesCreated   int    `json:"messages_created"`
	MessagesDuplicate int    `json:"messages_duplicate"`
	NewUnreadMessages int    `json:"new_unread_messages"`
	LatestTimestamp   string `json:"latest_timestamp,omitempty"`
	Pages             int    `json:"pages"`
}

// SyncMessages pulls a chat's messages into the store. Incremental syncs ask
// only for messages at or after the newest stored one; full syncs walk the
// whole history. Messages already stored get their flags refreshed.
//
// The chat timestamp only moves when something new was stored, and the chat
// is marked unread when any new message is inbound. When the walk fails
// midway, what was stored so far is kept and the error is returned.
func (e *Engine) SyncMessages(ctx context.Context, chatID string, full bool) (*MessageSyncStats, error) {
	stats := &MessageSyncStats{ChatID: chatID}

	after := ""
	if !full {
		ts, err := e.db.LatestMessageTimestamp(ctx, chatID)
		if err != nil {
			return stats, fmt.Errorf("latest timestamp for %s: %w", chatID, err)
		}
		after = ts
	}

	var (
		created    []*store.Message
		maxSeen    string
		hasInbound bool
		walkErr    error
	)

	cursor := ""
walk:
	for {
		if stats.Pages >= e.opts.MaxPages {
			e.logger.Warn("message walk hit page ceiling",
				zap.String("chat_id", chatID),
				zap.Int("max_pages", e.opts.MaxPages))
			break
		}
		page, err := e.gw.ListMessages(ctx, chatID, gateway.MessageFilter{
			After:  after,
			Cursor: cursor,
			Limit:  e.opts.PageSize,
		})
		if err != nil {
			walkErr = fmt.Errorf("list messages for %s: %w", chatID, err)
			break
		}
		stats.Pages++
		stats.MessagesFetched += len(page.Items)

		for _, rm := range page.Items {
			m := toStoreMessage(chatID, rm, e.logger)
			if ts := store.NormalizeTimestamp(m.Timestamp); ts > maxSeen {
				maxSeen = ts
			}
			stored, err := e.db.CreateMessageIfAbsent(ctx, m)
			if err != nil {
				walkErr = fmt.Errorf("store message %s: %w", m.ID, err)
				break walk
			}
			if stored == nil {
				stats.MessagesDuplicate++
				if err := e.db.RefreshMessageFlags(ctx, m); err != nil {
					e.logger.Warn("failed to refresh message flags", zap.String("message_id", m.ID), zap.Error(err))
				}
				continue
			}
			stats.MessagesCreated++
			created = append(created, stored)
			if stored.Inbound() {
				hasInbound = true
				stats.NewUnreadMessages++
			}
		}

		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	if len(created) > 0 {
		if err := e.db.AdvanceChatTimestamp(ctx, chatID, maxSeen); err != nil {
			return stats, fmt.Errorf("advance chat %s: %w", chatID, err)
		}
		stats.LatestTimestamp = maxSeen
		if hasInbound {
			if err := e.db.MarkChatUnread(ctx, chatID); err != nil {
				return stats, fmt.Errorf("mark chat %s unread: %w", chatID, err)
			}
		}
		for _, m := range created {
			e.bus.Publish(bus.NewEvent(bus.KindMessageNew, m))
		}
	}

	if walkErr != nil {
		return stats, walkErr
	}
	e.logger.Debug("message sync completed",
		zap.String("chat_id", chatID),
		zap.Bool("full", full),
		zap.Int("fetched", stats.MessagesFetched),
		zap.Int("created", stats.MessagesCreated))
	return stats, nil
}

// AggregateStats summarizes a SyncAll run.
type AggregateStats struct {
	ChatsSynced             int `json:"chats_synced"`
	ChatsCheckedForMessages int `json:"chats_checked_for_messages"`
	ChatsSkipped            int `json:"chats_skipped"`
	TotalMessagesCreated    int `json:"total_messages_created"`
	TotalUnreadMessages     int `json:"total_unread_messages"`
	ChatsWithErrors         int `json:"chats_with_errors"`
}

// SyncAll syncs the chat list and then the messages of every chat that
// needs it (every known chat of the account when full is set). Chats are
// synced in parallel; one chat failing never stops the others.
func (e *Engine) SyncAll(ctx context.Context, accountID string, full bool) (*AggregateStats, error) {
	chatStats, err := e.SyncChats(ctx, accountID)
	if err != nil {
		return nil, err
	}

	out := &AggregateStats{ChatsSynced: chatStats.ChatsSynced}
	targets := chatStats.ChatsNeedingSync
	if full {
		if targets, err = e.db.ChatIDs(ctx, accountID); err != nil {
			return nil, fmt.Errorf("list local chats: %w", err)
		}
	} else {
		out.ChatsSkipped = chatStats.ChatsSynced - len(targets)
	}

	results := make([]*MessageSyncStats, len(targets))
	errs := make([]error, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, chatID := range targets {
		i, chatID := i, chatID
		g.Go(func() error {
			results[i], errs[i] = e.SyncMessages(gctx, chatID, full)
			return nil
		})
	}
	_ = g.Wait()

	for i, chatID := range targets {
		if errs[i] != nil {
			e.logger.Error("chat message sync failed", zap.String("chat_id", chatID), zap.Error(errs[i]))
			out.ChatsWithErrors++
			continue
		}
		out.ChatsCheckedForMessages++
		out.TotalMessagesCreated += results[i].MessagesCreated
		out.TotalUnreadMessages += results[i].NewUnreadMessages
	}

	e.logger.Info("sync completed",
		zap.Bool("full", full),
		zap.Int("chats_synced", out.ChatsSynced),
		zap.Int("chats_checked", out.ChatsCheckedForMessages),
		zap.Int("messages_created", out.TotalMessagesCreated),
		zap.Int("chats_with_errors", out.ChatsWithErrors))
	return out, nil
}
