package outbox

import (
	"context"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
)

// ChatSyncer runs one chat's message sync.
type ChatSyncer interface {
	SyncMessages(ctx context.Context, chatID string, full bool) (*chatsync.MessageSyncStats, error)
}

// Options control the reconcile loop.
type Options struct {
	Interval    time.Duration // time between passes
	Debounce    time.Duration // minimum age before a pending row is checked
	Retention   time.Duration // how long synced rows are kept
	MaxAttempts int           // checks before a row is parked as failed
}

// DefaultOptions returns the stock reconcile settings.
func DefaultOptions() Options {
	return Options{
		Interval:    10 * time.Second,
		Debounce:    10 * time.Second,
		Retention:   24 * time.Hour,
		MaxAttempts: 3,
	}
}

// ReconcileStats summarizes one pass.
type ReconcileStats struct {
	Pending    int   `json:"pending"`
	Chats      int   `json:"chats"`
	Synced     int   `json:"synced"`
	Retried    int   `json:"retried"`
	Failed     int   `json:"failed"`
	ChatErrors int   `json:"chat_errors"`
	Purged     int64 `json:"purged"`
}

// Reconciler confirms that sent messages show up in the gateway listing. It
// is the only writer of pending row status.
type Reconciler struct {
	db     *store.DB
	syncer ChatSyncer
	bus    *bus.Bus
	opts   Options
	logger *zap.Logger
	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler creates a reconciler. Unset interval, retention and attempt
// limits fall back to DefaultOptions; a zero debounce checks rows right away.
func NewReconciler(db *store.DB, syncer ChatSyncer, b *bus.Bus, opts Options, logger *zap.Logger) *Reconciler {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.Debounce < 0 {
		opts.Debounce = def.Debounce
	}
	if opts.Retention <= 0 {
		opts.Retention = def.Retention
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		db:     db,
		syncer: syncer,
		bus:    b,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Start begins the periodic reconcile loop.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
}

// Stop stops the loop and waits for the current pass to finish.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.ReconcilePending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ReconcilePending runs one pass. Errors are logged and counted, never
// returned: the next pass retries.
func (r *Reconciler) ReconcilePending(ctx context.Context) ReconcileStats {
	var stats ReconcileStats
	now := r.now()

	due, err := r.db.DuePending(ctx, now.Add(-r.opts.Debounce))
	if err != nil {
		r.logger.Error("failed to read pending messages", zap.Error(err))
		return stats
	}
	stats.Pending = len(due)

	if len(due) > 0 {
		var order []string
		byChat := make(map[string][]store.PendingMessage)
		for _, p := range due {
			if _, ok := byChat[p.ChatID]; !ok {
				order = append(order, p.ChatID)
			}
			byChat[p.ChatID] = append(byChat[p.ChatID], p)
		}
		stats.Chats = len(order)

		for _, chatID := range order {
			if ctx.Err() != nil {
				return stats
			}
			r.reconcileChat(ctx, chatID, byChat[chatID], &stats)
		}
	}

	purged, err := r.db.PurgeSynced(ctx, now.Add(-r.opts.Retention))
	if err != nil {
		r.logger.Error("failed to purge synced pending messages", zap.Error(err))
	}
	stats.Purged = purged

	if stats.Pending > 0 || stats.Purged > 0 {
		r.logger.Info("reconcile pass completed",
			zap.Int("pending", stats.Pending),
			zap.Int("synced", stats.Synced),
			zap.Int("retried", stats.Retried),
			zap.Int("failed", stats.Failed),
			zap.Int("chat_errors", stats.ChatErrors),
			zap.Int64("purged", stats.Purged))
	}
	return stats
}

// reconcileChat syncs one chat and then settles each of its pending rows.
// Rows still count an attempt when the sync itself failed.
func (r *Reconciler) reconcileChat(ctx context.Context, chatID string, rows []store.PendingMessage, stats *ReconcileStats) {
	if _, err := r.syncer.SyncMessages(ctx, chatID, false); err != nil {
		stats.ChatErrors++
		r.logger.Warn("reconcile sync failed", zap.String("chat_id", chatID), zap.Error(err))
	}

	for _, p := range rows {
		exists, err := r.db.MessageExists(ctx, p.MessageID)
		if err != nil {
			r.logger.Error("failed to check message", zap.String("message_id", p.MessageID), zap.Error(err))
			continue
		}
		if exists {
			if err := r.db.MarkPendingSynced(ctx, p.MessageID); err != nil {
				r.logger.Error("failed to mark synced", zap.String("message_id", p.MessageID), zap.Error(err))
				continue
			}
			stats.Synced++
			continue
		}

		status, attempts, err := r.db.IncrementPendingAttempts(ctx, p.MessageID, r.opts.MaxAttempts)
		if err != nil {
			r.logger.Error("failed to record attempt", zap.String("message_id", p.MessageID), zap.Error(err))
			continue
		}
		if status == store.PendingFailed {
			stats.Failed++
			p.Status, p.SyncAttempts = status, attempts
			r.logger.Warn("pending message failed",
				zap.String("message_id", p.MessageID),
				zap.String("chat_id", chatID),
				zap.Int("attempts", attempts))
			r.bus.Publish(bus.NewEvent(bus.KindPendingFailed, p))
			continue
		}
		stats.Retried++
		r.logger.Debug("pending message not visible yet",
			zap.String("message_id", p.MessageID),
			zap.Int("attempts", attempts))
	}
}
