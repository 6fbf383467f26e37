package sync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// Checkpoint keys written after each successful run.
const (
	CheckpointIncremental = "sync.last_incremental"
	CheckpointFull        = "sync.last_full"
)

// Runner drives SyncAll for manual triggers and the optional scheduled
// pull. It keeps the daemon state machine in SYNCING while any run is in
// flight and records checkpoints.
type Runner struct {
	engine   *Engine
	db       *store.DB
	bus      *bus.Bus
	machine  *status.Machine
	interval time.Duration
	account  string
	logger   *zap.Logger

	active atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner. A zero interval disables the scheduled pull.
func NewRunner(engine *Engine, db *store.DB, b *bus.Bus, machine *status.Machine, interval time.Duration, accountID string, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		engine:   engine,
		db:       db,
		bus:      b,
		machine:  machine,
		interval: interval,
		account:  accountID,
		logger:   logger,
	}
}

// Run performs one SyncAll.
func (r *Runner) Run(ctx context.Context, accountID string, full bool) (*AggregateStats, error) {
	r.enter()
	r.bus.Publish(bus.NewEvent(bus.KindSyncStarted, map[string]any{"account_id": accountID, "full": full}))

	stats, err := r.engine.SyncAll(ctx, accountID, full)

	r.leave(err)
	r.bus.Publish(bus.NewEvent(bus.KindSyncFinished, stats))
	if err != nil {
		return nil, err
	}

	key := CheckpointIncremental
	if full {
		key = CheckpointFull
	}
	if err := r.db.SetCheckpoint(ctx, key, store.FormatTimestamp(time.Now())); err != nil {
		r.logger.Warn("failed to record sync checkpoint", zap.String("key", key), zap.Error(err))
	}
	return stats, nil
}

// SyncChat runs one chat's message sync with the same state bookkeeping.
func (r *Runner) SyncChat(ctx context.Context, chatID string, full bool) (*MessageSyncStats, error) {
	r.enter()
	stats, err := r.engine.SyncMessages(ctx, chatID, full)
	r.leave(err)
	return stats, err
}

func (r *Runner) enter() {
	if r.active.Add(1) == 1 && r.machine != nil {
		_ = r.machine.Transition(status.Syncing)
	}
}

func (r *Runner) leave(err error) {
	if r.active.Add(-1) != 0 || r.machine == nil {
		return
	}
	if err != nil {
		_ = r.machine.TransitionWithReason(status.Degraded, err.Error())
		return
	}
	_ = r.machine.Transition(status.Ready)
}

// Start launches the scheduled pull when an interval is configured.
func (r *Runner) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := r.Run(ctx, r.account, false); err != nil && ctx.Err() == nil {
					r.logger.Error("scheduled sync failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	r.logger.Info("scheduled sync started", zap.Duration("interval", r.interval))
}

// Stop stops the scheduled pull and waits for an in-flight run to return.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// LastRun returns the checkpoint timestamps of the last incremental and full
// runs, empty when none happened yet.
func (r *Runner) LastRun(ctx context.Context) (incremental, full string, err error) {
	if incremental, err = r.db.GetCheckpoint(ctx, CheckpointIncremental); err != nil {
		return "", "", err
	}
	full, err = r.db.GetCheckpoint(ctx, CheckpointFull)
	return incremental, full, err
}
