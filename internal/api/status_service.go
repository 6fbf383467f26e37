package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
)

// Counter reports a live count, such as connected websocket subscribers.
type Counter interface {
	Len() int
}

// StatusService reports daemon state and store counts.
type StatusService struct {
	machine     *status.Machine
	db          *store.DB
	runner      *chatsync.Runner
	bus         *bus.Bus
	subscribers Counter
	startedAt   time.Time
	logger      *zap.Logger
}

// NewStatusService creates the service. runner, b and subscribers may be nil.
func NewStatusService(machine *status.Machine, db *store.DB, runner *chatsync.Runner, b *bus.Bus, subscribers Counter, logger *zap.Logger) *StatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusService{
		machine:     machine,
		db:          db,
		runner:      runner,
		bus:         b,
		subscribers: subscribers,
		startedAt:   time.Now(),
		logger:      logger,
	}
}

func (s *StatusService) Register(r gin.IRouter) {
	r.GET("/status", s.getStatus)
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	State           status.State                `json:"state"`
	Since           time.Time                   `json:"since"`
	Reason          string                      `json:"reason,omitempty"`
	UptimeMs        int64                       `json:"uptime_ms"`
	Chats           int                         `json:"chats"`
	UnreadChats     int                         `json:"unread_chats"`
	Messages        int                         `json:"messages"`
	Pending         map[store.PendingStatus]int `json:"pending"`
	Subscribers     int                         `json:"subscribers"`
	DroppedEvents   uint64                      `json:"dropped_events"`
	LastIncremental string                      `json:"last_incremental_sync,omitempty"`
	LastFull        string                      `json:"last_full_sync,omitempty"`
}

func (s *StatusService) getStatus(c *gin.Context) {
	ctx := c.Request.Context()
	state, since, reason := s.machine.Snapshot()
	resp := StatusResponse{
		State:    state,
		Since:    since,
		Reason:   reason,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}

	var err error
	if resp.Chats, resp.UnreadChats, err = s.db.CountChats(ctx); err != nil {
		abort(c, s.logger, http.StatusInternalServerError, err)
		return
	}
	if resp.Messages, err = s.db.CountAllMessages(ctx); err != nil {
		abort(c, s.logger, http.StatusInternalServerError, err)
		return
	}
	if resp.Pending, err = s.db.PendingCounts(ctx); err != nil {
		abort(c, s.logger, http.StatusInternalServerError, err)
		return
	}
	if s.subscribers != nil {
		resp.Subscribers = s.subscribers.Len()
	}
	if s.bus != nil {
		resp.DroppedEvents = s.bus.Dropped()
	}
	if s.runner != nil {
		if resp.LastIncremental, resp.LastFull, err = s.runner.LastRun(ctx); err != nil {
			s.logger.Warn("failed to read sync checkpoints", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, resp)
}
