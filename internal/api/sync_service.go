package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
)

// SyncService triggers pulls and reconcile passes on demand.
type SyncService struct {
	db         *store.DB
	runner     *chatsync.Runner
	reconciler *outbox.Reconciler
	accountID  string
	logger     *zap.Logger
}

// NewSyncService creates the service. accountID scopes syncs that do not
// name an account.
func NewSyncService(db *store.DB, runner *chatsync.Runner, reconciler *outbox.Reconciler, accountID string, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		db:         db,
		runner:     runner,
		reconciler: reconciler,
		accountID:  accountID,
		logger:     logger,
	}
}

func (s *SyncService) Register(r gin.IRouter) {
	r.POST("/chats/sync", s.syncAll)
	r.POST("/chats/:id/sync", s.syncChat)
	r.GET("/pending", s.listPending)
	r.POST("/reconcile", s.reconcile)
}

func (s *SyncService) syncAll(c *gin.Context) {
	full, ok := boolQuery(c, "full")
	if !ok {
		return
	}
	accountID := c.DefaultQuery("account_id", s.accountID)
	stats, err := s.runner.Run(c.Request.Context(), accountID, full != nil && *full)
	if err != nil {
		abort(c, s.logger, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *SyncService) syncChat(c *gin.Context) {
	ctx := c.Request.Context()
	full, ok := boolQuery(c, "full")
	if !ok {
		return
	}
	chatID := c.Param("id")
	if _, err := s.db.GetChat(ctx, chatID); err != nil {
		abort(c, s.logger, http.StatusBadGateway, err)
		return
	}
	stats, err := s.runner.SyncChat(ctx, chatID, full != nil && *full)
	if err != nil {
		abort(c, s.logger, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *SyncService) listPending(c *gin.Context) {
	status := store.PendingStatus(c.Query("status"))
	switch status {
	case "", store.PendingOpen, store.PendingSynced, store.PendingFailed:
	default:
		badRequest(c, "status must be pending, synced or failed")
		return
	}
	limit, ok := intQuery(c, "limit", 100)
	if !ok {
		return
	}
	rows, err := s.db.ListPending(c.Request.Context(), status, limit)
	if err != nil {
		abort(c, s.logger, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": rows})
}

func (s *SyncService) reconcile(c *gin.Context) {
	c.JSON(http.StatusOK, s.reconciler.ReconcilePending(c.Request.Context()))
}
