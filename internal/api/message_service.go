package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// MessageService lists stored messages and sends new ones.
type MessageService struct {
	db     *store.DB
	sender *outbox.Sender
	logger *zap.Logger
}

func NewMessageService(db *store.DB, sender *outbox.Sender, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{db: db, sender: sender, logger: logger}
}

func (s *MessageService) Register(r gin.IRouter) {
	r.GET("/chats/:id/messages", s.listMessages)
	r.POST("/chats/:id/messages", s.sendMessage)
}

func (s *MessageService) listMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")
	q := store.MessageQuery{ChatID: chatID}
	var ok bool
	if q.Limit, ok = intQuery(c, "limit", 50); !ok {
		return
	}
	if q.Offset, ok = intQuery(c, "offset", 0); !ok {
		return
	}
	switch c.DefaultQuery("order", "asc") {
	case "asc":
	case "desc":
		q.Desc = true
	default:
		badRequest(c, "order must be asc or desc")
		return
	}

	if _, err := s.db.GetChat(ctx, chatID); err != nil {
		abort(c, s.logger, http.StatusInternalServerError, err)
		return
	}
	msgs, err := s.db.ListMessages(ctx, q)
	if err != nil {
		abort(c, s.logger, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "has_more": len(msgs) == q.Limit})
}

type sendRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *MessageService) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(c, "text cannot be empty")
		return
	}
	pending, err := s.sender.Send(c.Request.Context(), c.Param("id"), req.Text, outbox.SendOptions{})
	if err != nil {
		abort(c, s.logger, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusAccepted, pending)
}
