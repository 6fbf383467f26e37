package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/attendee"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// ChatService serves chat listings and the local chat flags.
type ChatService struct {
	db        *store.DB
	attendees *attendee.Directory
	logger    *zap.Logger
}

func NewChatService(db *store.DB, attendees *attendee.Directory, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{db: db, attendees: attendees, logger: logger}
}

func (s *ChatService) Register(r gin.IRouter) {
	r.GET("/chats", s.listChats)
	r.GET("/chats/:id", s.getChat)
	r.POST("/chats/:id/read", s.markRead)
	r.PUT("/chats/:id/assist-mode", s.setAssistMode)
	r.PUT("/chats/:id/ignored", s.setIgnored)
	r.GET("/chats/:id/attendees/:provider_id", s.getAttendee)
}

func (s *ChatService) listChats(c *gin.Context) {
	q := store.ChatQuery{AccountID: c.Query("account_id")}
	var ok bool
	if q.IsRead, ok = boolQuery(c, "is_read"); !ok {
		return
	}
	includeIgnored, ok := boolQuery(c, "include_ignored")
	if !ok {
		return
	}
	q.IncludeIgnored = includeIgnored != nil && *includeIgnored
	if q.Limit, ok = intQuery(c, "limit", 50); !ok {
		return
	}
	if q.Offset, ok = intQuery(c, "offset", 0); !ok {
		return
	}

	chats, err := s.db.ListChats(c.Request.Context(), q)
	if err != nil {
		abort(c, s.logger, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats, "has_more": len(chats) == q.Limit})
}

func (s *ChatService) getChat(c *gin.Context) {
	chat, err := s.db.GetChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, s.logger, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (s *ChatService) markRead(c *gin.Context) {
	if err := s.db.MarkChatRead(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, s.logger, http.StatusInternalServerError, err)
		return
	}
	s.getChat(c)
}

type assistModeRequest struct {
	AssistMode store.AssistMode `json:"assist_mode" binding:"required"`
}

func (s *ChatService) setAssistMode(c *gin.Context) {
	var req assistModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !req.AssistMode.Valid() {
		badRequest(c, "assist_mode must be one of manual, ai-assisted, autopilot")
		return
	}
	if err := s.db.SetAssistMode(c.Request.Context(), c.Param("id"), req.AssistMode); err != nil {
		abort(c, s.logger, http.StatusInternalServerError, err)
		return
	}
	s.getChat(c)
}

type ignoredRequest struct {
	IsIgnored *bool `json:"is_ignored" binding:"required"`
}

func (s *ChatService) setIgnored(c *gin.Context) {
	var req ignoredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.db.SetIgnored(c.Request.Context(), c.Param("id"), *req.IsIgnored); err != nil {
		abort(c, s.logger, http.StatusInternalServerError, err)
		return
	}
	s.getChat(c)
}

func (s *ChatService) getAttendee(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")
	if _, err := s.db.GetChat(ctx, chatID); err != nil {
		abort(c, s.logger, http.StatusInternalServerError, err)
		return
	}
	a, err := s.attendees.Lookup(ctx, chatID, c.Param("provider_id"))
	if err != nil {
		abort(c, s.logger, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
