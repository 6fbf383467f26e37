// Package api exposes the daemon over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/gateway"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// Service registers its routes on the /api group.
type Service interface {
	Register(r gin.IRouter)
}

// NewRouter builds the gin engine. ws, when set, serves websocket
// subscriptions on /ws/messages.
func NewRouter(logger *zap.Logger, ws http.Handler, services ...Service) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if ws != nil {
		router.GET("/ws/messages", gin.WrapH(ws))
	}
	group := router.Group("/api")
	for _, s := range services {
		s.Register(group)
	}
	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// abort writes err as {"error": ...} with the status that fits it.
// fallback is used for errors that map to nothing more specific.
func abort(c *gin.Context, logger *zap.Logger, fallback int, err error) {
	code := fallback
	var httpErr *gateway.HTTPError
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, outbox.ErrChatIgnored):
		code = http.StatusConflict
	case errors.As(err, &httpErr):
		code = http.StatusBadGateway
	}
	if code >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", code),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// intQuery parses an optional non-negative integer query parameter.
func intQuery(c *gin.Context, key string, def int) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		badRequest(c, "invalid "+key)
		return 0, false
	}
	return n, true
}

// boolQuery parses an optional boolean query parameter.
func boolQuery(c *gin.Context, key string) (*bool, bool) {
	v := c.Query(key)
	if v == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		badRequest(c, "invalid "+key)
		return nil, false
	}
	return &b, true
}
