package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatsync/internal/webhook"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// WebhookService receives gateway deliveries. It always answers 200 so the
// gateway never retries; the outcome travels in the body.
type WebhookService struct {
	ingestor *webhook.Ingestor
	logger   *zap.Logger
}

func NewWebhookService(ingestor *webhook.Ingestor, logger *zap.Logger) *WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{ingestor: ingestor, logger: logger}
}

func (s *WebhookService) Register(r gin.IRouter) {
	r.POST("/webhooks/messages", s.receive)
}

func (s *WebhookService) receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.logger.Warn("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusOK, webhook.Outcome{Status: webhook.StatusError, Error: "unreadable body"})
		return
	}
	c.JSON(http.StatusOK, s.ingestor.Ingest(c.Request.Context(), body))
}
