package webhook

import (
	"context"
	"strings"

	"github.com/matheus3301/chatsync/internal/gateway"
	"go.uber.org/zap"
)

// IngestPath is where the daemon receives webhook deliveries.
const IngestPath = "/api/webhooks/messages"

// Registrar makes sure the gateway posts message events to this daemon.
type Registrar struct {
	admin     gateway.WebhookAdmin
	publicURL string
	name      string
	logger    *zap.Logger
}

func NewRegistrar(admin gateway.WebhookAdmin, publicURL, name string, logger *zap.Logger) *Registrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	if name == "" {
		name = "chatsync"
	}
	return &Registrar{
		admin:     admin,
		publicURL: strings.TrimRight(publicURL, "/"),
		name:      name,
		logger:    logger,
	}
}

// URL is the callback address registered with the gateway, or "" when no
// public url is configured.
func (r *Registrar) URL() string {
	if r.publicURL == "" {
		return ""
	}
	return r.publicURL + IngestPath
}

// Ensure registers the webhook unless one with the same name or callback url
// already exists. It returns the webhook id, or "" when registration is
// disabled or failed. Failures are logged only.
func (r *Registrar) Ensure(ctx context.Context) string {
	url := r.URL()
	if url == "" {
		r.logger.Info("webhook public url not configured, skipping registration")
		return ""
	}

	hooks, err := r.admin.ListWebhooks(ctx)
	if err != nil {
		r.logger.Warn("failed to list webhooks", zap.Error(err))
		return ""
	}
	for _, h := range hooks {
		if h.Name == r.name || h.RequestURL == url {
			r.logger.Info("webhook already registered",
				zap.String("id", h.ID), zap.String("url", h.RequestURL))
			return h.ID
		}
	}

	id, err := r.admin.CreateWebhook(ctx, gateway.CreateWebhookRequest{
		RequestURL: url,
		Source:     "messaging",
		Name:       r.name,
		Format:     "json",
		Enabled:    true,
		Events:     []string{EventMessageReceived},
	})
	if err != nil {
		r.logger.Warn("failed to create webhook", zap.String("url", url), zap.Error(err))
		return ""
	}
	r.logger.Info("webhook registered", zap.String("id", id), zap.String("url", url))
	return id
}
