package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultTimeout bounds every gateway call when the caller sets none.
const DefaultTimeout = 30 * time.Second

// Client is the REST implementation of Gateway and WebhookAdmin.
type Client struct {
	http    *resty.Client
	timeout time.Duration
	logger  *zap.Logger
}

var (
	_ Gateway      = (*Client)(nil)
	_ WebhookAdmin = (*Client)(nil)
)

// NewClient creates a gateway client. baseURL and apiKey are required.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("gateway base url cannot be empty")
	}
	if apiKey == "" {
		return nil, errors.New("gateway api key cannot be empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("X-API-KEY", apiKey).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)

	return &Client{http: http, timeout: timeout, logger: logger}, nil
}

func (c *Client) request(ctx context.Context) (*resty.Request, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return c.http.R().SetContext(ctx).ForceContentType("application/json"), cancel
}

func (c *Client) check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("gateway %s: %w", op, err)
	}
	if resp.IsError() {
		c.logger.Warn("gateway returned an error",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		return &HTTPError{Op: op, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// ListChats fetches one page of chats.
func (c *Client) ListChats(ctx context.Context, f ChatFilter) (*ChatPage, error) {
	req, cancel := c.request(ctx)
	defer cancel()

	var page ChatPage
	resp, err := req.
		SetQueryParams(query(map[string]string{
			"account_id": f.AccountID,
			"cursor":     f.Cursor,
			"limit":      limit(f.Limit),
		})).
		SetResult(&page).
		Get("/api/v1/chats")
	if err := c.check("list chats", resp, err); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListMessages fetches one page of a chat's messages.
func (c *Client) ListMessages(ctx context.Context, chatID string, f MessageFilter) (*MessagePage, error) {
	req, cancel := c.request(ctx)
	defer cancel()

	var page MessagePage
	resp, err := req.
		SetPathParam("id", chatID).
		SetQueryParams(query(map[string]string{
			"after":  f.After,
			"cursor": f.Cursor,
			"limit":  limit(f.Limit),
		})).
		SetResult(&page).
		Get("/api/v1/chats/{id}/messages")
	if err := c.check("list messages", resp, err); err != nil {
		return nil, err
	}
	return &page, nil
}

// SendMessage posts a text message to a chat and returns the gateway's id
// for it.
func (c *Client) SendMessage(ctx context.Context, chatID string, in SendRequest) (*SendResult, error) {
	req, cancel := c.request(ctx)
	defer cancel()

	var out struct {
		MessageID messageID `json:"message_id"`
	}
	resp, err := req.
		SetPathParam("id", chatID).
		SetBody(in).
		SetResult(&out).
		Post("/api/v1/chats/{id}/messages")
	if err := c.check("send message", resp, err); err != nil {
		return nil, err
	}
	if out.MessageID == "" {
		return nil, ErrEmptyMessageID
	}
	return &SendResult{MessageID: string(out.MessageID)}, nil
}

// ListAttendees returns the participants of a chat.
func (c *Client) ListAttendees(ctx context.Context, chatID string) ([]Attendee, error) {
	req, cancel := c.request(ctx)
	defer cancel()

	var out struct {
		Items []Attendee `json:"items"`
	}
	resp, err := req.
		SetPathParam("id", chatID).
		SetResult(&out).
		Get("/api/v1/chats/{id}/attendees")
	if err := c.check("list attendees", resp, err); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	req, cancel := c.request(ctx)
	defer cancel()

	var out struct {
		Items []Webhook `json:"items"`
	}
	resp, err := req.SetResult(&out).Get("/api/v1/webhooks")
	if err := c.check("list webhooks", resp, err); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CreateWebhook registers a webhook and returns its id.
func (c *Client) CreateWebhook(ctx context.Context, in CreateWebhookRequest) (string, error) {
	req, cancel := c.request(ctx)
	defer cancel()

	var out struct {
		WebhookID string `json:"webhook_id"`
	}
	resp, err := req.SetBody(in).SetResult(&out).Post("/api/v1/webhooks")
	if err := c.check("create webhook", resp, err); err != nil {
		return "", err
	}
	return out.WebhookID, nil
}

// query drops empty values so they are not sent as blank parameters.
func query(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func limit(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
