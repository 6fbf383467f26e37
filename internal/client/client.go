// Package client talks to a running chatsyncd over its HTTP API.
package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
)

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

// Client wraps the daemon API.
type Client struct {
	http *resty.Client
}

// New returns a client for the daemon listening on addr, either host:port
// or a full http URL.
func New(addr string, timeout time.Duration) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		http: resty.New().
			SetBaseURL(base+"/api").
			SetHeader("Accept", "application/json").
			SetTimeout(timeout),
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString()).
		SetQueryParams(query).
		SetError(&errorBody{}).
		ForceContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		msg := strings.TrimSpace(resp.String())
		if e, ok := resp.Error().(*errorBody); ok && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode(), Message: msg}
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.do(ctx, resty.MethodGet, "/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncAll triggers a sync of every chat. An empty accountID uses the
// daemon's configured account.
func (c *Client) SyncAll(ctx context.Context, accountID string, full bool) (*chatsync.AggregateStats, error) {
	q := map[string]string{"full": strconv.FormatBool(full)}
	if accountID != "" {
		q["account_id"] = accountID
	}
	var out chatsync.AggregateStats
	if err := c.do(ctx, resty.MethodPost, "/chats/sync", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SyncChat(ctx context.Context, chatID string, full bool) (*chatsync.MessageSyncStats, error) {
	var out chatsync.MessageSyncStats
	q := map[string]string{"full": strconv.FormatBool(full)}
	if err := c.do(ctx, resty.MethodPost, "/chats/"+chatID+"/sync", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChatList is one page of chats.
type ChatList struct {
	Chats   []store.Chat `json:"chats"`
	HasMore bool         `json:"has_more"`
}

// ChatListOptions filter ListChats. Zero values use the daemon defaults.
type ChatListOptions struct {
	AccountID      string
	Unread         bool
	IncludeIgnored bool
	Limit          int
	Offset         int
}

func (c *Client) ListChats(ctx context.Context, opts ChatListOptions) (*ChatList, error) {
	q := map[string]string{}
	if opts.AccountID != "" {
		q["account_id"] = opts.AccountID
	}
	if opts.Unread {
		q["is_read"] = "false"
	}
	if opts.IncludeIgnored {
		q["include_ignored"] = "true"
	}
	if opts.Limit > 0 {
		q["limit"] = strconv.Itoa(opts.Limit)
	}
	if opts.Offset > 0 {
		q["offset"] = strconv.Itoa(opts.Offset)
	}
	var out ChatList
	if err := c.do(ctx, resty.MethodGet, "/chats", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MessageList is one page of a chat's messages.
type MessageList struct {
	Messages []store.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// ListMessages returns a page of messages, newest first when desc is set.
func (c *Client) ListMessages(ctx context.Context, chatID string, limit, offset int, desc bool) (*MessageList, error) {
	q := map[string]string{"order": "asc"}
	if desc {
		q["order"] = "desc"
	}
	if limit > 0 {
		q["limit"] = strconv.Itoa(limit)
	}
	if offset > 0 {
		q["offset"] = strconv.Itoa(offset)
	}
	var out MessageList
	if err := c.do(ctx, resty.MethodGet, "/chats/"+chatID+"/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Send hands text to the daemon's outbox. The returned row stays pending
// until the reconcile loop sees the message come back.
func (c *Client) Send(ctx context.Context, chatID, text string) (*store.PendingMessage, error) {
	var out store.PendingMessage
	if err := c.do(ctx, resty.MethodPost, "/chats/"+chatID+"/messages", nil, map[string]string{"text": text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkRead(ctx context.Context, chatID string) (*store.Chat, error) {
	var out store.Chat
	if err := c.do(ctx, resty.MethodPost, "/chats/"+chatID+"/read", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetAssistMode(ctx context.Context, chatID string, mode store.AssistMode) (*store.Chat, error) {
	var out store.Chat
	body := map[string]store.AssistMode{"assist_mode": mode}
	if err := c.do(ctx, resty.MethodPut, "/chats/"+chatID+"/assist-mode", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetIgnored(ctx context.Context, chatID string, ignored bool) (*store.Chat, error) {
	var out store.Chat
	body := map[string]bool{"is_ignored": ignored}
	if err := c.do(ctx, resty.MethodPut, "/chats/"+chatID+"/ignored", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pending lists outbox rows, optionally filtered by status.
func (c *Client) Pending(ctx context.Context, status store.PendingStatus, limit int) ([]store.PendingMessage, error) {
	q := map[string]string{}
	if status != "" {
		q["status"] = string(status)
	}
	if limit > 0 {
		q["limit"] = strconv.Itoa(limit)
	}
	var out struct {
		Pending []store.PendingMessage `json:"pending"`
	}
	if err := c.do(ctx, resty.MethodGet, "/pending", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Pending, nil
}

func (c *Client) Reconcile(ctx context.Context) (*outbox.ReconcileStats, error) {
	var out outbox.ReconcileStats
	if err := c.do(ctx, resty.MethodPost, "/reconcile", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
