// Package gateway talks to the remote messaging gateway that owns chats and
// messages. The gateway is the system of record; chatsync only mirrors it.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrEmptyMessageID is returned when a send succeeds but the gateway does not
// report the id of the new message.
var ErrEmptyMessageID = errors.New("gateway returned no message id")

// Gateway is the read/write surface the sync engine and outbox depend on.
type Gateway interface {
	ListChats(ctx context.Context, f ChatFilter) (*ChatPage, error)
	ListMessages(ctx context.Context, chatID string, f MessageFilter) (*MessagePage, error)
	SendMessage(ctx context.Context, chatID string, req SendRequest) (*SendResult, error)
	ListAttendees(ctx context.Context, chatID string) ([]Attendee, error)
}

// WebhookAdmin manages webhook registrations on the gateway.
type WebhookAdmin interface {
	ListWebhooks(ctx context.Context) ([]Webhook, error)
	CreateWebhook(ctx context.Context, req CreateWebhookRequest) (string, error)
}

// ChatFilter narrows a chat listing. Zero values are omitted from the query.
type ChatFilter struct {
	AccountID string
	Cursor    string
	Limit     int
}

// MessageFilter narrows a message listing. After is an ISO-8601 timestamp.
type MessageFilter struct {
	After  string
	Cursor string
	Limit  int
}

type Chat struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	AccountType string `json:"account_type"`
	ProviderID  string `json:"provider_id"`
	Name        string `json:"name"`
	Timestamp   string `json:"timestamp"`
	UnreadCount int    `json:"unread_count"`
}

// ChatPage is one page of a cursor walk. An empty Cursor ends the walk.
type ChatPage struct {
	Items  []Chat `json:"items"`
	Cursor string `json:"cursor"`
}

type Message struct {
	ID               string            `json:"id"`
	ChatID           string            `json:"chat_id"`
	AccountID        string            `json:"account_id"`
	ChatProviderID   string            `json:"chat_provider_id"`
	ProviderID       string            `json:"provider_id"`
	SenderID         string            `json:"sender_id"`
	SenderAttendeeID string            `json:"sender_attendee_id"`
	Text             string            `json:"text"`
	Timestamp        string            `json:"timestamp"`
	IsSender         Flag              `json:"is_sender"`
	Attachments      []json.RawMessage `json:"attachments"`
	Reactions        json.RawMessage   `json:"reactions"`
	Quoted           json.RawMessage   `json:"quoted"`
	Seen             Flag              `json:"seen"`
	Hidden           Flag              `json:"hidden"`
	Deleted          Flag              `json:"deleted"`
	Edited           Flag              `json:"edited"`
	IsEvent          Flag              `json:"is_event"`
	Delivered        Flag              `json:"delivered"`
	MessageType      string            `json:"message_type"`
	Original         string            `json:"original"`
}

type MessagePage struct {
	Items  []Message `json:"items"`
	Cursor string    `json:"cursor"`
}

type Attendee struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	ProviderID string          `json:"provider_id"`
	Name       string          `json:"name"`
	IsSelf     Flag            `json:"is_self"`
	Hidden     Flag            `json:"hidden"`
	PictureURL string          `json:"picture_url"`
	ProfileURL string          `json:"profile_url"`
	Specifics  json.RawMessage `json:"specifics"`
}

type SendRequest struct {
	Text      string `json:"text"`
	AccountID string `json:"account_id,omitempty"`
}

type SendResult struct {
	MessageID string
}

type Webhook struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	RequestURL string   `json:"request_url"`
	Source     string   `json:"source"`
	Enabled    bool     `json:"enabled"`
	Events     []string `json:"events"`
}

type CreateWebhookRequest struct {
	RequestURL string   `json:"request_url"`
	Source     string   `json:"source"`
	Name       string   `json:"name"`
	Format     string   `json:"format"`
	Enabled    bool     `json:"enabled"`
	Events     []string `json:"events"`
}

// Flag is a 0/1 integer the gateway may encode as a bool, a number or null.
type Flag int

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch s := string(b); s {
	case "null", "false", `""`:
		*f = 0
	case "true":
		*f = 1
	default:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("flag: %s is not a bool or number", s)
		}
		if n != 0 {
			*f = 1
		} else {
			*f = 0
		}
	}
	return nil
}

// messageID decodes an id sent either as a string or as a one-element array.
type messageID string

func (id *messageID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = messageID(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("message_id: %w", err)
	}
	if len(list) > 0 {
		*id = messageID(list[0])
	} else {
		*id = ""
	}
	return nil
}

// HTTPError is a non-2xx response from the gateway.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}
