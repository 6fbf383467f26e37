// Package gatewaytest provides an in-memory Gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/matheus3301/chatsync/internal/gateway"
)

// Fake is a scripted, in-memory gateway. Chats and messages are served in
// pages of PageSize; cursors are page offsets.
type Fake struct {
	mu sync.Mutex

	PageSize  int
	Chats     []gateway.Chat
	Messages  map[string][]gateway.Message
	Attendees map[string][]gateway.Attendee
	Webhooks  []gateway.Webhook

	// Err, when set for a chat id, is returned by ListMessages for that chat.
	Err map[string]error
	// ChatsErr is returned by ListChats.
	ChatsErr error
	// SendErr is returned by SendMessage.
	SendErr error
	// EndlessCursor makes every page report a next cursor.
	EndlessCursor bool

	Sent           []SentMessage
	Created        []gateway.CreateWebhookRequest
	MessageCalls   map[string]int
	LastAfter      map[string]string
	AttendeeCalls  int
	nextMessageNum int
}

// SentMessage records one SendMessage call.
type SentMessage struct {
	ChatID    string
	Request   gateway.SendRequest
	MessageID string
}

var (
	_ gateway.Gateway      = (*Fake)(nil)
	_ gateway.WebhookAdmin = (*Fake)(nil)
)

func New() *Fake {
	return &Fake{
		PageSize:     2,
		Messages:     make(map[string][]gateway.Message),
		Attendees:    make(map[string][]gateway.Attendee),
		Err:          make(map[string]error),
		MessageCalls: make(map[string]int),
		LastAfter:    make(map[string]string),
	}
}

// AddMessage appends a message to a chat's remote history.
func (f *Fake) AddMessage(m gateway.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages[m.ChatID] = append(f.Messages[m.ChatID], m)
}

func (f *Fake) ListChats(_ context.Context, flt gateway.ChatFilter) (*gateway.ChatPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChatsErr != nil {
		return nil, f.ChatsErr
	}
	var chats []gateway.Chat
	for _, c := range f.Chats {
		if flt.AccountID == "" || c.AccountID == flt.AccountID {
			chats = append(chats, c)
		}
	}
	items, next := page(chats, flt.Cursor, f.PageSize)
	if f.EndlessCursor {
		next = "again"
	}
	return &gateway.ChatPage{Items: items, Cursor: next}, nil
}

func (f *Fake) ListMessages(_ context.Context, chatID string, flt gateway.MessageFilter) (*gateway.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MessageCalls[chatID]++
	f.LastAfter[chatID] = flt.After
	if err := f.Err[chatID]; err != nil {
		return nil, err
	}
	var msgs []gateway.Message
	for _, m := range f.Messages[chatID] {
		// The real gateway treats "after" as inclusive.
		if flt.After == "" || m.Timestamp >= flt.After {
			msgs = append(msgs, m)
		}
	}
	items, next := page(msgs, flt.Cursor, f.PageSize)
	if f.EndlessCursor {
		next = "again"
	}
	return &gateway.MessagePage{Items: items, Cursor: next}, nil
}

// SendMessage records the send and returns a generated id. The message is
// not added to the chat history; tests add it when the gateway "catches up".
func (f *Fake) SendMessage(_ context.Context, chatID string, req gateway.SendRequest) (*gateway.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	f.nextMessageNum++
	id := "sent-" + strconv.Itoa(f.nextMessageNum)
	f.Sent = append(f.Sent, SentMessage{ChatID: chatID, Request: req, MessageID: id})
	return &gateway.SendResult{MessageID: id}, nil
}

func (f *Fake) ListAttendees(_ context.Context, chatID string) ([]gateway.Attendee, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AttendeeCalls++
	return f.Attendees[chatID], nil
}

func (f *Fake) ListWebhooks(context.Context) ([]gateway.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Webhook(nil), f.Webhooks...), nil
}

func (f *Fake) CreateWebhook(_ context.Context, req gateway.CreateWebhookRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("wh-%d", len(f.Webhooks)+1)
	f.Created = append(f.Created, req)
	f.Webhooks = append(f.Webhooks, gateway.Webhook{ID: id, Name: req.Name, RequestURL: req.RequestURL, Events: req.Events})
	return id, nil
}

// Calls returns how many times ListMessages was called for chatID.
func (f *Fake) Calls(chatID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MessageCalls[chatID]
}

func page[T any](all []T, cursor string, size int) ([]T, string) {
	if size <= 0 {
		size = len(all)
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err == nil {
			start = n
		}
	}
	if start >= len(all) {
		return nil, ""
	}
	end := min(start+size, len(all))
	next := ""
	if end < len(all) {
		next = strconv.Itoa(end)
	}
	return all[start:end], next
}
