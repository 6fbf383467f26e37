package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
)

type recorded struct {
	method    string
	path      string
	query     string
	body      string
	requestID string
}

func newServer(t *testing.T, status int, reply string) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*rec = recorded{
			method:    r.Method,
			path:      r.URL.Path,
			query:     r.URL.RawQuery,
			body:      string(b),
			requestID: r.Header.Get("X-Request-ID"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second), rec
}

func TestSend(t *testing.T) {
	c, rec := newServer(t, http.StatusAccepted, `{"message_id":"m1","chat_id":"c1","text":"hi","status":"pending"}`)

	p, err := c.Send(context.Background(), "c1", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if p.MessageID != "m1" || p.Status != store.PendingOpen {
		t.Errorf("pending = %+v", p)
	}
	if rec.method != http.MethodPost || rec.path != "/api/chats/c1/messages" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(rec.body), &body); err != nil || body["text"] != "hi" {
		t.Errorf("body = %q", rec.body)
	}
	if rec.requestID == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestSyncAllQuery(t *testing.T) {
	c, rec := newServer(t, http.StatusOK, `{"chats_synced":3,"total_messages_created":5}`)

	stats, err := c.SyncAll(context.Background(), "acc", true)
	if err != nil {
		t.Fatal(err)
	}
	if stats.ChatsSynced != 3 || stats.TotalMessagesCreated != 5 {
		t.Errorf("stats = %+v", stats)
	}
	if !strings.Contains(rec.query, "full=true") || !strings.Contains(rec.query, "account_id=acc") {
		t.Errorf("query = %q", rec.query)
	}
}

func TestListChatsFilters(t *testing.T) {
	c, rec := newServer(t, http.StatusOK, `{"chats":[{"id":"c1","assist_mode":"manual"}],"has_more":false}`)

	list, err := c.ListChats(context.Background(), ChatListOptions{Unread: true, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Chats) != 1 || list.Chats[0].ID != "c1" {
		t.Errorf("chats = %+v", list.Chats)
	}
	if !strings.Contains(rec.query, "is_read=false") || !strings.Contains(rec.query, "limit=10") {
		t.Errorf("query = %q", rec.query)
	}
	if strings.Contains(rec.query, "include_ignored") {
		t.Errorf("query = %q, include_ignored should be omitted", rec.query)
	}
}

func TestAPIError(t *testing.T) {
	c, _ := newServer(t, http.StatusConflict, `{"error":"chat is ignored"}`)

	_, err := c.Send(context.Background(), "c1", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "chat is ignored" {
		t.Errorf("api error = %+v", apiErr)
	}
}

func TestSetIgnoredBody(t *testing.T) {
	c, rec := newServer(t, http.StatusOK, `{"id":"c1","is_ignored":false}`)

	chat, err := c.SetIgnored(context.Background(), "c1", false)
	if err != nil {
		t.Fatal(err)
	}
	if chat.IsIgnored {
		t.Error("is_ignored = true")
	}
	if rec.method != http.MethodPut || !strings.Contains(rec.body, `"is_ignored":false`) {
		t.Errorf("request = %s %s", rec.method, rec.body)
	}
}

func TestNewAddsScheme(t *testing.T) {
	c := New("127.0.0.1:8088", time.Second)
	if got := c.http.BaseURL; got != "http://127.0.0.1:8088/api" {
		t.Errorf("base url = %q", got)
	}
}
