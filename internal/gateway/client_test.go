package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, "secret", 5*time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient("", "k", 0, nil); err == nil {
		t.Error("expected error for empty base url")
	}
	if _, err := NewClient("http://x", "", 0, nil); err == nil {
		t.Error("expected error for empty api key")
	}
}

func TestListChatsSendsAuthAndQuery(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chats" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("X-API-KEY"); got != "secret" {
			t.Errorf("X-API-KEY = %q", got)
		}
		q := r.URL.Query()
		if q.Get("account_id") != "acc" || q.Get("cursor") != "cur1" || q.Get("limit") != "25" {
			t.Errorf("query = %v", q)
		}
		_, _ = io.WriteString(w, `{"object":"ChatList","items":[{"id":"c1","account_id":"acc","provider_id":"p1","name":null,"timestamp":"2024-01-01T00:00:00.000Z","unread_count":3}],"cursor":"cur2"}`)
	})

	page, err := c.ListChats(context.Background(), ChatFilter{AccountID: "acc", Cursor: "cur1", Limit: 25})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "c1" || page.Items[0].UnreadCount != 3 {
		t.Errorf("items = %+v", page.Items)
	}
	if page.Cursor != "cur2" {
		t.Errorf("cursor = %q", page.Cursor)
	}
}

func TestListMessagesOmitsEmptyFilters(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chats/chat-1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Has("after") || r.URL.Query().Has("cursor") {
			t.Errorf("empty filters sent: %v", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"items":[{"id":"m1","provider_id":"pm1","is_sender":true,"seen":0,"hidden":null,"attachments":[{"type":"img","id":"a"}],"timestamp":"2024-01-01T00:00:00Z"}]}`)
	})

	page, err := c.ListMessages(context.Background(), "chat-1", MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	m := page.Items[0]
	if m.IsSender != 1 || m.Seen != 0 || m.Hidden != 0 {
		t.Errorf("flags = %+v", m)
	}
	if len(m.Attachments) != 1 {
		t.Errorf("attachments = %d", len(m.Attachments))
	}
	if page.Cursor != "" {
		t.Errorf("cursor = %q, want empty", page.Cursor)
	}
}

func TestSendMessageNormalizesID(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    string
		wantErr error
	}{
		{"scalar", `{"message_id":"m1"}`, "m1", nil},
		{"array", `{"message_id":["m2"]}`, "m2", nil},
		{"empty array", `{"message_id":[]}`, "", ErrEmptyMessageID},
		{"missing", `{}`, "", ErrEmptyMessageID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("method = %s", r.Method)
				}
				var in SendRequest
				if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
					t.Error(err)
				}
				if in.Text != "hello" {
					t.Errorf("text = %q", in.Text)
				}
				_, _ = io.WriteString(w, tc.body)
			})
			res, err := c.SendMessage(context.Background(), "c1", SendRequest{Text: "hello"})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if err == nil && res.MessageID != tc.want {
				t.Errorf("message id = %q, want %q", res.MessageID, tc.want)
			}
		})
	}
}

func TestHTTPErrorCarriesStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"detail":"down"}`)
	})

	_, err := c.ListChats(context.Background(), ChatFilter{})
	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if herr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", herr.StatusCode)
	}
}

func TestWebhooks(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"items":[{"id":"w1","name":"chatsync","request_url":"https://x/api/webhooks/messages"}]}`)
		case http.MethodPost:
			var in CreateWebhookRequest
			_ = json.NewDecoder(r.Body).Decode(&in)
			if len(in.Events) != 1 || in.Events[0] != "message_received" {
				t.Errorf("events = %v", in.Events)
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"object":"WebhookCreated","webhook_id":"w2"}`)
		}
	})

	hooks, err := c.ListWebhooks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(hooks) != 1 || hooks[0].Name != "chatsync" {
		t.Errorf("hooks = %+v", hooks)
	}
	id, err := c.CreateWebhook(context.Background(), CreateWebhookRequest{Events: []string{"message_received"}})
	if err != nil {
		t.Fatal(err)
	}
	if id != "w2" {
		t.Errorf("id = %q", id)
	}
}

func TestFlagDecoding(t *testing.T) {
	cases := map[string]Flag{"true": 1, "false": 0, "null": 0, "1": 1, "0": 0, "2": 1}
	for in, want := range cases {
		var f Flag
		if err := json.Unmarshal([]byte(in), &f); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if f != want {
			t.Errorf("%s = %d, want %d", in, f, want)
		}
	}
	var f Flag
	if err := json.Unmarshal([]byte(`"yes"`), &f); err == nil {
		t.Error("expected error for string flag")
	}
}
