package autopilot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/matheus3301/chatsync/internal/store"
)

// HTTPSuggester asks an external service for a reply. The service receives
// the chat, its recent history and the prompt, and answers {"text": "..."}.
type HTTPSuggester struct {
	url  string
	http *resty.Client
}

func NewHTTPSuggester(url string, timeout time.Duration) (*HTTPSuggester, error) {
	if url == "" {
		return nil, errors.New("suggester url cannot be empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSuggester{
		url:  url,
		http: resty.New().SetTimeout(timeout),
	}, nil
}

type suggestRequest struct {
	Chat     *store.Chat     `json:"chat"`
	Messages []store.Message `json:"messages"`
	Prompt   string          `json:"prompt"`
}

type suggestResponse struct {
	Text string `json:"text"`
}

func (s *HTTPSuggester) Suggest(ctx context.Context, chat *store.Chat, history []store.Message, prompt string) (string, error) {
	var out suggestResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(suggestRequest{Chat: chat, Messages: history, Prompt: prompt}).
		SetResult(&out).
		ForceContentType("application/json").
		Post(s.url)
	if err != nil {
		return "", fmt.Errorf("suggest: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("suggest: status %d: %s", resp.StatusCode(), resp.String())
	}
	return out.Text, nil
}
