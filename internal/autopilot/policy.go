// Package autopilot answers inbound messages on chats switched to autopilot.
package autopilot

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// DefaultHistoryLimit is how many recent messages are handed to the suggester.
const DefaultHistoryLimit = 20

// Suggester produces a reply for a conversation.
type Suggester interface {
	Suggest(ctx context.Context, chat *store.Chat, history []store.Message, prompt string) (string, error)
}

// Sender delivers the reply. *outbox.Sender satisfies it.
type Sender interface {
	Send(ctx context.Context, chatID, text string, opts outbox.SendOptions) (*store.PendingMessage, error)
}

type Options struct {
	Enabled      bool
	Prompt       string
	HistoryLimit int
}

// Policy decides whether a new message gets an automatic reply and sends
// it. Replies run in the background; Close waits for them.
type Policy struct {
	db        *store.DB
	suggester Suggester
	sender    Sender
	opts      Options
	logger    *zap.Logger

	// mu orders wg.Add against Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPolicy(db *store.DB, suggester Suggester, sender Sender, opts Options, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	opts.Prompt = strings.TrimSpace(opts.Prompt)
	return &Policy{
		db:        db,
		suggester: suggester,
		sender:    sender,
		opts:      opts,
		logger:    logger,
	}
}

// Maybe schedules a reply to m when the chat is on autopilot. It returns
// immediately.
func (p *Policy) Maybe(ctx context.Context, m *store.Message) {
	if p == nil || m == nil || !p.opts.Enabled || !m.Inbound() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.Reply(ctx, m); err != nil {
			p.logger.Warn("autopilot reply failed",
				zap.String("chat_id", m.ChatID),
				zap.String("message_id", m.ID),
				zap.Error(err))
		}
	}()
}

// errSkip marks a message the policy decided not to answer.
var errSkip = errors.New("skipped")

// Reply runs the policy synchronously. It returns the pending row of the
// reply, or nil when the message does not qualify.
func (p *Policy) Reply(ctx context.Context, m *store.Message) (*store.PendingMessage, error) {
	chat, err := p.eligible(ctx, m)
	if errors.Is(err, errSkip) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	history, err := p.db.RecentMessages(ctx, chat.ID, p.opts.HistoryLimit)
	if err != nil {
		return nil, err
	}
	text, err := p.suggester.Suggest(ctx, chat, history, p.opts.Prompt)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		p.logger.Warn("autopilot suggestion is empty", zap.String("chat_id", chat.ID))
		return nil, nil
	}

	pending, err := p.sender.Send(ctx, chat.ID, text, outbox.SendOptions{SentByAutopilot: true})
	if err != nil {
		return nil, err
	}
	p.logger.Info("autopilot replied",
		zap.String("chat_id", chat.ID),
		zap.String("in_reply_to", m.ID),
		zap.String("message_id", pending.MessageID))
	return pending, nil
}

func (p *Policy) eligible(ctx context.Context, m *store.Message) (*store.Chat, error) {
	if !m.Inbound() {
		return nil, errSkip
	}
	chat, err := p.db.GetChat(ctx, m.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errSkip
	}
	if err != nil {
		return nil, err
	}
	if chat.IsIgnored || chat.AssistMode != store.AssistAutopilot {
		return nil, errSkip
	}

	// Only the newest message is answered so a burst gets one reply.
	latest, err := p.db.LatestMessage(ctx, chat.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if latest == nil || latest.ID != m.ID {
		return nil, errSkip
	}

	if p.suggester == nil {
		p.logger.Warn("autopilot has no suggester configured", zap.String("chat_id", chat.ID))
		return nil, errSkip
	}
	if p.opts.Prompt == "" {
		p.logger.Warn("autopilot prompt is empty", zap.String("chat_id", chat.ID))
		return nil, errSkip
	}
	return chat, nil
}

// Close stops accepting messages and waits for in-flight replies.
func (p *Policy) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
