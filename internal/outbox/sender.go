// Package outbox sends messages through the gateway and confirms that they
// become visible in the gateway's message listing.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/gateway"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// ErrChatIgnored is returned when sending to a chat the operator ignored.
var ErrChatIgnored = errors.New("chat is ignored")

// SendOptions qualify an outbound message.
type SendOptions struct {
	SentByAutopilot bool
}

// Sender hands text messages to the gateway and records them as pending
// until the reconcile loop sees them come back.
type Sender struct {
	db           *store.DB
	gw           gateway.Gateway
	bus          *bus.Bus
	blockIgnored bool
	logger       *zap.Logger
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, gw gateway.Gateway, b *bus.Bus, blockIgnored bool, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:           db,
		gw:           gw,
		bus:          b,
		blockIgnored: blockIgnored,
		logger:       logger,
	}
}

// Send posts text to a chat. No message row is written here: the message
// is stored when a sync or webhook brings it back, and the pending row makes
// sure it is then recorded as ours.
func (s *Sender) Send(ctx context.Context, chatID, text string, opts SendOptions) (*store.PendingMessage, error) {
	chat, err := s.db.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.IsIgnored && s.blockIgnored {
		return nil, ErrChatIgnored
	}

	sentAt := time.Now()
	res, err := s.gw.SendMessage(ctx, chatID, gateway.SendRequest{Text: text, AccountID: chat.AccountID})
	if err != nil {
		s.logger.Error("failed to send message", zap.String("chat_id", chatID), zap.Error(err))
		return nil, fmt.Errorf("send to %s: %w", chatID, err)
	}

	pending, err := s.db.CreatePending(ctx, &store.PendingMessage{
		MessageID:       res.MessageID,
		ChatID:          chatID,
		Text:            text,
		Timestamp:       store.FormatTimestamp(sentAt),
		SentByAutopilot: opts.SentByAutopilot,
	})
	if err != nil {
		// The gateway accepted the message; without the pending row it will
		// still be synced later, only as an ordinary message.
		s.logger.Error("failed to record pending message",
			zap.String("chat_id", chatID),
			zap.String("message_id", res.MessageID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("message sent",
		zap.String("chat_id", chatID),
		zap.String("message_id", res.MessageID),
		zap.Bool("autopilot", opts.SentByAutopilot))
	s.bus.Publish(bus.NewEvent(bus.KindOutboxSent, pending))
	return pending, nil
}
