package sync

import (
	"github.com/matheus3301/chatsync/internal/gateway"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// checkTimestamp logs a remote timestamp that cannot be normalized. Such a
// value is stored as is and sorts below canonical ones.
func checkTimestamp(logger *zap.Logger, kind, id, ts string) {
	if ts == "" {
		return
	}
	if _, err := store.ParseTimestamp(ts); err != nil {
		logger.Warn("unparseable remote timestamp", zap.String(kind, id), zap.Error(err))
	}
}

func toStoreChat(c gateway.Chat, logger *zap.Logger) *store.Chat {
	checkTimestamp(logger, "chat_id", c.ID, c.Timestamp)
	return &store.Chat{
		ID:          c.ID,
		AccountID:   c.AccountID,
		AccountType: c.AccountType,
		ProviderID:  c.ProviderID,
		Name:        c.Name,
		Timestamp:   c.Timestamp,
		UnreadCount: c.UnreadCount,
	}
}

// toStoreMessage maps a gateway message listed under chatID. Attachments of unknown
// kinds are dropped and logged.
func toStoreMessage(chatID string, m gateway.Message, logger *zap.Logger) *store.Message {
	checkTimestamp(logger, "message_id", m.ID, m.Timestamp)
	attachments, errs := store.DecodeAttachments(m.Attachments)
	for _, err := range errs {
		logger.Warn("dropping attachment", zap.String("message_id", m.ID), zap.Error(err))
	}
	return &store.Message{
		ID:               m.ID,
		ChatID:           chatID,
		AccountID:        m.AccountID,
		ChatProviderID:   m.ChatProviderID,
		ProviderID:       m.ProviderID,
		SenderID:         m.SenderID,
		SenderAttendeeID: m.SenderAttendeeID,
		Text:             m.Text,
		Timestamp:        m.Timestamp,
		IsSender:         int(m.IsSender),
		Attachments:      attachments,
		Reactions:        raw(m.Reactions),
		Quoted:           raw(m.Quoted),
		Seen:             int(m.Seen),
		Hidden:           int(m.Hidden),
		Deleted:          int(m.Deleted),
		Edited:           int(m.Edited),
		IsEvent:          int(m.IsEvent),
		Delivered:        int(m.Delivered),
		MessageType:      m.MessageType,
		Original:         m.Original,
	}
}

func raw(b []byte) store.RawJSON {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return store.RawJSON(b)
}
