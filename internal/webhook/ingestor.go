// Package webhook ingests message events pushed by the gateway and keeps
// the gateway's webhook registration in place.
package webhook

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/attendee"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/gateway"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

//go:embed message.schema.json
var messageSchema []byte

const schemaURL = "message.schema.json"

// EventMessageReceived is the only webhook event that is ingested.
const EventMessageReceived = "message_received"

// Status is the result of ingesting one webhook delivery.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusDuplicate Status = "duplicate"
	StatusIgnored   Status = "ignored"
	StatusError     Status = "error"
)

// Outcome is reported back to the gateway. Deliveries are always
// acknowledged, so an error outcome never turns into a retry.
type Outcome struct {
	Status    Status `json:"status"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Autopilot is notified of every new inbound message.
type Autopilot interface {
	Maybe(ctx context.Context, m *store.Message)
}

// Payload is the flat message event posted by the gateway.
type Payload struct {
	Event             string            `json:"event"`
	AccountID         string            `json:"account_id"`
	AccountType       string            `json:"account_type"`
	ChatID            string            `json:"chat_id"`
	MessageID         string            `json:"message_id"`
	Message           string            `json:"message"`
	Timestamp         string            `json:"timestamp"`
	ProviderChatID    string            `json:"provider_chat_id"`
	ProviderMessageID string            `json:"provider_message_id"`
	MessageType       string            `json:"message_type"`
	IsEvent           gateway.Flag      `json:"is_event"`
	Attachments       []json.RawMessage `json:"attachments"`
	Quoted            json.RawMessage   `json:"quoted"`
	Sender            *Sender           `json:"sender"`
}

type Sender struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider_id"`
	Name       string `json:"name"`
}

// Ingestor stores pushed messages through the same idempotent path as the
// pull sync, so a message delivered both ways is stored once.
type Ingestor struct {
	db        *store.DB
	bus       *bus.Bus
	attendees *attendee.Directory
	autopilot Autopilot
	schema    *jsonschema.Schema
	logger    *zap.Logger
}

// NewIngestor compiles the payload schema and returns an ingestor.
// attendees and autopilot may be nil.
func NewIngestor(db *store.DB, b *bus.Bus, attendees *attendee.Directory, autopilot Autopilot, logger *zap.Logger) (*Ingestor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Ingestor{
		db:        db,
		bus:       b,
		attendees: attendees,
		autopilot: autopilot,
		schema:    schema,
		logger:    logger,
	}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(messageSchema))
	if err != nil {
		return nil, fmt.Errorf("parse webhook schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add webhook schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}
	return schema, nil
}

// Ingest validates and stores one delivery. It never returns an error:
// failures are logged and reported in the outcome.
func (in *Ingestor) Ingest(ctx context.Context, body []byte) Outcome {
	p, err := in.decode(body)
	if err != nil {
		in.logger.Warn("invalid webhook payload", zap.Error(err), zap.ByteString("body", truncate(body, 512)))
		return Outcome{Status: StatusError, Error: "invalid payload"}
	}
	if p.Event != "" && p.Event != EventMessageReceived {
		in.logger.Debug("ignoring webhook event", zap.String("event", p.Event))
		return Outcome{Status: StatusIgnored, MessageID: p.MessageID}
	}

	created, err := in.process(ctx, p)
	if err != nil {
		in.logger.Error("failed to process webhook message",
			zap.String("message_id", p.MessageID),
			zap.String("chat_id", p.ChatID),
			zap.Error(err))
		return Outcome{Status: StatusError, MessageID: p.MessageID, Error: "processing failed"}
	}
	if !created {
		in.logger.Debug("webhook message already stored", zap.String("message_id", p.MessageID))
		return Outcome{Status: StatusDuplicate, MessageID: p.MessageID}
	}
	return Outcome{Status: StatusSuccess, MessageID: p.MessageID}
}

func (in *Ingestor) decode(body []byte) (*Payload, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if err := in.schema.Validate(inst); err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	// Stored timestamps are compared as strings; one that cannot be
	// normalized would sort wrong.
	if _, err := store.ParseTimestamp(p.Timestamp); err != nil {
		return nil, err
	}
	return &p, nil
}

func (in *Ingestor) process(ctx context.Context, p *Payload) (bool, error) {
	providerChatID := p.ProviderChatID
	if providerChatID == "" {
		providerChatID = p.ChatID
	}
	stub := &store.Chat{
		ID:          p.ChatID,
		AccountID:   p.AccountID,
		AccountType: p.AccountType,
		ProviderID:  providerChatID,
		Timestamp:   p.Timestamp,
		UnreadCount: 1,
	}
	if p.Sender != nil {
		stub.Name = p.Sender.Name
	}
	if createdChat, err := in.db.EnsureChat(ctx, stub); err != nil {
		return false, err
	} else if createdChat {
		in.logger.Info("created chat from webhook", zap.String("chat_id", p.ChatID))
	}

	m := in.toMessage(ctx, p, providerChatID)
	stored, err := in.db.CreateMessageIfAbsent(ctx, m)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return false, nil
	}

	if err := in.db.AdvanceChatTimestamp(ctx, p.ChatID, stored.Timestamp); err != nil {
		return true, fmt.Errorf("advance chat timestamp: %w", err)
	}
	// An echo of our own send is matched to its pending row and stored as
	// outbound; it must not flag the chat or wake the autopilot.
	if stored.Inbound() {
		if err := in.db.MarkChatUnread(ctx, p.ChatID); err != nil {
			return true, fmt.Errorf("mark chat unread: %w", err)
		}
	}
	in.bus.Publish(bus.NewEvent(bus.KindMessageNew, stored))
	in.logger.Info("stored webhook message",
		zap.String("message_id", stored.ID),
		zap.String("chat_id", stored.ChatID),
		zap.Bool("inbound", stored.Inbound()))

	if in.autopilot != nil && stored.Inbound() {
		in.autopilot.Maybe(ctx, stored)
	}
	return true, nil
}

func (in *Ingestor) toMessage(ctx context.Context, p *Payload, providerChatID string) *store.Message {
	attachments, errs := store.DecodeAttachments(p.Attachments)
	for _, err := range errs {
		in.logger.Warn("dropping attachment", zap.String("message_id", p.MessageID), zap.Error(err))
	}
	providerID := p.ProviderMessageID
	if providerID == "" {
		providerID = p.MessageID
	}
	m := &store.Message{
		ID:             p.MessageID,
		ChatID:         p.ChatID,
		AccountID:      p.AccountID,
		ChatProviderID: providerChatID,
		ProviderID:     providerID,
		Text:           p.Message,
		Timestamp:      p.Timestamp,
		IsSender:       0,
		Attachments:    attachments,
		Reactions:      store.RawJSON("[]"),
		IsEvent:        int(p.IsEvent),
		Delivered:      1,
		MessageType:    p.MessageType,
		Original:       p.Message,
	}
	if len(p.Quoted) > 0 && string(p.Quoted) != "null" {
		m.Quoted = store.RawJSON(p.Quoted)
	}
	if p.Sender != nil {
		m.SenderAttendeeID = p.Sender.ID
		m.SenderID = in.resolveSender(ctx, p.Sender)
	}
	return m
}

// resolveSender picks the sender id stored on the message: the provider id
// of a known attendee, else the payload's provider id, else its attendee id.
func (in *Ingestor) resolveSender(ctx context.Context, s *Sender) string {
	if in.attendees != nil {
		if a, err := in.attendees.CachedByID(ctx, s.ID); err == nil {
			return a.ProviderID
		} else if !errors.Is(err, store.ErrNotFound) {
			in.logger.Warn("attendee lookup failed", zap.String("attendee_id", s.ID), zap.Error(err))
		}
		if a, err := in.attendees.Cached(ctx, s.ProviderID); err == nil {
			return a.ProviderID
		}
	}
	if s.ProviderID != "" {
		return s.ProviderID
	}
	return s.ID
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
