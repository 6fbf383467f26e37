package store

// AssistMode controls how replies are produced for a chat.
type AssistMode string

const (
	AssistManual     AssistMode = "manual"
	AssistAIAssisted AssistMode = "ai-assisted"
	AssistAutopilot  AssistMode = "autopilot"
)

// Valid reports whether m is one of the known assist modes.
func (m AssistMode) Valid() bool {
	switch m {
	case AssistManual, AssistAIAssisted, AssistAutopilot:
		return true
	}
	return false
}

// Chat is one conversation thread mirrored from the gateway.
type Chat struct {
	ID          string     `db:"id" json:"id"`
	AccountID   string     `db:"account_id" json:"account_id"`
	AccountType string     `db:"account_type" json:"account_type"`
	ProviderID  string     `db:"provider_id" json:"provider_id"`
	Name        string     `db:"name" json:"name,omitempty"`
	Timestamp   string     `db:"timestamp" json:"timestamp,omitempty"`
	UnreadCount int        `db:"unread_count" json:"unread_count"`
	IsRead      bool       `db:"is_read" json:"is_read"`
	IsIgnored   bool       `db:"is_ignored" json:"is_ignored"`
	AssistMode  AssistMode `db:"assist_mode" json:"assist_mode"`
	CreatedAt   int64      `db:"created_at" json:"created_at"`
	UpdatedAt   int64      `db:"updated_at" json:"updated_at"`
}

// Message is one chat message. ProviderID is the dedup key.
type Message struct {
	ID               string      `db:"id" json:"id"`
	ChatID           string      `db:"chat_id" json:"chat_id"`
	AccountID        string      `db:"account_id" json:"account_id"`
	ChatProviderID   string      `db:"chat_provider_id" json:"chat_provider_id"`
	ProviderID       string      `db:"provider_id" json:"provider_id"`
	SenderID         string      `db:"sender_id" json:"sender_id"`
	SenderAttendeeID string      `db:"sender_attendee_id" json:"sender_attendee_id"`
	Text             string      `db:"text" json:"text"`
	Timestamp        string      `db:"timestamp" json:"timestamp"`
	IsSender         int         `db:"is_sender" json:"is_sender"`
	Attachments      Attachments `db:"attachments" json:"attachments"`
	Reactions        RawJSON     `db:"reactions" json:"reactions"`
	Quoted           RawJSON     `db:"quoted" json:"quoted,omitempty"`
	Seen             int         `db:"seen" json:"seen"`
	Hidden           int         `db:"hidden" json:"hidden"`
	Deleted          int         `db:"deleted" json:"deleted"`
	Edited           int         `db:"edited" json:"edited"`
	IsEvent          int         `db:"is_event" json:"is_event"`
	Delivered        int         `db:"delivered" json:"delivered"`
	SentByAutopilot  bool        `db:"sent_by_autopilot" json:"sent_by_autopilot"`
	MessageType      string      `db:"message_type" json:"message_type,omitempty"`
	Original         string      `db:"original" json:"original,omitempty"`
	CreatedAt        int64       `db:"created_at" json:"created_at"`
}

// Inbound reports whether the message was written by the other party.
func (m *Message) Inbound() bool { return m.IsSender == 0 }

// Attendee is a cached chat participant profile.
type Attendee struct {
	ID         string  `db:"id" json:"id"`
	AccountID  string  `db:"account_id" json:"account_id"`
	ProviderID string  `db:"provider_id" json:"provider_id"`
	Name       string  `db:"name" json:"name"`
	IsSelf     int     `db:"is_self" json:"is_self"`
	Hidden     int     `db:"hidden" json:"hidden"`
	PictureURL string  `db:"picture_url" json:"picture_url,omitempty"`
	ProfileURL string  `db:"profile_url" json:"profile_url,omitempty"`
	Specifics  RawJSON `db:"specifics" json:"specifics,omitempty"`
	CreatedAt  int64   `db:"created_at" json:"created_at"`
	UpdatedAt  int64   `db:"updated_at" json:"updated_at"`
}

// PendingStatus is the reconciliation state of an outbound message.
type PendingStatus string

const (
	PendingOpen   PendingStatus = "pending"
	PendingSynced PendingStatus = "synced"
	PendingFailed PendingStatus = "failed"
)

// PendingMessage tracks a message handed to the gateway until it shows up
// in the gateway's message listing.
type PendingMessage struct {
	ID              int64         `db:"id" json:"-"`
	MessageID       string        `db:"message_id" json:"message_id"`
	ChatID          string        `db:"chat_id" json:"chat_id"`
	Text            string        `db:"text" json:"text"`
	Timestamp       string        `db:"timestamp" json:"timestamp"`
	Status          PendingStatus `db:"status" json:"status"`
	SyncAttempts    int           `db:"sync_attempts" json:"sync_attempts"`
	SentByAutopilot bool          `db:"sent_by_autopilot" json:"sent_by_autopilot"`
	CreatedAt       int64         `db:"created_at" json:"created_at"`
	UpdatedAt       int64         `db:"updated_at" json:"updated_at"`
}
