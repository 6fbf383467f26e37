package bus

import "time"

// Event kinds. Subscribers filter on prefixes such as "message.".
const (
	KindMessageNew    = "message.new"
	KindOutboxSent    = "outbox.sent"
	KindPendingFailed = "pending.failed"
	KindSyncStarted   = "sync.started"
	KindSyncFinished  = "sync.finished"
	KindStatusChanged = "status.changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
