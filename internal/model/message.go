package model

import "time"

// Direction marks whether the local user sent or received a message.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Status is the delivery state of an outgoing message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// statusRank orders the forward delivery path. Failed sits outside the path;
// the only way out of it is an explicit retry.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Before reports whether s precedes other on the forward delivery path.
func (s Status) Before(other Status) bool {
	return statusRank[s] < statusRank[other]
}

// Message is one chat message in the active conversation. TempID identifies
// the message before the server assigns a real ID; once ID is set the temp id
// is retired and never used for lookups again.
type Message struct {
	ID             string
	TempID         string
	ConversationID string
	Direction      Direction
	Content        string
	CreatedAt      time.Time
	Status         Status
	Read           bool
}

// Key returns the lookup identity: the server id once assigned, the temp id
// before that.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}
