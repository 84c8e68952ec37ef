package model

import "time"

// Payload shapes exchanged over the push channel.

// JoinConversation is the outbound room-join payload.
type JoinConversation struct {
	UserID string `json:"userId"`
}

// SendEvent republishes a persisted message over the channel for low-latency
// delivery to the recipient.
type SendEvent struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	SenderName  string `json:"senderName"`
}

// NewMessageEvent is the inbound message:new payload.
type NewMessageEvent struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// StatusEvent reports a delivery-state change for one message.
type StatusEvent struct {
	MessageID string `json:"messageId"`
	Status    Status `json:"status"`
}

// ReadReceipt notifies a sender that messages have been viewed. Outbound
// receipts carry SenderID plus MessageIDs; inbound ones may carry a single
// MessageID instead.
type ReadReceipt struct {
	SenderID   string   `json:"senderId,omitempty"`
	MessageID  string   `json:"messageId,omitempty"`
	MessageIDs []string `json:"messageIds,omitempty"`
}

// TypingEvent carries typing-activity state. RecipientID is set on outbound
// events, UserID on inbound ones.
type TypingEvent struct {
	RecipientID string `json:"recipientId,omitempty"`
	UserID      string `json:"userId,omitempty"`
	IsTyping    bool   `json:"isTyping"`
}

// StatusRequest asks for presence records over the channel.
type StatusRequest struct {
	UserIDs []string `json:"userIds"`
}
