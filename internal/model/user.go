package model

// User identifies a chat participant.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// UnreadCount is an unread tally for messages from one sender.
type UnreadCount struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}

// FriendRequest is a pending contact request.
type FriendRequest struct {
	ID     string `json:"_id"`
	Sender User   `json:"sender"`
}
