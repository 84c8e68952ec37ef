package model

import "time"

// Presence status values.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// PresenceRecord is the cached online/offline status for a contact.
// LastActive is set when the contact is offline.
type PresenceRecord struct {
	UserID     string    `json:"userId"`
	Status     string    `json:"status"`
	LastActive time.Time `json:"lastActive,omitempty"`
}

// Online reports whether the record says the contact is currently online.
func (r PresenceRecord) Online() bool {
	return r.Status == PresenceOnline
}
