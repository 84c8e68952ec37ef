// Package roster maintains the contact list: friends, pending friend
// requests and the per-contact decorations (unread tally, presence) the
// conversation list is rendered from.
package roster

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beep-chat/beep/internal/bus"
	"github.com/beep-chat/beep/internal/model"
)

// Directory is the server surface for contact management.
type Directory interface {
	Friends(ctx context.Context) ([]model.User, error)
	UnreadCounts(ctx context.Context) ([]model.UnreadCount, error)
	FriendRequests(ctx context.Context) ([]model.FriendRequest, error)
	SendFriendRequest(ctx context.Context, recipientID string) error
	RespondFriendRequest(ctx context.Context, requestID, status string) error
	SearchUsers(ctx context.Context, query string) ([]model.User, error)
}

// Unreads merges server unread tallies with local arrivals.
type Unreads interface {
	SetServerCounts(counts []model.UnreadCount)
	UnreadCount(contact string) int
}

// Presences is the presence cache the roster decorates entries from.
type Presences interface {
	RequestMany(ctx context.Context, userIDs []string)
	Get(userID string) (model.PresenceRecord, bool)
}

// Entry is one contact decorated for display.
type Entry struct {
	User     model.User
	Unread   int
	Presence model.PresenceRecord
}

// Roster refreshes the contact list periodically and on demand.
type Roster struct {
	api      Directory
	unreads  Unreads
	presence Presences
	bus      *bus.Bus
	logger   *zap.Logger

	RefreshInterval time.Duration

	mu       sync.Mutex
	friends  []model.User
	requests []model.FriendRequest

	stop chan struct{}
}

// New creates a roster.
func New(api Directory, unreads Unreads, presence Presences, b *bus.Bus, logger *zap.Logger) *Roster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Roster{
		api:             api,
		unreads:         unreads,
		presence:        presence,
		bus:             b,
		logger:          logger,
		RefreshInterval: time.Minute,
	}
}

// Refresh pulls friends, unread tallies and pending requests from the
// server. Tallies and requests are best-effort: a failure there keeps the
// previous data instead of failing the whole refresh.
func (r *Roster) Refresh(ctx context.Context) error {
	friends, err := r.api.Friends(ctx)
	if err != nil {
		r.logger.Warn("roster refresh failed", zap.Error(err))
		return err
	}

	counts, err := r.api.UnreadCounts(ctx)
	if err != nil {
		r.logger.Warn("unread refresh failed", zap.Error(err))
	} else {
		r.unreads.SetServerCounts(counts)
	}

	requests, reqErr := r.api.FriendRequests(ctx)
	if reqErr != nil {
		r.logger.Warn("friend request refresh failed", zap.Error(reqErr))
	}

	r.mu.Lock()
	r.friends = friends
	if reqErr == nil {
		r.requests = requests
	}
	r.mu.Unlock()

	ids := make([]string, len(friends))
	for i, f := range friends {
		ids[i] = f.ID
	}
	go r.presence.RequestMany(ctx, ids)

	r.bus.Publish(bus.KindRosterUpdated, r.Entries())
	return nil
}

// Entries returns the contact list decorated with unread tallies and
// cached presence, in server order.
func (r *Roster) Entries() []Entry {
	r.mu.Lock()
	friends := make([]model.User, len(r.friends))
	copy(friends, r.friends)
	r.mu.Unlock()

	out := make([]Entry, len(friends))
	for i, f := range friends {
		rec, _ := r.presence.Get(f.ID)
		out[i] = Entry{
			User:     f,
			Unread:   r.unreads.UnreadCount(f.ID),
			Presence: rec,
		}
	}
	return out
}

// Requests returns the pending incoming friend requests.
func (r *Roster) Requests() []model.FriendRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.FriendRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// SendFriendRequest asks another user to become a contact.
func (r *Roster) SendFriendRequest(ctx context.Context, recipientID string) error {
	return r.api.SendFriendRequest(ctx, recipientID)
}

// RespondFriendRequest accepts or rejects a pending request. Accepting
// refreshes the roster so the new contact shows up right away.
func (r *Roster) RespondFriendRequest(ctx context.Context, requestID, status string) error {
	if err := r.api.RespondFriendRequest(ctx, requestID, status); err != nil {
		return err
	}
	return r.Refresh(ctx)
}

// SearchUsers finds users by username.
func (r *Roster) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	return r.api.SearchUsers(ctx, query)
}

// Start runs an initial refresh and keeps refreshing on an interval.
func (r *Roster) Start(ctx context.Context) {
	r.stop = make(chan struct{})
	go func() {
		_ = r.Refresh(ctx)
		ticker := time.NewTicker(r.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = r.Refresh(ctx)
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the refresh loop.
func (r *Roster) Stop() {
	if r.stop != nil {
		close(r.stop)
	}
}
