// Package convo keeps the active conversation in sync: history loading with
// staleness protection, the visible message sequence, unread bookkeeping and
// room membership on the push channel.
package convo

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/beep-chat/beep/internal/bus"
	"github.com/beep-chat/beep/internal/model"
)

// HistoryLoader fetches conversation history from the server.
type HistoryLoader interface {
	Messages(ctx context.Context, contactID string) ([]model.Message, error)
}

// Pendings exposes the tracker state the load path needs: unconfirmed
// optimistic sends to overlay onto history, and the id registry that keeps
// channel replays of loaded messages from landing twice.
type Pendings interface {
	PendingFor(conversationID string) []*model.Message
	ObserveIDs(ids ...string)
}

// Emitter pushes events over the live channel.
type Emitter interface {
	Emit(event string, payload any) error
}

// Loaded is the payload for conversation.loaded events.
type Loaded struct {
	Contact  string
	Messages []*model.Message
}

// LoadFailure is the payload for conversation.load_failed events.
type LoadFailure struct {
	Contact string
	Reason  string
}

// UnreadChange is the payload for conversation.unread_changed events.
type UnreadChange struct {
	Contact string
	Count   int
}

// Sync owns the active conversation. Switching conversations bumps a
// generation counter; a history response carrying a stale generation is
// discarded instead of overwriting the newer conversation.
type Sync struct {
	api     HistoryLoader
	ch      Emitter
	tracker Pendings
	bus     *bus.Bus
	logger  *zap.Logger

	readReceipts bool

	mu           sync.Mutex
	active       string
	gen          int
	seq          []*model.Message
	index        map[string]*model.Message
	localUnread  map[string]int
	serverUnread map[string]int

	stop chan struct{}
}

// New creates a conversation sync engine.
func New(api HistoryLoader, ch Emitter, tracker Pendings, b *bus.Bus, logger *zap.Logger, readReceipts bool) *Sync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sync{
		api:          api,
		ch:           ch,
		tracker:      tracker,
		bus:          b,
		logger:       logger,
		readReceipts: readReceipts,
		index:        make(map[string]*model.Message),
		localUnread:  make(map[string]int),
		serverUnread: make(map[string]int),
	}
}

// Open switches the active conversation to the given contact. The sequence
// clears immediately; history arrives in the background and is discarded if
// another Open happens first.
func (s *Sync) Open(ctx context.Context, contact string) {
	s.mu.Lock()
	s.active = contact
	s.gen++
	gen := s.gen
	s.seq = nil
	s.index = make(map[string]*model.Message)
	s.mu.Unlock()

	s.bus.Publish(bus.KindConversationOpened, contact)
	if err := s.ch.Emit("join:conversation", model.JoinConversation{UserID: contact}); err != nil {
		s.logger.Debug("join emit failed", zap.String("contact", contact), zap.Error(err))
	}
	go s.load(ctx, contact, gen)
}

// Close deactivates the current conversation.
func (s *Sync) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ""
	s.gen++
	s.seq = nil
	s.index = make(map[string]*model.Message)
}

func (s *Sync) load(ctx context.Context, contact string, gen int) {
	history, err := s.api.Messages(ctx, contact)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale history", zap.String("contact", contact))
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("history load failed", zap.String("contact", contact), zap.Error(err))
		s.bus.Publish(bus.KindConversationLoadFailed, LoadFailure{
			Contact: contact,
			Reason:  err.Error(),
		})
		return
	}

	var loadedIDs, unreadIDs []string
	for i := range history {
		m := history[i]
		if _, dup := s.index[m.Key()]; dup {
			continue
		}
		if m.Direction == model.DirectionReceived && !m.Read {
			m.Read = true
			unreadIDs = append(unreadIDs, m.ID)
		}
		msg := &m
		s.seq = append(s.seq, msg)
		s.index[msg.Key()] = msg
		loadedIDs = append(loadedIDs, msg.ID)
	}
	// overlay optimistic sends the server does not know about yet
	for _, p := range s.tracker.PendingFor(contact) {
		if _, dup := s.index[p.Key()]; dup {
			continue
		}
		s.seq = append(s.seq, p)
		s.index[p.Key()] = p
	}
	s.localUnread[contact] = 0
	s.serverUnread[contact] = 0
	snapshot := make([]*model.Message, len(s.seq))
	copy(snapshot, s.seq)
	s.mu.Unlock()

	s.tracker.ObserveIDs(loadedIDs...)
	if s.readReceipts && len(unreadIDs) > 0 {
		err := s.ch.Emit("message:read", model.ReadReceipt{
			SenderID:   contact,
			MessageIDs: unreadIDs,
		})
		if err != nil {
			s.logger.Debug("read receipt batch failed",
				zap.String("contact", contact), zap.Error(err))
		}
	}
	s.bus.Publish(bus.KindConversationLoaded, Loaded{Contact: contact, Messages: snapshot})
	s.bus.Publish(bus.KindUnreadChanged, UnreadChange{Contact: contact, Count: 0})
}

// Messages returns a snapshot of the visible sequence, oldest first.
func (s *Sync) Messages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Message, len(s.seq))
	copy(out, s.seq)
	return out
}

// ActiveConversation returns the contact id of the open conversation, or
// the empty string.
func (s *Sync) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// UnreadCount merges the server tally with locally observed arrivals. The
// larger of the two wins: either side may lag the other.
func (s *Sync) UnreadCount(contact string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(s.serverUnread[contact], s.localUnread[contact])
}

// SetServerCounts replaces the server-side unread tallies. Local counts are
// kept: a refresh racing a live arrival must not lose it.
func (s *Sync) SetServerCounts(counts []model.UnreadCount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverUnread = make(map[string]int, len(counts))
	for _, c := range counts {
		s.serverUnread[c.Sender] = c.Count
	}
}

// AppendOutgoing adds an optimistic send to the visible sequence.
func (s *Sync) AppendOutgoing(msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != msg.ConversationID {
		return
	}
	s.seq = append(s.seq, msg)
	s.index[msg.Key()] = msg
}

// AppendIncoming adds a received message when its conversation is the active
// one. An id already present counts as handled without a second append.
func (s *Sync) AppendIncoming(msg *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != msg.ConversationID {
		return false
	}
	if _, dup := s.index[msg.Key()]; dup {
		return true
	}
	s.seq = append(s.seq, msg)
	s.index[msg.Key()] = msg
	return true
}

// ApplyRemap swaps a temp id for the server-assigned id.
func (s *Sync) ApplyRemap(tempID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.index[tempID]
	if !ok {
		return
	}
	delete(s.index, tempID)
	msg.ID = id
	s.index[id] = msg
}

// ApplyStatus updates the displayed status of one message. The display
// follows the same forward-only rules as the tracker: callers race (a
// status event can land between a delivery's remap and its own status
// write), so a value behind the one already shown is dropped here rather
// than trusted to arrive in order. Failed is reachable from pending only.
func (s *Sync) ApplyStatus(key string, st model.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.index[key]
	if !ok {
		return
	}
	if st == model.StatusFailed {
		if msg.Status == model.StatusPending {
			msg.Status = model.StatusFailed
		}
		return
	}
	if msg.Status == model.StatusFailed || !msg.Status.Before(st) {
		return
	}
	msg.Status = st
}

// RemoveMessage drops one message from the sequence.
func (s *Sync) RemoveMessage(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.index[key]
	if !ok {
		return
	}
	delete(s.index, key)
	for i, m := range s.seq {
		if m == msg {
			s.seq = append(s.seq[:i], s.seq[i+1:]...)
			break
		}
	}
}

// NoteBackgroundMessage counts an unread arrival for an inactive
// conversation and announces the merged tally.
func (s *Sync) NoteBackgroundMessage(sender string) {
	s.mu.Lock()
	s.localUnread[sender]++
	count := max(s.serverUnread[sender], s.localUnread[sender])
	s.mu.Unlock()
	s.bus.Publish(bus.KindUnreadChanged, UnreadChange{Contact: sender, Count: count})
}

// Start watches for channel reconnects and rejoins the active conversation
// room, which would otherwise be lost with the old connection.
func (s *Sync) Start() {
	events, unsub := s.bus.Subscribe("channel.", 16)
	s.stop = make(chan struct{})
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-events:
				if evt.Kind != bus.KindChannelConnected {
					continue
				}
				contact := s.ActiveConversation()
				if contact == "" {
					continue
				}
				if err := s.ch.Emit("join:conversation", model.JoinConversation{UserID: contact}); err != nil {
					s.logger.Debug("rejoin failed", zap.String("contact", contact), zap.Error(err))
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the reconnect watcher.
func (s *Sync) Stop() {
	if s.stop != nil {
		close(s.stop)
	}
}
