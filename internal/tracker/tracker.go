// Package tracker drives the delivery lifecycle of messages: optimistic
// sends with temp ids, status progression, retry of failed sends and
// deduplication of incoming messages.
package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beep-chat/beep/internal/bus"
	"github.com/beep-chat/beep/internal/model"
)

// Sequence is the view of the active conversation the tracker mutates.
// Implemented by the conversation sync engine; bound after construction to
// break the dependency cycle between the two.
type Sequence interface {
	// AppendOutgoing adds an optimistic message to the active sequence.
	AppendOutgoing(msg *model.Message)
	// AppendIncoming adds a received message if its conversation is active.
	// Returns false when the message belongs to a background conversation.
	AppendIncoming(msg *model.Message) bool
	// ApplyRemap swaps a temp id for the server-assigned id in the sequence.
	ApplyRemap(tempID, id string)
	// ApplyStatus updates the displayed status of one message.
	ApplyStatus(key string, st model.Status)
	// RemoveMessage drops one message from the sequence, if present.
	RemoveMessage(key string)
	// NoteBackgroundMessage counts an unread arrival for an inactive
	// conversation.
	NoteBackgroundMessage(sender string)
}

// Sender persists outgoing messages.
type Sender interface {
	SendMessage(ctx context.Context, recipientID, content string) (string, error)
}

// Emitter pushes events over the live channel.
type Emitter interface {
	Emit(event string, payload any) error
}

// SendFailure is the payload for message.failed events.
type SendFailure struct {
	Message *model.Message
	Reason  string
}

// Tracker owns every message the session has touched, indexed by its
// current identity.
type Tracker struct {
	api      Sender
	ch       Emitter
	bus      *bus.Bus
	logger   *zap.Logger
	selfName string

	readReceipts bool

	mu   sync.Mutex
	seq  Sequence
	msgs map[string]*model.Message
	seen map[string]struct{}
}

// New creates a tracker. selfName is attached to channel republishes so the
// recipient can render the sender without a lookup.
func New(api Sender, ch Emitter, b *bus.Bus, logger *zap.Logger, selfName string, readReceipts bool) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		api:          api,
		ch:           ch,
		bus:          b,
		logger:       logger,
		selfName:     selfName,
		readReceipts: readReceipts,
		msgs:         make(map[string]*model.Message),
		seen:         make(map[string]struct{}),
	}
}

// Bind attaches the conversation sequence. Must be called before Send.
func (t *Tracker) Bind(seq Sequence) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq = seq
}

// Send submits an outgoing message. The message appears in the active
// sequence with a pending status before any network I/O happens; delivery
// proceeds in the background.
func (t *Tracker) Send(ctx context.Context, conversationID, content string) *model.Message {
	msg := &model.Message{
		TempID:         uuid.NewString(),
		ConversationID: conversationID,
		Direction:      model.DirectionSent,
		Content:        content,
		CreatedAt:      time.Now(),
		Status:         model.StatusPending,
	}

	t.mu.Lock()
	t.msgs[msg.TempID] = msg
	seq := t.seq
	t.mu.Unlock()

	seq.AppendOutgoing(msg)
	t.bus.Publish(bus.KindMessagePending, msg)

	go t.deliver(ctx, msg)
	return msg
}

func (t *Tracker) deliver(ctx context.Context, msg *model.Message) {
	id, err := t.api.SendMessage(ctx, msg.ConversationID, msg.Content)
	if err != nil {
		t.mu.Lock()
		msg.Status = model.StatusFailed
		seq := t.seq
		t.mu.Unlock()

		t.logger.Warn("send failed",
			zap.String("tempId", msg.TempID), zap.Error(err))
		seq.ApplyStatus(msg.Key(), model.StatusFailed)
		t.bus.Publish(bus.KindMessageFailed, SendFailure{
			Message: msg,
			Reason:  err.Error(),
		})
		return
	}

	t.mu.Lock()
	delete(t.msgs, msg.TempID)
	msg.ID = id
	msg.Status = model.StatusSent
	t.msgs[id] = msg
	seq := t.seq
	t.mu.Unlock()

	seq.ApplyRemap(msg.TempID, id)
	seq.ApplyStatus(id, model.StatusSent)
	t.bus.Publish(bus.KindMessageUpdated, msg)

	// Republish over the channel for low-latency delivery. The message is
	// already persisted, so a failure here only delays the recipient.
	err = t.ch.Emit("message:send", model.SendEvent{
		ID:          id,
		RecipientID: msg.ConversationID,
		Content:     msg.Content,
		SenderName:  t.selfName,
	})
	if err != nil {
		t.logger.Debug("channel republish failed",
			zap.String("id", id), zap.Error(err))
	}
}

// Retry resubmits a failed message. Messages in any other state are left
// alone.
func (t *Tracker) Retry(ctx context.Context, tempID string) *model.Message {
	t.mu.Lock()
	msg, ok := t.msgs[tempID]
	if !ok || msg.Status != model.StatusFailed {
		t.mu.Unlock()
		return nil
	}
	delete(t.msgs, tempID)
	seq := t.seq
	t.mu.Unlock()

	seq.RemoveMessage(tempID)
	return t.Send(ctx, msg.ConversationID, msg.Content)
}

// ApplyStatusEvent applies a delivery-state change reported by the server.
// Unknown ids and regressions on the forward path are ignored, as is any
// update to a failed message: only Retry moves a message out of failed.
func (t *Tracker) ApplyStatusEvent(id string, st model.Status) {
	t.mu.Lock()
	msg, ok := t.msgs[id]
	if !ok || msg.Status == model.StatusFailed || !msg.Status.Before(st) {
		t.mu.Unlock()
		return
	}
	msg.Status = st
	seq := t.seq
	t.mu.Unlock()

	seq.ApplyStatus(id, st)
	t.bus.Publish(bus.KindMessageUpdated, msg)
}

// HandleIncoming processes a message:new event. Duplicates are dropped; a
// message for the active conversation is appended and immediately
// acknowledged as read, one for a background conversation only bumps the
// unread count.
func (t *Tracker) HandleIncoming(evt model.NewMessageEvent) {
	t.mu.Lock()
	if _, dup := t.seen[evt.ID]; dup {
		t.mu.Unlock()
		return
	}
	if _, dup := t.msgs[evt.ID]; dup {
		t.mu.Unlock()
		return
	}
	t.seen[evt.ID] = struct{}{}

	msg := &model.Message{
		ID:             evt.ID,
		ConversationID: evt.Sender,
		Direction:      model.DirectionReceived,
		Content:        evt.Content,
		CreatedAt:      evt.CreatedAt,
	}
	t.msgs[evt.ID] = msg
	seq := t.seq
	t.mu.Unlock()

	if seq.AppendIncoming(msg) {
		msg.Read = true
		if t.readReceipts {
			err := t.ch.Emit("message:read", model.ReadReceipt{
				SenderID:   evt.Sender,
				MessageIDs: []string{evt.ID},
			})
			if err != nil {
				t.logger.Debug("read receipt failed",
					zap.String("id", evt.ID), zap.Error(err))
			}
		}
		t.bus.Publish(bus.KindMessageReceived, msg)
		return
	}
	seq.NoteBackgroundMessage(evt.Sender)
	t.bus.Publish(bus.KindMessageReceived, msg)
}

// ObserveIDs records server ids loaded from history so a later channel
// replay of the same messages is treated as a duplicate.
func (t *Tracker) ObserveIDs(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.seen[id] = struct{}{}
	}
}

// PendingFor returns the unconfirmed outgoing messages for one conversation,
// oldest first. Used to overlay optimistic sends onto freshly loaded history.
func (t *Tracker) PendingFor(conversationID string) []*model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*model.Message
	for _, msg := range t.msgs {
		if msg.ConversationID != conversationID || msg.Direction != model.DirectionSent {
			continue
		}
		if msg.Status == model.StatusPending || msg.Status == model.StatusFailed {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
