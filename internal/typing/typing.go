// Package typing debounces outbound typing activity and filters inbound
// indicators down to the active conversation.
package typing

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/beep-chat/beep/internal/bus"
	"github.com/beep-chat/beep/internal/model"
)

// ActiveProvider reports which conversation is open.
type ActiveProvider interface {
	ActiveConversation() string
}

// Emitter pushes events over the live channel.
type Emitter interface {
	Emit(event string, payload any) error
}

// Signal turns keystroke activity into at most one start indicator per
// burst, with an automatic stop after an idle gap or an explicit send.
type Signal struct {
	ch     Emitter
	active ActiveProvider
	bus    *bus.Bus
	logger *zap.Logger

	enabled     bool
	IdleTimeout time.Duration

	mu           sync.Mutex
	pending      bool
	timer        *time.Timer
	conversation string
}

// New creates a typing signal. enabled mirrors the typing-indicators
// preference; when false the signal is inert in both directions.
func New(ch Emitter, active ActiveProvider, b *bus.Bus, logger *zap.Logger, enabled bool) *Signal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Signal{
		ch:          ch,
		active:      active,
		bus:         b,
		logger:      logger,
		enabled:     enabled,
		IdleTimeout: 2 * time.Second,
	}
}

// InputChanged reports that the compose buffer changed. The first change of
// a burst sends a start indicator; every change pushes the idle deadline
// out.
func (s *Signal) InputChanged(buffer string) {
	if !s.enabled || buffer == "" {
		return
	}
	contact := s.active.ActiveConversation()
	if contact == "" {
		return
	}

	s.mu.Lock()
	var stale string
	start := !s.pending || s.conversation != contact
	if s.pending && s.conversation != contact {
		stale = s.conversation
	}
	s.pending = true
	s.conversation = contact
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.IdleTimeout, s.expire)
	s.mu.Unlock()

	if stale != "" {
		s.emit(stale, false)
	}
	if start {
		s.emit(contact, true)
	}
}

// MessageSent reports that the buffer was submitted: the burst is over, so
// the stop indicator goes out immediately instead of waiting for the idle
// gap.
func (s *Signal) MessageSent() {
	s.mu.Lock()
	wasPending := s.pending
	contact := s.conversation
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if wasPending {
		s.emit(contact, false)
	}
}

func (s *Signal) expire() {
	s.mu.Lock()
	if !s.pending {
		s.mu.Unlock()
		return
	}
	s.pending = false
	contact := s.conversation
	s.timer = nil
	s.mu.Unlock()

	s.emit(contact, false)
}

func (s *Signal) emit(contact string, isTyping bool) {
	err := s.ch.Emit("user:typing", model.TypingEvent{
		RecipientID: contact,
		IsTyping:    isTyping,
	})
	if err != nil {
		s.logger.Debug("typing emit failed",
			zap.String("contact", contact), zap.Error(err))
	}
}

// HandleRemote processes an inbound typing indicator. Indicators from
// anyone but the open conversation's contact are dropped.
func (s *Signal) HandleRemote(evt model.TypingEvent) {
	if !s.enabled {
		return
	}
	if evt.UserID == "" || evt.UserID != s.active.ActiveConversation() {
		return
	}
	s.bus.Publish(bus.KindTypingChanged, evt)
}
