// Package channel maintains the push connection to the chat server. It
// owns dialing, the read and ping pumps, and automatic reconnection; parsed
// frames are handed to per-event handlers registered by the sync engines.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/beep-chat/beep/internal/bus"
	"github.com/beep-chat/beep/internal/status"
)

// ErrNotConnected is returned by Emit when no connection is established.
var ErrNotConnected = errors.New("channel not connected")

// Handler consumes the data payload of one named server event.
type Handler func(data json.RawMessage)

// frame is the wire envelope for both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Drop is the payload for channel.disconnected events.
type Drop struct {
	Reason string
}

// Conn is the subset of *websocket.Conn the session uses. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Dialer establishes a connection to the push endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Session manages one authenticated push connection. A drop while connected
// triggers a bounded retry loop with a fixed delay between attempts, plus a
// delayed supervisory check that starts a fresh connect if the loop already
// gave up.
type Session struct {
	url     string
	token   string
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	dialer  Dialer

	RetryAttempts  int
	RetryDelay     time.Duration
	SuperviseDelay time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration

	mu       sync.Mutex
	wmu      sync.Mutex
	conn     Conn
	handlers map[string]Handler
	closed   bool
	retrying bool
	gen      int
}

// New creates a session for the given push endpoint. The token is sent as a
// bearer credential on the dial request.
func New(url, token string, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		url:            url,
		token:          token,
		machine:        machine,
		bus:            b,
		logger:         logger,
		dialer:         wsDialer{},
		RetryAttempts:  5,
		RetryDelay:     time.Second,
		SuperviseDelay: 3 * time.Second,
		PingInterval:   30 * time.Second,
		PongWait:       75 * time.Second,
		WriteTimeout:   10 * time.Second,
		handlers:       make(map[string]Handler),
	}
}

// On registers the handler for a named server event, replacing any previous
// handler for the same event.
func (s *Session) On(event string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}

// Connected reports whether the session currently holds a live connection.
func (s *Session) Connected() bool {
	return s.machine.Current() == status.Connected
}

// Emit sends a named event over the push channel. Returns ErrNotConnected
// when no connection is established; the caller decides whether to fall
// back or drop the signal.
func (s *Session) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// Connect establishes the push connection. A dial failure is not an error
// for the caller: the session settles back to Disconnected and a later
// external trigger may retry.
func (s *Session) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.conn != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.machine.Transition(status.Connecting); err != nil {
		s.logger.Debug("connect skipped", zap.Error(err))
		return
	}
	conn, err := s.dial(ctx)
	if err != nil {
		s.logger.Warn("channel dial failed", zap.Error(err))
		_ = s.machine.Transition(status.Disconnected)
		return
	}
	s.attach(conn)
}

// Close tears the connection down and suppresses further reconnection.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if s.machine.Current() != status.Disconnected {
		_ = s.machine.Transition(status.Disconnected)
	}
}

func (s *Session) dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	return s.dialer.Dial(ctx, s.url, header)
}

func (s *Session) attach(conn Conn) {
	s.mu.Lock()
	prev := s.conn
	s.gen++
	gen := s.gen
	s.conn = conn
	s.mu.Unlock()

	// A connect racing the retry loop can attach twice; the superseded
	// connection's pumps exit via the generation check but its socket
	// still has to be closed.
	if prev != nil {
		_ = prev.Close()
	}
	_ = s.machine.Transition(status.Connected)
	s.bus.Publish(bus.KindChannelConnected, nil)
	go s.readPump(conn, gen)
	go s.pingLoop(conn, gen)
}

func (s *Session) readPump(conn Conn, gen int) {
	_ = conn.SetReadDeadline(time.Now().Add(s.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDrop(gen, err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		s.mu.Lock()
		h := s.handlers[f.Event]
		s.mu.Unlock()
		if h == nil {
			s.logger.Debug("no handler for event", zap.String("event", f.Event))
			continue
		}
		h(f.Data)
	}
}

func (s *Session) pingLoop(conn Conn, gen int) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		stale := s.closed || gen != s.gen || s.conn == nil
		s.mu.Unlock()
		if stale {
			return
		}
		s.wmu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		s.wmu.Unlock()
		if err != nil {
			s.handleDrop(gen, err)
			return
		}
	}
}

// handleDrop runs once per connection generation: the read pump and ping
// loop may both observe the same failure.
func (s *Session) handleDrop(gen int, cause error) {
	s.mu.Lock()
	if s.closed || gen != s.gen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.retrying = true
	s.mu.Unlock()
	_ = conn.Close()

	s.logger.Warn("channel dropped", zap.Error(cause))
	_ = s.machine.Transition(status.Reconnecting)
	s.bus.Publish(bus.KindChannelDisconnected, Drop{Reason: cause.Error()})

	go s.retryLoop()
	time.AfterFunc(s.SuperviseDelay, s.supervise)
}

func (s *Session) retryLoop() {
	for attempt := 1; attempt <= s.RetryAttempts; attempt++ {
		time.Sleep(s.RetryDelay)

		s.mu.Lock()
		if s.closed {
			s.retrying = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		conn, err := s.dial(context.Background())
		if err != nil {
			s.logger.Debug("reconnect attempt failed",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.retrying = false
		s.mu.Unlock()
		s.logger.Info("channel reconnected", zap.Int("attempt", attempt))
		s.attach(conn)
		return
	}

	s.mu.Lock()
	s.retrying = false
	s.mu.Unlock()
	s.logger.Warn("reconnect attempts exhausted",
		zap.Int("attempts", s.RetryAttempts))
	_ = s.machine.Transition(status.Disconnected)
	time.AfterFunc(s.SuperviseDelay, s.supervise)
}

// supervise fires a while after a drop and again after retry exhaustion.
// If the retry loop already gave up and nothing else reconnected, it starts
// one fresh connect.
func (s *Session) supervise() {
	s.mu.Lock()
	idle := !s.closed && !s.retrying && s.conn == nil
	s.mu.Unlock()
	if idle {
		s.Connect(context.Background())
	}
}
