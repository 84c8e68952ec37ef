package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/beep-chat/beep/internal/bus"
	"github.com/beep-chat/beep/internal/model"
)

type fakeSeq struct {
	mu         sync.Mutex
	active     string
	outgoing   []*model.Message
	incoming   []*model.Message
	background []string
	removed    []string
	remaps     [][2]string
	statuses   map[string]model.Status
}

func newFakeSeq(active string) *fakeSeq {
	return &fakeSeq{active: active, statuses: make(map[string]model.Status)}
}

func (s *fakeSeq) AppendOutgoing(msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outgoing = append(s.outgoing, msg)
}

func (s *fakeSeq) AppendIncoming(msg *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ConversationID != s.active {
		return false
	}
	s.incoming = append(s.incoming, msg)
	return true
}

func (s *fakeSeq) ApplyRemap(tempID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaps = append(s.remaps, [2]string{tempID, id})
}

func (s *fakeSeq) ApplyStatus(key string, st model.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[key] = st
}

func (s *fakeSeq) RemoveMessage(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, key)
}

func (s *fakeSeq) NoteBackgroundMessage(sender string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.background = append(s.background, sender)
}

type fakeSender struct {
	mu    sync.Mutex
	id    string
	err   error
	gate  chan struct{}
	calls int
}

func (s *fakeSender) SendMessage(context.Context, string, string) (string, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.id, s.err
}

type emitted struct {
	event   string
	payload any
}

type fakeEmitter struct {
	mu     sync.Mutex
	err    error
	events []emitted
}

func (e *fakeEmitter) Emit(event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{event, payload})
	return e.err
}

func (e *fakeEmitter) byEvent(event string) []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []emitted
	for _, ev := range e.events {
		if ev.event == event {
			out = append(out, ev)
		}
	}
	return out
}

func waitKind(t *testing.T, events <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestSendAppendsBeforeDelivery(t *testing.T) {
	b := bus.New()
	events, cancel := b.Subscribe("message.", 16)
	defer cancel()

	seq := newFakeSeq("u2")
	sender := &fakeSender{id: "srv-1", gate: make(chan struct{})}
	em := &fakeEmitter{}
	tr := New(sender, em, b, nil, "ana", true)
	tr.Bind(seq)

	msg := tr.Send(context.Background(), "u2", "hi")
	if msg.TempID == "" || msg.Status != model.StatusPending {
		t.Errorf("message = %+v", msg)
	}
	// appended synchronously, before the server call completes
	if len(seq.outgoing) != 1 || seq.outgoing[0] != msg {
		t.Fatalf("outgoing = %v", seq.outgoing)
	}
	waitKind(t, events, bus.KindMessagePending)

	close(sender.gate)
	waitKind(t, events, bus.KindMessageUpdated)

	if msg.ID != "srv-1" || msg.Status != model.StatusSent {
		t.Errorf("after delivery: %+v", msg)
	}
	seq.mu.Lock()
	remaps := seq.remaps
	seq.mu.Unlock()
	if len(remaps) != 1 || remaps[0][1] != "srv-1" {
		t.Errorf("remaps = %v", remaps)
	}
	sends := em.byEvent("message:send")
	if len(sends) != 1 {
		t.Fatalf("message:send emits = %d, want 1", len(sends))
	}
	se := sends[0].payload.(model.SendEvent)
	if se.ID != "srv-1" || se.RecipientID != "u2" || se.SenderName != "ana" {
		t.Errorf("send event = %+v", se)
	}
}

func TestSendFailureMarksFailed(t *testing.T) {
	b := bus.New()
	events, cancel := b.Subscribe("message.", 16)
	defer cancel()

	seq := newFakeSeq("u2")
	sender := &fakeSender{err: errors.New("boom")}
	tr := New(sender, &fakeEmitter{}, b, nil, "ana", true)
	tr.Bind(seq)

	msg := tr.Send(context.Background(), "u2", "hi")
	evt := waitKind(t, events, bus.KindMessageFailed)

	fail := evt.Payload.(SendFailure)
	if fail.Message != msg || fail.Reason != "boom" {
		t.Errorf("failure = %+v", fail)
	}
	if msg.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", msg.Status)
	}
	seq.mu.Lock()
	defer seq.mu.Unlock()
	if seq.statuses[msg.TempID] != model.StatusFailed {
		t.Errorf("sequence status = %s", seq.statuses[msg.TempID])
	}
}

func TestRetryResubmitsFailedOnly(t *testing.T) {
	b := bus.New()
	events, cancel := b.Subscribe("message.", 16)
	defer cancel()

	seq := newFakeSeq("u2")
	sender := &fakeSender{err: errors.New("boom")}
	tr := New(sender, &fakeEmitter{}, b, nil, "ana", true)
	tr.Bind(seq)

	msg := tr.Send(context.Background(), "u2", "hi")
	waitKind(t, events, bus.KindMessageFailed)

	sender.mu.Lock()
	sender.err = nil
	sender.id = "srv-9"
	sender.mu.Unlock()

	retried := tr.Retry(context.Background(), msg.TempID)
	if retried == nil {
		t.Fatal("Retry returned nil for a failed message")
	}
	waitKind(t, events, bus.KindMessageUpdated)

	seq.mu.Lock()
	removed := seq.removed
	seq.mu.Unlock()
	if len(removed) != 1 || removed[0] != msg.TempID {
		t.Errorf("removed = %v", removed)
	}
	if retried.ID != "srv-9" || retried.Status != model.StatusSent {
		t.Errorf("retried = %+v", retried)
	}

	// a delivered message is not retryable
	if got := tr.Retry(context.Background(), retried.TempID); got != nil {
		t.Errorf("Retry on sent message = %+v, want nil", got)
	}
}

func TestApplyStatusEventMonotonic(t *testing.T) {
	b := bus.New()
	seq := newFakeSeq("u2")
	tr := New(&fakeSender{id: "srv-1"}, &fakeEmitter{}, b, nil, "ana", true)
	tr.Bind(seq)

	msg := tr.Send(context.Background(), "u2", "hi")
	deadline := time.Now().Add(time.Second)
	for msg.ID == "" && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	tr.ApplyStatusEvent("srv-1", model.StatusRead)
	if msg.Status != model.StatusRead {
		t.Fatalf("status = %s, want read", msg.Status)
	}
	// a late delivered event must not regress the read status
	tr.ApplyStatusEvent("srv-1", model.StatusDelivered)
	if msg.Status != model.StatusRead {
		t.Errorf("status regressed to %s", msg.Status)
	}
	// unknown ids are ignored
	tr.ApplyStatusEvent("nope", model.StatusRead)
}

func TestStatusEventDoesNotResurrectFailed(t *testing.T) {
	b := bus.New()
	events, cancel := b.Subscribe("message.", 16)
	defer cancel()

	seq := newFakeSeq("u2")
	tr := New(&fakeSender{err: errors.New("boom")}, &fakeEmitter{}, b, nil, "ana", true)
	tr.Bind(seq)

	msg := tr.Send(context.Background(), "u2", "hi")
	waitKind(t, events, bus.KindMessageFailed)

	tr.ApplyStatusEvent(msg.TempID, model.StatusDelivered)
	if msg.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", msg.Status)
	}
}

func TestHandleIncomingActive(t *testing.T) {
	b := bus.New()
	events, cancel := b.Subscribe("message.", 16)
	defer cancel()

	seq := newFakeSeq("u2")
	em := &fakeEmitter{}
	tr := New(&fakeSender{}, em, b, nil, "ana", true)
	tr.Bind(seq)

	tr.HandleIncoming(model.NewMessageEvent{ID: "m1", Sender: "u2", Content: "yo"})
	waitKind(t, events, bus.KindMessageReceived)

	if len(seq.incoming) != 1 || !seq.incoming[0].Read {
		t.Fatalf("incoming = %+v", seq.incoming)
	}
	receipts := em.byEvent("message:read")
	if len(receipts) != 1 {
		t.Fatalf("receipts = %d, want 1", len(receipts))
	}
	rr := receipts[0].payload.(model.ReadReceipt)
	if rr.SenderID != "u2" || len(rr.MessageIDs) != 1 || rr.MessageIDs[0] != "m1" {
		t.Errorf("receipt = %+v", rr)
	}
}

func TestHandleIncomingBackground(t *testing.T) {
	b := bus.New()
	seq := newFakeSeq("u2")
	em := &fakeEmitter{}
	tr := New(&fakeSender{}, em, b, nil, "ana", true)
	tr.Bind(seq)

	tr.HandleIncoming(model.NewMessageEvent{ID: "m1", Sender: "u9", Content: "yo"})

	if len(seq.incoming) != 0 {
		t.Errorf("incoming = %v, want none", seq.incoming)
	}
	if len(seq.background) != 1 || seq.background[0] != "u9" {
		t.Errorf("background = %v", seq.background)
	}
	if len(em.byEvent("message:read")) != 0 {
		t.Error("background message must not be acknowledged")
	}
}

func TestHandleIncomingDeduplicates(t *testing.T) {
	b := bus.New()
	seq := newFakeSeq("u2")
	tr := New(&fakeSender{}, &fakeEmitter{}, b, nil, "ana", true)
	tr.Bind(seq)

	evt := model.NewMessageEvent{ID: "m1", Sender: "u2", Content: "yo"}
	tr.HandleIncoming(evt)
	tr.HandleIncoming(evt)
	if len(seq.incoming) != 1 {
		t.Errorf("incoming = %d, want 1", len(seq.incoming))
	}

	// history replay: an observed id never lands twice
	tr.ObserveIDs("m7")
	tr.HandleIncoming(model.NewMessageEvent{ID: "m7", Sender: "u2"})
	if len(seq.incoming) != 1 {
		t.Errorf("replayed history message appended")
	}
}

func TestReadReceiptsDisabled(t *testing.T) {
	b := bus.New()
	seq := newFakeSeq("u2")
	em := &fakeEmitter{}
	tr := New(&fakeSender{}, em, b, nil, "ana", false)
	tr.Bind(seq)

	tr.HandleIncoming(model.NewMessageEvent{ID: "m1", Sender: "u2"})
	if len(em.byEvent("message:read")) != 0 {
		t.Error("receipt emitted with read receipts disabled")
	}
}

func TestPendingFor(t *testing.T) {
	b := bus.New()
	events, cancel := b.Subscribe("message.", 16)
	defer cancel()

	seq := newFakeSeq("u2")
	sender := &fakeSender{err: errors.New("boom")}
	tr := New(sender, &fakeEmitter{}, b, nil, "ana", true)
	tr.Bind(seq)

	first := tr.Send(context.Background(), "u2", "one")
	waitKind(t, events, bus.KindMessageFailed)
	second := tr.Send(context.Background(), "u2", "two")
	waitKind(t, events, bus.KindMessageFailed)
	tr.Send(context.Background(), "u9", "other")
	waitKind(t, events, bus.KindMessageFailed)

	pending := tr.PendingFor("u2")
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0] != first || pending[1] != second {
		t.Errorf("pending order = %v", pending)
	}
}
