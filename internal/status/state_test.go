package status

import (
	"testing"

	"github.com/beep-chat/beep/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Connected},
		{Connecting, Disconnected},
		{Connected, Reconnecting},
		{Connected, Disconnected},
		{Reconnecting, Connecting},
		{Reconnecting, Connected},
		{Reconnecting, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

// TestNoDirectConnect verifies Disconnected cannot jump straight to
// Connected: a dial always passes through Connecting first.
func TestNoDirectConnect(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Fatal("Transition(DISCONNECTED -> CONNECTED) should fail")
	}
	if m.Current() != Disconnected {
		t.Errorf("state = %s, want DISCONNECTED (should not have changed)", m.Current())
	}
}

// TestDropReconnectCycle simulates a channel drop and successful automatic
// reconnection: CONNECTED -> RECONNECTING -> CONNECTED.
func TestDropReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	steps := []State{Reconnecting, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Connected {
		t.Errorf("final state = %s, want CONNECTED", m.Current())
	}
}

// TestRetryExhaustion simulates the bounded retry giving up: the machine
// settles in Disconnected and can only leave through an external Connect.
func TestRetryExhaustion(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	if err := m.Transition(Reconnecting); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Disconnected); err != nil {
		t.Fatal(err)
	}
	// External reconnect path.
	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("DISCONNECTED -> CONNECTING: %v", err)
	}
	if err := m.Transition(Connected); err != nil {
		t.Fatalf("CONNECTING -> CONNECTED: %v", err)
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("channel.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindChannelStateChanged {
		t.Errorf("event kind = %q, want channel.state_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StateChange)
	if !ok {
		t.Fatalf("payload type = %T, want StateChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected: {},
		Connecting:   {Connecting},
		Connected:    {Connecting, Connected},
		Reconnecting: {Connecting, Connected, Reconnecting},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
