package rooms

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/transport"
	"go.uber.org/zap"
)

type emitCall struct {
	event   string
	payload any
}

type recordingEmitter struct {
	mu    sync.Mutex
	calls []emitCall
	fail  map[string]error
}

func (r *recordingEmitter) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[event]; ok {
		return err
	}
	r.calls = append(r.calls, emitCall{event: event, payload: payload})
	return nil
}

func (r *recordingEmitter) recorded() []emitCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]emitCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func newManager(t *testing.T) (*Manager, *recordingEmitter, *bus.Bus) {
	t.Helper()
	em := &recordingEmitter{}
	b := bus.New()
	m := NewManager(em, b, zap.NewNop())
	m.Start()
	t.Cleanup(m.Stop)
	return m, em, b
}

func waitState(t *testing.T, m *Manager, conversationID string, want Membership) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State(conversationID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("State(%q) = %q, want %q", conversationID, m.State(conversationID), want)
}

func TestSelectJoinsRoom(t *testing.T) {
	m, em, b := newManager(t)

	if err := m.Select("alice"); err != nil {
		t.Fatal(err)
	}
	if m.State("alice") != Joining {
		t.Errorf("state = %q, want joining", m.State("alice"))
	}

	calls := em.recorded()
	if len(calls) != 1 || calls[0].event != transport.EventJoinRoom {
		t.Fatalf("calls = %+v, want single join_room", calls)
	}

	b.Emit(transport.WireKind(transport.EventJoinRoomSuccess), &transport.RoomPayload{ConversationID: "alice"})
	waitState(t, m, "alice", Joined)
	if m.Active() != "alice" {
		t.Errorf("Active() = %q, want alice", m.Active())
	}
}

func TestSelectSwitchLeavesPrevious(t *testing.T) {
	m, em, b := newManager(t)

	if err := m.Select("alice"); err != nil {
		t.Fatal(err)
	}
	b.Emit(transport.WireKind(transport.EventJoinRoomSuccess), &transport.RoomPayload{ConversationID: "alice"})
	waitState(t, m, "alice", Joined)

	if err := m.Select("bob"); err != nil {
		t.Fatal(err)
	}

	var events []string
	for _, c := range em.recorded() {
		events = append(events, c.event)
	}
	want := []string{transport.EventJoinRoom, transport.EventLeaveRoom, transport.EventJoinRoom}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
	if m.State("alice") != NotJoined {
		t.Errorf("previous room state = %q, want not_joined", m.State("alice"))
	}
}

func TestSelectSameConversationIsNoOp(t *testing.T) {
	m, em, _ := newManager(t)

	if err := m.Select("alice"); err != nil {
		t.Fatal(err)
	}
	if err := m.Select("alice"); err != nil {
		t.Fatal(err)
	}
	if n := len(em.recorded()); n != 1 {
		t.Errorf("emit count = %d, want 1 (reselect must not rejoin)", n)
	}
}

func TestSelectNeverJoinedPreviousSkipsLeave(t *testing.T) {
	m, em, _ := newManager(t)

	// Deselect without any selection must not emit leave_room.
	m.Deselect()
	if n := len(em.recorded()); n != 0 {
		t.Errorf("emit count = %d, want 0", n)
	}

	if err := m.Select("alice"); err != nil {
		t.Fatal(err)
	}
	m.Deselect()
	m.Deselect() // second deselect is idempotent

	var leaves int
	for _, c := range em.recorded() {
		if c.event == transport.EventLeaveRoom {
			leaves++
		}
	}
	if leaves != 1 {
		t.Errorf("leave_room count = %d, want exactly 1", leaves)
	}
}

func TestJoinErrorClearsActiveSelection(t *testing.T) {
	m, _, b := newManager(t)

	failed, unsub := b.Subscribe(bus.KindRoomJoinFailed, 4)
	defer unsub()

	if err := m.Select("alice"); err != nil {
		t.Fatal(err)
	}
	b.Emit(transport.WireKind(transport.EventJoinRoomError),
		&transport.RoomErrorPayload{ConversationID: "alice", Error: "not a contact"})

	select {
	case evt := <-failed:
		p := evt.Payload.(*transport.RoomErrorPayload)
		if p.ConversationID != "alice" {
			t.Errorf("failure payload = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for room.join_failed")
	}

	waitState(t, m, "alice", NotJoined)
	if m.Active() != "" {
		t.Errorf("Active() = %q, want cleared", m.Active())
	}
}

func TestSelectEmitFailureRollsBack(t *testing.T) {
	em := &recordingEmitter{fail: map[string]error{transport.EventJoinRoom: errors.New("not connected")}}
	b := bus.New()
	m := NewManager(em, b, zap.NewNop())
	m.Start()
	t.Cleanup(m.Stop)

	if err := m.Select("alice"); err == nil {
		t.Fatal("Select should surface emit failure")
	}
	if m.Active() != "" {
		t.Errorf("Active() = %q, want cleared after failed join", m.Active())
	}
	if m.State("alice") != NotJoined {
		t.Errorf("state = %q, want not_joined after failed join", m.State("alice"))
	}
}

func TestLateJoinConfirmationAfterSwitchIsIgnored(t *testing.T) {
	m, _, b := newManager(t)

	joined, unsub := b.Subscribe(bus.KindRoomJoined, 4)
	defer unsub()

	if err := m.Select("alice"); err != nil {
		t.Fatal(err)
	}
	// Switch before alice's confirmation lands.
	if err := m.Select("bob"); err != nil {
		t.Fatal(err)
	}
	b.Emit(transport.WireKind(transport.EventJoinRoomSuccess), &transport.RoomPayload{ConversationID: "alice"})

	select {
	case evt := <-joined:
		t.Fatalf("late confirmation published room.joined for %v", evt.Payload)
	case <-time.After(200 * time.Millisecond):
	}
	if m.State("alice") != NotJoined {
		t.Errorf("state(alice) = %q, want not_joined", m.State("alice"))
	}
	if m.Active() != "bob" {
		t.Errorf("Active() = %q, want bob", m.Active())
	}
}

func TestJoinAll(t *testing.T) {
	m, em, _ := newManager(t)
	if err := m.JoinAll(); err != nil {
		t.Fatal(err)
	}
	calls := em.recorded()
	if len(calls) != 1 || calls[0].event != transport.EventJoinAllRooms {
		t.Fatalf("calls = %+v, want single join_all_rooms", calls)
	}
}
