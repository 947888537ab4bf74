// Package rooms tracks which conversation rooms the session has joined on
// the server. A conversation must be joined before its realtime traffic
// (messages, typing) is delivered, so the manager keeps a per-conversation
// membership state and enforces the single-active-selection rule.
package rooms

import (
	"sync"

	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/transport"
	"go.uber.org/zap"
)

// Membership is the per-conversation room state.
type Membership string

const (
	NotJoined Membership = "not_joined"
	Joining   Membership = "joining"
	Joined    Membership = "joined"
	Leaving   Membership = "leaving"
)

// Emitter sends a wire event upstream. *transport.Client satisfies it.
type Emitter interface {
	Emit(event string, payload any) error
}

type Manager struct {
	emitter Emitter
	bus     *bus.Bus
	logger  *zap.Logger

	mu     sync.Mutex
	state  map[string]Membership
	active string

	events <-chan bus.Event
	unsub  func()
	stop   chan struct{}
}

func NewManager(emitter Emitter, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		emitter: emitter,
		bus:     b,
		logger:  logger.Named("rooms"),
		state:   make(map[string]Membership),
	}
}

// Start begins consuming join confirmations from the wire.
func (m *Manager) Start() {
	m.events, m.unsub = m.bus.Subscribe(bus.KindWirePrefix+"join_", 32)
	m.stop = make(chan struct{})
	go m.run()
}

func (m *Manager) Stop() {
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
}

// Active returns the currently selected conversation id, or "".
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// State returns the membership state of a conversation.
func (m *Manager) State(conversationID string) Membership {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.state[conversationID]; ok {
		return s
	}
	return NotJoined
}

// Select makes conversationID the active conversation: the previous
// selection is left and the new room is joined. Selecting the already
// active conversation is a no-op, and leaving a room that was never
// joined is silently skipped, so the call is safe to repeat.
func (m *Manager) Select(conversationID string) error {
	m.mu.Lock()
	if m.active == conversationID {
		m.mu.Unlock()
		return nil
	}
	previous := m.active
	m.active = conversationID
	leavePrev := previous != "" && m.state[previous] != NotJoined
	if leavePrev {
		m.state[previous] = Leaving
	}
	m.state[conversationID] = Joining
	m.mu.Unlock()

	if leavePrev {
		if err := m.emitter.Emit(transport.EventLeaveRoom, &transport.RoomPayload{ConversationID: previous}); err != nil {
			// Leaving is advisory; the server drops dead memberships on
			// its own, so a failed leave must not block the join.
			m.logger.Debug("leave_room not sent", zap.String("conversation", previous), zap.Error(err))
		}
		m.mu.Lock()
		delete(m.state, previous)
		m.mu.Unlock()
		m.bus.Emit(bus.KindRoomLeft, previous)
	}

	if err := m.emitter.Emit(transport.EventJoinRoom, &transport.RoomPayload{ConversationID: conversationID}); err != nil {
		m.mu.Lock()
		delete(m.state, conversationID)
		if m.active == conversationID {
			m.active = ""
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// Deselect leaves the active conversation, if any.
func (m *Manager) Deselect() {
	m.mu.Lock()
	current := m.active
	if current == "" {
		m.mu.Unlock()
		return
	}
	m.active = ""
	delete(m.state, current)
	m.mu.Unlock()

	if err := m.emitter.Emit(transport.EventLeaveRoom, &transport.RoomPayload{ConversationID: current}); err != nil {
		m.logger.Debug("leave_room not sent", zap.String("conversation", current), zap.Error(err))
	}
	m.bus.Emit(bus.KindRoomLeft, current)
}

// JoinAll asks the server to join every conversation room the account is a
// member of, used at session start to receive traffic for all contacts.
func (m *Manager) JoinAll() error {
	return m.emitter.Emit(transport.EventJoinAllRooms, nil)
}

func (m *Manager) run() {
	for {
		select {
		case evt := <-m.events:
			m.handle(evt)
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) handle(evt bus.Event) {
	switch evt.Kind {
	case transport.WireKind(transport.EventJoinRoomSuccess):
		p, ok := evt.Payload.(*transport.RoomPayload)
		if !ok {
			return
		}
		m.mu.Lock()
		// A confirmation for a room already left (selection moved on
		// before it arrived) must not resurrect the membership.
		if m.state[p.ConversationID] != Joining {
			m.mu.Unlock()
			return
		}
		m.state[p.ConversationID] = Joined
		m.mu.Unlock()
		m.bus.Emit(bus.KindRoomJoined, p.ConversationID)

	case transport.WireKind(transport.EventJoinRoomError):
		p, ok := evt.Payload.(*transport.RoomErrorPayload)
		if !ok {
			return
		}
		m.mu.Lock()
		delete(m.state, p.ConversationID)
		if m.active == p.ConversationID {
			m.active = ""
		}
		m.mu.Unlock()
		m.logger.Warn("room join rejected",
			zap.String("conversation", p.ConversationID),
			zap.String("error", p.Error))
		m.bus.Emit(bus.KindRoomJoinFailed, p)
	}
}
