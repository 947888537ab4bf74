// Package typing drives the typing indicator in both directions: it turns
// local keystrokes into at-most-once typing_started/typing_stopped wire
// events with an inactivity timeout, and it surfaces the active peer's
// indicator while filtering pushes from everybody else.
package typing

import (
	"sync"
	"time"

	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/transport"
	"go.uber.org/zap"
)

// DefaultTimeout is how long after the last keystroke the local indicator
// stays up, and how long a peer's indicator survives without a refresh.
const DefaultTimeout = 3 * time.Second

// Emitter sends a wire event upstream. *transport.Client satisfies it.
type Emitter interface {
	Emit(event string, payload any) error
}

// Identity resolves the authenticated user's id. *session.Store satisfies it.
type Identity interface {
	UserID() string
}

type Controller struct {
	emitter Emitter
	id      Identity
	bus     *bus.Bus
	logger  *zap.Logger

	// Timeout may be lowered before Start for faster tests.
	Timeout time.Duration

	mu          sync.Mutex
	active      string
	localTyping bool
	localTimer  *time.Timer
	peerTyping  bool
	peerTimer   *time.Timer

	events <-chan bus.Event
	unsub  func()
	stop   chan struct{}
}

func NewController(emitter Emitter, id Identity, b *bus.Bus, logger *zap.Logger) *Controller {
	return &Controller{
		emitter: emitter,
		id:      id,
		bus:     b,
		logger:  logger.Named("typing"),
		Timeout: DefaultTimeout,
	}
}

// Start begins consuming peer typing pushes.
func (c *Controller) Start() {
	c.events, c.unsub = c.bus.Subscribe(bus.KindWirePrefix+"typing_", 32)
	c.stop = make(chan struct{})
	go c.run()
}

func (c *Controller) Stop() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	c.Reset()
}

// SetActive switches the conversation the controller works against. Any
// in-flight local indicator for the previous peer is stopped first, and the
// previous peer's indicator state is discarded.
func (c *Controller) SetActive(peerID string) {
	c.mu.Lock()
	previous := c.active
	wasTyping := c.localTyping
	c.active = peerID
	c.localTyping = false
	c.stopLocalTimerLocked()
	c.clearPeerLocked(false)
	c.mu.Unlock()

	if wasTyping && previous != "" {
		c.emitStopped(previous)
	}
}

// Keystroke is called for every edit of a non-empty compose box. The first
// keystroke raises typing_started; later ones only push the timeout out.
func (c *Controller) Keystroke() {
	c.mu.Lock()
	peer := c.active
	if peer == "" {
		c.mu.Unlock()
		return
	}
	started := !c.localTyping
	c.localTyping = true
	c.stopLocalTimerLocked()
	c.localTimer = time.AfterFunc(c.Timeout, c.timeoutLocal)
	c.mu.Unlock()

	if started {
		if err := c.emitter.Emit(transport.EventTypingStarted, &transport.TypingPayload{
			SenderID:   c.id.UserID(),
			ReceiverID: peer,
		}); err != nil {
			c.logger.Debug("typing_started not sent", zap.Error(err))
		}
	}
}

// InputCleared is called when the compose box becomes empty again.
func (c *Controller) InputCleared() { c.stopLocal() }

// MessageSent is called when the composed message is handed off; sending
// implies the user is no longer typing.
func (c *Controller) MessageSent() { c.stopLocal() }

// Reset drops all indicator state without emitting anything, used when the
// transport goes away and the stop event could not be delivered anyway.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localTyping = false
	c.stopLocalTimerLocked()
	c.clearPeerLocked(false)
}

// PeerTyping reports whether the active peer is currently typing.
func (c *Controller) PeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTyping
}

// stopLocal lowers the local indicator, emitting typing_stopped at most
// once per typing episode.
func (c *Controller) stopLocal() {
	c.mu.Lock()
	peer := c.active
	wasTyping := c.localTyping
	c.localTyping = false
	c.stopLocalTimerLocked()
	c.mu.Unlock()

	if wasTyping && peer != "" {
		c.emitStopped(peer)
	}
}

func (c *Controller) timeoutLocal() {
	c.stopLocal()
}

func (c *Controller) emitStopped(peer string) {
	if err := c.emitter.Emit(transport.EventTypingStopped, &transport.TypingPayload{
		SenderID:   c.id.UserID(),
		ReceiverID: peer,
	}); err != nil {
		c.logger.Debug("typing_stopped not sent", zap.Error(err))
	}
}

func (c *Controller) stopLocalTimerLocked() {
	if c.localTimer != nil {
		c.localTimer.Stop()
		c.localTimer = nil
	}
}

func (c *Controller) clearPeerLocked(publish bool) {
	if c.peerTimer != nil {
		c.peerTimer.Stop()
		c.peerTimer = nil
	}
	was := c.peerTyping
	c.peerTyping = false
	if publish && was {
		c.bus.Emit(bus.KindTypingPeerStopped, c.active)
	}
}

func (c *Controller) run() {
	for {
		select {
		case evt := <-c.events:
			c.handle(evt)
		case <-c.stop:
			return
		}
	}
}

func (c *Controller) handle(evt bus.Event) {
	p, ok := evt.Payload.(*transport.TypingPayload)
	if !ok {
		return
	}

	c.mu.Lock()
	// Indicators from anyone but the active peer are dropped; the sidebar
	// does not show typing state.
	if p.SenderID == "" || p.SenderID != c.active {
		c.mu.Unlock()
		return
	}

	switch evt.Kind {
	case transport.WireKind(transport.EventTypingStarted):
		started := !c.peerTyping
		c.peerTyping = true
		if c.peerTimer != nil {
			c.peerTimer.Stop()
		}
		// A lost typing_stopped must not leave the indicator up forever.
		peer := c.active
		c.peerTimer = time.AfterFunc(c.Timeout, func() { c.expirePeer(peer) })
		c.mu.Unlock()
		if started {
			c.bus.Emit(bus.KindTypingPeerStarted, p.SenderID)
		}

	case transport.WireKind(transport.EventTypingStopped):
		was := c.peerTyping
		c.peerTyping = false
		if c.peerTimer != nil {
			c.peerTimer.Stop()
			c.peerTimer = nil
		}
		c.mu.Unlock()
		if was {
			c.bus.Emit(bus.KindTypingPeerStopped, p.SenderID)
		}

	default:
		c.mu.Unlock()
	}
}

func (c *Controller) expirePeer(peer string) {
	c.mu.Lock()
	if c.active != peer || !c.peerTyping {
		c.mu.Unlock()
		return
	}
	c.peerTyping = false
	c.peerTimer = nil
	c.mu.Unlock()
	c.bus.Emit(bus.KindTypingPeerStopped, peer)
}
