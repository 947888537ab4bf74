// Package presence announces our own availability to the server and keeps
// the cached contact presence in step with server pushes.
package presence

import (
	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/store"
	"github.com/pigeon-im/pigeon/internal/transport"
	"go.uber.org/zap"
)

// Emitter sends a wire event upstream. *transport.Client satisfies it.
type Emitter interface {
	Emit(event string, payload any) error
}

type Tracker struct {
	emitter Emitter
	db      *store.DB
	bus     *bus.Bus
	logger  *zap.Logger

	events <-chan bus.Event
	unsub  func()
	stop   chan struct{}
}

func NewTracker(emitter Emitter, db *store.DB, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{
		emitter: emitter,
		db:      db,
		bus:     b,
		logger:  logger.Named("presence"),
	}
}

// Start announces go_online and begins consuming contact status pushes.
func (t *Tracker) Start() {
	t.events, t.unsub = t.bus.Subscribe(transport.WireKind(transport.EventContactStatusUpdate), 32)
	t.stop = make(chan struct{})
	go t.run()

	if err := t.emitter.Emit(transport.EventGoOnline, nil); err != nil {
		t.logger.Warn("could not announce presence", zap.Error(err))
	}
}

// Stop announces go_offline best-effort and stops consuming pushes.
func (t *Tracker) Stop() {
	if err := t.emitter.Emit(transport.EventGoOffline, nil); err != nil {
		t.logger.Debug("offline announce skipped", zap.Error(err))
	}
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
}

func (t *Tracker) run() {
	for {
		select {
		case evt := <-t.events:
			if p, ok := evt.Payload.(*transport.ContactStatusPayload); ok {
				t.apply(p)
			}
		case <-t.stop:
			return
		}
	}
}

func (t *Tracker) apply(p *transport.ContactStatusPayload) {
	if p.ContactID == "" {
		return
	}
	presence := p.Status
	switch presence {
	case store.PresenceOnline, store.PresenceOffline, store.PresenceAway:
	default:
		t.logger.Debug("dropping unknown presence value",
			zap.String("contact", p.ContactID),
			zap.String("status", presence))
		return
	}
	if err := t.db.UpdateContactPresence(p.ContactID, presence); err != nil {
		t.logger.Error("failed to persist contact presence",
			zap.String("contact", p.ContactID),
			zap.Error(err))
		return
	}
	t.bus.Emit(bus.KindContactPresence, p)
}
