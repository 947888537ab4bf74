// Package contacts keeps the cached contact list in step with the server:
// full snapshots on demand, incremental sidebar deltas pushed while other
// conversations receive traffic, and profile edits made by peers.
package contacts

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

// Identity resolves the authenticated user's id. *session.Store satisfies it.
type Identity interface {
	UserID() string
}

type Synchronizer struct {
	emitter Emitter
	id      Identity
	db      *store.DB
	bus     *bus.Bus
	logger  *zap.Logger

	events <-chan bus.Event
	unsub  func()
	stop   chan struct{}
}

func NewSynchronizer(emitter Emitter, id Identity, db *store.DB, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		emitter: emitter,
		id:      id,
		db:      db,
		bus:     b,
		logger:  logger.Named("contacts"),
	}
}

// Start begins consuming contact pushes from the wire.
func (s *Synchronizer) Start() {
	s.events, s.unsub = s.bus.Subscribe(bus.KindWirePrefix, 64)
	s.stop = make(chan struct{})
	go s.run()
}

func (s *Synchronizer) Stop() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
}

// Request asks the server for a full contact snapshot.
func (s *Synchronizer) Request() error {
	return s.emitter.Emit(transport.EventGetContacts, nil)
}

// UpdateProfile pushes our own avatar change to the server. Peers learn
// about it through contact_profile_updated.
func (s *Synchronizer) UpdateProfile(avatarURL string) error {
	return s.emitter.Emit(transport.EventUpdateProfile, &transport.ProfileUpdatePayload{AvatarURL: avatarURL})
}

// List returns the cached contact list, most recent conversation first.
func (s *Synchronizer) List() ([]store.Contact, error) {
	return s.db.ListContacts()
}

func (s *Synchronizer) run() {
	for {
		select {
		case evt := <-s.events:
			s.handle(evt)
		case <-s.stop:
			return
		}
	}
}

func (s *Synchronizer) handle(evt bus.Event) {
	switch evt.Kind {
	case transport.WireKind(transport.EventGetContactsSuccess):
		p, ok := evt.Payload.(*transport.ContactsPayload)
		if !ok {
			return
		}
		if err := s.db.BulkUpsertContacts(p.Contacts); err != nil {
			s.logger.Error("contact snapshot not persisted", zap.Error(err))
			return
		}
		s.logger.Debug("contact snapshot applied", zap.Int("count", len(p.Contacts)))
		s.bus.Emit(bus.KindContactUpdated, nil)

	case transport.WireKind(transport.EventGetContactsError):
		if p, ok := evt.Payload.(*transport.ErrorPayload); ok {
			s.logger.Warn("contact snapshot rejected", zap.String("error", p.Error))
		}

	case transport.WireKind(transport.EventContactsChanged):
		p, ok := evt.Payload.(*transport.ContactsChangedPayload)
		if !ok {
			return
		}
		// The delta is addressed; only the receiving side moves the
		// sender's sidebar entry.
		if p.ReceiverID != s.id.UserID() {
			return
		}
		if err := s.db.UpdateContactSummary(p.SenderID, p.LastMessage, p.TimeUnixMs, p.Unread); err != nil {
			s.logger.Error("sidebar delta not persisted",
				zap.String("contact", p.SenderID), zap.Error(err))
			return
		}
		s.bus.Emit(bus.KindContactUpdated, p.SenderID)

	case transport.WireKind(transport.EventContactProfileUpdated):
		p, ok := evt.Payload.(*transport.ProfileUpdatedPayload)
		if !ok {
			return
		}
		// Empty fields are preserved by the upsert, so a rename and an
		// avatar change travel through the same shape.
		if err := s.db.UpsertContact(&store.Contact{
			ID:          p.ContactID,
			DisplayName: p.Name,
			AvatarURL:   p.AvatarURL,
		}); err != nil {
			s.logger.Error("profile update not persisted",
				zap.String("contact", p.ContactID), zap.Error(err))
			return
		}
		s.bus.Emit(bus.KindContactUpdated, p.ContactID)
	}
}
