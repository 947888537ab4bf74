// Package outbox drains queued outgoing messages onto the wire. Messages
// are written to the outbox table at submission time, so a send survives a
// dropped connection and goes out once the transport is back.
package outbox

import (
	"errors"
	"time"

	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/store"
	"github.com/pigeon-im/pigeon/internal/transport"
	"go.uber.org/zap"
)

// DefaultInterval is how often the queue is polled for work.
const DefaultInterval = 500 * time.Millisecond

// Emitter sends a wire event upstream. *transport.Client satisfies it.
type Emitter interface {
	Emit(event string, payload any) error
}

// Identity resolves the authenticated user's id. *session.Store satisfies it.
type Identity interface {
	UserID() string
}

type Sender struct {
	emitter Emitter
	id      Identity
	db      *store.DB
	bus     *bus.Bus
	logger  *zap.Logger

	// Interval may be lowered before Start for faster tests.
	Interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewSender(emitter Emitter, id Identity, db *store.DB, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		emitter:  emitter,
		id:       id,
		db:       db,
		bus:      b,
		logger:   logger.Named("outbox"),
		Interval: DefaultInterval,
	}
}

func (s *Sender) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop()
}

func (s *Sender) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
}

func (s *Sender) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-s.stop:
			return
		}
	}
}

// Flush pushes every queued entry onto the wire. A transport that is down
// or saturated leaves entries queued for the next tick; any other emit
// failure is terminal for the entry and fails its message.
func (s *Sender) Flush() {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("outbox not readable", zap.Error(err))
		return
	}
	for i := range pending {
		entry := &pending[i]
		if retry := s.dispatch(entry); retry {
			return
		}
	}
}

func (s *Sender) dispatch(entry *store.OutboxEntry) (retry bool) {
	payload := &transport.SendMessagePayload{
		ClientMsgID: entry.ClientMsgID,
		SenderID:    s.id.UserID(),
		ReceiverID:  entry.ReceiverID,
		Kind:        entry.Kind,
		Body:        entry.Body,
	}
	if entry.AttachmentURL != "" {
		payload.Attachment = &store.Attachment{
			URL:  entry.AttachmentURL,
			Name: entry.AttachmentName,
			Size: entry.AttachmentSize,
		}
	}

	err := s.emitter.Emit(transport.EventSendMessage, payload)
	if err == nil {
		if err := s.db.MarkOutboxEmitted(entry.ClientMsgID); err != nil {
			s.logger.Error("emitted entry not marked", zap.String("client_id", entry.ClientMsgID), zap.Error(err))
		}
		s.bus.Emit(bus.KindOutboxEmitted, entry.ClientMsgID)
		return false
	}

	if errors.Is(err, transport.ErrNotConnected) || errors.Is(err, transport.ErrEgressFull) {
		return true
	}

	s.logger.Warn("send failed",
		zap.String("client_id", entry.ClientMsgID),
		zap.String("conversation", entry.ConversationID),
		zap.Error(err))
	if err := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); err != nil {
		s.logger.Error("failed entry not marked", zap.Error(err))
	}
	if err := s.db.MarkMessageFailed(entry.ConversationID, entry.ClientMsgID); err != nil {
		s.logger.Error("message not marked failed", zap.Error(err))
	}
	s.bus.Emit(bus.KindOutboxSendFailed, entry.ClientMsgID)
	return false
}
