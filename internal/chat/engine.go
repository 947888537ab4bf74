// Package chat is the conversation engine: it owns the active conversation,
// appends outgoing messages optimistically, reconciles them against server
// confirmations, and folds inbound traffic into either the open message list
// or the sidebar unread counters.
package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/rooms"
	"github.com/pigeon-im/pigeon/internal/store"
	"github.com/pigeon-im/pigeon/internal/transport"
	"github.com/pigeon-im/pigeon/internal/typing"
	"go.uber.org/zap"
)

var (
	ErrNoActiveConversation = errors.New("chat: no active conversation")
	ErrEmptyMessage         = errors.New("chat: message has no body and no attachment")
	ErrBodyAndAttachment    = errors.New("chat: message cannot carry both body and attachment")
)

// Emitter sends a wire event upstream. *transport.Client satisfies it.
type Emitter interface {
	Emit(event string, payload any) error
}

// Identity resolves the authenticated user's id. *session.Store satisfies it.
type Identity interface {
	UserID() string
}

type Engine struct {
	emitter Emitter
	id      Identity
	db      *store.DB
	rooms   *rooms.Manager
	typing  *typing.Controller
	bus     *bus.Bus
	logger  *zap.Logger

	mu     sync.Mutex
	active string

	msgEvents  <-chan bus.Event
	histEvents <-chan bus.Event
	roomEvents <-chan bus.Event
	unsubs     []func()
	stop       chan struct{}
}

func NewEngine(emitter Emitter, id Identity, db *store.DB, rm *rooms.Manager, tc *typing.Controller, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		emitter: emitter,
		id:      id,
		db:      db,
		rooms:   rm,
		typing:  tc,
		bus:     b,
		logger:  logger.Named("chat"),
	}
}

// Start begins consuming message traffic from the wire.
func (e *Engine) Start() {
	msgCh, unsubMsg := e.bus.Subscribe(bus.KindWirePrefix+"message_", 64)
	histCh, unsubHist := e.bus.Subscribe(transport.WireKind(transport.EventGetMessagesSuccess), 8)
	roomCh, unsubRoom := e.bus.Subscribe(bus.KindRoomJoinFailed, 8)
	e.msgEvents, e.histEvents, e.roomEvents = msgCh, histCh, roomCh
	e.unsubs = []func(){unsubMsg, unsubHist, unsubRoom}
	e.stop = make(chan struct{})
	go e.run()
}

func (e *Engine) Stop() {
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
}

// Active returns the open conversation id, or "".
func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Open makes conversationID the active conversation. The room is joined,
// history is requested, the local unread counter is zeroed and the read
// receipt goes out so the peer's checkmarks can advance.
func (e *Engine) Open(conversationID string) error {
	e.mu.Lock()
	e.active = conversationID
	e.mu.Unlock()

	e.typing.SetActive(conversationID)

	if err := e.rooms.Select(conversationID); err != nil {
		// The room manager rolled its selection back, so the engine must
		// not keep pointing at a room it never joined.
		e.mu.Lock()
		e.active = ""
		e.mu.Unlock()
		e.typing.SetActive("")
		return err
	}
	if err := e.emitter.Emit(transport.EventGetMessages, &transport.RoomPayload{ConversationID: conversationID}); err != nil {
		return err
	}
	if err := e.db.ClearUnread(conversationID); err != nil {
		e.logger.Error("unread counter not cleared", zap.String("conversation", conversationID), zap.Error(err))
	}
	if err := e.emitter.Emit(transport.EventMarkRead, &transport.RoomPayload{ConversationID: conversationID}); err != nil {
		e.logger.Debug("mark_read not sent", zap.Error(err))
	}

	e.logger.Info("conversation opened", zap.String("conversation", conversationID))
	e.bus.Emit(bus.KindConversationOpened, conversationID)
	return nil
}

// Close deactivates the current conversation, if any.
func (e *Engine) Close() {
	e.mu.Lock()
	current := e.active
	e.active = ""
	e.mu.Unlock()

	if current == "" {
		return
	}
	e.typing.SetActive("")
	e.rooms.Deselect()
	e.bus.Emit(bus.KindConversationCleared, current)
}

// SendText appends a text message optimistically and queues it for delivery.
func (e *Engine) SendText(body string) (*store.Message, error) {
	if body == "" {
		return nil, ErrEmptyMessage
	}
	return e.send(store.KindText, body, nil)
}

// SendAttachment appends a media message optimistically and queues it for
// delivery. kind is one of the media message kinds.
func (e *Engine) SendAttachment(kind string, att *store.Attachment) (*store.Message, error) {
	if att == nil {
		return nil, ErrEmptyMessage
	}
	return e.send(kind, "", att)
}

func (e *Engine) send(kind, body string, att *store.Attachment) (*store.Message, error) {
	if body != "" && att != nil {
		return nil, ErrBodyAndAttachment
	}
	e.mu.Lock()
	receiver := e.active
	e.mu.Unlock()
	if receiver == "" {
		return nil, ErrNoActiveConversation
	}

	now := time.Now().UnixMilli()
	msg := &store.Message{
		ClientMsgID:    uuid.NewString(),
		ConversationID: receiver,
		SenderID:       e.id.UserID(),
		ReceiverID:     receiver,
		Kind:           kind,
		Body:           body,
		Attachment:     att,
		Status:         store.StatusSent,
		SentAt:         now,
	}
	if err := e.db.UpsertMessage(msg); err != nil {
		return nil, err
	}

	entry := &store.OutboxEntry{
		ClientMsgID:    msg.ClientMsgID,
		ConversationID: msg.ConversationID,
		ReceiverID:     msg.ReceiverID,
		Kind:           msg.Kind,
		Body:           msg.Body,
	}
	if att != nil {
		entry.AttachmentURL = att.URL
		entry.AttachmentName = att.Name
		entry.AttachmentSize = att.Size
	}
	if err := e.db.QueueOutbox(entry); err != nil {
		return nil, err
	}

	if err := e.db.UpdateContactSummary(receiver, preview(msg), now, 0); err != nil {
		e.logger.Debug("sidebar preview not updated", zap.Error(err))
	}

	e.typing.MessageSent()
	e.bus.Emit(bus.KindMessageAppended, msg)
	return msg, nil
}

// Messages returns the cached message list of a conversation in insertion
// order.
func (e *Engine) Messages(conversationID string, limit int) ([]store.Message, error) {
	return e.db.ListMessages(conversationID, limit)
}

func (e *Engine) run() {
	for {
		select {
		case evt := <-e.msgEvents:
			e.handleMessageEvent(evt)
		case evt := <-e.histEvents:
			e.handleHistory(evt)
		case evt := <-e.roomEvents:
			e.handleJoinFailure(evt)
		case <-e.stop:
			return
		}
	}
}

func (e *Engine) handleMessageEvent(evt bus.Event) {
	switch evt.Kind {
	case transport.WireKind(transport.EventMessageSent):
		if p, ok := evt.Payload.(*transport.MessageSentPayload); ok {
			e.reconcile(p)
		}
	case transport.WireKind(transport.EventMessageReceived):
		if p, ok := evt.Payload.(*transport.MessageReceivedPayload); ok {
			e.receive(&p.Message)
		}
	case transport.WireKind(transport.EventMessageStatusUpdated):
		if p, ok := evt.Payload.(*transport.MessageStatusPayload); ok {
			e.advanceStatus(p)
		}
	case transport.WireKind(transport.EventMessageError):
		if p, ok := evt.Payload.(*transport.ErrorPayload); ok {
			e.logger.Warn("server rejected a message", zap.String("error", p.Error))
		}
	}
}

// reconcile folds the server confirmation into the optimistic row: the
// client id matches exactly one message, which gains its server id and
// canonical timestamp in place rather than appearing twice.
func (e *Engine) reconcile(p *transport.MessageSentPayload) {
	clientID := p.ClientMsgID
	if clientID == "" {
		clientID = p.Message.ClientMsgID
	}
	if clientID == "" {
		e.logger.Warn("confirmation without client id dropped",
			zap.String("server_id", p.Message.ServerMsgID))
		return
	}
	conv := conversationOf(&p.Message, e.id.UserID())
	if err := e.db.SetMessageServerID(conv, clientID, p.Message.ServerMsgID, p.Message.SentAt); err != nil {
		e.logger.Error("reconciliation not persisted",
			zap.String("client_id", clientID), zap.Error(err))
		return
	}
	if err := e.db.MarkOutboxAcked(clientID, p.Message.ServerMsgID); err != nil {
		e.logger.Error("outbox ack not persisted", zap.String("client_id", clientID), zap.Error(err))
	}
	if p.Message.Status != "" && p.Message.Status != store.StatusSent {
		if _, err := e.db.AdvanceMessageStatus(conv, clientID, p.Message.Status); err != nil {
			e.logger.Error("confirmed status not persisted", zap.Error(err))
		}
	}
	e.bus.Emit(bus.KindMessageReconciled, p)
}

func (e *Engine) receive(m *store.Message) {
	conv := conversationOf(m, e.id.UserID())
	m.ConversationID = conv
	if m.Status == "" {
		m.Status = store.StatusDelivered
	}
	if err := e.db.UpsertMessage(m); err != nil {
		e.logger.Error("inbound message not persisted",
			zap.String("conversation", conv), zap.Error(err))
		return
	}

	e.mu.Lock()
	isActive := conv == e.active
	e.mu.Unlock()

	if isActive {
		if err := e.db.UpdateContactSummary(conv, preview(m), m.SentAt, 0); err != nil {
			e.logger.Debug("sidebar preview not updated", zap.Error(err))
		}
		// We are looking at it, so the read receipt goes straight out.
		if err := e.emitter.Emit(transport.EventMarkRead, &transport.RoomPayload{ConversationID: conv}); err != nil {
			e.logger.Debug("mark_read not sent", zap.Error(err))
		}
		e.bus.Emit(bus.KindMessageAppended, m)
		return
	}

	if err := e.db.IncrementUnread(conv, preview(m), m.SentAt); err != nil {
		e.logger.Error("unread counter not bumped", zap.String("conversation", conv), zap.Error(err))
	}
	e.bus.Emit(bus.KindContactUpdated, conv)
}

func (e *Engine) advanceStatus(p *transport.MessageStatusPayload) {
	changed, err := e.db.AdvanceMessageStatus(p.ConversationID, p.MessageID, p.Status)
	if err != nil {
		e.logger.Error("status update not persisted",
			zap.String("message", p.MessageID), zap.Error(err))
		return
	}
	if changed {
		e.bus.Emit(bus.KindMessageStatusChanged, p)
	}
}

// handleHistory installs a get_messages response, but only when it still
// belongs to the conversation the user is looking at; a slow response for a
// previously selected conversation is dropped.
func (e *Engine) handleHistory(evt bus.Event) {
	p, ok := evt.Payload.(*transport.MessagesPayload)
	if !ok {
		return
	}
	e.mu.Lock()
	stale := p.ConversationID != e.active
	e.mu.Unlock()
	if stale {
		e.logger.Debug("stale history dropped", zap.String("conversation", p.ConversationID))
		return
	}

	for i := range p.Messages {
		p.Messages[i].ConversationID = p.ConversationID
		if p.Messages[i].Status == "" {
			p.Messages[i].Status = store.StatusDelivered
		}
	}
	if err := e.db.ReplaceConversation(p.ConversationID, p.Messages); err != nil {
		e.logger.Error("history not persisted", zap.String("conversation", p.ConversationID), zap.Error(err))
		return
	}
	// Optimistic sends that raced the history request are not in the
	// server's list yet; put them back so they stay visible.
	if err := e.restorePending(p.ConversationID); err != nil {
		e.logger.Error("pending sends not restored", zap.Error(err))
	}
	e.bus.Emit(bus.KindConversationLoaded, p.ConversationID)
}

func (e *Engine) restorePending(conversationID string) error {
	pending, err := e.db.PendingOutbox()
	if err != nil {
		return err
	}
	self := e.id.UserID()
	for _, entry := range pending {
		if entry.ConversationID != conversationID {
			continue
		}
		msg := &store.Message{
			ClientMsgID:    entry.ClientMsgID,
			ConversationID: entry.ConversationID,
			SenderID:       self,
			ReceiverID:     entry.ReceiverID,
			Kind:           entry.Kind,
			Body:           entry.Body,
			Status:         store.StatusSent,
			SentAt:         time.Now().UnixMilli(),
		}
		if entry.AttachmentURL != "" {
			msg.Attachment = &store.Attachment{
				URL:  entry.AttachmentURL,
				Name: entry.AttachmentName,
				Size: entry.AttachmentSize,
			}
		}
		if err := e.db.UpsertMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

// handleJoinFailure abandons the active conversation when its room join was
// rejected: the user cannot read or write it, so the selection reverts to
// none.
func (e *Engine) handleJoinFailure(evt bus.Event) {
	p, ok := evt.Payload.(*transport.RoomErrorPayload)
	if !ok {
		return
	}
	e.mu.Lock()
	if e.active != p.ConversationID {
		e.mu.Unlock()
		return
	}
	e.active = ""
	e.mu.Unlock()

	e.typing.SetActive("")
	e.bus.Emit(bus.KindConversationCleared, p.ConversationID)
}

// conversationOf resolves which conversation a message belongs to from our
// side of the wire: messages we sent file under the receiver, messages we
// got file under the sender.
func conversationOf(m *store.Message, self string) string {
	if m.ConversationID != "" {
		return m.ConversationID
	}
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

func preview(m *store.Message) string {
	if m.Body != "" {
		return m.Body
	}
	if m.Attachment != nil {
		return m.Attachment.Name
	}
	return ""
}
