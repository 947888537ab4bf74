package transport

import (
	"encoding/json"

	"github.com/pigeon-im/pigeon/internal/store"
)

// Frame is the envelope for every message on the socket.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Typed payloads, one per inbound event name. Frames are decoded into these
// at the transport boundary so nothing downstream ever sees raw JSON.

// RoomPayload is carried by join_room, leave_room, join_room_success and
// mark_read. The conversation id of a one-to-one chat is the peer contact id.
type RoomPayload struct {
	ConversationID string `json:"contactId"`
}

// RoomErrorPayload is carried by join_room_error.
type RoomErrorPayload struct {
	ConversationID string `json:"contactId"`
	Error          string `json:"error"`
}

// SendMessagePayload is the outbound send_message request. ClientMsgID is
// echoed verbatim by the server's message_sent confirmation.
type SendMessagePayload struct {
	ClientMsgID string            `json:"clientMsgId"`
	SenderID    string            `json:"senderId"`
	ReceiverID  string            `json:"receiverId"`
	Kind        string            `json:"kind"`
	Body        string            `json:"body,omitempty"`
	Attachment  *store.Attachment `json:"attachment,omitempty"`
}

// MessageSentPayload is the server confirmation of a send, carrying the
// persisted message with its server id and canonical timestamp.
type MessageSentPayload struct {
	ClientMsgID string        `json:"clientMsgId"`
	Message     store.Message `json:"message"`
}

// MessageReceivedPayload is an inbound message from a peer.
type MessageReceivedPayload struct {
	Message store.Message `json:"message"`
}

// MessageStatusPayload is carried by message_status_updated.
type MessageStatusPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Status         string `json:"status"`
}

// TypingPayload is carried by typing_started and typing_stopped.
type TypingPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// ContactStatusPayload is carried by contact_status_update.
type ContactStatusPayload struct {
	ContactID string `json:"contactId"`
	Status    string `json:"status"`
}

// ContactsChangedPayload is the sidebar summary delta pushed when a
// conversation changes while it is not the receiver's active one.
type ContactsChangedPayload struct {
	SenderID    string `json:"senderId"`
	ReceiverID  string `json:"receiverId"`
	Unread      int    `json:"unread"`
	LastMessage string `json:"lastMessage"`
	TimeUnixMs  int64  `json:"time"`
}

// ContactsPayload is carried by get_contacts_success.
type ContactsPayload struct {
	Contacts []store.Contact `json:"contacts"`
}

// MessagesPayload is carried by get_messages_success. ConversationID names
// the conversation the list belongs to so a late response can be matched
// against the active selection.
type MessagesPayload struct {
	ConversationID string          `json:"contactId"`
	Messages       []store.Message `json:"messages"`
}

// ErrorPayload is carried by message_error and get_contacts_error.
type ErrorPayload struct {
	Error string `json:"error"`
}

// ProfileUpdatePayload is the outbound update_profile request.
type ProfileUpdatePayload struct {
	AvatarURL string `json:"avatarUrl"`
}

// ProfileUpdatedPayload is carried by contact_profile_updated.
type ProfileUpdatedPayload struct {
	ContactID string `json:"contactId"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// EmptyPayload is used by events that carry no data.
type EmptyPayload struct{}
