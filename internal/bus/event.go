package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kind namespaces. Subscribers filter by prefix, so related kinds
// share a dotted namespace ("wire." for decoded inbound frames, domain
// namespaces for everything the core publishes itself).
const (
	// Inbound wire frames, decoded at the transport boundary. The suffix
	// is the wire event name, e.g. "wire.message_received".
	KindWirePrefix = "wire."

	// Session lifecycle.
	KindSessionStateChanged = "session.state_changed"
	KindSessionExpired      = "session.expired"

	// Transport connection lifecycle.
	KindTransportConnected    = "transport.connected"
	KindTransportDisconnected = "transport.disconnected"

	// Active conversation and message list.
	KindMessageAppended      = "message.appended"
	KindMessageReconciled    = "message.reconciled"
	KindMessageStatusChanged = "message.status_changed"
	KindConversationOpened   = "conversation.opened"
	KindConversationLoaded   = "conversation.loaded"
	KindConversationCleared  = "conversation.cleared"

	// Room membership.
	KindRoomJoined     = "room.joined"
	KindRoomJoinFailed = "room.join_failed"
	KindRoomLeft       = "room.left"

	// Contacts and presence.
	KindContactPresence = "contact.presence"
	KindContactUpdated  = "contact.updated"

	// Peer typing indicator.
	KindTypingPeerStarted = "typing.peer_started"
	KindTypingPeerStopped = "typing.peer_stopped"

	// Outbox send results.
	KindOutboxEmitted    = "outbox.emitted"
	KindOutboxSendFailed = "outbox.send_failed"
)
