package transport

// Wire event names. These are the socket protocol's vocabulary; every frame
// on the connection is {"event": <name>, "data": <payload>}.
const (
	EventGoOnline  = "go_online"
	EventGoOffline = "go_offline"

	EventJoinRoom            = "join_room"
	EventLeaveRoom           = "leave_room"
	EventJoinAllRooms        = "join_all_rooms"
	EventJoinRoomSuccess     = "join_room_success"
	EventJoinRoomError       = "join_room_error"
	EventJoinAllRoomsSuccess = "join_all_rooms_success"

	EventSendMessage          = "send_message"
	EventMessageSent          = "message_sent"
	EventMessageReceived      = "message_received"
	EventMessageStatusUpdated = "message_status_updated"
	EventMessageError         = "message_error"
	EventGetMessages          = "get_messages"
	EventGetMessagesSuccess   = "get_messages_success"
	EventMarkRead             = "mark_read"

	EventTypingStarted = "typing_started"
	EventTypingStopped = "typing_stopped"

	EventContactStatusUpdate   = "contact_status_update"
	EventGetContacts           = "get_contacts"
	EventGetContactsSuccess    = "get_contacts_success"
	EventGetContactsError      = "get_contacts_error"
	EventContactsChanged       = "contacts_changed"
	EventUpdateProfile         = "update_profile"
	EventContactProfileUpdated = "contact_profile_updated"

	// EventForcedDisconnect is sent by the server right before it drops a
	// connection on purpose (revoked token, login elsewhere). Receiving it
	// means the cached token is no longer valid.
	EventForcedDisconnect = "forced_disconnect"
)
