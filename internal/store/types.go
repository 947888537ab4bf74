package store

// Presence values for contacts.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
	PresenceAway    = "away"
)

// Message kinds. Text messages carry a body and no attachment; media and
// file kinds carry an attachment and an optional caption body.
const (
	KindText  = "text"
	KindImage = "image"
	KindVideo = "video"
	KindFile  = "file"
)

// Message statuses. sent < delivered < read is the only forward ordering;
// failed is a local terminal state for sends that never left the client.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

var statusRank = map[string]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// StatusAdvances reports whether moving from to to is a strict advance in
// the sent < delivered < read ordering. Unknown statuses never advance.
func StatusAdvances(from, to string) bool {
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	return okFrom && okTo && toRank > fromRank
}

// Contact is one sidebar entry: the peer user plus the conversation summary.
type Contact struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"name"`
	Email              string `json:"email,omitempty"`
	AvatarURL          string `json:"avatarUrl,omitempty"`
	Presence           string `json:"status"`
	LastMessagePreview string `json:"lastMessage,omitempty"`
	LastMessageAt      int64  `json:"time,omitempty"`
	UnreadCount        int    `json:"unread"`
}

// Attachment describes the stored media object referenced by a message.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Message is a single chat message. ClientMsgID is generated client-side at
// submission and threaded through the send request; the server echoes it
// verbatim in the confirmation, which is what makes optimistic
// reconciliation deterministic. ServerMsgID is assigned once persisted.
type Message struct {
	RowID          int64       `json:"-"`
	ClientMsgID    string      `json:"clientMsgId,omitempty"`
	ServerMsgID    string      `json:"serverMsgId,omitempty"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId"`
	Kind           string      `json:"kind"`
	Body           string      `json:"body,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	Status         string      `json:"status"`
	SentAt         int64       `json:"sentAt"`
}

// Key returns the identity used for idempotent upserts: the client id for
// messages we originated, the server id for everything else.
func (m *Message) Key() string {
	if m.ClientMsgID != "" {
		return m.ClientMsgID
	}
	return m.ServerMsgID
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	ReceiverID     string
	Kind           string
	Body           string
	AttachmentURL  string
	AttachmentName string
	AttachmentSize int64
	Status         string // queued, emitted, acked, failed
	ErrorMessage   string
	ServerMsgID    string
}
