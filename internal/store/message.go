package store

import (
	"database/sql"
	"time"
)

// UpsertMessage inserts or updates a message, idempotent on
// (conversation_id, msg_key). Status only moves forward in the
// sent < delivered < read ordering; a stale update cannot regress it.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	var url, name string
	var size int64
	if m.Attachment != nil {
		url, name, size = m.Attachment.URL, m.Attachment.Name, m.Attachment.Size
	}
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_key, client_msg_id, server_msg_id, sender_id, receiver_id, kind, body, attachment_url, attachment_name, attachment_size, status, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_key) DO UPDATE SET
			server_msg_id = CASE WHEN excluded.server_msg_id != '' THEN excluded.server_msg_id ELSE messages.server_msg_id END,
			body = excluded.body,
			status = CASE
				WHEN excluded.status = 'read' THEN 'read'
				WHEN excluded.status = 'delivered' AND messages.status = 'sent' THEN 'delivered'
				WHEN excluded.status = 'failed' AND messages.status = 'sent' THEN 'failed'
				ELSE messages.status
			END`,
		m.ConversationID, m.Key(), m.ClientMsgID, m.ServerMsgID, m.SenderID, m.ReceiverID, m.Kind, m.Body, url, name, size, m.Status, m.SentAt, now)
	return err
}

// SetMessageServerID records the server-assigned id and canonical timestamp
// on a previously optimistic message, located by its client id.
func (db *DB) SetMessageServerID(conversationID, clientMsgID, serverMsgID string, sentAt int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE messages SET server_msg_id = ?, sent_at = CASE WHEN ? > 0 THEN ? ELSE sent_at END, created_at = ?
		WHERE conversation_id = ? AND client_msg_id = ?`,
		serverMsgID, sentAt, sentAt, now, conversationID, clientMsgID)
	return err
}

// AdvanceMessageStatus moves a message's status forward, matching by server
// id first and falling back to client id. Status update events carry only
// the message id, so conversationID narrows the match when known and may be
// empty. Regressions are ignored: status only moves forward. Returns true
// if a row actually changed.
func (db *DB) AdvanceMessageStatus(conversationID, messageID, newStatus string) (bool, error) {
	var current string
	err := db.QueryRow(`
		SELECT status FROM messages
		WHERE (?1 = '' OR conversation_id = ?1) AND (server_msg_id = ?2 OR client_msg_id = ?2 OR msg_key = ?2)`,
		conversationID, messageID).Scan(&current)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !StatusAdvances(current, newStatus) {
		return false, nil
	}
	_, err = db.Exec(`
		UPDATE messages SET status = ?1
		WHERE (?2 = '' OR conversation_id = ?2) AND (server_msg_id = ?3 OR client_msg_id = ?3 OR msg_key = ?3)`,
		newStatus, conversationID, messageID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkMessageFailed marks an optimistic message as failed by client id.
func (db *DB) MarkMessageFailed(conversationID, clientMsgID string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND client_msg_id = ? AND status = ?`,
		StatusFailed, conversationID, clientMsgID, StatusSent)
	return err
}

// ListMessages returns a conversation's messages in insertion order.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, client_msg_id, server_msg_id, conversation_id, sender_id, receiver_id, kind, body, attachment_url, attachment_name, attachment_size, status, sent_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var url, name string
		var size int64
		if err := rows.Scan(&m.RowID, &m.ClientMsgID, &m.ServerMsgID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Kind, &m.Body, &url, &name, &size, &m.Status, &m.SentAt); err != nil {
			return nil, err
		}
		if url != "" {
			m.Attachment = &Attachment{URL: url, Name: name, Size: size}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ReplaceConversation swaps the cached messages for a conversation with a
// freshly fetched list, in one transaction.
func (db *DB) ReplaceConversation(conversationID string, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for i := range msgs {
		m := &msgs[i]
		var url, name string
		var size int64
		if m.Attachment != nil {
			url, name, size = m.Attachment.URL, m.Attachment.Name, m.Attachment.Size
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_key, client_msg_id, server_msg_id, sender_id, receiver_id, kind, body, attachment_url, attachment_name, attachment_size, status, sent_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			conversationID, m.Key(), m.ClientMsgID, m.ServerMsgID, m.SenderID, m.ReceiverID, m.Kind, m.Body, url, name, size, m.Status, m.SentAt, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
