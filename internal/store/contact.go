package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertContact inserts or updates a contact. Identity fields overwrite;
// summary fields (preview, unread) are only overwritten when non-zero so a
// directory refresh does not wipe conversation summaries.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (id, display_name, email, avatar_url, presence, last_message_preview, last_message_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE contacts.email END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE contacts.avatar_url END,
			presence = CASE WHEN excluded.presence != '' THEN excluded.presence ELSE contacts.presence END,
			last_message_preview = CASE WHEN excluded.last_message_preview != '' THEN excluded.last_message_preview ELSE contacts.last_message_preview END,
			last_message_at = MAX(contacts.last_message_at, excluded.last_message_at),
			unread_count = CASE WHEN excluded.unread_count != 0 THEN excluded.unread_count ELSE contacts.unread_count END,
			updated_at = excluded.updated_at`,
		c.ID, c.DisplayName, c.Email, c.AvatarURL, c.Presence, c.LastMessagePreview, c.LastMessageAt, c.UnreadCount, now)
	return err
}

// BulkUpsertContacts inserts or updates multiple contacts in one transaction.
func (db *DB) BulkUpsertContacts(contacts []Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, display_name, email, avatar_url, presence, last_message_preview, last_message_at, unread_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
				email = CASE WHEN excluded.email != '' THEN excluded.email ELSE contacts.email END,
				avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE contacts.avatar_url END,
				presence = CASE WHEN excluded.presence != '' THEN excluded.presence ELSE contacts.presence END,
				last_message_preview = CASE WHEN excluded.last_message_preview != '' THEN excluded.last_message_preview ELSE contacts.last_message_preview END,
				last_message_at = MAX(contacts.last_message_at, excluded.last_message_at),
				unread_count = CASE WHEN excluded.unread_count != 0 THEN excluded.unread_count ELSE contacts.unread_count END,
				updated_at = excluded.updated_at`,
			c.ID, c.DisplayName, c.Email, c.AvatarURL, c.Presence, c.LastMessagePreview, c.LastMessageAt, c.UnreadCount, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetContact returns a contact by id, or nil if unknown.
func (db *DB) GetContact(id string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT id, display_name, email, avatar_url, presence, last_message_preview, last_message_at, unread_count
		FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.DisplayName, &c.Email, &c.AvatarURL, &c.Presence, &c.LastMessagePreview, &c.LastMessageAt, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns all contacts sorted by last message time descending.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`
		SELECT id, display_name, email, avatar_url, presence, last_message_preview, last_message_at, unread_count
		FROM contacts
		ORDER BY last_message_at DESC, display_name ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.Email, &c.AvatarURL, &c.Presence, &c.LastMessagePreview, &c.LastMessageAt, &c.UnreadCount); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// UpdateContactPresence sets only the presence column for one contact.
func (db *DB) UpdateContactPresence(id, presence string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE contacts SET presence = ?, updated_at = ? WHERE id = ?`, presence, now, id)
	return err
}

// UpdateContactSummary sets the sidebar summary for one contact. Messages
// can arrive from peers the contact list has not caught up with yet, so a
// missing contact row is created rather than skipped; the next contact sync
// fills in its name and avatar.
func (db *DB) UpdateContactSummary(id, preview string, at int64, unread int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (id, last_message_preview, last_message_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_preview = excluded.last_message_preview,
			last_message_at = excluded.last_message_at,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		id, preview, at, unread, now)
	return err
}

// IncrementUnread bumps the unread counter and refreshes the preview for a
// contact whose conversation is not currently active. Like
// UpdateContactSummary it creates the row when the sender is not in the
// contact list yet.
func (db *DB) IncrementUnread(id, preview string, at int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (id, last_message_preview, last_message_at, unread_count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			unread_count = contacts.unread_count + 1,
			last_message_preview = excluded.last_message_preview,
			last_message_at = excluded.last_message_at,
			updated_at = excluded.updated_at`,
		id, preview, at, now)
	return err
}

// ClearUnread zeroes the unread counter for a contact.
func (db *DB) ClearUnread(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE contacts SET unread_count = 0, updated_at = ? WHERE id = ?`, now, id)
	return err
}
