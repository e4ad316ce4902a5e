package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record. The
// last-message preview only moves forward in time, and a pending
// conversation promoted to persisted never reverts.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, participant_id, participant_name, participant_avatar,
			last_message, last_message_at, unread_count, is_online, pending, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			participant_id = excluded.participant_id,
			participant_name = excluded.participant_name,
			participant_avatar = excluded.participant_avatar,
			last_message = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message ELSE conversations.last_message END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			unread_count = excluded.unread_count,
			is_online = excluded.is_online,
			pending = MIN(conversations.pending, excluded.pending),
			updated_at = excluded.updated_at`,
		c.ID, c.ParticipantID, c.ParticipantName, c.ParticipantAvatar,
		c.LastMessage, c.LastMessageAt, c.UnreadCount, c.IsOnline, c.Pending, now)
	return err
}

// TouchConversation advances the last-message preview. Older previews are
// ignored so out-of-order ingestion cannot regress the conversation list.
func (db *DB) TouchConversation(id, lastMessage string, at int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations SET
			last_message = CASE WHEN ? >= last_message_at THEN ? ELSE last_message END,
			last_message_at = MAX(last_message_at, ?),
			updated_at = ?
		WHERE id = ?`,
		at, lastMessage, at, now, id)
	return err
}

// ListConversations returns conversations sorted by last message timestamp descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, participant_id, participant_name, participant_avatar,
			last_message, last_message_at, unread_count, is_online, pending
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ParticipantID, &c.ParticipantName, &c.ParticipantAvatar,
			&c.LastMessage, &c.LastMessageAt, &c.UnreadCount, &c.IsOnline, &c.Pending); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by id, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, participant_id, participant_name, participant_avatar,
			last_message, last_message_at, unread_count, is_online, pending
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.ParticipantID, &c.ParticipantName, &c.ParticipantAvatar,
			&c.LastMessage, &c.LastMessageAt, &c.UnreadCount, &c.IsOnline, &c.Pending)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// IncrementUnread bumps the unread counter for a non-active conversation.
func (db *DB) IncrementUnread(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET unread_count = unread_count + 1, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// ResetUnread clears the unread counter when a conversation becomes active.
func (db *DB) ResetUnread(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// SetOnline records the participant presence flag.
func (db *DB) SetOnline(id string, online bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET is_online = ?, updated_at = ? WHERE id = ?`, online, now, id)
	return err
}
