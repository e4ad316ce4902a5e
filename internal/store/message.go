package store

import "time"

// UpsertMessage inserts or updates a cached message, keyed on the
// conversation plus the server id (or client id until one is assigned).
// is_read only ever flips forward.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_key, server_id, client_id, sender_id, receiver_id,
			body, message_type, attachment_url, attachment_file_name, is_read, send_state, created_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_key) DO UPDATE SET
			server_id = excluded.server_id,
			body = excluded.body,
			attachment_url = excluded.attachment_url,
			attachment_file_name = excluded.attachment_file_name,
			is_read = MAX(messages.is_read, excluded.is_read),
			send_state = excluded.send_state`,
		m.ConversationID, m.Key(), m.ID, m.ClientID, m.SenderID, m.ReceiverID,
		m.Text, m.MessageType, m.AttachmentURL, m.AttachmentFileName, m.IsRead, m.SendState, m.CreatedAt, now)
	return err
}

// ConfirmMessage replaces an optimistic cache row with its authoritative
// server copy. The push echo of the send may already have cached a row under
// the server key, so the client-keyed row is removed first and the
// authoritative copy upserted; a plain key-rewrite would collide on
// UNIQUE(conversation_id, msg_key) and strand the stale sending row.
func (db *DB) ConfirmMessage(conversationID, clientID string, authoritative *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_key = ?`,
		conversationID, clientID); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO messages (conversation_id, msg_key, server_id, client_id, sender_id, receiver_id,
			body, message_type, attachment_url, attachment_file_name, is_read, send_state, created_at, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_key) DO UPDATE SET
			client_id = excluded.client_id,
			body = excluded.body,
			attachment_url = excluded.attachment_url,
			attachment_file_name = excluded.attachment_file_name,
			is_read = MAX(messages.is_read, excluded.is_read),
			send_state = excluded.send_state,
			created_at = excluded.created_at`,
		conversationID, authoritative.ID, authoritative.ID, clientID,
		authoritative.SenderID, authoritative.ReceiverID,
		authoritative.Text, authoritative.MessageType,
		authoritative.AttachmentURL, authoritative.AttachmentFileName,
		authoritative.IsRead, SendStateSent, authoritative.CreatedAt, now); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkMessageFailed flags an optimistic entry whose confirmation never arrived.
func (db *DB) MarkMessageFailed(conversationID, clientID string) error {
	_, err := db.Exec(`
		UPDATE messages SET send_state = ?
		WHERE conversation_id = ? AND msg_key = ? AND server_id = ''`,
		SendStateFailed, conversationID, clientID)
	return err
}

// MarkInboundRead flips is_read on every cached message in the conversation
// not authored by the given user. Monotonic: rows already read are untouched.
func (db *DB) MarkInboundRead(conversationID, selfID string) error {
	_, err := db.Exec(`
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND sender_id != ? AND is_read = 0`,
		conversationID, selfID)
	return err
}

// MarkOutboundRead flips is_read on the user's own sent messages after a
// remote read receipt.
func (db *DB) MarkOutboundRead(conversationID, selfID string) error {
	_, err := db.Exec(`
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND sender_id = ? AND is_read = 0`,
		conversationID, selfID)
	return err
}

// ListMessages returns cached messages for a conversation in ascending
// timestamp order, using keyset pagination backwards from beforeTs.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT server_id, client_id, conversation_id, sender_id, receiver_id,
			body, message_type, attachment_url, attachment_file_name, is_read, send_state, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ClientID, &m.ConversationID, &m.SenderID, &m.ReceiverID,
			&m.Text, &m.MessageType, &m.AttachmentURL, &m.AttachmentFileName, &m.IsRead, &m.SendState, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query walks newest-first for the keyset; flip to display order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
