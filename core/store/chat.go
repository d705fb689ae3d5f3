package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/relabs-tech/kumii/core/csql"
)

// ListConversations returns the conversations the user actively participates in, most
// recently active first, together with the total number of such conversations.
func (s *Store) ListConversations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Conversation, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, s.db.Q(`SELECT count(*) FROM {schema}.conversation_participants
WHERE user_id = $1 AND left_at IS NULL;`), userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.db.Q(`SELECT c.id, c.type, c.name, c.created_by, c.created_at, c.updated_at, c.last_message_at
FROM {schema}.conversation_participants cp
JOIN {schema}.conversations c ON c.id = cp.conversation_id
WHERE cp.user_id = $1 AND cp.left_at IS NULL
ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
LIMIT $2 OFFSET $3;`), userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Type, &c.Name, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt, &c.LastMessageAt); err != nil {
			return nil, 0, err
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := s.loadParticipants(ctx, s.db, conversations); err != nil {
		return nil, 0, err
	}
	return conversations, total, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// loadParticipants attaches the active participants to each conversation
func (s *Store) loadParticipants(ctx context.Context, q querier, conversations []Conversation) error {
	if len(conversations) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(conversations))
	index := make(map[uuid.UUID]int, len(conversations))
	for i := range conversations {
		ids[i] = conversations[i].ID
		index[conversations[i].ID] = i
		conversations[i].Participants = []Participant{}
	}
	rows, err := q.QueryContext(ctx, s.db.Q(`SELECT cp.conversation_id, cp.user_id, cp.joined_at, `+profileSelect("p")+`
FROM {schema}.conversation_participants cp
LEFT JOIN {schema}.profiles p ON p.id = cp.user_id
WHERE cp.conversation_id = ANY($1::uuid[]) AND cp.left_at IS NULL
ORDER BY cp.joined_at;`), uuidArray(ids))
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var conversationID uuid.UUID
		var p Participant
		var profile profileColumns
		if err := rows.Scan(append([]interface{}{&conversationID, &p.UserID, &p.JoinedAt}, profile.dest()...)...); err != nil {
			return err
		}
		p.Profile = profile.summary()
		i := index[conversationID]
		conversations[i].Participants = append(conversations[i].Participants, p)
	}
	return rows.Err()
}

// FindDirectConversation returns the direct conversation between the two users, or
// ErrNotFound if there is none.
func (s *Store) FindDirectConversation(ctx context.Context, a, b uuid.UUID) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx, s.db.Q(`SELECT c.id, c.type, c.name, c.created_by, c.created_at, c.updated_at, c.last_message_at
FROM {schema}.conversations c
WHERE c.type = 'direct'
AND EXISTS (SELECT 1 FROM {schema}.conversation_participants WHERE conversation_id = c.id AND user_id = $1)
AND EXISTS (SELECT 1 FROM {schema}.conversation_participants WHERE conversation_id = c.id AND user_id = $2)
AND (SELECT count(*) FROM {schema}.conversation_participants WHERE conversation_id = c.id) = 2
ORDER BY c.created_at
LIMIT 1;`), a, b).Scan(&c.ID, &c.Type, &c.Name, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt, &c.LastMessageAt)
	if err != nil {
		return nil, notFound(err)
	}
	list := []Conversation{c}
	if err := s.loadParticipants(ctx, s.db, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// CreateConversation creates a conversation with all participants in one transaction. If
// the participants cannot be added, nothing is created and ErrAddParticipants is returned.
func (s *Store) CreateConversation(ctx context.Context, nc NewConversation) (*Conversation, error) {
	var c Conversation
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.db.Q(`INSERT INTO {schema}.conversations (type, name, created_by)
VALUES ($1, $2, $3)
RETURNING id, type, name, created_by, created_at, updated_at, last_message_at;`), nc.Type, nc.Name, nc.CreatedBy).
			Scan(&c.ID, &c.Type, &c.Name, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt, &c.LastMessageAt)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.db.Q(`INSERT INTO {schema}.conversation_participants (conversation_id, user_id)
SELECT $1, unnest($2::uuid[]);`), c.ID, uuidArray(nc.Participants))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAddParticipants, err)
		}
		list := []Conversation{c}
		if err := s.loadParticipants(ctx, tx, list); err != nil {
			return err
		}
		c = list[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// IsParticipant returns true if the user actively participates in the conversation
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, s.db.Q(`SELECT EXISTS (SELECT 1 FROM {schema}.conversation_participants
WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL);`), conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

const messageSelect = `SELECT m.id, m.conversation_id, m.sender_id, m.content, m.edited, m.edited_at, m.deleted, m.created_at, `

func scanMessage(scan func(dest ...interface{}) error) (*Message, error) {
	var m Message
	var sender profileColumns
	err := scan(append([]interface{}{&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Edited, &m.EditedAt, &m.Deleted, &m.CreatedAt}, sender.dest()...)...)
	if err != nil {
		return nil, err
	}
	m.Sender = sender.summary()
	m.Reactions = []Reaction{}
	m.Reads = []Read{}
	m.Attachments = []Attachment{}
	return &m, nil
}

// ListMessages returns up to limit non-deleted messages of the conversation in
// chronological order. They are the most recent ones, or the most recent ones created
// before the message before, if given. An unknown before message is ignored.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int, before *uuid.UUID) ([]Message, error) {
	query := messageSelect + profileSelect("p") + `
FROM {schema}.messages m
LEFT JOIN {schema}.profiles p ON p.id = m.sender_id
WHERE m.conversation_id = $1 AND m.deleted = false
AND m.created_at < COALESCE((SELECT created_at FROM {schema}.messages WHERE id = $3), 'infinity'::timestamptz)
ORDER BY m.created_at DESC
LIMIT $2;`
	var beforeArg interface{}
	if before != nil {
		beforeArg = *before
	}
	rows, err := s.db.QueryContext(ctx, s.db.Q(query), conversationID, limit, beforeArg)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest first from the database, oldest first for the client
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	if err := s.loadMessageDetails(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// loadMessageDetails attaches reactions, read receipts and attachments to the messages
func (s *Store) loadMessageDetails(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(messages))
	index := make(map[uuid.UUID]int, len(messages))
	for i := range messages {
		ids[i] = messages[i].ID
		index[messages[i].ID] = i
	}

	rows, err := s.db.QueryContext(ctx, s.db.Q(`SELECT id, message_id, user_id, emoji, created_at FROM {schema}.message_reactions
WHERE message_id = ANY($1::uuid[]) ORDER BY created_at;`), uuidArray(ids))
	if err != nil {
		return fmt.Errorf("list reactions: %w", err)
	}
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		m := &messages[index[r.MessageID]]
		m.Reactions = append(m.Reactions, r)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, s.db.Q(`SELECT message_id, user_id, read_at FROM {schema}.message_reads
WHERE message_id = ANY($1::uuid[]) ORDER BY read_at;`), uuidArray(ids))
	if err != nil {
		return fmt.Errorf("list reads: %w", err)
	}
	for rows.Next() {
		var messageID uuid.UUID
		var r Read
		if err := rows.Scan(&messageID, &r.UserID, &r.ReadAt); err != nil {
			rows.Close()
			return err
		}
		m := &messages[index[messageID]]
		m.Reads = append(m.Reads, r)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, s.db.Q(`SELECT id, message_id, file_name, file_type, file_size, storage_key, created_at
FROM {schema}.attachments WHERE message_id = ANY($1::uuid[]) ORDER BY created_at;`), uuidArray(ids))
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.FileType, &a.FileSize, &a.StorageKey, &a.CreatedAt); err != nil {
			return err
		}
		m := &messages[index[a.MessageID]]
		m.Attachments = append(m.Attachments, a)
	}
	return rows.Err()
}

// GetMessage returns a single message including deleted ones
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := s.db.QueryRowContext(ctx, s.db.Q(messageSelect+profileSelect("p")+`
FROM {schema}.messages m
LEFT JOIN {schema}.profiles p ON p.id = m.sender_id
WHERE m.id = $1;`), id)
	m, err := scanMessage(row.Scan)
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

// CreateMessage inserts a message and bumps the last activity of the conversation
func (s *Store) CreateMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string) (*Message, error) {
	var id uuid.UUID
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var createdAt time.Time
		err := tx.QueryRowContext(ctx, s.db.Q(`INSERT INTO {schema}.messages (conversation_id, sender_id, content)
VALUES ($1, $2, $3) RETURNING id, created_at;`), conversationID, senderID, content).Scan(&id, &createdAt)
		if err != nil {
			if csql.IsForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("insert message: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.db.Q(`UPDATE {schema}.conversations SET last_message_at = $2, updated_at = now()
WHERE id = $1;`), conversationID, createdAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, id)
}

// UpdateMessage changes the content of a message of the sender and marks it as edited.
// ErrNotFound is returned if the sender has no such message.
func (s *Store) UpdateMessage(ctx context.Context, id, senderID uuid.UUID, content string) (*Message, error) {
	res, err := s.db.ExecContext(ctx, s.db.Q(`UPDATE {schema}.messages SET content = $3, edited = true, edited_at = now()
WHERE id = $1 AND sender_id = $2 AND deleted = false;`), id, senderID, content)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetMessage(ctx, id)
}

// DeleteMessage soft deletes a message of the sender
func (s *Store) DeleteMessage(ctx context.Context, id, senderID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, s.db.Q(`UPDATE {schema}.messages SET deleted = true, deleted_at = now()
WHERE id = $1 AND sender_id = $2 AND deleted = false;`), id, senderID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkMessageRead records that the user has read the message
func (s *Store) MarkMessageRead(ctx context.Context, messageID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, s.db.Q(`INSERT INTO {schema}.message_reads (message_id, user_id, read_at)
VALUES ($1, $2, now())
ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = EXCLUDED.read_at;`), messageID, userID)
	if csql.IsForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

// AddReaction adds an emoji reaction of the user to the message. Adding the same
// reaction twice is a no-op.
func (s *Store) AddReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (*Reaction, error) {
	var r Reaction
	err := s.db.QueryRowContext(ctx, s.db.Q(`INSERT INTO {schema}.message_reactions (message_id, user_id, emoji)
VALUES ($1, $2, $3)
ON CONFLICT (message_id, user_id, emoji) DO UPDATE SET emoji = EXCLUDED.emoji
RETURNING id, message_id, user_id, emoji, created_at;`), messageID, userID, emoji).
		Scan(&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt)
	if err != nil {
		if csql.IsForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("add reaction: %w", err)
	}
	return &r, nil
}

// SetTyping records that the user is typing in the conversation
func (s *Store) SetTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, s.db.Q(`INSERT INTO {schema}.typing_indicators (conversation_id, user_id, started_at)
VALUES ($1, $2, now())
ON CONFLICT (conversation_id, user_id) DO UPDATE SET started_at = EXCLUDED.started_at;`), conversationID, userID)
	return err
}

// CleanupTyping removes typing indicators which are older than maxAge and returns their number
func (s *Store) CleanupTyping(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Q(`DELETE FROM {schema}.typing_indicators WHERE started_at < $1;`), time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateAttachment inserts the attachment row of a stored file
func (s *Store) CreateAttachment(ctx context.Context, a Attachment) (*Attachment, error) {
	err := s.db.QueryRowContext(ctx, s.db.Q(`INSERT INTO {schema}.attachments (message_id, file_name, file_type, file_size, storage_key)
VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at;`), a.MessageID, a.FileName, a.FileType, a.FileSize, a.StorageKey).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if csql.IsForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("insert attachment: %w", err)
	}
	return &a, nil
}
