package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Chat is a one-to-one conversation between exactly two participants.
type Chat struct {
	Id           int64    `json:"id"`
	Participants []string `json:"participants"`
	CreatedAt    string   `json:"createdAt,omitempty"`
}

// Group is a named conversation owned by its creator.
type Group struct {
	Id           int64    `json:"id"`
	Name         string   `json:"name"`
	CreatorId    string   `json:"creatorId"`
	Participants []string `json:"participants,omitempty"`
	CreatedAt    string   `json:"createdAt,omitempty"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

// Message is a stored chat or group message.
type Message struct {
	Id        int64  `json:"id"`
	UserId    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
	ChatId    int64  `json:"chatId,omitempty"`
	GroupId   int64  `json:"groupId,omitempty"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// store wraps the PostgreSQL pool. Writes that follow an invitation only run
// after the gateway reports an accepted outcome.
type store struct {
	db *sql.DB
}

// CreateChat inserts a chat with exactly the two given participants.
func (s *store) CreateChat(ctx context.Context, fromUserId, toUserId string) (Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Chat{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var chat Chat
	err = tx.QueryRowContext(ctx,
		"INSERT INTO chats DEFAULT VALUES RETURNING id, created_at").
		Scan(&chat.Id, &chat.CreatedAt)
	if err != nil {
		return Chat{}, fmt.Errorf("insert chat: %w", err)
	}

	for _, userId := range []string{fromUserId, toUserId} {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)",
			chat.Id, userId); err != nil {
			return Chat{}, fmt.Errorf("insert participant %s: %w", userId, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Chat{}, fmt.Errorf("commit: %w", err)
	}
	chat.Participants = []string{fromUserId, toUserId}
	return chat, nil
}

// ListChats returns every chat the user participates in, with all
// participants of each.
func (s *store) ListChats(ctx context.Context, userId string) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.created_at, array_agg(p.user_id ORDER BY p.user_id)
		 FROM chats c
		 JOIN chat_participants p ON p.chat_id = c.id
		 WHERE c.id IN (SELECT chat_id FROM chat_participants WHERE user_id = $1)
		 GROUP BY c.id, c.created_at
		 ORDER BY c.id`, userId)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.Id, &chat.CreatedAt, pq.Array(&chat.Participants)); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// DeleteChat removes the chat, its participants, and its messages.
func (s *store) DeleteChat(ctx context.Context, chatId int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = $1", chatId)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateGroup inserts a group with the creator as its first participant.
func (s *store) CreateGroup(ctx context.Context, name, creatorId string) (Group, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Group{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var group Group
	err = tx.QueryRowContext(ctx,
		`INSERT INTO groups (name, creator_id) VALUES ($1, $2)
		 RETURNING id, name, creator_id, created_at, updated_at`,
		name, creatorId).
		Scan(&group.Id, &group.Name, &group.CreatorId, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return Group{}, fmt.Errorf("insert group: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO group_participants (group_id, user_id) VALUES ($1, $2)",
		group.Id, creatorId); err != nil {
		return Group{}, fmt.Errorf("insert creator participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Group{}, fmt.Errorf("commit: %w", err)
	}
	group.Participants = []string{creatorId}
	return group, nil
}

// ListGroups returns every group the user participates in.
func (s *store) ListGroups(ctx context.Context, userId string) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id, g.name, g.creator_id, g.created_at, g.updated_at,
		        array_agg(p.user_id ORDER BY p.user_id)
		 FROM groups g
		 JOIN group_participants p ON p.group_id = g.id
		 WHERE g.id IN (SELECT group_id FROM group_participants WHERE user_id = $1)
		 GROUP BY g.id
		 ORDER BY g.id`, userId)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	groups := []Group{}
	for rows.Next() {
		var group Group
		if err := rows.Scan(&group.Id, &group.Name, &group.CreatorId,
			&group.CreatedAt, &group.UpdatedAt, pq.Array(&group.Participants)); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// UpdateGroup renames a group; only its creator can.
func (s *store) UpdateGroup(ctx context.Context, groupId int64, creatorId, name string) (Group, error) {
	var group Group
	err := s.db.QueryRowContext(ctx,
		`UPDATE groups SET name = $3, updated_at = now()
		 WHERE id = $1 AND creator_id = $2
		 RETURNING id, name, creator_id, created_at, updated_at`,
		groupId, creatorId, name).
		Scan(&group.Id, &group.Name, &group.CreatorId, &group.CreatedAt, &group.UpdatedAt)
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

// DeleteGroup removes a group; only its creator can.
func (s *store) DeleteGroup(ctx context.Context, groupId int64, creatorId string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM groups WHERE id = $1 AND creator_id = $2", groupId, creatorId)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddGroupParticipant links a user to a group. Idempotent.
func (s *store) AddGroupParticipant(ctx context.Context, groupId int64, userId string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_participants (group_id, user_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, groupId, userId)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// RemoveGroupParticipant unlinks a user from a group.
func (s *store) RemoveGroupParticipant(ctx context.Context, groupId int64, userId string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM group_participants WHERE group_id = $1 AND user_id = $2",
		groupId, userId)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateMessage inserts a message into a chat or a group.
func (s *store) CreateMessage(ctx context.Context, msg Message) (Message, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (user_id, user_name, chat_id, group_id, text)
		 VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, 0), $5)
		 RETURNING id, created_at, updated_at`,
		msg.UserId, msg.UserName, msg.ChatId, msg.GroupId, msg.Text).
		Scan(&msg.Id, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// ListMessages pages through a chat's or group's messages, newest first.
func (s *store) ListMessages(ctx context.Context, belonger string, id int64, skip, take int) ([]Message, error) {
	column := "chat_id"
	if belonger == "group" {
		column = "group_id"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, user_id, user_name, COALESCE(chat_id, 0), COALESCE(group_id, 0),
		        text, created_at, updated_at
		 FROM messages WHERE %s = $1
		 ORDER BY created_at DESC OFFSET $2 LIMIT $3`, column),
		id, skip, take)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Id, &msg.UserId, &msg.UserName, &msg.ChatId,
			&msg.GroupId, &msg.Text, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// UpdateMessage edits a message's text; only its author can.
func (s *store) UpdateMessage(ctx context.Context, messageId int64, userId, text string) (Message, error) {
	var msg Message
	err := s.db.QueryRowContext(ctx,
		`UPDATE messages SET text = $3, updated_at = now()
		 WHERE id = $1 AND user_id = $2
		 RETURNING id, user_id, user_name, COALESCE(chat_id, 0), COALESCE(group_id, 0),
		           text, created_at, updated_at`,
		messageId, userId, text).
		Scan(&msg.Id, &msg.UserId, &msg.UserName, &msg.ChatId, &msg.GroupId,
			&msg.Text, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// DeleteMessage removes a message; only its author can.
func (s *store) DeleteMessage(ctx context.Context, messageId int64, userId string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE id = $1 AND user_id = $2", messageId, userId)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
