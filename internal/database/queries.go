package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgChatRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, status_message FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.StatusMessage,
	)

	return user, err
}

func (db *PgChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, status_message FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.StatusMessage,
	)

	return user, err
}

func (db *PgChatRepository) UpdateStatusMessage(accountId int, statusMessage string) error {
	_, err := db.conn.Exec(
		"UPDATE accounts SET status_message = $2, updated_at = $3 WHERE id = $1",
		accountId,
		statusMessage,
		time.Now().UTC(),
	)

	return err
}

func (db *PgChatRepository) SetUserOffline(ctx context.Context, accountId int) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE accounts SET is_online = false, last_seen = $2 WHERE id = $1",
		accountId,
		time.Now().UTC(),
	)

	return err
}

func (db *PgChatRepository) IsChatMember(accountId, chatId int) bool {
	var exists bool
	err := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM chat_members WHERE account_id = $1 AND chat_id = $2)",
		accountId,
		chatId,
	).Scan(&exists)

	return err == nil && exists
}

func (db *PgChatRepository) IsChatAdmin(accountId, chatId int) bool {
	var exists bool
	err := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM chat_members "+
			"WHERE account_id = $1 AND chat_id = $2 AND role = 'admin')",
		accountId,
		chatId,
	).Scan(&exists)

	return err == nil && exists
}

func (db *PgChatRepository) IsBlocked(accountId, otherId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM blocks "+
			"WHERE (blocker_id = $1 AND blocked_id = $2) OR (blocker_id = $2 AND blocked_id = $1))",
		accountId,
		otherId,
	).Scan(&exists)

	return exists, err
}

func (db *PgChatRepository) CreateBlock(blockerId, blockedId int) error {
	_, err := db.conn.Exec(
		"INSERT INTO blocks (blocker_id, blocked_id, created_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT DO NOTHING",
		blockerId,
		blockedId,
		time.Now().UTC(),
	)

	return err
}

func (db *PgChatRepository) DeleteBlock(blockerId, blockedId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2",
		blockerId,
		blockedId,
	)

	return err
}

func (db *PgChatRepository) CreateChat(params CreateChatParams) (Chat, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Chat{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var chat Chat
	err = tx.QueryRow(
		"INSERT INTO chats (external_id, type, name, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, external_id, type, name, created_at",
		params.ExternalId,
		params.Type,
		params.Name,
		now,
	).Scan(&chat.Id, &chat.ExternalId, &chat.Type, &chat.Name, &chat.CreatedAt)
	if err != nil {
		return Chat{}, err
	}

	for _, memberId := range params.MemberIds {
		role := "member"
		if memberId == params.CreatorId {
			role = "admin"
		}
		_, err = tx.Exec(
			"INSERT INTO chat_members (chat_id, account_id, role, created_at) VALUES ($1, $2, $3, $4)",
			chat.Id,
			memberId,
			role,
			now,
		)
		if err != nil {
			return Chat{}, fmt.Errorf("add member %d: %w", memberId, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Chat{}, err
	}

	chat.Members, err = db.ListChatMembers(chat.Id)
	return chat, err
}

func (db *PgChatRepository) GetChat(chatId int) (Chat, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, type, name, created_at, updated_at FROM chats "+
			"WHERE id = $1 LIMIT 1",
		chatId,
	)

	var chat Chat
	err := row.Scan(
		&chat.Id,
		&chat.ExternalId,
		&chat.Type,
		&chat.Name,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrChatNotFound
	}
	if err != nil {
		return Chat{}, err
	}

	chat.Members, err = db.ListChatMembers(chat.Id)
	return chat, err
}

func (db *PgChatRepository) AddChatMember(chatId, accountId int, role string) error {
	_, err := db.conn.Exec(
		"INSERT INTO chat_members (chat_id, account_id, role, created_at) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (chat_id, account_id) DO NOTHING",
		chatId,
		accountId,
		role,
		time.Now().UTC(),
	)

	return err
}

func (db *PgChatRepository) RemoveChatMember(chatId, accountId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM chat_members WHERE chat_id = $1 AND account_id = $2",
		chatId,
		accountId,
	)

	return err
}

func (db *PgChatRepository) ListUserChats(accountId int) ([]Chat, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.external_id, c.type, c.name, c.created_at, c.updated_at "+
			"FROM chats c JOIN chat_members m ON m.chat_id = c.id "+
			"WHERE m.account_id = $1 AND m.hidden = false "+
			"ORDER BY c.updated_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(
			&chat.Id,
			&chat.ExternalId,
			&chat.Type,
			&chat.Name,
			&chat.CreatedAt,
			&chat.UpdatedAt,
		); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

func (db *PgChatRepository) ListChatMembers(chatId int) ([]ChatMember, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.chat_id, m.account_id, a.username, m.role, m.hidden, m.created_at "+
			"FROM chat_members m JOIN accounts a ON a.id = m.account_id "+
			"WHERE m.chat_id = $1",
		chatId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []ChatMember
	for rows.Next() {
		var m ChatMember
		if err := rows.Scan(
			&m.Id,
			&m.ChatId,
			&m.AccountId,
			&m.Username,
			&m.Role,
			&m.Hidden,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

func (db *PgChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1)",
		params.ChatId,
	).Scan(&exists); err != nil {
		return Message{}, err
	}
	if !exists {
		return Message{}, ErrChatNotFound
	}

	rows, err := tx.Query(
		"SELECT account_id FROM chat_members WHERE chat_id = $1",
		params.ChatId,
	)
	if err != nil {
		return Message{}, err
	}

	var memberIds []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return Message{}, err
		}
		memberIds = append(memberIds, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Message{}, err
	}

	senderIsMember := false
	for _, id := range memberIds {
		if id == params.SenderId {
			senderIsMember = true
			break
		}
	}
	if !senderIsMember {
		return Message{}, ErrNotMember
	}

	now := time.Now().UTC()

	var msg Message
	err = tx.QueryRow(
		"INSERT INTO messages (chat_id, sender_id, content, type, reply_to_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, chat_id, sender_id, content, type, reply_to_id, created_at",
		params.ChatId,
		params.SenderId,
		params.Content,
		params.Type,
		params.ReplyToId,
		now,
	).Scan(&msg.Id, &msg.ChatId, &msg.SenderId, &msg.Content, &msg.Type, &msg.ReplyToId, &msg.CreatedAt)
	if err != nil {
		return Message{}, err
	}

	for _, memberId := range memberIds {
		// The sender's own row starts at "sent"; everyone else is
		// initialized directly to "delivered".
		status := "delivered"
		if memberId == params.SenderId {
			status = "sent"
		}
		if _, err := tx.Exec(
			"INSERT INTO message_statuses (message_id, account_id, status, updated_at) VALUES ($1, $2, $3, $4)",
			msg.Id,
			memberId,
			status,
			now,
		); err != nil {
			return Message{}, fmt.Errorf("create status row: %w", err)
		}

		if _, err := tx.Exec(
			"INSERT INTO message_visibility (message_id, account_id, visible) VALUES ($1, $2, true)",
			msg.Id,
			memberId,
		); err != nil {
			return Message{}, fmt.Errorf("create visibility row: %w", err)
		}
	}

	// A new message un-hides the chat for members that had deleted it.
	// Their previously hidden messages stay hidden.
	if _, err := tx.Exec(
		"UPDATE chat_members SET hidden = false WHERE chat_id = $1 AND hidden = true",
		params.ChatId,
	); err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(
		"UPDATE chats SET updated_at = $2 WHERE id = $1",
		params.ChatId,
		now,
	); err != nil {
		return Message{}, err
	}

	return msg, tx.Commit()
}

func (db *PgChatRepository) GetMessage(messageId int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT id, chat_id, sender_id, content, type, reply_to_id, created_at FROM messages "+
			"WHERE id = $1 LIMIT 1",
		messageId,
	)

	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.ChatId,
		&msg.SenderId,
		&msg.Content,
		&msg.Type,
		&msg.ReplyToId,
		&msg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}

	return msg, err
}

func (db *PgChatRepository) GetMessages(chatId, accountId, before, limit int) ([]Message, error) {
	query := "SELECT m.id, m.chat_id, m.sender_id, m.content, m.type, m.reply_to_id, m.created_at " +
		"FROM messages m JOIN message_visibility v ON v.message_id = m.id " +
		"WHERE m.chat_id = $1 AND v.account_id = $2 AND v.visible = true"
	args := []any{chatId, accountId}

	if before > 0 {
		query += " AND m.id < $3"
		args = append(args, before)
	}

	query += fmt.Sprintf(" ORDER BY m.id DESC LIMIT %d", limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.ChatId,
			&msg.SenderId,
			&msg.Content,
			&msg.Type,
			&msg.ReplyToId,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgChatRepository) GetMessageStatus(messageId, accountId int) (MessageStatus, error) {
	row := db.conn.QueryRow(
		"SELECT message_id, account_id, status, updated_at FROM message_statuses "+
			"WHERE message_id = $1 AND account_id = $2 LIMIT 1",
		messageId,
		accountId,
	)

	var ms MessageStatus
	err := row.Scan(
		&ms.MessageId,
		&ms.AccountId,
		&ms.Status,
		&ms.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return MessageStatus{}, ErrStatusNotFound
	}

	return ms, err
}

func (db *PgChatRepository) UpdateMessageStatus(messageId, accountId int, status string) (MessageStatus, error) {
	// Status rows are provisioned at message-creation time; a missing
	// row is an error, not an upsert.
	row := db.conn.QueryRow(
		"UPDATE message_statuses SET status = $3, updated_at = $4 "+
			"WHERE message_id = $1 AND account_id = $2 "+
			"RETURNING message_id, account_id, status, updated_at",
		messageId,
		accountId,
		status,
		time.Now().UTC(),
	)

	var ms MessageStatus
	err := row.Scan(
		&ms.MessageId,
		&ms.AccountId,
		&ms.Status,
		&ms.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return MessageStatus{}, ErrStatusNotFound
	}

	return ms, err
}

func (db *PgChatRepository) DeleteMessage(messageId int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM message_statuses WHERE message_id = $1",
		"DELETE FROM message_visibility WHERE message_id = $1",
		"DELETE FROM attachments WHERE message_id = $1",
		"DELETE FROM messages WHERE id = $1",
	} {
		if _, err := tx.Exec(stmt, messageId); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (db *PgChatRepository) HideMessageForUser(messageId, accountId int) (int, error) {
	res, err := db.conn.Exec(
		"UPDATE message_visibility SET visible = false "+
			"WHERE message_id = $1 AND account_id = $2",
		messageId,
		accountId,
	)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrMessageNotFound
	}

	var remaining int
	err = db.conn.QueryRow(
		"SELECT COUNT(*) FROM message_visibility WHERE message_id = $1 AND visible = true",
		messageId,
	).Scan(&remaining)

	return remaining, err
}

func (db *PgChatRepository) CreateAttachment(att Attachment) error {
	_, err := db.conn.Exec(
		"INSERT INTO attachments (message_id, file_name, file_size, mime_type, object_key) "+
			"VALUES ($1, $2, $3, $4, $5)",
		att.MessageId,
		att.FileName,
		att.FileSize,
		att.MimeType,
		att.ObjectKey,
	)

	return err
}

func (db *PgChatRepository) GetAttachment(messageId int) (Attachment, error) {
	row := db.conn.QueryRow(
		"SELECT message_id, file_name, file_size, mime_type, object_key FROM attachments "+
			"WHERE message_id = $1 LIMIT 1",
		messageId,
	)

	var att Attachment
	err := row.Scan(
		&att.MessageId,
		&att.FileName,
		&att.FileSize,
		&att.MimeType,
		&att.ObjectKey,
	)

	return att, err
}

func (db *PgChatRepository) CreateNotification(params CreateNotificationParams) error {
	_, err := db.conn.Exec(
		"INSERT INTO notifications (id, account_id, kind, title, body, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6)",
		params.Id,
		params.AccountId,
		params.Kind,
		params.Title,
		params.Body,
		time.Now().UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil
		}
	}

	return err
}
