package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/chatterbox-im/server/internal/database"
	"github.com/chatterbox-im/server/internal/notify"
	"github.com/chatterbox-im/server/internal/types"
	"github.com/chatterbox-im/server/internal/upload"
)

func (c *Client) handleSendMessage(ctx context.Context, ev *SendMessage) {
	if ev.MessageText == "" {
		c.queueEvent(errMessage(ReasonInvalidPayload, ev.TempId))
		return
	}

	if !c.gateway.db.IsChatMember(c.user.Id, ev.ChatId) {
		c.queueEvent(errMessage(ReasonForbidden, ev.TempId))
		return
	}

	chat, err := c.gateway.db.GetChat(ev.ChatId)
	if err != nil {
		if errors.Is(err, database.ErrChatNotFound) {
			c.queueEvent(errMessage(ReasonNotFound, ev.TempId))
		} else {
			c.log.Printf("send_message: get chat %d: %v", ev.ChatId, err)
			c.queueEvent(errMessage(ReasonPersistenceFailed, ev.TempId))
		}
		return
	}

	if chat.Type == types.ChatTypePrivate && c.blockedInPrivateChat(chat, ev.TempId) {
		return
	}

	if ev.ReplyToId != nil {
		parent, err := c.gateway.db.GetMessage(*ev.ReplyToId)
		if err != nil || parent.ChatId != ev.ChatId {
			c.queueEvent(errMessage(ReasonInvalidReply, ev.TempId))
			return
		}
	}

	msg, err := c.gateway.db.CreateMessage(database.CreateMessageParams{
		ChatId:    ev.ChatId,
		SenderId:  c.user.Id,
		Content:   ev.MessageText,
		Type:      types.MessageTypeText,
		ReplyToId: ev.ReplyToId,
	})
	if err != nil {
		switch {
		case errors.Is(err, database.ErrChatNotFound):
			c.queueEvent(errMessage(ReasonNotFound, ev.TempId))
		case errors.Is(err, database.ErrNotMember):
			c.queueEvent(errMessage(ReasonForbidden, ev.TempId))
		default:
			c.log.Printf("send_message: persist: %v", err)
			c.queueEvent(errMessage(ReasonPersistenceFailed, ev.TempId))
		}
		return
	}

	out := types.Message{
		Id:        msg.Id,
		ChatId:    msg.ChatId,
		SenderId:  msg.SenderId,
		Content:   msg.Content,
		Type:      msg.Type,
		ReplyToId: msg.ReplyToId,
		CreatedAt: msg.CreatedAt,
	}

	sent := newEvent()
	sent.MessageSent = &MessageSent{TempId: ev.TempId, Message: out}
	c.queueEvent(sent)

	broadcast := newEvent()
	broadcast.NewMessage = &out
	c.gateway.BroadcastToChat(ev.ChatId, broadcast)

	c.gateway.stats.Incr(metricMessagesSent)

	go c.notifyOffline(out, chat)
}

// blockedInPrivateChat rejects a private-chat send when a block exists
// in either direction between the two participants. Block state is
// checked at send time, never cached on the session.
func (c *Client) blockedInPrivateChat(chat database.Chat, tempId string) bool {
	members, err := c.gateway.db.ListChatMembers(chat.Id)
	if err != nil {
		c.log.Printf("send_message: list members of chat %d: %v", chat.Id, err)
		c.queueEvent(errMessage(ReasonPersistenceFailed, tempId))
		return true
	}

	for _, m := range members {
		if m.AccountId == c.user.Id {
			continue
		}
		blocked, err := c.gateway.db.IsBlocked(c.user.Id, m.AccountId)
		if err != nil {
			c.log.Printf("send_message: block check: %v", err)
			c.queueEvent(errMessage(ReasonPersistenceFailed, tempId))
			return true
		}
		if blocked {
			c.queueEvent(errMessage(ReasonForbidden, tempId))
			return true
		}
	}

	return false
}

func (c *Client) handleUpdateMessageStatus(ev *UpdateMessageStatus) {
	if ev.Status != types.StatusDelivered && ev.Status != types.StatusRead {
		c.queueEvent(errEvent(ReasonInvalidPayload))
		return
	}

	msg, err := c.gateway.db.GetMessage(ev.MessageId)
	if err != nil {
		c.queueEvent(errEvent(ReasonNotFound))
		return
	}

	if !c.gateway.db.IsChatMember(c.user.Id, msg.ChatId) {
		c.queueEvent(errEvent(ReasonForbidden))
		return
	}

	status, err := c.gateway.db.UpdateMessageStatus(ev.MessageId, c.user.Id, ev.Status)
	if err != nil {
		if errors.Is(err, database.ErrStatusNotFound) {
			c.queueEvent(errEvent(ReasonStatusNotFound))
		} else {
			c.log.Printf("update_message_status: %v", err)
			c.queueEvent(errEvent(ReasonPersistenceFailed))
		}
		return
	}

	out := newEvent()
	out.MessageStatusUpdated = &types.MessageStatus{
		MessageId: status.MessageId,
		UserId:    status.AccountId,
		Status:    status.Status,
		UpdatedAt: status.UpdatedAt,
	}
	c.gateway.BroadcastToChat(msg.ChatId, out)
}

func (c *Client) handleDeleteForAll(ctx context.Context, ev *DeleteMessage) {
	msg, err := c.gateway.db.GetMessage(ev.MessageId)
	if err != nil {
		c.queueEvent(errDelete(ReasonNotFound))
		return
	}

	if msg.SenderId != c.user.Id && !c.gateway.db.IsChatAdmin(c.user.Id, msg.ChatId) {
		c.queueEvent(errDelete(ReasonForbidden))
		return
	}

	c.removeAttachmentBlob(ctx, msg.Id)

	if err := c.gateway.db.DeleteMessage(msg.Id); err != nil {
		c.log.Printf("delete_message_for_all: %v", err)
		c.queueEvent(errDelete(ReasonPersistenceFailed))
		return
	}

	deleted := newEvent()
	deleted.MessageDeletedForAll = &MessageDeleted{
		MessageId: msg.Id,
		ChatId:    msg.ChatId,
		DeletedBy: c.user.Id,
	}
	c.gateway.BroadcastToChat(msg.ChatId, deleted)

	out := newEvent()
	out.DeleteSuccess = &DeleteSuccess{MessageId: msg.Id, RemovedFromDb: true}
	c.queueEvent(out)
}

func (c *Client) handleDeleteForUser(ctx context.Context, ev *DeleteMessage) {
	msg, err := c.gateway.db.GetMessage(ev.MessageId)
	if err != nil {
		c.queueEvent(errDelete(ReasonNotFound))
		return
	}

	if !c.gateway.db.IsChatMember(c.user.Id, msg.ChatId) {
		c.queueEvent(errDelete(ReasonForbidden))
		return
	}

	remaining, err := c.gateway.db.HideMessageForUser(msg.Id, c.user.Id)
	if err != nil {
		c.log.Printf("delete_message_for_user: %v", err)
		c.queueEvent(errDelete(ReasonPersistenceFailed))
		return
	}

	// once every member has hidden the message the row itself goes
	removed := false
	if remaining == 0 {
		c.removeAttachmentBlob(ctx, msg.Id)
		if err := c.gateway.db.DeleteMessage(msg.Id); err != nil {
			c.log.Printf("delete_message_for_user: cascade delete: %v", err)
		} else {
			removed = true
		}
	}

	if removed {
		deleted := newEvent()
		deleted.MessageDeletedForAll = &MessageDeleted{
			MessageId: msg.Id,
			ChatId:    msg.ChatId,
			DeletedBy: c.user.Id,
		}
		c.gateway.BroadcastToChat(msg.ChatId, deleted)
	}

	out := newEvent()
	out.DeleteSuccess = &DeleteSuccess{MessageId: msg.Id, RemovedFromDb: removed}
	c.queueEvent(out)
}

func (c *Client) removeAttachmentBlob(ctx context.Context, messageId int) {
	if c.gateway.blobs == nil {
		return
	}
	att, err := c.gateway.db.GetAttachment(messageId)
	if err != nil {
		return
	}
	if err := c.gateway.blobs.Remove(ctx, att.ObjectKey); err != nil {
		c.log.Printf("remove blob %q: %v", att.ObjectKey, err)
	}
}

func (c *Client) handleTyping(ev *Typing, started bool) {
	if !c.gateway.db.IsChatMember(c.user.Id, ev.ChatId) {
		return
	}

	out := newEvent()
	payload := &TypingPayload{ChatId: ev.ChatId, UserId: c.user.Id, Username: c.user.Username}
	if started {
		out.UserTyping = payload
	} else {
		out.UserStoppedTyping = payload
	}
	out.SkipClient = c
	c.gateway.BroadcastToChat(ev.ChatId, out)
}

func (c *Client) handleJoinChat(ev *ChatRef) {
	if !c.gateway.db.IsChatMember(c.user.Id, ev.ChatId) {
		c.queueEvent(errEvent(ReasonForbidden))
		return
	}

	chat, err := c.gateway.db.GetChat(ev.ChatId)
	if err != nil {
		c.queueEvent(errEvent(ReasonNotFound))
		return
	}

	select {
	case c.gateway.joinChan <- &groupReq{client: c, chatId: ev.ChatId}:
	default:
		c.log.Println("join_chat: join channel full")
		c.queueEvent(errEvent(ReasonServiceUnavailable))
		return
	}

	out := newEvent()
	out.ChatJoined = &ChatPayload{Chat: types.Chat{
		Id:         chat.Id,
		ExternalId: chat.ExternalId,
		Type:       chat.Type,
		Name:       chat.Name,
	}}
	c.queueEvent(out)
}

func (c *Client) handleLeaveChat(ev *ChatRef) {
	select {
	case c.gateway.leaveChan <- &groupReq{client: c, chatId: ev.ChatId}:
	default:
		c.log.Println("leave_chat: leave channel full")
	}
}

func (c *Client) handleSendFileMessage(ctx context.Context, ev *SendFileMessage) {
	if !c.gateway.db.IsChatMember(c.user.Id, ev.ChatId) {
		c.queueEvent(errFileUpload(ReasonForbidden, ev.TempId))
		return
	}

	if int64(len(ev.FileBuffer)) > c.gateway.maxUploadSize {
		c.queueEvent(errFileUpload(ReasonTooLarge, ev.TempId))
		return
	}

	c.persistFileMessage(ctx, ev.TempId, &upload.Result{
		Metadata: upload.Metadata{
			OwnerId:  c.user.Id,
			ChatId:   ev.ChatId,
			FileName: ev.FileName,
			FileSize: int64(len(ev.FileBuffer)),
			MimeType: ev.FileType,
			Caption:  ev.MessageText,
		},
		Data: ev.FileBuffer,
	})
}

func (c *Client) handleFileChunk(ctx context.Context, ev *SendFileMessageChunk) {
	// guard once per transaction; subsequent chunks ride on the
	// recorded metadata
	if ev.IsFirstChunk && !c.gateway.db.IsChatMember(c.user.Id, ev.ChatId) {
		c.queueEvent(errFileUpload(ReasonForbidden, ev.TempId))
		return
	}

	result, received, err := c.gateway.assembler.AddChunk(ev.TempId, upload.Metadata{
		OwnerId:     c.user.Id,
		ChatId:      ev.ChatId,
		FileName:    ev.FileName,
		FileSize:    ev.FileSize,
		MimeType:    ev.FileType,
		Caption:     ev.MessageText,
		TotalChunks: ev.TotalChunks,
	}, upload.Chunk{
		Index: ev.ChunkIndex,
		Data:  ev.Chunk,
		First: ev.IsFirstChunk,
		Last:  ev.IsLastChunk,
	})
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrTooLarge):
			c.queueEvent(errFileUpload(ReasonTooLarge, ev.TempId))
		case errors.Is(err, upload.ErrUnknownTransaction):
			c.queueEvent(errFileUpload(ReasonUploadExpired, ev.TempId))
		default:
			c.queueEvent(errFileUpload(ReasonInvalidPayload, ev.TempId))
		}
		return
	}

	// every accepted chunk is acked with the running count, the
	// completing one included
	progress := newEvent()
	progress.FileUploadProgress = &FileUploadProgress{
		TempId:         ev.TempId,
		ReceivedChunks: received,
		TotalChunks:    ev.TotalChunks,
	}
	c.queueEvent(progress)

	if result == nil {
		return
	}

	c.persistFileMessage(ctx, ev.TempId, result)
}

// persistFileMessage stores the reassembled payload in the blob store,
// records the message plus its attachment and fans both out.
func (c *Client) persistFileMessage(ctx context.Context, tempId string, res *upload.Result) {
	if c.gateway.blobs == nil {
		c.queueEvent(errFileUpload(ReasonServiceUnavailable, tempId))
		return
	}

	objectKey := uuid.NewString() + filepath.Ext(res.FileName)
	if err := c.gateway.blobs.Put(ctx, objectKey, bytes.NewReader(res.Data), int64(len(res.Data)), res.MimeType); err != nil {
		c.log.Printf("file upload: blob store: %v", err)
		c.queueEvent(errFileUpload(ReasonServiceUnavailable, tempId))
		return
	}

	msg, err := c.gateway.db.CreateMessage(database.CreateMessageParams{
		ChatId:   res.ChatId,
		SenderId: c.user.Id,
		Content:  res.Caption,
		Type:     types.MessageTypeForMime(res.MimeType),
	})
	if err != nil {
		c.log.Printf("file upload: persist message: %v", err)
		if remErr := c.gateway.blobs.Remove(ctx, objectKey); remErr != nil {
			c.log.Printf("file upload: orphaned blob %q: %v", objectKey, remErr)
		}
		if errors.Is(err, database.ErrNotMember) || errors.Is(err, database.ErrChatNotFound) {
			c.queueEvent(errFileUpload(ReasonForbidden, tempId))
		} else {
			c.queueEvent(errFileUpload(ReasonPersistenceFailed, tempId))
		}
		return
	}

	att := database.Attachment{
		MessageId: msg.Id,
		FileName:  res.FileName,
		FileSize:  int64(len(res.Data)),
		MimeType:  res.MimeType,
		ObjectKey: objectKey,
	}
	if err := c.gateway.db.CreateAttachment(att); err != nil {
		c.log.Printf("file upload: persist attachment: %v", err)
	}

	fileURL, err := c.gateway.blobs.PresignedURL(ctx, objectKey)
	if err != nil {
		c.log.Printf("file upload: presign %q: %v", objectKey, err)
	}

	out := types.Message{
		Id:       msg.Id,
		ChatId:   msg.ChatId,
		SenderId: msg.SenderId,
		Content:  msg.Content,
		Type:     msg.Type,
		Attach: &types.Attachment{
			MessageId: msg.Id,
			FileName:  att.FileName,
			FileSize:  att.FileSize,
			MimeType:  att.MimeType,
		},
		CreatedAt: msg.CreatedAt,
	}

	success := newEvent()
	success.FileUploadSuccess = &FileUploadSuccess{TempId: tempId, Message: out, FileURL: fileURL}
	c.queueEvent(success)

	broadcast := newEvent()
	broadcast.NewMessage = &out
	broadcast.SkipClient = c
	c.gateway.BroadcastToChat(res.ChatId, broadcast)

	c.gateway.stats.Incr(metricUploadsCompleted)
	c.gateway.stats.Incr(metricMessagesSent)

	chat, err := c.gateway.db.GetChat(res.ChatId)
	if err == nil {
		go c.notifyOffline(out, chat)
	}
}

func (c *Client) handleUpdateStatus(ctx context.Context, ev *UpdateStatus) {
	if err := c.gateway.db.UpdateStatusMessage(c.user.Id, ev.StatusMessage); err != nil {
		c.log.Printf("update_status: %v", err)
		c.queueEvent(errEvent(ReasonPersistenceFailed))
		return
	}

	c.user.StatusMessage = ev.StatusMessage

	// keep the presence record's snapshot in step with the durable row
	if rec, ok := c.gateway.presence.Get(ctx, c.user.Id); ok && rec.ConnId == c.connId {
		rec.StatusMessage = ev.StatusMessage
		c.gateway.presence.Upsert(ctx, rec)
	}

	out := newEvent()
	out.UserStatusUpdated = &StatusMessagePayload{UserId: c.user.Id, StatusMessage: ev.StatusMessage}
	c.gateway.BroadcastAll(out)
}

// handleGetOnlineUsers never fails the caller: when the presence
// backend is unreachable the fallback yields whatever it has, down to
// an empty list.
func (c *Client) handleGetOnlineUsers(ctx context.Context) {
	records := c.gateway.presence.ListOnline(ctx)

	users := make([]OnlineUser, 0, len(records))
	for _, rec := range records {
		users = append(users, OnlineUser{
			UserId:        rec.UserId,
			Username:      rec.Username,
			StatusMessage: rec.StatusMessage,
			LastSeen:      rec.LastSeen,
		})
	}

	out := newEvent()
	out.OnlineUsers = &OnlineUsersPayload{Users: users}
	c.queueEvent(out)
}

// notifyOffline queues a push notification for every member of the
// chat that is neither the sender nor currently online. Failures are
// logged and dropped, the message path never waits on or retries push
// delivery.
func (c *Client) notifyOffline(msg types.Message, chat database.Chat) {
	ctx := context.Background()

	members, err := c.gateway.db.ListChatMembers(chat.Id)
	if err != nil {
		c.log.Printf("notify: list members of chat %d: %v", chat.Id, err)
		return
	}

	title := c.user.Username
	if chat.Type == types.ChatTypeGroup && chat.Name != "" {
		title = fmt.Sprintf("%s @ %s", c.user.Username, chat.Name)
	}

	body := msg.Content
	if msg.Type != types.MessageTypeText && body == "" {
		body = fmt.Sprintf("sent a %s", msg.Type)
	}

	for _, m := range members {
		if m.AccountId == c.user.Id || c.gateway.presence.IsOnline(ctx, m.AccountId) {
			continue
		}

		id := uuid.NewString()
		if err := c.gateway.db.CreateNotification(database.CreateNotificationParams{
			Id:        id,
			AccountId: m.AccountId,
			Kind:      "new_message",
			Title:     title,
			Body:      body,
		}); err != nil {
			c.log.Printf("notify: record for account %d: %v", m.AccountId, err)
			continue
		}

		if err := c.gateway.notifier.Publish(ctx, notify.Payload{
			Id:          id,
			RecipientId: m.AccountId,
			Kind:        "new_message",
			Title:       title,
			Body:        body,
			ChatId:      chat.Id,
			MessageId:   msg.Id,
		}); err != nil {
			c.log.Printf("notify: publish for account %d: %v", m.AccountId, err)
			continue
		}

		c.gateway.stats.Incr(metricNotificationsQueued)
	}
}
