package database

import (
	"context"
	"errors"
)

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrStatusNotFound  = errors.New("message status not found")
	ErrNotMember       = errors.New("not a chat member")
)

// ChatRepository is the durable source of truth for accounts, chats,
// membership and messages. Presence and caches layered on top of it are
// advisory only.
type ChatRepository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	UpdateStatusMessage(accountId int, statusMessage string) error
	// SetUserOffline is ctx-bounded so a stuck write cannot hang
	// disconnect cleanup.
	SetUserOffline(ctx context.Context, accountId int) error

	IsChatMember(accountId, chatId int) bool
	IsChatAdmin(accountId, chatId int) bool
	IsBlocked(accountId, otherId int) (bool, error)
	CreateBlock(blockerId, blockedId int) error
	DeleteBlock(blockerId, blockedId int) error

	CreateChat(params CreateChatParams) (Chat, error)
	GetChat(chatId int) (Chat, error)
	AddChatMember(chatId, accountId int, role string) error
	RemoveChatMember(chatId, accountId int) error
	ListUserChats(accountId int) ([]Chat, error)
	ListChatMembers(chatId int) ([]ChatMember, error)

	// CreateMessage persists the message plus one status row per current
	// member (sender "sent", everyone else "delivered") and a visible
	// visibility row per member, in a single transaction. It also
	// un-hides a chat previously hidden for everyone, without restoring
	// individually hidden messages.
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessage(messageId int) (Message, error)
	GetMessages(chatId, accountId, before, limit int) ([]Message, error)
	GetMessageStatus(messageId, accountId int) (MessageStatus, error)
	UpdateMessageStatus(messageId, accountId int, status string) (MessageStatus, error)
	DeleteMessage(messageId int) error
	// HideMessageForUser flips the user's visibility row and returns the
	// number of members that still have the message visible.
	HideMessageForUser(messageId, accountId int) (int, error)

	CreateAttachment(att Attachment) error
	GetAttachment(messageId int) (Attachment, error)

	CreateNotification(params CreateNotificationParams) error
}
