package gateway

import (
	"time"

	"github.com/chatterbox-im/server/internal/types"
)

// ClientEvent is the tagged union of every inbound realtime event.
// Exactly one field is expected to be non-nil; anything else is
// rejected at the boundary before dispatch.
type ClientEvent struct {
	SendMessage          *SendMessage          `json:"send_message,omitempty"`
	UpdateMessageStatus  *UpdateMessageStatus  `json:"update_message_status,omitempty"`
	DeleteMessageForAll  *DeleteMessage        `json:"delete_message_for_all,omitempty"`
	DeleteMessageForUser *DeleteMessage        `json:"delete_message_for_user,omitempty"`
	TypingStart          *Typing               `json:"typing_start,omitempty"`
	TypingStop           *Typing               `json:"typing_stop,omitempty"`
	JoinChat             *ChatRef              `json:"join_chat,omitempty"`
	LeaveChat            *ChatRef              `json:"leave_chat,omitempty"`
	SendFileMessage      *SendFileMessage      `json:"send_file_message,omitempty"`
	SendFileMessageChunk *SendFileMessageChunk `json:"send_file_message_chunk,omitempty"`
	UpdateStatus         *UpdateStatus         `json:"update_status,omitempty"`
	GetOnlineUsers       *GetOnlineUsers       `json:"get_online_users,omitempty"`
}

type SendMessage struct {
	ChatId      int    `json:"chat_id"`
	MessageText string `json:"message_text"`
	MessageType string `json:"message_type,omitempty"`
	ReplyToId   *int   `json:"reply_to_id,omitempty"`
	TempId      string `json:"tempId"`
}

type UpdateMessageStatus struct {
	MessageId int    `json:"message_id"`
	Status    string `json:"status"`
}

type DeleteMessage struct {
	MessageId int `json:"message_id"`
}

type Typing struct {
	ChatId int `json:"chat_id"`
}

type ChatRef struct {
	ChatId int `json:"chat_id"`
}

type SendFileMessage struct {
	ChatId      int    `json:"chat_id"`
	FileBuffer  []byte `json:"fileBuffer"`
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	FileSize    int64  `json:"fileSize"`
	MessageText string `json:"message_text,omitempty"`
	TempId      string `json:"tempId"`
}

type SendFileMessageChunk struct {
	TempId       string `json:"tempId"`
	Chunk        []byte `json:"chunk"`
	ChunkIndex   int    `json:"chunkIndex"`
	TotalChunks  int    `json:"totalChunks"`
	IsFirstChunk bool   `json:"isFirstChunk"`
	IsLastChunk  bool   `json:"isLastChunk"`
	ChatId       int    `json:"chat_id"`
	FileName     string `json:"fileName"`
	FileSize     int64  `json:"fileSize"`
	FileType     string `json:"fileType"`
	MessageText  string `json:"message_text,omitempty"`
}

type UpdateStatus struct {
	StatusMessage string `json:"status_message"`
}

type GetOnlineUsers struct{}

// ServerEvent is the tagged union of every outbound realtime event.
type ServerEvent struct {
	Timestamp time.Time `json:"timestamp"`

	Connected            *ConnectedPayload     `json:"connected,omitempty"`
	NewMessage           *types.Message        `json:"new_message,omitempty"`
	MessageSent          *MessageSent          `json:"message_sent,omitempty"`
	MessageError         *EventError           `json:"message_error,omitempty"`
	MessageStatusUpdated *types.MessageStatus  `json:"message_status_updated,omitempty"`
	MessageDeletedForAll *MessageDeleted       `json:"message_deleted_for_all,omitempty"`
	DeleteSuccess        *DeleteSuccess        `json:"delete_success,omitempty"`
	DeleteError          *EventError           `json:"delete_error,omitempty"`
	UserTyping           *TypingPayload        `json:"user_typing,omitempty"`
	UserStoppedTyping    *TypingPayload        `json:"user_stopped_typing,omitempty"`
	UserOnline           *PresencePayload      `json:"user_online,omitempty"`
	UserOffline          *PresencePayload      `json:"user_offline,omitempty"`
	UserStatusUpdated    *StatusMessagePayload `json:"user_status_updated,omitempty"`
	OnlineUsers          *OnlineUsersPayload   `json:"online_users,omitempty"`
	FileUploadSuccess    *FileUploadSuccess    `json:"file_upload_success,omitempty"`
	FileUploadError      *EventError           `json:"file_upload_error,omitempty"`
	FileUploadProgress   *FileUploadProgress   `json:"file_upload_progress_update,omitempty"`
	ChatJoined           *ChatPayload          `json:"chat_joined,omitempty"`
	MemberAdded          *MemberChange         `json:"member_added,omitempty"`
	MemberRemoved        *MemberChange         `json:"member_removed,omitempty"`
	AddedToGroup         *ChatPayload          `json:"you_were_added_to_group,omitempty"`
	RemovedFromGroup     *ChatPayload          `json:"you_were_removed_from_group,omitempty"`
	PendingCancelled     *PendingCancelled     `json:"pending_cancelled,omitempty"`
	Error                *EventError           `json:"error,omitempty"`

	SkipClient *Client `json:"-"`
}

type ConnectedPayload struct {
	User  types.User   `json:"user"`
	Chats []types.Chat `json:"chats"`
}

type MessageSent struct {
	TempId  string        `json:"tempId"`
	Message types.Message `json:"message"`
}

type MessageDeleted struct {
	MessageId int `json:"message_id"`
	ChatId    int `json:"chat_id"`
	DeletedBy int `json:"deleted_by"`
}

type DeleteSuccess struct {
	MessageId     int  `json:"message_id"`
	RemovedFromDb bool `json:"removed_from_db"`
}

type TypingPayload struct {
	ChatId   int    `json:"chat_id"`
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
}

type PresencePayload struct {
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
}

type StatusMessagePayload struct {
	UserId        int    `json:"user_id"`
	StatusMessage string `json:"status_message"`
}

type OnlineUsersPayload struct {
	Users []OnlineUser `json:"users"`
}

type OnlineUser struct {
	UserId        int       `json:"user_id"`
	Username      string    `json:"username"`
	StatusMessage string    `json:"status_message,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
}

type FileUploadSuccess struct {
	TempId  string        `json:"tempId"`
	Message types.Message `json:"message"`
	FileURL string        `json:"file_url,omitempty"`
}

type FileUploadProgress struct {
	TempId         string `json:"tempId"`
	ReceivedChunks int    `json:"receivedChunks"`
	TotalChunks    int    `json:"totalChunks"`
}

type ChatPayload struct {
	Chat types.Chat `json:"chat"`
}

type MemberChange struct {
	ChatId int              `json:"chat_id"`
	Member types.ChatMember `json:"member"`
}

type PendingCancelled struct {
	ActionId string `json:"action_id"`
	Reason   string `json:"reason,omitempty"`
}

// EventError is the scoped failure shape sent only to the offending
// connection. TempId carries the client correlation id when the
// failing operation had one, so optimistic UI entries can be resolved.
type EventError struct {
	Reason string `json:"reason"`
	TempId string `json:"tempId,omitempty"`
}

// machine-readable failure reasons
const (
	ReasonInvalidPayload     = "invalid_payload"
	ReasonForbidden          = "forbidden"
	ReasonNotFound           = "not_found"
	ReasonStatusNotFound     = "status_not_found"
	ReasonInvalidReply       = "invalid_reply"
	ReasonPersistenceFailed  = "persistence_failed"
	ReasonTooLarge           = "too_large"
	ReasonUploadExpired      = "upload_expired"
	ReasonServiceUnavailable = "service_unavailable"
)

func newEvent() *ServerEvent {
	return &ServerEvent{Timestamp: Now()}
}

func errMessage(reason, tempId string) *ServerEvent {
	ev := newEvent()
	ev.MessageError = &EventError{Reason: reason, TempId: tempId}
	return ev
}

func errDelete(reason string) *ServerEvent {
	ev := newEvent()
	ev.DeleteError = &EventError{Reason: reason}
	return ev
}

func errFileUpload(reason, tempId string) *ServerEvent {
	ev := newEvent()
	ev.FileUploadError = &EventError{Reason: reason, TempId: tempId}
	return ev
}

func errEvent(reason string) *ServerEvent {
	ev := newEvent()
	ev.Error = &EventError{Reason: reason}
	return ev
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
