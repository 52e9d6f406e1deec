package types

import (
	"strings"
	"time"
)

const (
	ChatTypePrivate = "private"
	ChatTypeGroup   = "group"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Message delivery states. Clients advance a recipient's state
// sent -> delivered -> read; the server stores last-write-wins.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeVideo    = "video"
	MessageTypeAudio    = "audio"
	MessageTypeDocument = "document"
	MessageTypeFile     = "file"
)

type User struct {
	Id            int       `json:"id"`
	Username      string    `json:"username"`
	EmailAddress  string    `json:"email_address,omitempty"`
	Password      string    `json:"-"`
	StatusMessage string    `json:"status_message,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

type Chat struct {
	Id         int          `json:"id"`
	ExternalId string       `json:"external_id"`
	Type       string       `json:"type"`
	Name       string       `json:"name,omitempty"`
	Members    []ChatMember `json:"members,omitempty"`
	CreatedAt  time.Time    `json:"created_at,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at,omitempty"`
}

type ChatMember struct {
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Message struct {
	Id        int         `json:"id"`
	ChatId    int         `json:"chat_id"`
	SenderId  int         `json:"sender_id"`
	Content   string      `json:"content,omitempty"`
	Type      string      `json:"type"`
	ReplyToId *int        `json:"reply_to_id,omitempty"`
	Attach    *Attachment `json:"attachment,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

type MessageStatus struct {
	MessageId int       `json:"message_id"`
	UserId    int       `json:"user_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Attachment struct {
	MessageId int    `json:"message_id,omitempty"`
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
	MimeType  string `json:"mime_type"`
	ObjectKey string `json:"-"`
}

// MessageTypeForMime maps an upload's MIME type to the message type
// stored with the message row.
func MessageTypeForMime(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MessageTypeImage
	case strings.HasPrefix(mime, "video/"):
		return MessageTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return MessageTypeAudio
	case mime == "application/pdf" || strings.HasPrefix(mime, "text/"):
		return MessageTypeDocument
	default:
		return MessageTypeFile
	}
}
