package database

import "time"

type User struct {
	Id            int
	Username      string
	EmailAddress  string
	PasswordHash  string
	StatusMessage string
	IsOnline      bool
	LastSeen      time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Chat struct {
	Id         int
	ExternalId string
	Type       string
	Name       string
	Members    []ChatMember
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ChatMember struct {
	Id        int
	ChatId    int
	AccountId int
	Username  string
	Role      string
	Hidden    bool
	CreatedAt time.Time
}

type Message struct {
	Id        int
	ChatId    int
	SenderId  int
	Content   string
	Type      string
	ReplyToId *int
	CreatedAt time.Time
}

type MessageStatus struct {
	MessageId int
	AccountId int
	Status    string
	UpdatedAt time.Time
}

type Attachment struct {
	MessageId int
	FileName  string
	FileSize  int64
	MimeType  string
	ObjectKey string
}

type Notification struct {
	Id        string
	AccountId int
	Kind      string
	Title     string
	Body      string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateChatParams struct {
	ExternalId string
	Type       string
	Name       string
	CreatorId  int
	MemberIds  []int
}

type CreateMessageParams struct {
	ChatId    int
	SenderId  int
	Content   string
	Type      string
	ReplyToId *int
}

type CreateNotificationParams struct {
	Id        string
	AccountId int
	Kind      string
	Title     string
	Body      string
}
