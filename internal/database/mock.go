package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) UpdateStatusMessage(accountId int, statusMessage string) error {
	args := m.Called(accountId, statusMessage)
	return args.Error(0)
}
func (m *MockChatRepository) SetUserOffline(ctx context.Context, accountId int) error {
	args := m.Called(ctx, accountId)
	return args.Error(0)
}
func (m *MockChatRepository) IsChatMember(accountId, chatId int) bool {
	args := m.Called(accountId, chatId)
	return args.Bool(0)
}
func (m *MockChatRepository) IsChatAdmin(accountId, chatId int) bool {
	args := m.Called(accountId, chatId)
	return args.Bool(0)
}
func (m *MockChatRepository) IsBlocked(accountId, otherId int) (bool, error) {
	args := m.Called(accountId, otherId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) CreateBlock(blockerId, blockedId int) error {
	args := m.Called(blockerId, blockedId)
	return args.Error(0)
}
func (m *MockChatRepository) DeleteBlock(blockerId, blockedId int) error {
	args := m.Called(blockerId, blockedId)
	return args.Error(0)
}
func (m *MockChatRepository) CreateChat(params CreateChatParams) (Chat, error) {
	args := m.Called(params)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) GetChat(chatId int) (Chat, error) {
	args := m.Called(chatId)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockChatRepository) AddChatMember(chatId, accountId int, role string) error {
	args := m.Called(chatId, accountId, role)
	return args.Error(0)
}
func (m *MockChatRepository) RemoveChatMember(chatId, accountId int) error {
	args := m.Called(chatId, accountId)
	return args.Error(0)
}
func (m *MockChatRepository) ListUserChats(accountId int) ([]Chat, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Chat), args.Error(1)
}
func (m *MockChatRepository) ListChatMembers(chatId int) ([]ChatMember, error) {
	args := m.Called(chatId)
	return args.Get(0).([]ChatMember), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessage(messageId int) (Message, error) {
	args := m.Called(messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessages(chatId, accountId, before, limit int) ([]Message, error) {
	args := m.Called(chatId, accountId, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockChatRepository) GetMessageStatus(messageId, accountId int) (MessageStatus, error) {
	args := m.Called(messageId, accountId)
	return args.Get(0).(MessageStatus), args.Error(1)
}
func (m *MockChatRepository) UpdateMessageStatus(messageId, accountId int, status string) (MessageStatus, error) {
	args := m.Called(messageId, accountId, status)
	return args.Get(0).(MessageStatus), args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(messageId int) error {
	args := m.Called(messageId)
	return args.Error(0)
}
func (m *MockChatRepository) HideMessageForUser(messageId, accountId int) (int, error) {
	args := m.Called(messageId, accountId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) CreateAttachment(att Attachment) error {
	args := m.Called(att)
	return args.Error(0)
}
func (m *MockChatRepository) GetAttachment(messageId int) (Attachment, error) {
	args := m.Called(messageId)
	return args.Get(0).(Attachment), args.Error(1)
}
func (m *MockChatRepository) CreateNotification(params CreateNotificationParams) error {
	args := m.Called(params)
	return args.Error(0)
}
