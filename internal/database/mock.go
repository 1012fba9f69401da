package database

import (
	"github.com/stretchr/testify/mock"
)

type MockMessengerRepository struct {
	mock.Mock
}

func (m *MockMessengerRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockMessengerRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMessengerRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMessengerRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMessengerRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockMessengerRepository) GetOrCreateConversation(accountId, otherId int, externalId string) (Conversation, bool, error) {
	args := m.Called(accountId, otherId, externalId)
	return args.Get(0).(Conversation), args.Bool(1), args.Error(2)
}
func (m *MockMessengerRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	args := m.Called(externalId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockMessengerRepository) ListConversations(accountId int) ([]Conversation, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Conversation), args.Error(1)
}
func (m *MockMessengerRepository) IsParticipant(externalId string, accountId int) bool {
	args := m.Called(externalId, accountId)
	return args.Bool(0)
}
func (m *MockMessengerRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMessengerRepository) ListMessages(externalId string) ([]Message, error) {
	args := m.Called(externalId)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockMessengerRepository) GetMessageById(messageId string) (Message, error) {
	args := m.Called(messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockMessengerRepository) MarkConversationRead(externalId string, accountId int) ([]string, error) {
	args := m.Called(externalId, accountId)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockMessengerRepository) MarkMessageRead(messageId string) error {
	args := m.Called(messageId)
	return args.Error(0)
}
func (m *MockMessengerRepository) MarkMessageDelivered(messageId string) error {
	args := m.Called(messageId)
	return args.Error(0)
}
func (m *MockMessengerRepository) UnreadCounts(accountId int) (map[string]int, error) {
	args := m.Called(accountId)
	return args.Get(0).(map[string]int), args.Error(1)
}
