package gateway

import (
	"context"

	"github.com/develoFavour/MediCare-sub000/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) ListConversations(ctx context.Context) ([]types.Conversation, error) {
	args := m.Called(ctx)
	return args.Get(0).([]types.Conversation), args.Error(1)
}

func (m *MockGateway) UnreadCounts(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[string]int), args.Error(1)
}

func (m *MockGateway) ListMessages(ctx context.Context, conversationId string) ([]types.Message, error) {
	args := m.Called(ctx, conversationId)
	return args.Get(0).([]types.Message), args.Error(1)
}

func (m *MockGateway) SendMessage(ctx context.Context, conversationId, content string) (types.Message, error) {
	args := m.Called(ctx, conversationId, content)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockGateway) StartConversation(ctx context.Context, participantId int) (types.Conversation, error) {
	args := m.Called(ctx, participantId)
	return args.Get(0).(types.Conversation), args.Error(1)
}

func (m *MockGateway) MarkConversationRead(ctx context.Context, conversationId string) error {
	args := m.Called(ctx, conversationId)
	return args.Error(0)
}

func (m *MockGateway) MarkMessageRead(ctx context.Context, messageId string) error {
	args := m.Called(ctx, messageId)
	return args.Error(0)
}

func (m *MockGateway) MarkMessageDelivered(ctx context.Context, messageId string) error {
	args := m.Called(ctx, messageId)
	return args.Error(0)
}
