package messaging

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/develoFavour/MediCare-sub000/internal/gateway"
	"github.com/develoFavour/MediCare-sub000/internal/presence"
	"github.com/develoFavour/MediCare-sub000/internal/store"
	"github.com/develoFavour/MediCare-sub000/internal/testutil"
	"github.com/develoFavour/MediCare-sub000/internal/transport"
	"github.com/develoFavour/MediCare-sub000/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	self  = types.UserSummary{Id: 1, FullName: "Dr. Adams", Role: types.RoleDoctor}
	other = types.UserSummary{Id: 2, FullName: "Pat Lee", Role: types.RolePatient}
)

type recordedNotification struct {
	ConversationId string
	Sender         types.UserSummary
	Excerpt        string
}

type recordingNotifier struct {
	mu       sync.Mutex
	Messages []recordedNotification
	Errors   []string
}

func (n *recordingNotifier) NewMessage(conversationId string, sender types.UserSummary, excerpt string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, recordedNotification{conversationId, sender, excerpt})
}

func (n *recordingNotifier) Error(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Errors = append(n.Errors, message)
}

func testConversation(id string, updatedAt time.Time, unread int) types.Conversation {
	return types.Conversation{
		Id:           id,
		Participants: []types.UserSummary{self, other},
		UnreadCount:  unread,
		CreatedAt:    updatedAt,
		UpdatedAt:    updatedAt,
	}
}

func newTestService(t *testing.T) (*Service, *transport.FakeClient, *gateway.MockGateway, *recordingNotifier) {
	t.Helper()

	tc := transport.NewFakeClient()
	gw := &gateway.MockGateway{}
	notifier := &recordingNotifier{}
	logger := testutil.TestLogger(t)
	tracker := presence.NewTracker(self, logger)

	svc := NewService(self, tc, gw, store.New(), tracker, notifier, logger)
	return svc, tc, gw, notifier
}

func startService(t *testing.T, svc *Service, gw *gateway.MockGateway, convs []types.Conversation, counts map[string]int) {
	t.Helper()

	gw.On("ListConversations", mock.Anything).Return(convs, nil).Once()
	gw.On("UnreadCounts", mock.Anything).Return(counts, nil).Once()
	require.NoError(t, svc.Start(context.Background()))
}

func TestStartConversationIdempotent(t *testing.T) {
	svc, _, gw, _ := newTestService(t)
	startService(t, svc, gw, nil, map[string]int{})

	conv := testConversation("c1", time.Now(), 0)
	gw.On("StartConversation", mock.Anything, other.Id).Return(conv, nil).Twice()
	gw.On("ListMessages", mock.Anything, "c1").Return([]types.Message{}, nil).Twice()

	first, err := svc.StartConversation(context.Background(), other.Id)
	require.NoError(t, err)

	second, err := svc.StartConversation(context.Background(), other.Id)
	require.NoError(t, err)

	assert.Equal(t, first.Id, second.Id)

	var matches int
	for _, c := range svc.Store().Conversations() {
		if c.Id == conv.Id {
			matches++
		}
	}
	assert.Equal(t, 1, matches, "no duplicate entry after reopening")
}

func TestUnreadAccounting(t *testing.T) {
	svc, tc, gw, _ := newTestService(t)

	now := time.Now()
	convs := []types.Conversation{
		testConversation("c1", now.Add(-time.Hour), 0),
		testConversation("c2", now, 0),
	}
	startService(t, svc, gw, convs, map[string]int{})

	userCh := tc.Channel(transport.UserChannel(self.Id))
	require.NotNil(t, userCh)

	const n = 3
	for i := 0; i < n; i++ {
		userCh.Emit(transport.EventNewMessage, types.NewMessageEvent{
			ConversationId: "c1",
			Message:        types.Message{Id: "m" + string(rune('a'+i)), ConversationId: "c1", Sender: other, Content: "hi"},
		})
	}

	assert.Equal(t, n, svc.Store().UnreadCount("c1"))
	assert.Equal(t, "c1", svc.Store().Conversations()[0].Id, "active conversation moves to top")

	// opening the conversation clears the count and acknowledges it
	gw.On("ListMessages", mock.Anything, "c1").Return([]types.Message{}, nil).Once()
	gw.On("MarkConversationRead", mock.Anything, "c1").Return(nil).Once()

	target := svc.Store().Conversations()[0]
	require.NoError(t, svc.SelectConversation(context.Background(), target))

	assert.Equal(t, 0, svc.Store().UnreadCount("c1"))
	gw.AssertCalled(t, "MarkConversationRead", mock.Anything, "c1")
}

func TestNoDoubleCountForOpenConversation(t *testing.T) {
	svc, tc, gw, notifier := newTestService(t)

	conv := testConversation("c1", time.Now(), 0)
	startService(t, svc, gw, []types.Conversation{conv}, map[string]int{})

	gw.On("ListMessages", mock.Anything, "c1").Return([]types.Message{}, nil).Once()
	require.NoError(t, svc.SelectConversation(context.Background(), conv))

	userCh := tc.Channel(transport.UserChannel(self.Id))
	require.NotNil(t, userCh)
	userCh.Emit(transport.EventNewMessage, types.NewMessageEvent{
		ConversationId: "c1",
		Message:        types.Message{Id: "m1", ConversationId: "c1", Sender: other, Content: "hi"},
	})

	assert.Equal(t, 0, svc.Store().UnreadCount("c1"), "open conversation is handled on its own channel")
	assert.Empty(t, notifier.Messages)
}

func TestMessageOrdering(t *testing.T) {
	svc, tc, gw, _ := newTestService(t)

	conv := testConversation("c1", time.Now(), 0)
	startService(t, svc, gw, []types.Conversation{conv}, map[string]int{})

	gw.On("ListMessages", mock.Anything, "c1").Return([]types.Message{}, nil).Once()
	require.NoError(t, svc.SelectConversation(context.Background(), conv))

	base := time.Now()
	incoming := types.Message{Id: "m0", ConversationId: "c1", Sender: other, Content: "hello", CreatedAt: base}
	convCh := tc.Channel(transport.ConversationChannel("c1"))
	require.NotNil(t, convCh)
	convCh.Emit(transport.EventNewMessage, types.NewMessageEvent{ConversationId: "c1", Message: incoming})

	msgA := types.Message{Id: "mA", ConversationId: "c1", Sender: self, Content: "A", CreatedAt: base.Add(time.Second)}
	msgB := types.Message{Id: "mB", ConversationId: "c1", Sender: self, Content: "B", CreatedAt: base.Add(2 * time.Second)}
	gw.On("SendMessage", mock.Anything, "c1", "A").Return(msgA, nil).Once()
	gw.On("SendMessage", mock.Anything, "c1", "B").Return(msgB, nil).Once()

	_, err := svc.SendMessage(context.Background(), "A")
	require.NoError(t, err)
	_, err = svc.SendMessage(context.Background(), "B")
	require.NoError(t, err)

	msgs := svc.Store().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m0", "mA", "mB"}, []string{msgs[0].Id, msgs[1].Id, msgs[2].Id})
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt), "non-decreasing creation time")
	}
}

func TestChannelTeardownOnSwitch(t *testing.T) {
	svc, tc, gw, _ := newTestService(t)

	now := time.Now()
	convA := testConversation("a", now, 0)
	convB := testConversation("b", now, 0)
	startService(t, svc, gw, []types.Conversation{convA, convB}, map[string]int{})

	gw.On("ListMessages", mock.Anything, "a").Return([]types.Message{}, nil).Once()
	require.NoError(t, svc.SelectConversation(context.Background(), convA))

	oldConvCh := tc.Channel(transport.ConversationChannel("a"))
	oldPresCh := tc.Channel(transport.PresenceChannel("a"))
	require.NotNil(t, oldConvCh)
	require.NotNil(t, oldPresCh)

	gw.On("ListMessages", mock.Anything, "b").Return([]types.Message{}, nil).Once()
	require.NoError(t, svc.SelectConversation(context.Background(), convB))

	assert.Zero(t, oldConvCh.BoundHandlers(), "no handlers left on the old conversation channel")
	assert.Zero(t, oldPresCh.BoundHandlers(), "no handlers left on the old presence channel")

	unsubA := slices.Index(tc.Calls, "unsubscribe:"+transport.ConversationChannel("a"))
	subB := slices.Index(tc.Calls, "subscribe:"+transport.ConversationChannel("b"))
	require.NotEqual(t, -1, unsubA)
	require.NotEqual(t, -1, subB)
	assert.Less(t, unsubA, subB, "old channels released before the new subscription")
}

func TestSlowFetchForAbandonedSelectionIsDropped(t *testing.T) {
	svc, _, gw, _ := newTestService(t)

	now := time.Now()
	convA := testConversation("a", now, 0)
	convB := testConversation("b", now, 0)
	startService(t, svc, gw, []types.Conversation{convA, convB}, map[string]int{})

	started := make(chan struct{})
	release := make(chan struct{})
	gw.On("ListMessages", mock.Anything, "a").
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return([]types.Message{{Id: "stale", ConversationId: "a", Sender: other, Content: "old"}}, nil).Once()
	gw.On("ListMessages", mock.Anything, "b").
		Return([]types.Message{{Id: "fresh", ConversationId: "b", Sender: other, Content: "new"}}, nil).Once()

	done := make(chan error, 1)
	go func() {
		done <- svc.SelectConversation(context.Background(), convA)
	}()
	<-started

	// the viewer moved on while the first fetch was still in flight
	require.NoError(t, svc.SelectConversation(context.Background(), convB))

	close(release)
	require.NoError(t, <-done)

	msgs := svc.Store().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "fresh", msgs[0].Id, "late result for the abandoned selection is discarded")
}

func TestSelectConversationAcknowledgesStoreCount(t *testing.T) {
	svc, tc, gw, _ := newTestService(t)

	conv := testConversation("c1", time.Now(), 0)
	startService(t, svc, gw, []types.Conversation{conv}, map[string]int{})

	userCh := tc.Channel(transport.UserChannel(self.Id))
	require.NotNil(t, userCh)
	userCh.Emit(transport.EventNewMessage, types.NewMessageEvent{
		ConversationId: "c1",
		Message:        types.Message{Id: "m1", ConversationId: "c1", Sender: other, Content: "hi"},
	})
	require.Equal(t, 1, svc.Store().UnreadCount("c1"))

	gw.On("ListMessages", mock.Anything, "c1").Return([]types.Message{}, nil).Once()
	gw.On("MarkConversationRead", mock.Anything, "c1").Return(nil).Once()

	// conv still carries the count from before the message arrived
	require.NoError(t, svc.SelectConversation(context.Background(), conv))

	assert.Equal(t, 0, svc.Store().UnreadCount("c1"))
	gw.AssertCalled(t, "MarkConversationRead", mock.Anything, "c1")
}

func TestSendFailureLeavesNoOrphan(t *testing.T) {
	svc, _, gw, notifier := newTestService(t)

	conv := testConversation("c1", time.Now(), 0)
	startService(t, svc, gw, []types.Conversation{conv}, map[string]int{})

	gw.On("ListMessages", mock.Anything, "c1").Return([]types.Message{}, nil).Once()
	require.NoError(t, svc.SelectConversation(context.Background(), conv))

	gw.On("SendMessage", mock.Anything, "c1", "hello").
		Return(types.Message{}, errors.New("persistence unavailable")).Once()

	_, err := svc.SendMessage(context.Background(), "hello")
	require.Error(t, err)

	assert.Empty(t, svc.Store().Messages())
	assert.NotEmpty(t, notifier.Errors)
}

func TestSendMessageRequiresSelection(t *testing.T) {
	svc, _, gw, _ := newTestService(t)
	startService(t, svc, gw, nil, map[string]int{})

	_, err := svc.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoConversationSelected)
}

func TestSendMessageRejectsBlankContent(t *testing.T) {
	svc, _, gw, _ := newTestService(t)

	conv := testConversation("c1", time.Now(), 0)
	startService(t, svc, gw, []types.Conversation{conv}, map[string]int{})

	gw.On("ListMessages", mock.Anything, "c1").Return([]types.Message{}, nil).Once()
	require.NoError(t, svc.SelectConversation(context.Background(), conv))

	_, err := svc.SendMessage(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestNewMessageNotification(t *testing.T) {
	svc, tc, gw, notifier := newTestService(t)

	conv := testConversation("c1", time.Now(), 0)
	startService(t, svc, gw, []types.Conversation{conv}, map[string]int{})

	userCh := tc.Channel(transport.UserChannel(self.Id))
	require.NotNil(t, userCh)
	userCh.Emit(transport.EventNewMessage, types.NewMessageEvent{
		ConversationId: "c1",
		Message:        types.Message{Id: "m1", ConversationId: "c1", Sender: other, Content: "Hi"},
	})

	require.Len(t, notifier.Messages, 1)
	assert.Equal(t, "c1", notifier.Messages[0].ConversationId)
	assert.Equal(t, other.Id, notifier.Messages[0].Sender.Id)
	assert.Equal(t, "Hi", notifier.Messages[0].Excerpt)
}

func TestReceiptEventsPatchMessages(t *testing.T) {
	svc, tc, gw, _ := newTestService(t)

	conv := testConversation("c1", time.Now(), 0)
	startService(t, svc, gw, []types.Conversation{conv}, map[string]int{})

	sent := types.Message{Id: "m1", ConversationId: "c1", Sender: self, Content: "hello"}
	gw.On("ListMessages", mock.Anything, "c1").Return([]types.Message{sent}, nil).Once()
	require.NoError(t, svc.SelectConversation(context.Background(), conv))

	userCh := tc.Channel(transport.UserChannel(self.Id))
	require.NotNil(t, userCh)

	userCh.Emit(transport.EventMessageDelivered, types.ReceiptEvent{ConversationId: "c1", MessageId: "m1"})
	msgs := svc.Store().Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Delivered)
	assert.False(t, msgs[0].Read)

	userCh.Emit(transport.EventMessageRead, types.ReceiptEvent{ConversationId: "c1", MessageId: "m1"})
	msgs = svc.Store().Messages()
	assert.True(t, msgs[0].Read)
	assert.True(t, msgs[0].Delivered, "read implies delivered")
}

func TestMarkMessageAsRead(t *testing.T) {
	svc, _, gw, _ := newTestService(t)

	conv := testConversation("c1", time.Now(), 0)
	startService(t, svc, gw, []types.Conversation{conv}, map[string]int{})

	received := types.Message{Id: "m1", ConversationId: "c1", Sender: other, Content: "hello", Delivered: true}
	gw.On("ListMessages", mock.Anything, "c1").Return([]types.Message{received}, nil).Once()
	require.NoError(t, svc.SelectConversation(context.Background(), conv))

	gw.On("MarkMessageRead", mock.Anything, "m1").Return(nil).Once()
	require.NoError(t, svc.MarkMessageAsRead(context.Background(), "m1"))

	msgs := svc.Store().Messages()
	assert.True(t, msgs[0].Read)
}

func TestRefreshFailureKeepsStaleContents(t *testing.T) {
	svc, _, gw, notifier := newTestService(t)

	conv := testConversation("c1", time.Now(), 2)
	startService(t, svc, gw, []types.Conversation{conv}, map[string]int{"c1": 2})

	gw.On("ListConversations", mock.Anything).
		Return([]types.Conversation(nil), errors.New("gateway down")).Once()

	require.Error(t, svc.RefreshConversations(context.Background()))

	convs := svc.Store().Conversations()
	require.Len(t, convs, 1, "previous contents preserved")
	assert.Equal(t, "c1", convs[0].Id)
	assert.NotEmpty(t, notifier.Errors)
}

func TestCloseReleasesAllChannels(t *testing.T) {
	svc, tc, gw, _ := newTestService(t)

	conv := testConversation("c1", time.Now(), 0)
	startService(t, svc, gw, []types.Conversation{conv}, map[string]int{})

	gw.On("ListMessages", mock.Anything, "c1").Return([]types.Message{}, nil).Once()
	require.NoError(t, svc.SelectConversation(context.Background(), conv))

	svc.Close()

	assert.ElementsMatch(t, []string{
		transport.UserChannel(self.Id),
		transport.ConversationChannel("c1"),
		transport.PresenceChannel("c1"),
	}, tc.Unsubscribed)

	_, ok := svc.Store().Selected()
	assert.False(t, ok)
}
