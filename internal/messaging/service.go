package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/develoFavour/MediCare-sub000/internal/gateway"
	"github.com/develoFavour/MediCare-sub000/internal/presence"
	"github.com/develoFavour/MediCare-sub000/internal/store"
	"github.com/develoFavour/MediCare-sub000/internal/transport"
	"github.com/develoFavour/MediCare-sub000/internal/types"
)

// ErrNoConversationSelected is returned by operations that require an open
// conversation.
var ErrNoConversationSelected = errors.New("no conversation selected")

// ErrEmptyMessage is returned by SendMessage for blank content.
var ErrEmptyMessage = errors.New("message content is empty")

// Notifier surfaces transient, dismissible notifications to the UI.
// NewMessage fires for messages in conversations the viewer does not have
// open; the UI's jump action calls SelectConversation with the carried id.
type Notifier interface {
	NewMessage(conversationId string, sender types.UserSummary, excerpt string)
	Error(message string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) NewMessage(string, types.UserSummary, string) {}
func (NopNotifier) Error(string)                                 {}

// Service is the messaging facade: one instance per logged-in session. It
// owns the user-channel subscription for cross-conversation notifications
// and the channels of the single open conversation, keeps the store
// consistent with both the gateway and the transport, and is the only
// writer of either.
type Service struct {
	self      types.UserSummary
	transport transport.Client
	gateway   gateway.Gateway
	store     *store.Store
	presence  *presence.Tracker
	notifier  Notifier
	log       *log.Logger

	mu          sync.Mutex
	userChannel transport.Channel
	convChannel transport.Channel
	presChannel transport.Channel

	// generation guards against a slow message fetch for an abandoned
	// selection clobbering the current one
	generation uint64
}

func NewService(self types.UserSummary, tc transport.Client, gw gateway.Gateway,
	st *store.Store, tracker *presence.Tracker, notifier Notifier, logger *log.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &Service{
		self:      self,
		transport: tc,
		gateway:   gw,
		store:     st,
		presence:  tracker,
		notifier:  notifier,
		log:       logger,
	}
}

// Store exposes the state the UI subscribes to.
func (s *Service) Store() *store.Store { return s.store }

// Presence exposes the roster and typing indicator of the open
// conversation.
func (s *Service) Presence() *presence.Tracker { return s.presence }

// Start subscribes the viewer's user channel and loads the conversation
// list. Notifications for all conversations flow from here on, open or
// not.
func (s *Service) Start(ctx context.Context) error {
	ch, err := s.transport.Subscribe(transport.UserChannel(s.self.Id))
	if err != nil {
		return fmt.Errorf("subscribe user channel: %w", err)
	}

	ch.Bind(transport.EventNewMessage, s.handleUserNewMessage)
	ch.Bind(transport.EventMessageRead, s.handleMessageRead)
	ch.Bind(transport.EventMessageDelivered, s.handleMessageDelivered)

	s.mu.Lock()
	s.userChannel = ch
	s.mu.Unlock()

	return s.RefreshConversations(ctx)
}

// Close tears down every live subscription. The transport connection
// itself belongs to the caller.
func (s *Service) Close() {
	s.mu.Lock()
	user, conv, pres := s.userChannel, s.convChannel, s.presChannel
	s.userChannel, s.convChannel, s.presChannel = nil, nil, nil
	s.generation++
	s.mu.Unlock()

	for _, ch := range []transport.Channel{conv, pres, user} {
		if ch == nil {
			continue
		}
		ch.UnbindAll()
		s.transport.Unsubscribe(ch.Name())
	}

	s.presence.Detach()
	s.store.Select(nil)
}

// RefreshConversations refetches the list and the unread counts and
// replaces the store contents. On failure the store keeps its previous
// contents.
func (s *Service) RefreshConversations(ctx context.Context) error {
	s.store.SetLoadingConversations(true)
	defer s.store.SetLoadingConversations(false)

	convs, err := s.gateway.ListConversations(ctx)
	if err != nil {
		s.log.Println("list conversations:", err)
		s.notifier.Error("failed to load conversations")
		return err
	}

	counts, err := s.gateway.UnreadCounts(ctx)
	if err != nil {
		s.log.Println("unread counts:", err)
		s.notifier.Error("failed to load unread counts")
		return err
	}

	s.store.SetConversations(convs, counts)
	return nil
}

// SelectConversation opens conv: tears down the previous conversation's
// channels, subscribes the new ones, fetches its messages, and clears its
// unread count. Only one conversation is open at a time.
func (s *Service) SelectConversation(ctx context.Context, conv types.Conversation) error {
	s.teardownSelected()

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.store.Select(&conv)

	convCh, err := s.transport.Subscribe(transport.ConversationChannel(conv.Id))
	if err != nil {
		return fmt.Errorf("subscribe conversation channel: %w", err)
	}
	convCh.Bind(transport.EventNewMessage, s.handleConversationNewMessage)

	presCh, err := s.transport.Subscribe(transport.PresenceChannel(conv.Id))
	if err != nil {
		convCh.UnbindAll()
		s.transport.Unsubscribe(convCh.Name())
		return fmt.Errorf("subscribe presence channel: %w", err)
	}
	s.presence.Attach(presCh)

	s.mu.Lock()
	s.convChannel = convCh
	s.presChannel = presCh
	s.mu.Unlock()

	if err := s.fetchMessages(ctx, conv.Id, gen); err != nil {
		return err
	}

	// the store's count, not the caller's snapshot, decides whether an
	// acknowledgement is owed
	if s.store.UnreadCount(conv.Id) > 0 {
		s.store.ResetUnread(conv.Id)
		if err := s.gateway.MarkConversationRead(ctx, conv.Id); err != nil {
			// best effort, the count converges on the next refresh
			s.log.Println("mark conversation read:", err)
		}
	}

	return nil
}

func (s *Service) fetchMessages(ctx context.Context, conversationId string, gen uint64) error {
	s.store.SetLoadingMessages(true)
	defer s.store.SetLoadingMessages(false)

	msgs, err := s.gateway.ListMessages(ctx, conversationId)
	if err != nil {
		s.log.Println("list messages:", err)
		s.notifier.Error("failed to load messages")
		return err
	}

	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		return nil
	}

	s.store.SetMessages(msgs)
	return nil
}

// teardownSelected unbinds and unsubscribes the open conversation's
// channels. It must complete before any new subscription so a handler from
// the old conversation cannot mutate state for the new one.
func (s *Service) teardownSelected() {
	s.mu.Lock()
	conv, pres := s.convChannel, s.presChannel
	s.convChannel, s.presChannel = nil, nil
	s.mu.Unlock()

	if pres != nil {
		s.presence.Detach()
		pres.UnbindAll()
		s.transport.Unsubscribe(pres.Name())
	}
	if conv != nil {
		conv.UnbindAll()
		s.transport.Unsubscribe(conv.Name())
	}
}

// SendMessage durably persists content in the open conversation, then
// appends it locally. Nothing is appended before the gateway confirms, so
// a failed send leaves no orphaned message.
func (s *Service) SendMessage(ctx context.Context, content string) (types.Message, error) {
	conv, ok := s.store.Selected()
	if !ok {
		return types.Message{}, ErrNoConversationSelected
	}

	if strings.TrimSpace(content) == "" {
		return types.Message{}, ErrEmptyMessage
	}

	msg, err := s.gateway.SendMessage(ctx, conv.Id, content)
	if err != nil {
		s.log.Println("send message:", err)
		s.notifier.Error("failed to send message")
		return types.Message{}, err
	}

	s.store.AppendMessage(msg)
	s.store.UpsertConversationPreview(conv.Id, msg.Preview(), true)

	return msg, nil
}

// StartConversation opens (or reopens) a direct conversation with another
// user and selects it. Creation is idempotent on the participant pair, so
// the local list never gains a duplicate.
func (s *Service) StartConversation(ctx context.Context, otherUserId int) (types.Conversation, error) {
	conv, err := s.gateway.StartConversation(ctx, otherUserId)
	if err != nil {
		s.log.Println("start conversation:", err)
		s.notifier.Error("failed to start conversation")
		return types.Conversation{}, err
	}

	s.store.AddConversation(conv)

	if err := s.SelectConversation(ctx, conv); err != nil {
		return types.Conversation{}, err
	}

	return conv, nil
}

// SetTyping broadcasts the viewer's typing state on the open
// conversation's presence channel. A no-op when no conversation is open or
// the channel is not ready.
func (s *Service) SetTyping(isTyping bool) {
	s.presence.SetTyping(isTyping)
}

// MarkMessageAsRead acknowledges one message. Reading implies delivery, so
// both flags flip locally.
func (s *Service) MarkMessageAsRead(ctx context.Context, messageId string) error {
	if err := s.gateway.MarkMessageRead(ctx, messageId); err != nil {
		s.log.Println("mark message read:", err)
		return err
	}

	yes := true
	s.store.PatchMessage(messageId, &yes, &yes)
	return nil
}

// handleConversationNewMessage receives live messages for the open
// conversation. The unread count stays at zero; the viewer is looking at
// it.
func (s *Service) handleConversationNewMessage(data json.RawMessage) {
	var event types.NewMessageEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.log.Println("decode new-message event:", err)
		return
	}

	conv, ok := s.store.Selected()
	if !ok || conv.Id != event.Message.ConversationId {
		// stale handler, the conversation was switched mid-flight
		return
	}

	s.store.AppendMessage(event.Message)
	s.store.UpsertConversationPreview(conv.Id, event.Message.Preview(), true)
}

// handleUserNewMessage receives messages for every conversation on the
// viewer's user channel. Messages for the open conversation are ignored
// here since the conversation channel already handled them, which keeps
// the unread count from double counting.
func (s *Service) handleUserNewMessage(data json.RawMessage) {
	var event types.NewMessageEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.log.Println("decode new-message event:", err)
		return
	}

	if conv, ok := s.store.Selected(); ok && conv.Id == event.ConversationId {
		return
	}

	s.store.IncrementUnread(event.ConversationId)
	if !s.store.UpsertConversationPreview(event.ConversationId, event.Message.Preview(), true) {
		// a conversation this client has never seen, refetch the list
		go func() {
			if err := s.RefreshConversations(context.Background()); err != nil {
				s.log.Println("refresh after unknown conversation:", err)
			}
		}()
	}

	s.notifier.NewMessage(event.ConversationId, event.Message.Sender, excerpt(event.Message.Content))
}

func (s *Service) handleMessageRead(data json.RawMessage) {
	var event types.ReceiptEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.log.Println("decode receipt event:", err)
		return
	}

	yes := true
	s.store.PatchMessage(event.MessageId, &yes, &yes)
}

func (s *Service) handleMessageDelivered(data json.RawMessage) {
	var event types.ReceiptEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.log.Println("decode receipt event:", err)
		return
	}

	yes := true
	s.store.PatchMessage(event.MessageId, nil, &yes)
}

const maxExcerptLen = 80

func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= maxExcerptLen {
		return content
	}
	return string(runes[:maxExcerptLen]) + "…"
}
