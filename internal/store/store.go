package store

import (
	"sort"
	"sync"
	"time"

	"github.com/develoFavour/MediCare-sub000/internal/types"
)

// Store holds the client-side conversation state the UI reads: the
// conversation list, the selected conversation, and the message list for
// the selected conversation only. The messaging service is the sole
// writer; readers get copies. Every mutation notifies subscribers.
type Store struct {
	mu sync.Mutex

	conversations []types.Conversation
	selected      *types.Conversation
	messages      []types.Message
	unreadCounts  map[string]int

	loadingConversations bool
	loadingMessages      bool

	nextListenerId int
	listeners      map[int]func()
}

func New() *Store {
	return &Store{
		unreadCounts: make(map[string]int),
		listeners:    make(map[int]func()),
	}
}

// Subscribe registers fn to run after every state change. The returned
// function removes the registration.
func (s *Store) Subscribe(fn func()) func() {
	s.mu.Lock()
	id := s.nextListenerId
	s.nextListenerId++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// notify must be called without the lock held.
func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Store) Conversations() []types.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs := make([]types.Conversation, len(s.conversations))
	copy(convs, s.conversations)
	return convs
}

func (s *Store) Selected() (types.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == nil {
		return types.Conversation{}, false
	}
	return *s.selected, true
}

func (s *Store) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]types.Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs
}

func (s *Store) UnreadCount(conversationId string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadCounts[conversationId]
}

func (s *Store) Loading() (conversations, messages bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingConversations, s.loadingMessages
}

func (s *Store) SetLoadingConversations(v bool) {
	s.mu.Lock()
	s.loadingConversations = v
	s.mu.Unlock()
	s.notify()
}

func (s *Store) SetLoadingMessages(v bool) {
	s.mu.Lock()
	s.loadingMessages = v
	s.mu.Unlock()
	s.notify()
}

// SetConversations replaces the list, merging server unread counts into
// each entry. A count missing from the map falls back to the count the
// conversation itself carries.
func (s *Store) SetConversations(convs []types.Conversation, counts map[string]int) {
	s.mu.Lock()

	s.unreadCounts = make(map[string]int, len(convs))
	s.conversations = make([]types.Conversation, len(convs))
	for i, c := range convs {
		if n, ok := counts[c.Id]; ok {
			c.UnreadCount = n
		}
		s.unreadCounts[c.Id] = c.UnreadCount
		s.conversations[i] = c
	}
	sortByActivity(s.conversations)

	s.mu.Unlock()
	s.notify()
}

// AddConversation inserts a conversation if it is not already present.
func (s *Store) AddConversation(conv types.Conversation) {
	s.mu.Lock()

	for _, c := range s.conversations {
		if c.Id == conv.Id {
			s.mu.Unlock()
			return
		}
	}

	s.conversations = append(s.conversations, conv)
	s.unreadCounts[conv.Id] = conv.UnreadCount
	sortByActivity(s.conversations)

	s.mu.Unlock()
	s.notify()
}

// Select sets the open conversation and clears the message list. Passing
// nil closes the current conversation.
func (s *Store) Select(conv *types.Conversation) {
	s.mu.Lock()
	if conv != nil {
		c := *conv
		s.selected = &c
	} else {
		s.selected = nil
	}
	s.messages = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Store) SetMessages(msgs []types.Message) {
	s.mu.Lock()
	s.messages = make([]types.Message, len(msgs))
	copy(s.messages, msgs)
	s.mu.Unlock()
	s.notify()
}

// AppendMessage adds msg to the tail of the open message list. Appending
// an id already present is a no-op, so a message arriving both from the
// send response and the conversation channel lands once. The list is never
// re-sorted; the channel delivers in send order.
func (s *Store) AppendMessage(msg types.Message) {
	s.mu.Lock()

	for _, m := range s.messages {
		if m.Id == msg.Id {
			s.mu.Unlock()
			return
		}
	}
	s.messages = append(s.messages, msg)

	s.mu.Unlock()
	s.notify()
}

// PatchMessage flips receipt flags on the message by id, wherever it
// currently lives. A miss is a no-op; the message may belong to a
// conversation that is not loaded.
func (s *Store) PatchMessage(messageId string, read, delivered *bool) {
	s.mu.Lock()

	var patched bool
	for i := range s.messages {
		if s.messages[i].Id != messageId {
			continue
		}

		if read != nil {
			s.messages[i].Read = *read
		}
		if delivered != nil {
			s.messages[i].Delivered = *delivered
		}
		patched = true
		break
	}

	if read != nil {
		for i := range s.conversations {
			if s.conversations[i].LastMessage != nil && s.conversations[i].LastMessage.Id == messageId {
				s.conversations[i].LastMessage.Read = *read
				patched = true
				break
			}
		}
	}

	s.mu.Unlock()
	if patched {
		s.notify()
	}
}

// UpsertConversationPreview updates a conversation's last-message snapshot
// and reorders the list by recent activity. Reports whether the
// conversation was found.
func (s *Store) UpsertConversationPreview(conversationId string, lastMessage *types.MessagePreview, bumpUpdatedAt bool) bool {
	s.mu.Lock()

	var found bool
	for i := range s.conversations {
		if s.conversations[i].Id != conversationId {
			continue
		}

		s.conversations[i].LastMessage = lastMessage
		if bumpUpdatedAt {
			s.conversations[i].UpdatedAt = time.Now()
		}
		found = true
		break
	}

	if found {
		sortByActivity(s.conversations)
		if s.selected != nil && s.selected.Id == conversationId {
			s.selected.LastMessage = lastMessage
		}
	}

	s.mu.Unlock()
	if found {
		s.notify()
	}
	return found
}

func (s *Store) IncrementUnread(conversationId string) {
	s.mu.Lock()

	s.unreadCounts[conversationId]++
	for i := range s.conversations {
		if s.conversations[i].Id == conversationId {
			s.conversations[i].UnreadCount++
			break
		}
	}

	s.mu.Unlock()
	s.notify()
}

func (s *Store) ResetUnread(conversationId string) {
	s.mu.Lock()

	s.unreadCounts[conversationId] = 0
	for i := range s.conversations {
		if s.conversations[i].Id == conversationId {
			s.conversations[i].UnreadCount = 0
			break
		}
	}
	if s.selected != nil && s.selected.Id == conversationId {
		s.selected.UnreadCount = 0
	}

	s.mu.Unlock()
	s.notify()
}

func sortByActivity(convs []types.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}
