package presence

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/develoFavour/MediCare-sub000/internal/transport"
	"github.com/develoFavour/MediCare-sub000/internal/types"
)

// DefaultTypingIdle is the quiet period after which a local "typing"
// state is broadcast as stopped.
const DefaultTypingIdle = 3 * time.Second

// Tracker maintains the online roster and the typing indicator for the
// open conversation, derived from its presence channel. One tracker serves
// one client session; Attach rebinds it to each newly opened conversation.
type Tracker struct {
	self       types.UserSummary
	log        *log.Logger
	typingIdle time.Duration

	mu      sync.Mutex
	channel transport.Channel
	roster  []types.UserSummary
	typing  *types.TypingEvent

	typingTimer *time.Timer

	onChange func()
}

func NewTracker(self types.UserSummary, logger *log.Logger) *Tracker {
	return &Tracker{
		self:       self,
		log:        logger,
		typingIdle: DefaultTypingIdle,
	}
}

// SetTypingIdle overrides the debounce-to-idle period. Must be called
// before Attach.
func (t *Tracker) SetTypingIdle(d time.Duration) {
	t.typingIdle = d
}

// OnChange registers a single callback invoked after every roster or
// typing change.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Attach binds the tracker to a conversation's presence channel. Any
// previously attached channel must already have been torn down by the
// caller; Attach resets all ephemeral state.
func (t *Tracker) Attach(ch transport.Channel) {
	t.mu.Lock()
	t.channel = ch
	t.roster = nil
	t.typing = nil
	t.stopTimerLocked()
	t.mu.Unlock()

	ch.Bind(transport.EventSubscriptionSucceeded, t.handleSubscribed)
	ch.Bind(transport.EventMemberAdded, t.handleMemberAdded)
	ch.Bind(transport.EventMemberRemoved, t.handleMemberRemoved)
	ch.Bind(transport.EventTyping, t.handleTyping)

	// the subscription may have been acknowledged before the handlers above
	// were bound, so the channel's roster is the source of truth here
	if members := ch.Members(); len(members) > 0 {
		t.mu.Lock()
		t.roster = t.roster[:0]
		for _, m := range members {
			if m.Id != t.self.Id {
				t.roster = append(t.roster, m)
			}
		}
		t.mu.Unlock()
		t.notify()
	}
}

// Detach clears the channel reference and all ephemeral state. The caller
// unbinds and unsubscribes the channel itself.
func (t *Tracker) Detach() {
	t.mu.Lock()
	t.channel = nil
	t.roster = nil
	t.typing = nil
	t.stopTimerLocked()
	t.mu.Unlock()

	t.notify()
}

// Roster returns the online members of the open conversation, self
// excluded.
func (t *Tracker) Roster() []types.UserSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	roster := make([]types.UserSummary, len(t.roster))
	copy(roster, t.roster)
	return roster
}

// Typing reports the peer currently typing, if any.
func (t *Tracker) Typing() (types.TypingEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.typing == nil {
		return types.TypingEvent{}, false
	}
	return *t.typing, true
}

// SetTyping broadcasts the local typing state on the presence channel.
// Each true call restarts the idle timer; when it fires, a stopped event
// is broadcast on the caller's behalf. Without an attached channel this is
// a no-op.
func (t *Tracker) SetTyping(isTyping bool) {
	t.mu.Lock()
	ch := t.channel
	if ch == nil {
		t.mu.Unlock()
		return
	}

	t.stopTimerLocked()
	if isTyping {
		t.typingTimer = time.AfterFunc(t.typingIdle, func() {
			t.SetTyping(false)
		})
	}
	t.mu.Unlock()

	event := types.TypingEvent{
		UserId:   t.self.Id,
		FullName: t.self.FullName,
		IsTyping: isTyping,
	}
	if err := ch.Trigger(transport.EventTyping, event); err != nil {
		t.log.Println("typing broadcast:", err)
	}
}

func (t *Tracker) handleSubscribed(data json.RawMessage) {
	var members []types.UserSummary
	if err := json.Unmarshal(data, &members); err != nil {
		t.log.Println("decode roster:", err)
		return
	}

	t.mu.Lock()
	t.roster = nil
	for _, m := range members {
		if m.Id != t.self.Id {
			t.roster = append(t.roster, m)
		}
	}
	t.mu.Unlock()

	t.notify()
}

func (t *Tracker) handleMemberAdded(data json.RawMessage) {
	var member types.UserSummary
	if err := json.Unmarshal(data, &member); err != nil {
		t.log.Println("decode member:", err)
		return
	}

	if member.Id == t.self.Id {
		return
	}

	t.mu.Lock()
	for _, m := range t.roster {
		if m.Id == member.Id {
			t.mu.Unlock()
			return
		}
	}
	t.roster = append(t.roster, member)
	t.mu.Unlock()

	t.notify()
}

func (t *Tracker) handleMemberRemoved(data json.RawMessage) {
	var member types.UserSummary
	if err := json.Unmarshal(data, &member); err != nil {
		t.log.Println("decode member:", err)
		return
	}

	t.mu.Lock()
	for i, m := range t.roster {
		if m.Id == member.Id {
			t.roster = append(t.roster[:i], t.roster[i+1:]...)
			break
		}
	}
	// a departed peer cannot still be typing
	if t.typing != nil && t.typing.UserId == member.Id {
		t.typing = nil
	}
	t.mu.Unlock()

	t.notify()
}

func (t *Tracker) handleTyping(data json.RawMessage) {
	var event types.TypingEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.log.Println("decode typing event:", err)
		return
	}

	if event.UserId == t.self.Id {
		return
	}

	t.mu.Lock()
	if event.IsTyping {
		t.typing = &event
	} else if t.typing != nil && t.typing.UserId == event.UserId {
		t.typing = nil
	}
	t.mu.Unlock()

	t.notify()
}

func (t *Tracker) stopTimerLocked() {
	if t.typingTimer != nil {
		t.typingTimer.Stop()
		t.typingTimer = nil
	}
}

func (t *Tracker) notify() {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}
