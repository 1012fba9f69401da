package transport

import (
	"encoding/json"
	"sync"

	"github.com/develoFavour/MediCare-sub000/internal/types"
)

// FakeClient is an in-memory Client for tests. It records the order of
// subscribe and unsubscribe calls and lets tests emit events and drive
// presence membership without a live connection.
type FakeClient struct {
	mu           sync.Mutex
	channels     map[string]*FakeChannel
	Subscribed   []string
	Unsubscribed []string

	// Calls interleaves both kinds in call order, entries are
	// "subscribe:<name>" and "unsubscribe:<name>".
	Calls []string
}

func NewFakeClient() *FakeClient {
	return &FakeClient{channels: make(map[string]*FakeChannel)}
}

func (c *FakeClient) Subscribe(name string) (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Subscribed = append(c.Subscribed, name)
	c.Calls = append(c.Calls, "subscribe:"+name)
	if ch, ok := c.channels[name]; ok {
		return ch, nil
	}

	ch := &FakeChannel{name: name, handlers: make(map[string][]Handler)}
	c.channels[name] = ch
	return ch, nil
}

func (c *FakeClient) Unsubscribe(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Unsubscribed = append(c.Unsubscribed, name)
	c.Calls = append(c.Calls, "unsubscribe:"+name)
	delete(c.channels, name)
}

func (c *FakeClient) Close() error { return nil }

// Channel returns the live channel by name, or nil if it was never
// subscribed or already unsubscribed.
func (c *FakeClient) Channel(name string) *FakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[name]
}

type TriggeredEvent struct {
	Event string
	Data  json.RawMessage
}

type FakeChannel struct {
	name string

	mu       sync.Mutex
	handlers map[string][]Handler
	members  []types.UserSummary

	// Triggers records every client-originated event published on this
	// channel, in order.
	Triggers []TriggeredEvent
}

func (ch *FakeChannel) Name() string { return ch.name }

func (ch *FakeChannel) Bind(event string, h Handler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers[event] = append(ch.handlers[event], h)
}

func (ch *FakeChannel) UnbindAll() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers = make(map[string][]Handler)
}

func (ch *FakeChannel) Trigger(event string, data any) error {
	if !IsPresenceChannel(ch.name) {
		return ErrNotPresenceChannel
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	ch.Triggers = append(ch.Triggers, TriggeredEvent{Event: event, Data: payload})
	ch.mu.Unlock()
	return nil
}

func (ch *FakeChannel) Members() []types.UserSummary {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	members := make([]types.UserSummary, len(ch.members))
	copy(members, ch.members)
	return members
}

// TriggeredEvents returns a copy of the recorded client-originated events.
func (ch *FakeChannel) TriggeredEvents() []TriggeredEvent {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	events := make([]TriggeredEvent, len(ch.Triggers))
	copy(events, ch.Triggers)
	return events
}

// BoundHandlers reports how many handlers are currently bound across all
// events, for asserting teardown.
func (ch *FakeChannel) BoundHandlers() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	var n int
	for _, hs := range ch.handlers {
		n += len(hs)
	}
	return n
}

// Emit dispatches a server-originated event to bound handlers, as the read
// pump would.
func (ch *FakeChannel) Emit(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}

	switch event {
	case EventMemberAdded:
		var member types.UserSummary
		if err := json.Unmarshal(payload, &member); err == nil {
			ch.mu.Lock()
			ch.members = append(ch.members, member)
			ch.mu.Unlock()
		}
	case EventMemberRemoved:
		var member types.UserSummary
		if err := json.Unmarshal(payload, &member); err == nil {
			ch.mu.Lock()
			for i, m := range ch.members {
				if m.Id == member.Id {
					ch.members = append(ch.members[:i], ch.members[i+1:]...)
					break
				}
			}
			ch.mu.Unlock()
		}
	}

	ch.dispatch(event, payload)
}

// EmitSubscriptionSucceeded seeds the roster and fires the lifecycle event.
func (ch *FakeChannel) EmitSubscriptionSucceeded(members []types.UserSummary) {
	ch.mu.Lock()
	ch.members = members
	ch.mu.Unlock()

	payload, _ := json.Marshal(members)
	ch.dispatch(EventSubscriptionSucceeded, payload)
}

func (ch *FakeChannel) dispatch(event string, data json.RawMessage) {
	ch.mu.Lock()
	handlers := make([]Handler, len(ch.handlers[event]))
	copy(handlers, ch.handlers[event])
	ch.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}
