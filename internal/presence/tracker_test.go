package presence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/develoFavour/MediCare-sub000/internal/testutil"
	"github.com/develoFavour/MediCare-sub000/internal/transport"
	"github.com/develoFavour/MediCare-sub000/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	self  = types.UserSummary{Id: 1, FullName: "Dr. Adams", Role: types.RoleDoctor}
	peer  = types.UserSummary{Id: 2, FullName: "Pat Lee", Role: types.RolePatient}
	peer2 = types.UserSummary{Id: 3, FullName: "Dr. Osei", Role: types.RoleDoctor}
)

func presenceChannel(t *testing.T) *transport.FakeChannel {
	t.Helper()

	client := transport.NewFakeClient()
	ch, err := client.Subscribe(transport.PresenceChannel("c1"))
	require.NoError(t, err)
	return ch.(*transport.FakeChannel)
}

func TestRosterExcludesSelf(t *testing.T) {
	tracker := NewTracker(self, testutil.TestLogger(t))
	ch := presenceChannel(t)
	tracker.Attach(ch)

	ch.EmitSubscriptionSucceeded([]types.UserSummary{self, peer})

	roster := tracker.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, peer.Id, roster[0].Id)
}

func TestAttachSeedsRosterFromChannelMembers(t *testing.T) {
	tracker := NewTracker(self, testutil.TestLogger(t))
	ch := presenceChannel(t)

	// acknowledgement lands before anyone is bound to the channel
	ch.EmitSubscriptionSucceeded([]types.UserSummary{self, peer})

	tracker.Attach(ch)

	roster := tracker.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, peer.Id, roster[0].Id)
}

func TestMemberAddedAndRemoved(t *testing.T) {
	tracker := NewTracker(self, testutil.TestLogger(t))
	ch := presenceChannel(t)
	tracker.Attach(ch)

	ch.EmitSubscriptionSucceeded([]types.UserSummary{self})
	ch.Emit(transport.EventMemberAdded, peer)
	ch.Emit(transport.EventMemberAdded, peer2)
	assert.Len(t, tracker.Roster(), 2)

	// adding self or a duplicate changes nothing
	ch.Emit(transport.EventMemberAdded, self)
	ch.Emit(transport.EventMemberAdded, peer)
	assert.Len(t, tracker.Roster(), 2)

	ch.Emit(transport.EventMemberRemoved, peer)
	roster := tracker.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, peer2.Id, roster[0].Id)
}

func TestTypingIndicator(t *testing.T) {
	tracker := NewTracker(self, testutil.TestLogger(t))
	ch := presenceChannel(t)
	tracker.Attach(ch)

	ch.Emit(transport.EventTyping, types.TypingEvent{UserId: peer.Id, FullName: peer.FullName, IsTyping: true})

	typing, ok := tracker.Typing()
	require.True(t, ok)
	assert.Equal(t, peer.Id, typing.UserId)

	// a stop from a different peer must not clear it
	ch.Emit(transport.EventTyping, types.TypingEvent{UserId: peer2.Id, IsTyping: false})
	_, ok = tracker.Typing()
	assert.True(t, ok)

	ch.Emit(transport.EventTyping, types.TypingEvent{UserId: peer.Id, IsTyping: false})
	_, ok = tracker.Typing()
	assert.False(t, ok)
}

func TestOwnTypingEventsIgnored(t *testing.T) {
	tracker := NewTracker(self, testutil.TestLogger(t))
	ch := presenceChannel(t)
	tracker.Attach(ch)

	ch.Emit(transport.EventTyping, types.TypingEvent{UserId: self.Id, IsTyping: true})
	_, ok := tracker.Typing()
	assert.False(t, ok)
}

func TestMemberRemovedClearsTheirTypingIndicator(t *testing.T) {
	tracker := NewTracker(self, testutil.TestLogger(t))
	ch := presenceChannel(t)
	tracker.Attach(ch)

	ch.EmitSubscriptionSucceeded([]types.UserSummary{self, peer})
	ch.Emit(transport.EventTyping, types.TypingEvent{UserId: peer.Id, FullName: peer.FullName, IsTyping: true})
	_, ok := tracker.Typing()
	require.True(t, ok)

	ch.Emit(transport.EventMemberRemoved, peer)

	_, ok = tracker.Typing()
	assert.False(t, ok, "indicator cleared when its owner disconnects")
}

func TestSetTypingBroadcastsAndAutoClears(t *testing.T) {
	tracker := NewTracker(self, testutil.TestLogger(t))
	tracker.SetTypingIdle(20 * time.Millisecond)
	ch := presenceChannel(t)
	tracker.Attach(ch)

	tracker.SetTyping(true)

	events := ch.TriggeredEvents()
	require.Len(t, events, 1)
	var sent types.TypingEvent
	require.NoError(t, json.Unmarshal(events[0].Data, &sent))
	assert.Equal(t, self.Id, sent.UserId)
	assert.True(t, sent.IsTyping)

	assert.Eventually(t, func() bool {
		return len(ch.TriggeredEvents()) == 2
	}, time.Second, 5*time.Millisecond, "stopped event broadcast after the quiet period")

	var stopped types.TypingEvent
	require.NoError(t, json.Unmarshal(ch.TriggeredEvents()[1].Data, &stopped))
	assert.False(t, stopped.IsTyping)
}

func TestSetTypingRestartsTimer(t *testing.T) {
	tracker := NewTracker(self, testutil.TestLogger(t))
	tracker.SetTypingIdle(40 * time.Millisecond)
	ch := presenceChannel(t)
	tracker.Attach(ch)

	tracker.SetTyping(true)
	time.Sleep(25 * time.Millisecond)
	tracker.SetTyping(true)
	time.Sleep(25 * time.Millisecond)

	// first timer was re-armed at the second keystroke, so no stop yet
	assert.Len(t, ch.TriggeredEvents(), 2)

	assert.Eventually(t, func() bool {
		return len(ch.TriggeredEvents()) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestSetTypingWithoutChannelIsNoop(t *testing.T) {
	tracker := NewTracker(self, testutil.TestLogger(t))
	tracker.SetTyping(true)
}

func TestDetachClearsState(t *testing.T) {
	tracker := NewTracker(self, testutil.TestLogger(t))
	ch := presenceChannel(t)
	tracker.Attach(ch)

	ch.EmitSubscriptionSucceeded([]types.UserSummary{self, peer})
	ch.Emit(transport.EventTyping, types.TypingEvent{UserId: peer.Id, IsTyping: true})

	tracker.Detach()

	assert.Empty(t, tracker.Roster())
	_, ok := tracker.Typing()
	assert.False(t, ok)
}
