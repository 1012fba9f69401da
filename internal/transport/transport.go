package transport

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/develoFavour/MediCare-sub000/internal/types"
)

// Event names carried on channels. The subscription lifecycle events are
// only ever dispatched locally by the transport, never sent by a peer.
const (
	EventNewMessage       = "new-message"
	EventMessageRead      = "message-read"
	EventMessageDelivered = "message-delivered"
	EventTyping           = "typing"

	EventSubscriptionSucceeded = "subscription_succeeded"
	EventMemberAdded           = "member_added"
	EventMemberRemoved         = "member_removed"
)

const (
	userChannelPrefix         = "private-user-"
	conversationChannelPrefix = "private-conversation-"
	presenceChannelPrefix     = "presence-conversation-"
)

// UserChannel names the private per-user channel used for notifications
// outside the scope of an open conversation.
func UserChannel(userId int) string {
	return userChannelPrefix + strconv.Itoa(userId)
}

// ConversationChannel names the private channel carrying live messages for
// one conversation.
func ConversationChannel(conversationId string) string {
	return conversationChannelPrefix + conversationId
}

// PresenceChannel names the roster-tracking channel for one conversation.
// Presence channels also carry client-originated ephemeral events.
func PresenceChannel(conversationId string) string {
	return presenceChannelPrefix + conversationId
}

func IsPresenceChannel(name string) bool {
	return strings.HasPrefix(name, presenceChannelPrefix)
}

// ParseChannel splits a channel name into its kind prefix and the id it was
// derived from. The bool reports whether the name matches a known kind.
func ParseChannel(name string) (kind, id string, ok bool) {
	for _, prefix := range []string{userChannelPrefix, conversationChannelPrefix, presenceChannelPrefix} {
		if strings.HasPrefix(name, prefix) {
			return prefix, strings.TrimPrefix(name, prefix), true
		}
	}
	return "", "", false
}

const (
	KindUser         = userChannelPrefix
	KindConversation = conversationChannelPrefix
	KindPresence     = presenceChannelPrefix
)

// ErrNotPresenceChannel is returned by Trigger on channels that do not
// support client-originated events.
var ErrNotPresenceChannel = fmt.Errorf("channel is not a presence channel")

// Handler receives the raw payload of one event occurrence.
type Handler func(data json.RawMessage)

// Channel is one live subscription. Bind registers a handler for an event
// name, UnbindAll drops every handler, and Trigger publishes a
// client-originated ephemeral event (presence channels only). Members
// reports the current roster on presence channels and is empty until
// subscription_succeeded has fired.
type Channel interface {
	Name() string
	Bind(event string, h Handler)
	UnbindAll()
	Trigger(event string, data any) error
	Members() []types.UserSummary
}

// Client is the pub/sub connection. Every Subscribe opens a live channel
// which must be released with Unsubscribe; handlers left bound across an
// Unsubscribe leak into the next subscription of the same name.
type Client interface {
	Subscribe(name string) (Channel, error)
	Unsubscribe(name string)
	Close() error
}
