package transport

import (
	"encoding/json"
	"time"

	"github.com/develoFavour/MediCare-sub000/internal/types"
)

// Wire framing spoken between the websocket transport and the realtime
// hub. A client frame carries exactly one of its optional sections.

type ClientFrame struct {
	Id          int          `json:"id,omitempty"`
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	Publish     *Publish     `json:"publish,omitempty"`
}

type Subscribe struct {
	Channel string `json:"channel"`
}

type Unsubscribe struct {
	Channel string `json:"channel"`
}

type Publish struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type ServerFrame struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Response  *Response `json:"response,omitempty"`
	Event     *Event    `json:"event,omitempty"`
}

// Response acknowledges a client frame by id. Members is populated on
// successful presence-channel subscriptions.
type Response struct {
	ResponseCode int                 `json:"response_code"`
	Error        string              `json:"error,omitempty"`
	Channel      string              `json:"channel,omitempty"`
	Members      []types.UserSummary `json:"members,omitempty"`
}

// Event is a server-pushed occurrence on a subscribed channel.
type Event struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}
