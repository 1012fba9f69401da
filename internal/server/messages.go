package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/develoFavour/MediCare-sub000/internal/transport"
	"github.com/develoFavour/MediCare-sub000/internal/types"
)

// clientFrame is a transport.ClientFrame annotated with the session it
// arrived on.
type clientFrame struct {
	transport.ClientFrame
	client *Client
}

// Emit is a server-originated event bound for every live subscriber of a
// channel.
type Emit struct {
	Channel string
	Event   string
	Data    json.RawMessage
}

func NoErrOK(id int, channel string, members []types.UserSummary) *transport.ServerFrame {
	return &transport.ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &transport.Response{
			ResponseCode: http.StatusOK,
			Channel:      channel,
			Members:      members,
		},
	}
}

func ErrForbidden(id int, channel string) *transport.ServerFrame {
	return &transport.ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &transport.Response{
			ResponseCode: http.StatusForbidden,
			Error:        "subscription not allowed",
			Channel:      channel,
		},
	}
}

func ErrUnknownChannel(id int, channel string) *transport.ServerFrame {
	return &transport.ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &transport.Response{
			ResponseCode: http.StatusNotFound,
			Error:        "unknown channel",
			Channel:      channel,
		},
	}
}

func ErrInvalidFrame(id int) *transport.ServerFrame {
	frame := &transport.ServerFrame{
		Timestamp: Now(),
		Response: &transport.Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid frame format",
		},
	}

	if id > 0 {
		frame.Id = id
	}
	return frame
}

func ErrServiceUnavailable(id int) *transport.ServerFrame {
	return &transport.ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &transport.Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func EventFrame(channel, event string, data json.RawMessage) *transport.ServerFrame {
	return &transport.ServerFrame{
		Timestamp: Now(),
		Event: &transport.Event{
			Channel: channel,
			Event:   event,
			Data:    data,
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
