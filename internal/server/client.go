package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/develoFavour/MediCare-sub000/internal/transport"
	"github.com/develoFavour/MediCare-sub000/internal/types"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Client is one live websocket session for an authenticated user. A user
// may hold several sessions at once (multiple tabs/devices).
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	log  *log.Logger
	user types.UserSummary
	send chan *transport.ServerFrame

	channelsLock sync.RWMutex
	channels     map[string]struct{}

	stop chan struct{}
}

func NewClient(user types.UserSummary, conn *websocket.Conn, hub *Hub, l *log.Logger) *Client {
	return &Client{
		conn:     conn,
		hub:      hub,
		log:      l,
		user:     user,
		send:     make(chan *transport.ServerFrame, 256),
		channels: make(map[string]struct{}),
		stop:     make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(frame)
			if err != nil {
				c.log.Println("failed to serialize frame:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame.ClientFrame); err != nil {
			c.log.Println("error parsing frame:", err)
			c.queueFrame(ErrInvalidFrame(-1))
			continue
		}

		if frame.Subscribe == nil && frame.Unsubscribe == nil && frame.Publish == nil {
			c.queueFrame(ErrInvalidFrame(frame.Id))
			continue
		}

		frame.client = c

		select {
		case c.hub.frameChan <- &frame:
		default:
			c.log.Println("hub frame channel full")
			c.queueFrame(ErrServiceUnavailable(frame.Id))
		}
	}
}

func (c *Client) queueFrame(frame *transport.ServerFrame) bool {
	select {
	case c.send <- frame:
	default:
		c.log.Printf("dropping frame for %q, send channel full", c.user.FullName)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

func (c *Client) cleanup() {
	select {
	case c.hub.deregisterChan <- c:
	case <-c.hub.done:
	}
	c.stopClient()
}

func (c *Client) addChannel(name string) {
	c.channelsLock.Lock()
	defer c.channelsLock.Unlock()
	c.channels[name] = struct{}{}
}

func (c *Client) delChannel(name string) {
	c.channelsLock.Lock()
	defer c.channelsLock.Unlock()
	delete(c.channels, name)
}

func (c *Client) subscribedTo(name string) bool {
	c.channelsLock.RLock()
	defer c.channelsLock.RUnlock()
	_, ok := c.channels[name]
	return ok
}

func (c *Client) channelNames() []string {
	c.channelsLock.RLock()
	defer c.channelsLock.RUnlock()

	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	return names
}
