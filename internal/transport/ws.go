package transport

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/develoFavour/MediCare-sub000/internal/types"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// WSClient implements Client over a single websocket session against the
// realtime hub.
type WSClient struct {
	conn *websocket.Conn
	log  *log.Logger

	mu       sync.Mutex
	channels map[string]*wsChannel
	nextId   int

	send chan *ClientFrame
	stop chan struct{}
}

// Dial connects to the hub's websocket endpoint. The header should carry
// the viewer's session cookie.
func Dial(url string, header http.Header, logger *log.Logger) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return NewWSClient(conn, logger), nil
}

// NewWSClient wraps an established websocket connection and starts its
// read and write pumps.
func NewWSClient(conn *websocket.Conn, logger *log.Logger) *WSClient {
	c := &WSClient{
		conn:     conn,
		log:      logger,
		channels: make(map[string]*wsChannel),
		send:     make(chan *ClientFrame, 64),
		stop:     make(chan struct{}),
	}

	go c.readLoop()
	go c.writeLoop()

	return c
}

func (c *WSClient) Subscribe(name string) (Channel, error) {
	c.mu.Lock()
	if ch, ok := c.channels[name]; ok {
		c.mu.Unlock()
		return ch, nil
	}

	ch := &wsChannel{
		name:     name,
		client:   c,
		handlers: make(map[string][]Handler),
	}
	c.channels[name] = ch
	c.nextId++
	id := c.nextId
	c.mu.Unlock()

	if !c.queueFrame(&ClientFrame{Id: id, Subscribe: &Subscribe{Channel: name}}) {
		c.mu.Lock()
		delete(c.channels, name)
		c.mu.Unlock()
		return nil, fmt.Errorf("subscribe %q: send buffer full", name)
	}

	return ch, nil
}

func (c *WSClient) Unsubscribe(name string) {
	c.mu.Lock()
	_, ok := c.channels[name]
	delete(c.channels, name)
	c.nextId++
	id := c.nextId
	c.mu.Unlock()

	if !ok {
		return
	}

	c.queueFrame(&ClientFrame{Id: id, Unsubscribe: &Unsubscribe{Channel: name}})
}

func (c *WSClient) Close() error {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	return c.conn.Close()
}

func (c *WSClient) channel(name string) *wsChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[name]
}

func (c *WSClient) queueFrame(f *ClientFrame) bool {
	select {
	case c.send <- f:
		return true
	default:
		c.log.Println("transport: send buffer full, dropping frame")
		return false
	}
}

func (c *WSClient) readLoop() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("transport: read: %v", err)
			}
			return
		}

		var frame ServerFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.log.Println("transport: error parsing frame:", err)
			continue
		}

		switch {
		case frame.Response != nil:
			c.handleResponse(frame.Response)
		case frame.Event != nil:
			c.handleEvent(frame.Event)
		}
	}
}

func (c *WSClient) handleResponse(resp *Response) {
	if resp.Channel == "" {
		return
	}

	ch := c.channel(resp.Channel)
	if ch == nil {
		// response for a channel unsubscribed mid-flight
		return
	}

	if resp.ResponseCode != http.StatusOK {
		c.log.Printf("transport: subscription to %q failed: %s", resp.Channel, resp.Error)
		return
	}

	ch.setMembers(resp.Members)
	data, _ := json.Marshal(resp.Members)
	ch.dispatch(EventSubscriptionSucceeded, data)
}

func (c *WSClient) handleEvent(ev *Event) {
	ch := c.channel(ev.Channel)
	if ch == nil {
		return
	}

	switch ev.Event {
	case EventMemberAdded:
		var member types.UserSummary
		if err := json.Unmarshal(ev.Data, &member); err != nil {
			c.log.Println("transport: bad member_added payload:", err)
			return
		}
		ch.addMember(member)
	case EventMemberRemoved:
		var member types.UserSummary
		if err := json.Unmarshal(ev.Data, &member); err != nil {
			c.log.Println("transport: bad member_removed payload:", err)
			return
		}
		ch.removeMember(member.Id)
	}

	ch.dispatch(ev.Event, ev.Data)
}

func (c *WSClient) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.log.Printf("transport: write: %v", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

type wsChannel struct {
	name   string
	client *WSClient

	mu       sync.Mutex
	handlers map[string][]Handler
	members  []types.UserSummary
}

func (ch *wsChannel) Name() string { return ch.name }

func (ch *wsChannel) Bind(event string, h Handler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers[event] = append(ch.handlers[event], h)
}

func (ch *wsChannel) UnbindAll() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers = make(map[string][]Handler)
}

func (ch *wsChannel) Trigger(event string, data any) error {
	if !IsPresenceChannel(ch.name) {
		return ErrNotPresenceChannel
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %q payload: %w", event, err)
	}

	if !ch.client.queueFrame(&ClientFrame{Publish: &Publish{
		Channel: ch.name,
		Event:   event,
		Data:    payload,
	}}) {
		return fmt.Errorf("trigger %q on %q: send buffer full", event, ch.name)
	}

	return nil
}

func (ch *wsChannel) Members() []types.UserSummary {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	members := make([]types.UserSummary, len(ch.members))
	copy(members, ch.members)
	return members
}

func (ch *wsChannel) setMembers(members []types.UserSummary) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.members = members
}

func (ch *wsChannel) addMember(member types.UserSummary) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	for _, m := range ch.members {
		if m.Id == member.Id {
			return
		}
	}
	ch.members = append(ch.members, member)
}

func (ch *wsChannel) removeMember(id int) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	for i, m := range ch.members {
		if m.Id == id {
			ch.members = append(ch.members[:i], ch.members[i+1:]...)
			return
		}
	}
}

func (ch *wsChannel) dispatch(event string, data json.RawMessage) {
	ch.mu.Lock()
	handlers := make([]Handler, len(ch.handlers[event]))
	copy(handlers, ch.handlers[event])
	ch.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}
