package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/develoFavour/MediCare-sub000/internal/database"
	"github.com/develoFavour/MediCare-sub000/internal/stats"
	"github.com/develoFavour/MediCare-sub000/internal/transport"
	"github.com/develoFavour/MediCare-sub000/internal/types"
)

const (
	metricNumConnections   = "NumConnections"
	metricNumSubscriptions = "NumSubscriptions"
	metricNumEventsEmitted = "NumEventsEmitted"
	metricNumClientEvents  = "NumClientEvents"
)

type stopReq struct {
	done chan struct{}
}

// Hub is the server half of the pub/sub transport. It authorizes and
// tracks channel subscriptions, maintains presence rosters, relays
// client-originated ephemeral events, and carries server emits to live
// sessions. Channel membership is owned by the Run loop; the clients and
// userMap indexes are mutex-guarded so HTTP handlers can query liveness.
type Hub struct {
	log   *log.Logger
	db    database.MessengerRepository
	stats stats.StatsProvider

	RegisterChan   chan *Client
	deregisterChan chan *Client
	frameChan      chan *clientFrame
	emitChan       chan *Emit
	stop           chan stopReq
	done           chan struct{}

	channels map[string]map[*Client]struct{}

	clientsLock sync.Mutex
	clients     map[*Client]struct{}
	userMap     map[int]map[*Client]struct{}
}

func NewHub(logger *log.Logger, db database.MessengerRepository, su stats.StatsProvider) (*Hub, error) {
	for _, m := range []string{metricNumConnections, metricNumSubscriptions, metricNumEventsEmitted, metricNumClientEvents} {
		su.RegisterMetric(m)
	}

	return &Hub{
		log:            logger,
		db:             db,
		stats:          su,
		RegisterChan:   make(chan *Client),
		deregisterChan: make(chan *Client),
		frameChan:      make(chan *clientFrame, 256),
		emitChan:       make(chan *Emit, 256),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
		channels:       make(map[string]map[*Client]struct{}),
		clients:        make(map[*Client]struct{}),
		userMap:        make(map[int]map[*Client]struct{}),
	}, nil
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.RegisterChan:
			h.log.Printf("adding connection from %q", client.user.FullName)
			h.addClient(client)
			h.stats.Incr(metricNumConnections)
		case client := <-h.deregisterChan:
			h.log.Printf("removing connection from %q", client.user.FullName)
			h.dropClient(client)
			h.stats.Decr(metricNumConnections)
		case frame := <-h.frameChan:
			switch {
			case frame.Subscribe != nil:
				h.handleSubscribe(frame)
			case frame.Unsubscribe != nil:
				h.handleUnsubscribe(frame)
			case frame.Publish != nil:
				h.handlePublish(frame)
			}
		case e := <-h.emitChan:
			h.deliver(e, nil)
			h.stats.Incr(metricNumEventsEmitted)
		case req := <-h.stop:
			h.log.Println("shutting down hub")
			h.clientsLock.Lock()
			for c := range h.clients {
				c.stopClient()
			}
			h.clientsLock.Unlock()

			close(h.done)
			close(req.done)
			return
		}
	}
}

// Emit queues a server-originated event for every live subscriber of the
// channel. Best effort: dropped with a log line if the hub is saturated.
func (h *Hub) Emit(channel, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.log.Printf("emit %q on %q: marshal: %v", event, channel, err)
		return
	}

	select {
	case h.emitChan <- &Emit{Channel: channel, Event: event, Data: payload}:
	default:
		h.log.Printf("emit channel full, dropping %q on %q", event, channel)
	}
}

// IsOnline reports whether the user has at least one live session.
func (h *Hub) IsOnline(userId int) bool {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()
	return len(h.userMap[userId]) > 0
}

func (h *Hub) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case h.stop <- req:
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}
}

func (h *Hub) addClient(c *Client) {
	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	h.clients[c] = struct{}{}
	if h.userMap[c.user.Id] == nil {
		h.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	h.userMap[c.user.Id][c] = struct{}{}
}

// dropClient removes the session and cleans up every channel it was still
// subscribed to, emitting presence departures where needed.
func (h *Hub) dropClient(c *Client) {
	for _, name := range c.channelNames() {
		h.removeFromChannel(c, name)
	}

	h.clientsLock.Lock()
	defer h.clientsLock.Unlock()

	delete(h.clients, c)
	if userClients, ok := h.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(h.userMap, c.user.Id)
		}
	}
}

func (h *Hub) handleSubscribe(frame *clientFrame) {
	name := frame.Subscribe.Channel
	c := frame.client

	if !h.authorized(c, name) {
		h.log.Printf("denying %q subscription to %q", c.user.FullName, name)
		c.queueFrame(ErrForbidden(frame.Id, name))
		return
	}

	if h.channels[name] == nil {
		h.channels[name] = make(map[*Client]struct{})
	}

	present := h.userPresent(name, c.user.Id)
	h.channels[name][c] = struct{}{}
	c.addChannel(name)
	h.stats.Incr(metricNumSubscriptions)

	var members []types.UserSummary
	if transport.IsPresenceChannel(name) {
		members = h.roster(name)
		if !present {
			// first session of this user on the channel
			data, _ := json.Marshal(c.user)
			h.deliver(&Emit{Channel: name, Event: transport.EventMemberAdded, Data: data}, c)
		}
	}

	c.queueFrame(NoErrOK(frame.Id, name, members))
}

func (h *Hub) handleUnsubscribe(frame *clientFrame) {
	name := frame.Unsubscribe.Channel
	c := frame.client

	if !c.subscribedTo(name) {
		c.queueFrame(ErrUnknownChannel(frame.Id, name))
		return
	}

	h.removeFromChannel(c, name)
	h.stats.Decr(metricNumSubscriptions)
	c.queueFrame(NoErrOK(frame.Id, name, nil))
}

// handlePublish relays a client-originated ephemeral event to the other
// subscribers of a presence channel. Nothing is persisted.
func (h *Hub) handlePublish(frame *clientFrame) {
	name := frame.Publish.Channel
	c := frame.client

	if !transport.IsPresenceChannel(name) || !c.subscribedTo(name) {
		c.queueFrame(ErrUnknownChannel(frame.Id, name))
		return
	}

	h.deliver(&Emit{Channel: name, Event: frame.Publish.Event, Data: frame.Publish.Data}, c)
	h.stats.Incr(metricNumClientEvents)
}

func (h *Hub) removeFromChannel(c *Client, name string) {
	subs, ok := h.channels[name]
	if !ok {
		return
	}

	delete(subs, c)
	c.delChannel(name)
	if len(subs) == 0 {
		delete(h.channels, name)
	}

	if transport.IsPresenceChannel(name) && !h.userPresent(name, c.user.Id) {
		// last session of this user left the channel
		data, _ := json.Marshal(c.user)
		h.deliver(&Emit{Channel: name, Event: transport.EventMemberRemoved, Data: data}, c)
	}
}

func (h *Hub) deliver(e *Emit, skip *Client) {
	for client := range h.channels[e.Channel] {
		if client == skip {
			continue
		}

		client.queueFrame(EventFrame(e.Channel, e.Event, e.Data))
	}
}

// authorized enforces channel ownership: a user channel belongs to exactly
// one user, conversation and presence channels to the participants.
func (h *Hub) authorized(c *Client, name string) bool {
	kind, id, ok := transport.ParseChannel(name)
	if !ok {
		return false
	}

	switch kind {
	case transport.KindUser:
		return id == strconv.Itoa(c.user.Id)
	case transport.KindConversation, transport.KindPresence:
		return h.db.IsParticipant(id, c.user.Id)
	default:
		return false
	}
}

// userPresent reports whether any session of the user is subscribed to the
// channel. Called from the Run loop only.
func (h *Hub) userPresent(name string, userId int) bool {
	for client := range h.channels[name] {
		if client.user.Id == userId {
			return true
		}
	}
	return false
}

// roster lists the distinct users currently subscribed to a presence
// channel.
func (h *Hub) roster(name string) []types.UserSummary {
	var members []types.UserSummary
	seen := make(map[int]struct{})
	for client := range h.channels[name] {
		if _, ok := seen[client.user.Id]; ok {
			continue
		}
		seen[client.user.Id] = struct{}{}
		members = append(members, client.user)
	}
	return members
}
