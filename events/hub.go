package events

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Errors returned by the hub
var (
	ErrHubClosed   = errors.New("events: hub closed")
	ErrUnknownConn = errors.New("events: unknown connection")
)

// sendBuffer is the per connection outgoing event buffer.  When a
// subscriber can not keep up events addressed to it are dropped,
// delivery is at-most-once and must never block a publishing pipeline
const sendBuffer = 64

// subscriber is one connected event consumer
type subscriber struct {
	id    string
	send  chan []byte
	rooms map[string]struct{}
}

// Hub is the room addressed publish/subscribe registry.  Publishing to a
// room delivers to every current subscriber of that room, events
// published to an empty room are dropped.  All methods are safe for
// concurrent use from pipeline and connection handling goroutines
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	rooms  map[string]map[string]*subscriber
	closed bool

	// OnPublish, when set, is invoked after each successful publish
	// with the event name.  Used for metrics
	OnPublish func(event string)
}

// NewHub returns an empty hub
func NewHub() *Hub {
	return &Hub{
		subs:  make(map[string]*subscriber),
		rooms: make(map[string]map[string]*subscriber),
	}
}

// Register adds a connection to the hub and returns the channel its
// serialised events arrive on.  The channel is closed on Unregister
func (h *Hub) Register(id string) (<-chan []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	sub := &subscriber{
		id:    id,
		send:  make(chan []byte, sendBuffer),
		rooms: make(map[string]struct{}),
	}
	h.subs[id] = sub

	logrus.WithField("conn", id).Debug("event subscriber connected")

	return sub.send, nil
}

// Unregister removes a connection from the hub and all of its rooms
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]

	if !ok {
		return
	}

	for room := range sub.rooms {
		h.leaveLocked(sub, room)
	}

	delete(h.subs, id)
	close(sub.send)

	logrus.WithField("conn", id).Debug("event subscriber disconnected")
}

// Join adds the connection to a room.  A connection may join any number
// of rooms
func (h *Hub) Join(id, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]

	if !ok {
		return ErrUnknownConn
	}

	if _, exists := h.rooms[room]; !exists {
		h.rooms[room] = make(map[string]*subscriber)
	}

	h.rooms[room][id] = sub
	sub.rooms[room] = struct{}{}

	logrus.WithFields(logrus.Fields{
		"conn": id,
		"room": room,
	}).Debug("joined room")

	return nil
}

// Leave removes the connection from a room
func (h *Hub) Leave(id, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]

	if !ok {
		return ErrUnknownConn
	}

	h.leaveLocked(sub, room)
	return nil
}

func (h *Hub) leaveLocked(sub *subscriber, room string) {

	if members, ok := h.rooms[room]; ok {
		delete(members, sub.id)

		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}

	delete(sub.rooms, room)
}

// Publish delivers an event to every subscriber of the room.  Slow
// subscribers have the event dropped, an empty room absorbs the event
// silently
func (h *Hub) Publish(room, event string, payload interface{}) error {

	buf, err := Marshal(event, payload)

	if err != nil {
		return err
	}

	h.mu.RLock()

	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}

	for _, sub := range h.rooms[room] {
		select {
		case sub.send <- buf:
		default:
			// subscriber too slow, drop this event for it
		}
	}

	h.mu.RUnlock()

	if h.OnPublish != nil {
		h.OnPublish(event)
	}

	return nil
}

// Broadcast delivers an event to every connected subscriber regardless
// of room membership
func (h *Hub) Broadcast(event string, payload interface{}) error {

	buf, err := Marshal(event, payload)

	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrHubClosed
	}

	for _, sub := range h.subs {
		select {
		case sub.send <- buf:
		default:
		}
	}

	return nil
}

// Send delivers an event to a single connection
func (h *Hub) Send(id, event string, payload interface{}) error {

	buf, err := Marshal(event, payload)

	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sub, ok := h.subs[id]

	if !ok {
		return ErrUnknownConn
	}

	select {
	case sub.send <- buf:
	default:
	}

	return nil
}

// Subscribers returns the number of connected subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// RoomSize returns the number of subscribers in a room
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[room])
}

// Close shuts the hub down, disconnecting all subscribers
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for id, sub := range h.subs {
		for room := range sub.rooms {
			h.leaveLocked(sub, room)
		}

		delete(h.subs, id)
		close(sub.send)
	}
}
