package events

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// pongWait is the time allowed to read the next pong from the peer
	pongWait = 60 * time.Second
	// pingPeriod is how often pings are sent, must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize is the maximum inbound control message size
	maxMessageSize = 4096
)

// WSHandler upgrades HTTP connections to websockets and bridges them to
// the hub.  Subscribers join rooms named by session id and receive, in
// emission order, the events published to those rooms
type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewWSHandler returns a websocket handler attached to the given hub
func NewWSHandler(hub *Hub) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// browser clients upload from a different origin than the
			// API is served on
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	ws, err := h.upgrader.Upgrade(w, r, nil)

	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}

	id := uuid.NewString()

	ch, err := h.hub.Register(id)

	if err != nil {
		ws.Close()
		return
	}

	go h.writePump(ws, ch)

	// to the connecting client only
	h.hub.Send(id, ServerMessage, TextPayload{Text: "Welcome!"})

	h.readPump(ws, id)
}

// readPump consumes control messages from the peer until the connection
// drops
func (h *WSHandler) readPump(ws *websocket.Conn, id string) {

	defer func() {
		h.hub.Unregister(id)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := ws.ReadMessage()

		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).WithField("conn", id).
					Debug("websocket read error")
			}
			return
		}

		h.handleControl(id, msg)
	}
}

// handleControl dispatches one inbound control message
func (h *WSHandler) handleControl(id string, msg []byte) {

	event := gjson.GetBytes(msg, "event").String()
	data := gjson.GetBytes(msg, "data")

	switch event {

	case "join":
		room := data.Get("room").String()

		if room == "" {
			return
		}

		h.hub.Join(id, room)
		h.hub.Send(id, ServerMessage,
			TextPayload{Text: "Joined room " + room})

	case "leave":
		if room := data.Get("room").String(); room != "" {
			h.hub.Leave(id, room)
		}

	case "ping_server":
		h.hub.Send(id, PongClient,
			TextPayload{Text: "pong: " + data.Get("text").String()})

	case "broadcast":
		h.hub.Broadcast(BroadcastMsg,
			TextPayload{Text: data.Get("text").String()})

	case "room_msg":
		room := data.Get("room").String()

		if room == "" {
			return
		}

		h.hub.Publish(room, RoomMsg, TextPayload{
			Text: data.Get("text").String(),
			Room: room,
		})

	default:
		logrus.WithFields(logrus.Fields{
			"conn":  id,
			"event": event,
		}).Debug("unknown control event")
	}
}

// writePump forwards serialised events from the hub to the peer and
// keeps the connection alive with pings
func (h *WSHandler) writePump(ws *websocket.Conn, ch <-chan []byte) {

	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-ch:
			ws.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				// hub unregistered the connection
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))

			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
