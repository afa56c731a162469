package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/plateauction/apiserver/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// sendBuffer absorbs bursts so a slow reader does not stall Publish.
	sendBuffer = 256
)

// Client is one live connection watching a single plate.
type Client struct {
	ID      string
	PlateID int

	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans highest-bid updates out to subscribers grouped by plate.
//
// The registry is a plain mutex-guarded map owned by the hub; sends to
// individual connections happen over buffered channels so the lock is
// never held across network writes. A connection that cannot keep up or
// has died is dropped on the next publish; its failure never reaches the
// publisher.
type Hub struct {
	mu     sync.RWMutex
	plates map[int]map[*Client]struct{}
}

func New() *Hub {
	return &Hub{
		plates: make(map[int]map[*Client]struct{}),
	}
}

// Subscribe registers a websocket connection as a viewer of plateID and
// starts its read/write pumps. The plate's registry entry is created on
// the first subscriber.
func (h *Hub) Subscribe(plateID int, conn *websocket.Conn) *Client {
	client := &Client{
		ID:      uuid.New().String(),
		PlateID: plateID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
	}

	h.mu.Lock()
	set, ok := h.plates[plateID]
	if !ok {
		set = make(map[*Client]struct{})
		h.plates[plateID] = set
	}
	set[client] = struct{}{}
	h.mu.Unlock()

	log.WithFields(log.Fields{"client_id": client.ID, "plate_id": plateID}).Debug("client subscribed")

	go client.writePump()
	go client.readPump()
	return client
}

// Unsubscribe removes a client and closes its connection. Safe to call
// more than once; the send channel is closed exactly once, under the
// registry lock, so it can never race a concurrent publish.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	removed := false
	if set, ok := h.plates[c.PlateID]; ok {
		if _, member := set[c]; member {
			delete(set, c)
			if len(set) == 0 {
				delete(h.plates, c.PlateID)
			}
			close(c.send)
			removed = true
		}
	}
	h.mu.Unlock()

	if removed {
		_ = c.conn.Close()
		log.WithFields(log.Fields{"client_id": c.ID, "plate_id": c.PlateID}).Debug("client unsubscribed")
	}
}

// Publish sends msg to every current subscriber of plateID. Delivery is
// best-effort: a subscriber whose buffer is full is dropped and the rest
// still receive the message.
func (h *Hub) Publish(plateID int, msg types.LiveMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).Error("failed to encode live message")
		return
	}

	var dropped []*Client
	h.mu.RLock()
	for client := range h.plates[plateID] {
		select {
		case client.send <- payload:
		default:
			dropped = append(dropped, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range dropped {
		log.WithFields(log.Fields{"client_id": client.ID, "plate_id": plateID}).Warn("dropping slow subscriber")
		h.Unsubscribe(client)
	}
}

// SendTo delivers msg to a single client, typically the initial
// highest-bid snapshot right after subscribing.
func (h *Hub) SendTo(c *Client, msg types.LiveMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).Error("failed to encode live message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if set, ok := h.plates[c.PlateID]; ok {
		if _, member := set[c]; member {
			select {
			case c.send <- payload:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of live viewers of a plate.
func (h *Hub) SubscriberCount(plateID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.plates[plateID])
}

// writePump drains the send channel onto the connection and keeps it
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.Unsubscribe(c)
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and detects disconnects, including
// abnormal termination, so dead connections do not leak in the registry.
func (c *Client) readPump() {
	defer c.hub.Unsubscribe(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.WithError(err).WithField("client_id", c.ID).Debug("websocket read error")
			}
			return
		}
	}
}
