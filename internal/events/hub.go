package events

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub groups websocket clients by instance ID and broadcasts event payloads
// to every client watching that instance.
type Hub struct {
	clients    map[string]map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan broadcastMessage
	mu         sync.RWMutex
}

type broadcastMessage struct {
	instanceID string
	payload    []byte
}

// NewHub constructs a Hub. Run must be started on its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan broadcastMessage),
	}
}

// Run processes the hub channels until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.instanceID] == nil {
				h.clients[c.instanceID] = make(map[*client]bool)
			}
			h.clients[c.instanceID][c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[c.instanceID]; ok {
				if _, ok := clients[c]; ok {
					delete(clients, c)
					close(c.send)
					if len(clients) == 0 {
						delete(h.clients, c.instanceID)
					}
				}
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients[msg.instanceID] {
				select {
				case c.send <- msg.payload:
				default:
					close(c.send)
					delete(h.clients[msg.instanceID], c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleEvent is a Bus handler forwarding each event to the clients of its
// instance.
func (h *Hub) HandleEvent(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("events: marshal event: %v", err)
		return
	}
	h.broadcast <- broadcastMessage{instanceID: e.InstanceID, payload: payload}
}

type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	instanceID string
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// readPump discards inbound frames; the feed is one-way. Its job is to
// notice the connection closing.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and subscribes the connection to one
// instance's event feed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, instanceID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 256),
		instanceID: instanceID,
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}
