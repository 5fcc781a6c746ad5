package ws

import (
	"encoding/json"
	"sync"
	"time"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Event is one quota or sync occurrence on a project, broadcast to
// subscribed operators.
type Event struct {
	Kind      string `json:"kind"`
	Project   string `json:"project"`
	Username  string `json:"username,omitempty"`
	Resource  string `json:"resource,omitempty"`
	Quantity  int64  `json:"quantity,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Hub fans project events out to subscribers, keyed by project name.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

type message struct {
	project string
	payload []byte
}

type subscription struct {
	project string
	client  Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 16),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.project]; !ok {
				h.clients[sub.project] = make(map[Subscriber]struct{})
			}
			h.clients[sub.project][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.project]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.project)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.project]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.project)
				}
			}
		}
	}
}

// Register adds a client to a project stream.
func (h *Hub) Register(project string, client Subscriber) {
	h.register <- subscription{project: project, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(project string, client Subscriber) {
	h.unreg <- subscription{project: project, client: client}
}

// Publish stamps and broadcasts an event to the project's subscribers.
// Marshal failures are impossible for Event; the send never blocks the
// caller beyond the buffered channel.
func (h *Hub) Publish(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.broadcast <- message{project: event.Project, payload: payload}
}
