package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/messaging"
)

// Events pushed to page contexts.
const (
	EventSessionsUpdated = "SESSIONS_UPDATED"
	EventModelSelected   = "MODEL_SELECTED"
	EventToggleExtension = "TOGGLE_EXTENSION"
)

// Event is an unsolicited frame pushed to a tab.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Reply answers one inbound request.
type Reply struct {
	RequestID string             `json:"request_id"`
	Response  messaging.Response `json:"response"`
}

type delivery struct {
	// tabID "" with client nil means every client.
	tabID  string
	client *Client
	data   []byte
}

type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Outbound frames, addressed to a tab, a client or everyone.
	outbound chan delivery

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	done chan struct{}

	// Router answers inbound requests.
	Router *messaging.Router

	// OnDisconnect runs when a tab's last connection goes away.
	OnDisconnect func(tabID string)

	// CheckOrigin vets the upgrade request's Origin. Nil keeps the
	// websocket same-origin default.
	CheckOrigin func(r *http.Request) bool

	mu        sync.Mutex
	activeTab string
	tabConns  map[string]int
}

func NewHub(router *messaging.Router) *Hub {
	return &Hub{
		outbound:   make(chan delivery, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		Router:     router,
		tabConns:   make(map[string]int),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.track(client.tabID, 1)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case d := <-h.outbound:
			for client := range h.clients {
				if d.client != nil && client != d.client {
					continue
				}
				if d.client == nil && d.tabID != "" && client.tabID != d.tabID {
					continue
				}
				select {
				case client.send <- d.data:
				default:
					logrus.WithField("tab", client.tabID).Warn("client send buffer full, disconnecting")
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	if h.track(client.tabID, -1) == 0 && h.OnDisconnect != nil {
		go h.OnDisconnect(client.tabID)
	}
}

func (h *Hub) track(tabID string, delta int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.tabConns[tabID] + delta
	if n <= 0 {
		delete(h.tabConns, tabID)
		if h.activeTab == tabID {
			h.activeTab = ""
		}
		return 0
	}
	h.tabConns[tabID] = n
	if delta > 0 {
		h.activeTab = tabID
	}
	return n
}

// Connected reports whether tabID has at least one live connection.
func (h *Hub) Connected(tabID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tabConns[tabID] > 0
}

// ActiveTab returns the most recently focused connected tab.
func (h *Hub) ActiveTab() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activeTab, h.activeTab != ""
}

// SetActive marks tabID as focused. Unknown tabs are ignored.
func (h *Hub) SetActive(tabID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tabConns[tabID] > 0 {
		h.activeTab = tabID
	}
}

// Push sends an event to every connection of tabID.
func (h *Hub) Push(tabID, event string, data any) {
	if tabID == "" {
		return
	}
	h.send(delivery{tabID: tabID}, Event{Event: event, Data: data})
}

// Broadcast sends an event to every connection.
func (h *Hub) Broadcast(event string, data any) {
	h.send(delivery{}, Event{Event: event, Data: data})
}

func (h *Hub) reply(c *Client, r Reply) {
	h.send(delivery{client: c}, r)
}

func (h *Hub) send(d delivery, v any) {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		logrus.WithError(err).Error("failed to encode websocket frame")
		return
	}
	d.data = msgBytes
	select {
	case h.outbound <- d:
	case <-h.done:
	}
}
