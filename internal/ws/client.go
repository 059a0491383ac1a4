package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/messaging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Client is a middleman between one page context's websocket connection
// and the hub.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	tabID string
}

type request struct {
	RequestID string `json:"request_id"`
}

// readPump answers each inbound request on its own goroutine, so a slow
// handler never blocks the connection. The reply goes back on the same
// connection tagged with the request id.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	from := messaging.Sender{TabID: c.tabID}
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("tab", c.tabID).Warn("websocket closed unexpectedly")
			}
			return
		}
		c.hub.SetActive(c.tabID)

		var req request
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.reply(c, Reply{Response: messaging.Failure(messaging.ErrInvalidFormat)})
			continue
		}
		raw := json.RawMessage(message)
		go c.hub.Router.Serve(ctx, from, raw, func(resp messaging.Response) {
			c.hub.reply(c, Reply{RequestID: req.RequestID, Response: resp})
		})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles websocket requests from a tab.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, tabID string) {
	up := upgrader
	if hub.CheckOrigin != nil {
		up.CheckOrigin = hub.CheckOrigin
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), tabID: tabID}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	// Requests outlive the connection: a reply still lands in the session
	// after the page goes away.
	ctx := context.WithoutCancel(r.Context())
	go client.writePump()
	go client.readPump(ctx)
}
