package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cosketch/backend/internal/identity"
	"github.com/cosketch/backend/internal/protocol"
	"github.com/cosketch/backend/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBufferSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection: its server-assigned id, resolved
// identity, and buffered outbound queue.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	id       string
	identity identity.Identity
	limiter  *ratelimit.Limiter
	log      *zap.SugaredLogger
}

// ServeWs upgrades the request and starts the connection's pumps. Identity
// comes from an optional ?token= credential via the resolver; everything
// else is a guest, optionally named via ?name=.
func ServeWs(hub *Hub, resolver identity.Resolver, rate float64, burst int, log *zap.SugaredLogger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	ident, ok := resolver.Resolve(r.URL.Query().Get("token"))
	if !ok {
		ident = identity.Guest(r.URL.Query().Get("name"))
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		id:       uuid.NewString(),
		identity: ident,
		limiter:  ratelimit.NewLimiter(rate, burst),
		log:      log,
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnw("websocket read error", "conn", c.id, "error", err)
			}
			break
		}

		if !c.limiter.Allow() {
			// Shed load quietly; the client's next message may still land.
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.log.Warnw("dropping undecodable frame", "conn", c.id, "error", err)
			continue
		}
		if !env.Type.Known() {
			c.log.Warnw("dropping unknown frame type", "conn", c.id, "type", env.Type)
			continue
		}

		c.hub.inbound <- inbound{client: c, env: env}
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
