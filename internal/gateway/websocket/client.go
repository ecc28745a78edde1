package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chorus/internal/chat"
	"chorus/internal/runner"
	"chorus/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	maxMessageSize = 1024 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	topics      map[string]bool
	id          string
	connectedAt time.Time
}

// NewClient creates a new client.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		topics:      make(map[string]bool),
		id:          uuid.New().String(),
		connectedAt: time.Now(),
	}
}

// readPump pumps messages from the WebSocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
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
				logger.Error().Err(err).Str("client_id", c.id).Msg("websocket: read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes incoming WebSocket messages.
func (c *Client) handleMessage(message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		logger.Error().Err(err).Str("client_id", c.id).Msg("websocket: failed to parse message")
		c.sendError("INVALID_MESSAGE", "failed to parse message")
		return
	}

	logger.Debug().
		Str("client_id", c.id).
		Str("type", msg.Type).
		Str("room", msg.Room).
		Msg("websocket: received message")

	switch msg.Type {
	case TypeSubscribe:
		for _, t := range msg.topics() {
			c.hub.Subscribe(c, t)
		}

	case TypeUnsubscribe:
		for _, t := range msg.topics() {
			c.hub.Unsubscribe(c, t)
		}

	case TypePing:
		c.sendPong()

	case TypeChat:
		if msg.User == "" || msg.Text == "" {
			c.sendError("INVALID_REQUEST", "chat requires user and text")
			return
		}
		c.hub.Subscribe(c, UserTopic(msg.User))
		entry := chat.Entry{UserID: msg.User, MsgType: chat.MsgText, Text: msg.Text, ReceivedAt: time.Now()}
		c.startTurn(func(ctx context.Context, e Engine) (*runner.Turn, error) {
			return e.HandleMessage(ctx, entry)
		})

	case TypeContinue:
		if msg.Room == "" {
			c.sendError("INVALID_REQUEST", "continue requires room")
			return
		}
		c.hub.Subscribe(c, RoomTopic(msg.Room))
		c.startTurn(func(ctx context.Context, e Engine) (*runner.Turn, error) {
			return e.Continue(ctx, msg.Room, msg.Character)
		})

	default:
		logger.Debug().
			Str("client_id", c.id).
			Str("type", msg.Type).
			Msg("websocket: unknown message type")
	}
}

// startTurn runs a turn in the background. Notifications reach the client
// through its subscriptions; the finished Turn is sent as a turn message.
func (c *Client) startTurn(run func(ctx context.Context, e Engine) (*runner.Turn, error)) {
	engine := c.hub.getEngine()
	if engine == nil {
		c.sendError("CHAT_ERROR", "chat engine not configured")
		return
	}
	started := c.hub.runTurn(func(ctx context.Context) {
		turn, err := run(ctx, engine)
		if err != nil {
			logger.Warn().Err(err).Str("client_id", c.id).Msg("websocket: turn failed")
			c.sendError("CHAT_ERROR", err.Error())
			return
		}
		data, err := json.Marshal(turn)
		if err != nil {
			c.sendError("CHAT_ERROR", err.Error())
			return
		}
		c.enqueue(WSMessage{Type: TypeTurn, Room: turn.RoomID, Data: data})
	})
	if !started {
		c.sendError("CHAT_ERROR", "server is shutting down")
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
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
				logger.Error().Err(err).Str("client_id", c.id).Msg("websocket: write error")
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

// enqueue queues msg for the write pump. It drops the message when the
// buffer is full or the client is not registered; send is closed on
// unregister.
func (c *Client) enqueue(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendPong() {
	c.enqueue(WSMessage{Type: TypePong})
}

func (c *Client) sendError(code, message string) {
	c.enqueue(WSMessage{Type: TypeError, Code: code, Message: message})
}

// ServeWs handles WebSocket requests from clients.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("websocket: upgrade failed")
		return
	}

	client := NewClient(hub, conn)
	hub.Register(client)

	go client.writePump()
	go client.readPump()
}
