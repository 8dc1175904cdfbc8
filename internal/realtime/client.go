package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// A browser follows one session's feed. It picks the session with ?sessionId= when it connects,
// or later by sending {"action": "subscribe", "sessionId": "..."}.

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	commandSize = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Client is one relay connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger
}

type incomingMsg struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

// outgoingMsg wraps one feed message for the browser.
type outgoingMsg struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

// ServeWS upgrades the request and attaches the connection to hub.
func ServeWS(hub *Hub, logger zerolog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger.With().Str("remote", r.RemoteAddr).Logger(),
	}
	if !hub.join(c, r.URL.Query().Get("sessionId")) {
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(commandSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("ws read error")
			}
			return
		}

		var msg incomingMsg
		if err := json.Unmarshal(data, &msg); err != nil || msg.Action != "subscribe" || msg.SessionID == "" {
			c.logger.Debug().Str("action", msg.Action).Msg("ws command ignored")
			continue
		}
		c.hub.follow(c, msg.SessionID)
	}
}

func (c *Client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		kind, payload := websocket.TextMessage, []byte(nil)
		select {
		case msg, ok := <-c.send:
			if !ok {
				kind = websocket.CloseMessage
			}
			payload = msg
		case <-ping.C:
			kind = websocket.PingMessage
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, payload); err != nil || kind == websocket.CloseMessage {
			return
		}
	}
}
