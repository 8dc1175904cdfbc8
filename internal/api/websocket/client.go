package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Browsers only send small commands
	maxMessageSize = 16 * 1024
)

// Client is one browser connected to the status feed.
type Client struct {
	ID        string
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan Message
	Processor *CommandProcessor
	Logger    zerolog.Logger
}

func NewClient(id string, hub *Hub, conn *websocket.Conn, processor *CommandProcessor, logger zerolog.Logger) *Client {
	return &Client{
		ID:        id,
		Hub:       hub,
		Conn:      conn,
		Send:      make(chan Message, 256),
		Processor: processor,
		Logger:    logger,
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Logger.Error().Err(err).Str("clientId", c.ID).Msg("WebSocket read error")
			}
			break
		}

		var cmd Command
		if err = json.Unmarshal(messageBytes, &cmd); err != nil {
			c.Logger.Error().Err(err).Str("clientId", c.ID).Msg("Failed to unmarshal command")
			c.reply(NewErrorMessage(c.ID, "Invalid message format"))
			continue
		}

		if c.Processor == nil {
			continue
		}
		c.reply(c.Processor.Process(c.ID, cmd))
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame; previews are too large to batch.
			if err := c.Conn.WriteJSON(message); err != nil {
				c.Logger.Debug().Err(err).Str("clientId", c.ID).Msg("Write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply sends msg to this client only, through the hub that owns Send.
func (c *Client) reply(msg Message) {
	if !c.Hub.SendTo(c, msg) {
		c.Logger.Warn().Str("clientId", c.ID).Str("type", string(msg.Type)).Msg("Hub unavailable, dropping reply")
	}
}
