package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSBridge subscribes to every session's feed subjects and pushes messages into the Hub.
type NATSBridge struct {
	conn   *nats.Conn
	hub    *Hub
	prefix string
	logger zerolog.Logger
}

func NewNATSBridge(natsURL, prefix string, hub *Hub, logger zerolog.Logger) (*NATSBridge, error) {
	nc, err := nats.Connect(natsURL, nats.Name("flow-realtime"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSBridge{conn: nc, hub: hub, prefix: prefix, logger: logger}, nil
}

// Subscribe listens on <prefix>.*.>
func (b *NATSBridge) Subscribe() error {
	subject := b.prefix + ".*.>"
	if _, err := b.conn.Subscribe(subject, b.handle); err != nil {
		return fmt.Errorf("nats subscribe %q: %w", subject, err)
	}
	b.logger.Info().Str("subject", subject).Msg("NATS bridge subscribed")
	return nil
}

func (b *NATSBridge) handle(msg *nats.Msg) {
	sessionID, kind, err := ParseSubject(b.prefix, msg.Subject)
	if err != nil {
		b.logger.Warn().Err(err).Msg("nats: bad subject")
		return
	}

	data, err := envelope(sessionID, kind, msg.Data)
	if err != nil {
		b.logger.Error().Err(err).Str("subject", msg.Subject).Msg("nats: marshal envelope")
		return
	}
	b.hub.Send(sessionID, data)
}

// Close drains the NATS connection.
func (b *NATSBridge) Close() {
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn().Err(err).Msg("nats drain")
	}
}

// envelope wraps a raw payload in the message sent to relay clients.
func envelope(sessionID, kind string, payload []byte) ([]byte, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("payload is not JSON")
	}
	return json.Marshal(outgoingMsg{
		Type:      kind,
		SessionID: sessionID,
		Payload:   json.RawMessage(payload),
	})
}
