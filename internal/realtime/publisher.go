package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"flow/internal/api/websocket"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// publishConn is the part of *nats.Conn the publisher uses.
type publishConn interface {
	Publish(subject string, data []byte) error
}

// Publisher forwards feed messages to NATS so a separate relay can fan them out.
// It implements websocket.Sink.
type Publisher struct {
	conn   publishConn
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

func NewPublisher(natsURL, prefix string, logger zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL, nats.Name("flow-publisher"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	p := newPublisher(nc, prefix, logger)
	p.nc = nc
	return p, nil
}

func newPublisher(conn publishConn, prefix string, logger zerolog.Logger) *Publisher {
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Publish sends the payload of msg on <prefix>.<clientId>.<type>.
func (p *Publisher) Publish(msg websocket.Message) {
	subject := Subject(p.prefix, msg.ClientID, string(msg.Type))
	data, err := json.Marshal(msg.Data)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("nats: marshal payload")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("nats: publish failed")
	}
}

// Close drains the NATS connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.logger.Warn().Err(err).Msg("nats drain")
	}
}

// Subject builds the subject a session's message of the given kind is published on. Kinds
// may span several tokens, e.g. "spinner.hide".
func Subject(prefix, sessionID, kind string) string {
	return prefix + "." + sessionID + "." + kind
}

// ParseSubject splits a subject built by Subject back into session id and kind.
func ParseSubject(prefix, subject string) (sessionID, kind string, err error) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return "", "", fmt.Errorf("subject %q outside prefix %q", subject, prefix)
	}
	sessionID, kind, ok = strings.Cut(rest, ".")
	if !ok || sessionID == "" || kind == "" {
		return "", "", fmt.Errorf("expected <session>.<kind> after prefix, got %q", rest)
	}
	return sessionID, kind, nil
}
