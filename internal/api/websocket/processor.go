package websocket

import (
	"context"
	"encoding/json"
	"time"

	"flow/internal/api/service"
	"flow/internal/queue"

	"github.com/rs/zerolog"
)

// CommandType is what a browser can ask for over the feed.
type CommandType string

const (
	CommandQueue     CommandType = "queue"
	CommandInterrupt CommandType = "interrupt"
	CommandStatus    CommandType = "status"
)

// Command is a browser request. Data is currently unused by every command.
type Command struct {
	Type CommandType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AckPayload answers a command.
type AckPayload struct {
	Command   CommandType              `json:"command"`
	JobID     *int                     `json:"jobId,omitempty"`
	Interrupt *service.InterruptResult `json:"interrupt,omitempty"`
	Status    *service.ExecutionStatus `json:"status,omitempty"`
}

// Executor is the part of the execution service browsers can drive.
type Executor interface {
	Queue(src queue.Snapshotter) int
	Interrupt(ctx context.Context) service.InterruptResult
	Status() service.ExecutionStatus
}

// CommandProcessor turns browser commands into execution requests.
type CommandProcessor struct {
	executor Executor
	workflow queue.Snapshotter
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewCommandProcessor(executor Executor, workflow queue.Snapshotter, logger zerolog.Logger) *CommandProcessor {
	return &CommandProcessor{
		executor: executor,
		workflow: workflow,
		timeout:  10 * time.Second,
		logger:   logger,
	}
}

// Process runs cmd and returns the reply for the sender.
func (p *CommandProcessor) Process(clientID string, cmd Command) Message {
	ack := AckPayload{Command: cmd.Type}

	switch cmd.Type {
	case CommandQueue:
		id := p.executor.Queue(p.workflow)
		ack.JobID = &id
		p.logger.Info().Str("clientId", clientID).Int("jobId", id).Msg("Job queued from feed")

	case CommandInterrupt:
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		result := p.executor.Interrupt(ctx)
		ack.Interrupt = &result

	case CommandStatus:
		status := p.executor.Status()
		ack.Status = &status

	default:
		p.logger.Warn().Str("clientId", clientID).Str("type", string(cmd.Type)).Msg("Unknown command")
		return NewErrorMessage(clientID, "Unknown command: "+string(cmd.Type))
	}

	return newMessage(MessageTypeAck, clientID, ack)
}
