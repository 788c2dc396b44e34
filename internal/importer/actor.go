package importer

import (
	"context"
	"io"
)

// Message types exchanged with a ParseActor. These mirror the hosting UI's
// worker protocol exactly.
const (
	MessageParseStart = "PARSE_START"
	MessageCancel     = "CANCEL"
	MessageProgress   = "PROGRESS"
	MessageChunkReady = "CHUNK_READY"
	MessageComplete   = "COMPLETE"
	MessageError      = "ERROR"
)

type (
	// ParseCommand is an inbound actor command.
	ParseCommand struct {
		Type string `json:"type"`

		// PARSE_START payload.
		File io.Reader `json:"-"`
		Job  ParseJob  `json:"-"`
	}

	// ParseMessage is an outbound actor message. Which fields are set
	// depends on Type.
	ParseMessage struct {
		Type string `json:"type"`

		// PROGRESS
		Parsed  int `json:"parsed,omitempty"`
		Skipped int `json:"skipped,omitempty"`
		Errors  int `json:"errors,omitempty"`

		// CHUNK_READY
		Events     []CanonicalEvent `json:"events,omitempty"`
		ChunkIndex int              `json:"chunkIndex,omitempty"`

		// COMPLETE
		TotalParsed  int        `json:"totalParsed,omitempty"`
		TotalSkipped int        `json:"totalSkipped,omitempty"`
		TotalErrors  int        `json:"totalErrors,omitempty"`
		ErrorDetails []RowError `json:"errorDetails,omitempty"`

		// ERROR
		Message string `json:"message,omitempty"`
	}

	// ParseActor runs the parse stage in its own goroutine, owning all
	// mutable parse state. It communicates with its coordinator purely
	// through the command and message channels: no memory is shared.
	//
	// CANCEL is fire-and-forget: the actor stops emitting and terminates.
	// Chunks already handed to the coordinator are unaffected.
	ParseActor struct {
		parser   *Parser
		commands chan ParseCommand
		messages chan ParseMessage
	}
)

// NewParseActor creates an actor around the given parser and starts its
// goroutine. The coordinator sends commands via Commands() and consumes
// Messages() until it is closed.
func NewParseActor(parser *Parser) *ParseActor {
	a := &ParseActor{
		parser:   parser,
		commands: make(chan ParseCommand),
		messages: make(chan ParseMessage, 16),
	}

	go a.run()

	return a
}

// Commands is the inbound command channel. Close it to shut the actor down
// without parsing.
func (a *ParseActor) Commands() chan<- ParseCommand {
	return a.commands
}

// Messages is the outbound message channel. It is closed when the actor
// terminates, after COMPLETE or ERROR, or on CANCEL.
func (a *ParseActor) Messages() <-chan ParseMessage {
	return a.messages
}

func (a *ParseActor) run() {
	defer close(a.messages)

	var start ParseCommand

	for {
		cmd, ok := <-a.commands
		if !ok {
			return
		}

		if cmd.Type == MessageCancel {
			return
		}

		if cmd.Type == MessageParseStart {
			start = cmd

			break
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Watch for CANCEL while parsing; fire-and-forget, so a close of the
	// command channel counts too.
	go func() {
		for cmd := range a.commands {
			if cmd.Type == MessageCancel {
				cancel()

				return
			}
		}
	}()

	result, err := a.parser.Run(ctx, start.File, start.Job, ParseCallbacks{
		OnChunk: func(events []CanonicalEvent, chunkIndex int) error {
			return a.emit(ctx, ParseMessage{
				Type:       MessageChunkReady,
				Events:     events,
				ChunkIndex: chunkIndex,
			})
		},
		OnProgress: func(p Progress) {
			_ = a.emit(ctx, ParseMessage{
				Type:    MessageProgress,
				Parsed:  p.Parsed,
				Skipped: p.Skipped,
				Errors:  p.Errors,
			})
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled: stop silently, no further messages.
			return
		}

		a.messages <- ParseMessage{Type: MessageError, Message: err.Error()}

		return
	}

	complete := ParseMessage{
		Type:         MessageComplete,
		TotalParsed:  result.TotalParsed,
		TotalSkipped: result.TotalSkipped,
		TotalErrors:  result.TotalInvalid,
		ErrorDetails: result.ErrorDetails,
	}

	if result.QuotaMessage != "" {
		complete.ErrorDetails = append(complete.ErrorDetails, RowError{Row: -1, Message: result.QuotaMessage})
	}

	a.messages <- complete
}

// emit sends unless the actor has been cancelled; after cancellation no
// further messages leave the actor.
func (a *ParseActor) emit(ctx context.Context, msg ParseMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case a.messages <- msg:
		return nil
	}
}
