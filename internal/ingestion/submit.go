package ingestion

import (
	"context"

	"LendLedger/internal/command"
)

// SubmitRequest carries a typed command into the core loop together
// with a reply channel for the caller's synchronous error. The HTTP
// order surface needs to tell the client whether their order was
// accepted; NATS-sourced commands ACK/NAK instead and use RawCommand.
type SubmitRequest struct {
	Cmd   command.Command
	Reply chan error
}

// Submitter is the synchronous entry into the core loop.
type Submitter struct {
	requests chan<- SubmitRequest
}

func NewSubmitter(requests chan<- SubmitRequest) *Submitter {
	return &Submitter{requests: requests}
}

// Submit queues a command and waits for the core's verdict. The error
// is the core's rejection reason, nil on success.
func (s *Submitter) Submit(ctx context.Context, cmd command.Command) error {
	req := SubmitRequest{
		Cmd:   cmd,
		Reply: make(chan error, 1),
	}

	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.Reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
