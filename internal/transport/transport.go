// Package transport abstracts the mail delivery channel behind a single-send
// interface. Batch orchestration, retries and status bookkeeping live above
// it; a transport only knows how to deliver one message.
package transport

import (
	"context"
	"fmt"

	"github.com/ignite/mailblast/internal/config"
)

// Message is one email to deliver. ToName is optional display text for the
// destination header; To alone addresses the mailbox.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

// MailTransport delivers a single message. Implementations must honor ctx
// cancellation and deadlines; the worker wraps every call in a per-delivery
// timeout.
type MailTransport interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// SendError is a delivery failure carrying whether a retry could succeed.
// Permanent failures (bad address, rejected content) should not burn retry
// attempts at the batch level.
type SendError struct {
	Reason    string
	Permanent bool
}

func (e *SendError) Error() string { return e.Reason }

// New builds the transport selected by configuration.
func New(ctx context.Context, cfg config.TransportConfig) (MailTransport, error) {
	switch cfg.Mode {
	case "", "simulated":
		return NewSimulated(cfg), nil
	case "ses":
		return NewSES(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown transport mode %q", cfg.Mode)
	}
}
