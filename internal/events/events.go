// Package events carries domain events between instances: Kafka for message lifecycle and
// Redis for presence.
package events

import (
	"context"
	"time"

	"github.com/fathima-sithara/connectify/internal/domain"
)

const (
	MessageCreated = "message.created"
	MessageEdited  = "message.edited"
	MessageDeleted = "message.deleted"
	ChatCleared    = "chat.cleared"
)

type Envelope struct {
	Type        string          `json:"type"`
	Origin      string          `json:"origin"`
	At          time.Time       `json:"at"`
	Message     *domain.Message `json:"message,omitempty"`
	MessageID   string          `json:"message_id,omitempty"`
	ForEveryone bool            `json:"for_everyone,omitempty"`
	Viewer      string          `json:"viewer,omitempty"`
	Peer        string          `json:"peer,omitempty"`
}

// Key groups events of one conversation onto one partition.
func (e Envelope) Key() string {
	a, b := e.Viewer, e.Peer
	if e.Message != nil {
		a, b = e.Message.Sender, e.Message.Recipient
	}
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

type Publisher interface {
	Publish(ctx context.Context, ev Envelope) error
	Close() error
}

// Nop is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
func (Nop) Close() error                            { return nil }
