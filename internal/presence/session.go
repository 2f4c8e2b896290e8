package presence

import (
	"time"

	"github.com/google/uuid"
)

// Channel is the outbound half of a client connection. Send must not block: a full or closed
// channel returns an error and the session is treated as stale.
type Channel interface {
	Send(frame []byte) error
	Close() error
}

// Session is one connected client instance. It never outlives its channel.
type Session struct {
	ID        string
	Identity  string
	Channel   Channel
	CreatedAt time.Time
}

func NewSession(ch Channel) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Channel:   ch,
		CreatedAt: time.Now().UTC(),
	}
}
