package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/connectify/internal/domain"
)

// MessageRepository is the durable message log. Conversation reads are unfiltered; callers
// apply per-viewer visibility.
type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	// CreateMany stores every message or none of them.
	CreateMany(ctx context.Context, msgs []*domain.Message) error
	Get(ctx context.Context, id string) (*domain.Message, error)
	Conversation(ctx context.Context, a, b string) ([]*domain.Message, error)
	// UpdateText sets text and editedAt only while the record is still owned by sender and was
	// created at or after notBefore. A miss returns ErrNotFound.
	UpdateText(ctx context.Context, id, sender, text string, editedAt, notBefore time.Time) (*domain.Message, error)
	// HardDelete removes the record under the same conditions as UpdateText.
	HardDelete(ctx context.Context, id, sender string, notBefore time.Time) (*domain.Message, error)
	SoftDelete(ctx context.Context, id, viewer string) (*domain.Message, error)
	ClearFor(ctx context.Context, viewer, peer string) (int64, error)
	MarkSeen(ctx context.Context, viewer, peer string) (int64, error)
	UnreadCount(ctx context.Context, viewer, peer string) (int64, error)
	LastMessageTime(ctx context.Context, viewer, peer string) (*time.Time, error)
}

// User is the mirrored per-identity record; the registry stays the authority on presence.
type User struct {
	Email    string    `bson:"_id" json:"email"`
	SocketID string    `bson:"socket_id,omitempty" json:"socket_id,omitempty"`
	IsOnline bool      `bson:"is_online" json:"is_online"`
	LastSeen time.Time `bson:"last_seen,omitempty" json:"last_seen"`
}

type UserRepository interface {
	RecordSocket(ctx context.Context, identity, socketID string) error
	RecordStatus(ctx context.Context, ev domain.PresenceEvent) error
	User(ctx context.Context, identity string) (*User, error)
}

// Store is implemented by both backends.
type Store interface {
	MessageRepository
	UserRepository
}
