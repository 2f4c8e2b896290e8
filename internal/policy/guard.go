// Package policy holds the stateless rules that decide who may mutate a message and which
// messages a viewer can see. Nothing here writes to storage.
package policy

import (
	"fmt"
	"time"

	"github.com/fathima-sithara/connectify/internal/domain"
)

// DefaultEditWindow bounds edit and delete-for-everyone after a message was created.
const DefaultEditWindow = 15 * time.Minute

type Guard struct {
	window time.Duration
}

func NewGuard(window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultEditWindow
	}
	return &Guard{window: window}
}

func (g *Guard) Window() time.Duration { return g.window }

// WindowOpen reports whether now is still inside the mutation window of m.
// The boundary itself is inside the window.
func (g *Guard) WindowOpen(m *domain.Message, now time.Time) bool {
	return now.Sub(m.CreatedAt) <= g.window
}

// AuthorizeEdit allows only the sender, and only while the window is open.
func (g *Guard) AuthorizeEdit(m *domain.Message, requester string, now time.Time) error {
	if m.Sender != requester {
		return fmt.Errorf("%w: only the sender can edit the message", domain.ErrForbidden)
	}
	if !g.WindowOpen(m, now) {
		return fmt.Errorf("%w: cannot edit message after %s", domain.ErrExpired, g.window)
	}
	return nil
}

// AuthorizeDelete checks delete-for-me (either party, any time) and delete-for-everyone
// (sender only, window open).
func (g *Guard) AuthorizeDelete(m *domain.Message, requester string, forEveryone bool, now time.Time) error {
	if !m.Involves(requester) {
		return fmt.Errorf("%w: not a participant of this message", domain.ErrForbidden)
	}
	if !forEveryone {
		return nil
	}
	if m.Sender != requester {
		return fmt.Errorf("%w: only the sender can delete for everyone", domain.ErrForbidden)
	}
	if !g.WindowOpen(m, now) {
		return fmt.Errorf("%w: cannot delete for everyone after %s", domain.ErrExpired, g.window)
	}
	return nil
}

// AuthorizeShare allows re-sharing a stored message only by its original sender.
func (g *Guard) AuthorizeShare(original *domain.Message, requester string) error {
	if original.Sender != requester {
		return fmt.Errorf("%w: only the sender can share the message", domain.ErrForbidden)
	}
	return nil
}
