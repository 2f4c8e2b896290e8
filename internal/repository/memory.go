package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/connectify/internal/domain"
)

type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message
	seq      map[string]uint64
	next     uint64
	users    map[string]*User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*domain.Message),
		seq:      make(map[string]uint64),
		users:    make(map[string]*User),
	}
}

func (s *MemoryStore) Create(_ context.Context, m *domain.Message) error {
	if m == nil || m.ID == "" {
		return domain.Invalid("message id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return domain.Invalid("duplicate message id")
	}
	s.insert(m)
	return nil
}

func (s *MemoryStore) CreateMany(_ context.Context, msgs []*domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m == nil || m.ID == "" {
			return domain.Invalid("message id is required")
		}
		if _, ok := s.messages[m.ID]; ok {
			return domain.Invalid("duplicate message id")
		}
		if _, ok := batch[m.ID]; ok {
			return domain.Invalid("duplicate message id")
		}
		batch[m.ID] = struct{}{}
	}
	for _, m := range msgs {
		s.insert(m)
	}
	return nil
}

// insert requires s.mu held for writing.
func (s *MemoryStore) insert(m *domain.Message) {
	c := m.Clone()
	if c.DeletedFor == nil {
		c.DeletedFor = []string{}
	}
	s.next++
	s.messages[c.ID] = c
	s.seq[c.ID] = s.next
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) Conversation(_ context.Context, a, b string) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationLocked(a, b), nil
}

// conversationLocked returns clones sorted by creation time, insertion order breaking ties.
func (s *MemoryStore) conversationLocked(a, b string) []*domain.Message {
	out := []*domain.Message{}
	for _, m := range s.messages {
		if m.Between(a, b) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out
}

func (s *MemoryStore) ownedSince(id, sender string, notBefore time.Time) (*domain.Message, bool) {
	m, ok := s.messages[id]
	if !ok || m.Sender != sender || m.CreatedAt.Before(notBefore) {
		return nil, false
	}
	return m, true
}

func (s *MemoryStore) UpdateText(_ context.Context, id, sender, text string, editedAt, notBefore time.Time) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.ownedSince(id, sender, notBefore)
	if !ok {
		return nil, domain.ErrNotFound
	}
	at := editedAt
	m.Text = text
	m.EditedAt = &at
	return m.Clone(), nil
}

func (s *MemoryStore) HardDelete(_ context.Context, id, sender string, notBefore time.Time) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.ownedSince(id, sender, notBefore)
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(s.messages, id)
	delete(s.seq, id)
	return m, nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, id, viewer string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !m.IsDeletedFor(viewer) {
		m.DeletedFor = append(m.DeletedFor, viewer)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ClearFor(_ context.Context, viewer, peer string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.Between(viewer, peer) && !m.IsDeletedFor(viewer) {
			m.DeletedFor = append(m.DeletedFor, viewer)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, viewer, peer string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.Sender == peer && m.Recipient == viewer && !m.Seen {
			m.Seen = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UnreadCount(_ context.Context, viewer, peer string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.messages {
		if m.Sender == peer && m.Recipient == viewer && !m.Seen && !m.IsDeletedFor(viewer) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) LastMessageTime(_ context.Context, viewer, peer string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *time.Time
	for _, m := range s.messages {
		if !m.Between(viewer, peer) || m.IsDeletedFor(viewer) {
			continue
		}
		if last == nil || m.CreatedAt.After(*last) {
			t := m.CreatedAt
			last = &t
		}
	}
	return last, nil
}

func (s *MemoryStore) RecordSocket(_ context.Context, identity, socketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(identity)
	u.SocketID = socketID
	return nil
}

func (s *MemoryStore) RecordStatus(_ context.Context, ev domain.PresenceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(ev.Identity)
	u.IsOnline = ev.Online
	if !ev.Online {
		u.LastSeen = ev.LastSeen
		u.SocketID = ""
	}
	return nil
}

func (s *MemoryStore) User(_ context.Context, identity string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[identity]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *MemoryStore) userLocked(identity string) *User {
	u, ok := s.users[identity]
	if !ok {
		u = &User{Email: identity}
		s.users[identity] = u
	}
	return u
}
