package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/connectify/internal/domain"
)

func newMessage(from, to, text string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:        uuid.NewString(),
		Sender:    from,
		Recipient: to,
		Text:      text,
		CreatedAt: at.UTC().Truncate(time.Millisecond),
	}
}

// runStoreSuite exercises one backend. Identities are unique per run so a shared database
// can be reused.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	alice := "alice-" + suffix + "@x.io"
	bob := "bob-" + suffix + "@x.io"
	carol := "carol-" + suffix + "@x.io"
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	m1 := newMessage(alice, bob, "hi", base)
	m2 := newMessage(bob, alice, "hey", base.Add(time.Minute))
	m3 := newMessage(alice, bob, "how are you", base.Add(2*time.Minute))
	other := newMessage(alice, carol, "psst", base.Add(3*time.Minute))
	for _, m := range []*domain.Message{m3, m1, other, m2} {
		require.NoError(t, s.Create(ctx, m))
	}

	t.Run("conversation is chronological and scoped", func(t *testing.T) {
		got, err := s.Conversation(ctx, bob, alice)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, []string{got[0].ID, got[1].ID, got[2].ID})
	})

	t.Run("create many is all or nothing", func(t *testing.T) {
		dave := "dave-" + suffix + "@x.io"
		b1 := newMessage(alice, dave, "one", base.Add(4*time.Minute))
		b2 := newMessage(alice, dave, "two", base.Add(5*time.Minute))
		clash := newMessage(alice, dave, "three", base.Add(4*time.Minute))
		clash.ID = m1.ID
		err := s.CreateMany(ctx, []*domain.Message{b1, b2, clash})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		got, err := s.Conversation(ctx, alice, dave)
		require.NoError(t, err)
		assert.Empty(t, got)
		orig, err := s.Get(ctx, m1.ID)
		require.NoError(t, err)
		assert.Equal(t, "hi", orig.Text)

		require.NoError(t, s.CreateMany(ctx, []*domain.Message{b1, b2}))
		got, err = s.Conversation(ctx, dave, alice)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, []string{b1.ID, b2.ID}, []string{got[0].ID, got[1].ID})
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "missing-"+suffix)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("conditional edit", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		_, err := s.UpdateText(ctx, m1.ID, bob, "x", now, base.Add(-time.Minute))
		assert.ErrorIs(t, err, domain.ErrNotFound, "wrong sender")
		_, err = s.UpdateText(ctx, m1.ID, alice, "x", now, base.Add(time.Second))
		assert.ErrorIs(t, err, domain.ErrNotFound, "window passed")

		got, err := s.UpdateText(ctx, m1.ID, alice, "hello", now, base)
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Text)
		require.NotNil(t, got.EditedAt)
		assert.True(t, got.EditedAt.Equal(now))
	})

	t.Run("soft delete is per viewer and idempotent", func(t *testing.T) {
		_, err := s.SoftDelete(ctx, m2.ID, alice)
		require.NoError(t, err)
		got, err := s.SoftDelete(ctx, m2.ID, alice)
		require.NoError(t, err)
		assert.Equal(t, []string{alice}, got.DeletedFor)

		_, err = s.SoftDelete(ctx, "missing-"+suffix, alice)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("unread and mark seen", func(t *testing.T) {
		n, err := s.UnreadCount(ctx, bob, alice)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		n, err = s.UnreadCount(ctx, alice, bob)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n, "m2 is hidden for alice")

		n, err = s.MarkSeen(ctx, bob, alice)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
		n, err = s.UnreadCount(ctx, bob, alice)
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := s.Get(ctx, m2.ID)
		require.NoError(t, err)
		assert.False(t, got.Seen, "only peer->viewer messages are marked")
	})

	t.Run("last message time respects visibility", func(t *testing.T) {
		last, err := s.LastMessageTime(ctx, alice, bob)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, last.Equal(m3.CreatedAt))
	})

	t.Run("hard delete", func(t *testing.T) {
		_, err := s.HardDelete(ctx, m3.ID, bob, base)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		got, err := s.HardDelete(ctx, m3.ID, alice, base)
		require.NoError(t, err)
		assert.Equal(t, m3.ID, got.ID)
		_, err = s.Get(ctx, m3.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("clear chat hides only for viewer", func(t *testing.T) {
		n, err := s.ClearFor(ctx, alice, bob)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n, "m2 was already hidden, m3 is gone")

		msgs, err := s.Conversation(ctx, alice, bob)
		require.NoError(t, err)
		for _, m := range msgs {
			assert.True(t, m.IsDeletedFor(alice))
			assert.False(t, m.IsDeletedFor(bob))
		}
		last, err := s.LastMessageTime(ctx, alice, bob)
		require.NoError(t, err)
		assert.Nil(t, last)

		msgs, err = s.Conversation(ctx, alice, carol)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Empty(t, msgs[0].DeletedFor)
	})

	t.Run("user mirror", func(t *testing.T) {
		require.NoError(t, s.RecordSocket(ctx, carol, "sock-1"))
		require.NoError(t, s.RecordStatus(ctx, domain.PresenceEvent{Identity: carol, Online: true}))
		u, err := s.User(ctx, carol)
		require.NoError(t, err)
		assert.True(t, u.IsOnline)
		assert.Equal(t, "sock-1", u.SocketID)

		seen := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.RecordStatus(ctx, domain.PresenceEvent{Identity: carol, LastSeen: seen}))
		u, err = s.User(ctx, carol)
		require.NoError(t, err)
		assert.False(t, u.IsOnline)
		assert.Empty(t, u.SocketID)
		assert.True(t, u.LastSeen.Equal(seen))

		_, err = s.User(ctx, "nobody-"+suffix)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
