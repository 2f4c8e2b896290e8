package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fathima-sithara/connectify/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg() *domain.Message {
	return &domain.Message{ID: "m1", Sender: "alice@x.io", Recipient: "bob@x.io", Text: "hi", CreatedAt: t0}
}

func TestAuthorizeEdit(t *testing.T) {
	g := NewGuard(0)
	assert.Equal(t, DefaultEditWindow, g.Window())

	tests := []struct {
		name      string
		requester string
		elapsed   time.Duration
		want      error
	}{
		{"sender inside window", "alice@x.io", 14*time.Minute + 59*time.Second, nil},
		{"sender at boundary", "alice@x.io", 15 * time.Minute, nil},
		{"sender after window", "alice@x.io", 15*time.Minute + time.Second, domain.ErrExpired},
		{"recipient inside window", "bob@x.io", 5 * time.Minute, domain.ErrForbidden},
		{"stranger after window", "eve@x.io", time.Hour, domain.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.AuthorizeEdit(msg(), tt.requester, t0.Add(tt.elapsed))
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestAuthorizeDelete(t *testing.T) {
	g := NewGuard(DefaultEditWindow)

	tests := []struct {
		name        string
		requester   string
		forEveryone bool
		elapsed     time.Duration
		want        error
	}{
		{"recipient for me long after", "bob@x.io", false, 72 * time.Hour, nil},
		{"sender for me long after", "alice@x.io", false, 72 * time.Hour, nil},
		{"stranger for me", "eve@x.io", false, time.Minute, domain.ErrForbidden},
		{"sender for everyone at 10m", "alice@x.io", true, 10 * time.Minute, nil},
		{"sender for everyone at 16m", "alice@x.io", true, 16 * time.Minute, domain.ErrExpired},
		{"recipient for everyone", "bob@x.io", true, time.Minute, domain.ErrForbidden},
		{"recipient for everyone late", "bob@x.io", true, time.Hour, domain.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.AuthorizeDelete(msg(), tt.requester, tt.forEveryone, t0.Add(tt.elapsed))
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestAuthorizeShare(t *testing.T) {
	g := NewGuard(DefaultEditWindow)
	assert.NoError(t, g.AuthorizeShare(msg(), "alice@x.io"))
	assert.True(t, errors.Is(g.AuthorizeShare(msg(), "bob@x.io"), domain.ErrForbidden))
}
