package api

import (
	"context"

	"github.com/fathima-sithara/connectify/internal/domain"
	"github.com/fathima-sithara/connectify/internal/repository"
)

type userPresence struct {
	users repository.UserRepository
}

// UserPresence answers presence lookups from the mirrored user records.
func UserPresence(users repository.UserRepository) PresenceLookup {
	return userPresence{users: users}
}

func (u userPresence) Status(ctx context.Context, identity string) (domain.PresenceStatus, error) {
	rec, err := u.users.User(ctx, identity)
	if err != nil {
		return domain.PresenceStatus{}, err
	}
	return domain.PresenceStatus{Identity: rec.Email, Online: rec.IsOnline, LastSeen: rec.LastSeen}, nil
}

type chain []PresenceLookup

// Chain asks each lookup in turn and returns the first answer.
func Chain(lookups ...PresenceLookup) PresenceLookup {
	return chain(lookups)
}

func (c chain) Status(ctx context.Context, identity string) (domain.PresenceStatus, error) {
	err := error(domain.ErrNotFound)
	for _, l := range c {
		st, lerr := l.Status(ctx, identity)
		if lerr == nil {
			return st, nil
		}
		err = lerr
	}
	return domain.PresenceStatus{}, err
}
