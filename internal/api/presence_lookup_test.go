package api

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/connectify/internal/domain"
)

type lookupFunc func(ctx context.Context, identity string) (domain.PresenceStatus, error)

func (f lookupFunc) Status(ctx context.Context, identity string) (domain.PresenceStatus, error) {
	return f(ctx, identity)
}

func TestChain(t *testing.T) {
	miss := lookupFunc(func(context.Context, string) (domain.PresenceStatus, error) {
		return domain.PresenceStatus{}, domain.ErrNotFound
	})
	down := lookupFunc(func(context.Context, string) (domain.PresenceStatus, error) {
		return domain.PresenceStatus{}, errors.New("redis down")
	})
	hit := lookupFunc(func(_ context.Context, id string) (domain.PresenceStatus, error) {
		return domain.PresenceStatus{Identity: id, Online: true}, nil
	})

	st, err := Chain(miss, down, hit).Status(context.Background(), "a@x.io")
	require.NoError(t, err)
	assert.True(t, st.Online)

	_, err = Chain(down, miss).Status(context.Background(), "a@x.io")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = Chain().Status(context.Background(), "a@x.io")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
