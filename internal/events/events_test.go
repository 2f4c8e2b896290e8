package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fathima-sithara/connectify/internal/domain"
)

func TestEnvelopeKey_SameForBothDirections(t *testing.T) {
	ab := Envelope{Message: &domain.Message{Sender: "a@x", Recipient: "b@x"}}
	ba := Envelope{Message: &domain.Message{Sender: "b@x", Recipient: "a@x"}}
	cleared := Envelope{Type: ChatCleared, Viewer: "b@x", Peer: "a@x"}

	assert.Equal(t, "a@x|b@x", ab.Key())
	assert.Equal(t, ab.Key(), ba.Key())
	assert.Equal(t, ab.Key(), cleared.Key())
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Envelope{Type: MessageCreated}))
	assert.NoError(t, p.Close())
}
