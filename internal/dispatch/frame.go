package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/fathima-sithara/connectify/internal/domain"
)

// Outbound websocket event names.
const (
	EventReceiveMessage   = "receiveMessage"
	EventUpdateUserStatus = "updateUserStatus"
	EventMessageEdited    = "messageEdited"
	EventMessageDeleted   = "messageDeleted"
	EventChatCleared      = "chatCleared"
	EventError            = "error"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
	Advisory bool            `json:"advisory,omitempty"`
}

type DeletedPayload struct {
	ID          string `json:"id"`
	ForEveryone bool   `json:"for_everyone"`
}

type ClearedPayload struct {
	Peer string `json:"peer"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// EncodeAdvisory marks a client-originated relay so receivers can deduplicate it against the
// stored copy by message id.
func EncodeAdvisory(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw, Advisory: true})
}

func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, domain.Invalid("malformed frame")
	}
	if f.Event == "" {
		return Frame{}, domain.Invalid("frame has no event")
	}
	return f, nil
}
