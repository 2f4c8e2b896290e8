package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	wsclient "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/connectify/internal/dispatch"
	"github.com/fathima-sithara/connectify/internal/domain"
	"github.com/fathima-sithara/connectify/internal/policy"
	"github.com/fathima-sithara/connectify/internal/presence"
	"github.com/fathima-sithara/connectify/internal/repository"
	"github.com/fathima-sithara/connectify/internal/service"
)

type tokens map[string]string

func (t tokens) Validate(tok string) (string, error) {
	if id, ok := t[tok]; ok {
		return id, nil
	}
	return "", errors.New("unknown token")
}

type server struct {
	addr string
	reg  *presence.Registry
	svc  *service.ChatService

	mu     sync.Mutex
	events []domain.PresenceEvent
}

// startServer serves the gateway on a loopback port the way cmd/connectify mounts it.
func startServer(t *testing.T, validator TokenValidator) *server {
	t.Helper()
	s := &server{}
	log := zap.NewNop().Sugar()
	s.reg = presence.NewRegistry(presence.SinkFunc(func(ev domain.PresenceEvent) {
		s.mu.Lock()
		s.events = append(s.events, ev)
		s.mu.Unlock()
	}))
	disp := dispatch.New(s.reg, log)
	store := repository.NewMemoryStore()
	s.svc = service.NewChatService(store, policy.NewGuard(policy.DefaultEditWindow), disp, log)
	g := New(s.reg, disp, store, validator, Options{ClientRelay: true}, log)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/ws", g.Upgrade)
	app.Get("/ws", g.Handler())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.ShutdownWithTimeout(time.Second) })
	s.addr = ln.Addr().String()
	return s
}

func (s *server) presence() []domain.PresenceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PresenceEvent(nil), s.events...)
}

func (s *server) dial(t *testing.T, query string) (*wsclient.Conn, *http.Response, error) {
	t.Helper()
	c, resp, err := wsclient.DefaultDialer.Dial("ws://"+s.addr+"/ws"+query, nil)
	if c != nil {
		t.Cleanup(func() { _ = c.Close() })
	}
	return c, resp, err
}

func (s *server) connect(t *testing.T, identity string) *wsclient.Conn {
	t.Helper()
	c, _, err := s.dial(t, "")
	require.NoError(t, err)
	before := len(s.reg.SessionsOf(identity))
	emit(t, c, EventRegisterSocket, identity)
	require.Eventually(t, func() bool {
		return len(s.reg.SessionsOf(identity)) == before+1
	}, 2*time.Second, 10*time.Millisecond)
	return c
}

func emit(t *testing.T, c *wsclient.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, c.WriteJSON(dispatch.Frame{Event: event, Data: raw}))
}

func next(t *testing.T, c *wsclient.Conn, within time.Duration) (dispatch.Frame, error) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(within))
	_, data, err := c.ReadMessage()
	if err != nil {
		return dispatch.Frame{}, err
	}
	return dispatch.Decode(data)
}

func TestSocket_MultiDeviceScenario(t *testing.T) {
	s := startServer(t, nil)
	s1 := s.connect(t, "u1")
	s2 := s.connect(t, "u1")
	s3 := s.connect(t, "u2")

	evs := s.presence()
	require.Len(t, evs, 2)
	assert.Equal(t, "u1", evs[0].Identity)
	assert.True(t, evs[0].Online)
	assert.Equal(t, "u2", evs[1].Identity)

	m, err := s.svc.Send(context.Background(), service.SendInput{Sender: "u2", Recipient: "u1", Text: "hello"})
	require.NoError(t, err)
	for _, c := range []*wsclient.Conn{s1, s2} {
		f, err := next(t, c, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, dispatch.EventReceiveMessage, f.Event)
		assert.False(t, f.Advisory)
		var got domain.Message
		require.NoError(t, json.Unmarshal(f.Data, &got))
		assert.Equal(t, m.ID, got.ID)
	}
	_, err = next(t, s3, 200*time.Millisecond)
	assert.Error(t, err, "sender's own session gets no copy")

	// graceful close of one device keeps u1 online
	require.NoError(t, s1.WriteMessage(wsclient.CloseMessage, wsclient.FormatCloseMessage(wsclient.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return len(s.reg.SessionsOf("u1")) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.reg.IsOnline("u1"))
	assert.Len(t, s.presence(), 2)

	// dropping the last device without a close frame still unregisters it
	require.NoError(t, s2.UnderlyingConn().Close())
	require.Eventually(t, func() bool { return !s.reg.IsOnline("u1") }, 2*time.Second, 10*time.Millisecond)

	evs = s.presence()
	require.Len(t, evs, 3)
	assert.Equal(t, "u1", evs[2].Identity)
	assert.False(t, evs[2].Online)
	assert.False(t, evs[2].LastSeen.IsZero())
	assert.True(t, s.reg.IsOnline("u2"))
	assert.Empty(t, s.reg.SessionsOf("u1"))
}

func TestSocket_UnboundCloseIsNoop(t *testing.T) {
	s := startServer(t, nil)
	c, _, err := s.dial(t, "")
	require.NoError(t, err)
	emit(t, c, "bogus", nil)
	f, err := next(t, c, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, dispatch.EventError, f.Event)

	require.NoError(t, c.Close())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, s.reg.All())
	assert.Empty(t, s.presence())
}

func TestSocket_TokenChecks(t *testing.T) {
	s := startServer(t, tokens{"good": "u1"})

	_, resp, err := s.dial(t, "")
	require.ErrorIs(t, err, wsclient.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = s.dial(t, "?token=forged")
	require.ErrorIs(t, err, wsclient.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c, _, err := s.dial(t, "?token=good")
	require.NoError(t, err)
	emit(t, c, EventRegisterSocket, "u2")
	f, err := next(t, c, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, dispatch.EventError, f.Event)
	assert.False(t, s.reg.IsOnline("u2"))

	emit(t, c, EventRegisterSocket, "u1")
	require.Eventually(t, func() bool { return s.reg.IsOnline("u1") }, 2*time.Second, 10*time.Millisecond)
}
