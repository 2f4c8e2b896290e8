// Package gateway terminates client websockets and routes their lifecycle events into the
// presence registry and the dispatcher.
package gateway

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/connectify/internal/auth"
	"github.com/fathima-sithara/connectify/internal/dispatch"
	"github.com/fathima-sithara/connectify/internal/presence"
	"github.com/fathima-sithara/connectify/internal/repository"
)

const localsIdentity = "token_identity"

// TokenValidator resolves a bearer token to the identity it was issued for.
type TokenValidator interface {
	Validate(token string) (string, error)
}

type Options struct {
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
	SendBuffer     int
	RateLimit      int
	ClientRelay    bool
	Origins        []string
}

func (o *Options) withDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteDeadline <= 0 {
		o.WriteDeadline = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 20
	}
}

type Gateway struct {
	reg       *presence.Registry
	disp      *dispatch.Dispatcher
	users     repository.UserRepository
	validator TokenValidator
	opts      Options
	logger    *zap.SugaredLogger
}

// New builds a gateway. users and validator may be nil: without users the socket id is not
// mirrored, without validator any client may claim any identity.
func New(reg *presence.Registry, disp *dispatch.Dispatcher, users repository.UserRepository, validator TokenValidator, opts Options, logger *zap.SugaredLogger) *Gateway {
	opts.withDefaults()
	return &Gateway{reg: reg, disp: disp, users: users, validator: validator, opts: opts, logger: logger}
}

// Upgrade rejects non-websocket requests and, when a validator is set, requests without a
// valid token (query "token" or Authorization header).
func (g *Gateway) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if g.validator != nil {
		tok := c.Query("token")
		if tok == "" {
			t, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "missing token"})
			}
			tok = t
		}
		identity, err := g.validator.Validate(tok)
		if err != nil {
			g.logger.Debugw("ws token rejected", "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "invalid token"})
		}
		c.Locals(localsIdentity, identity)
	}
	return c.Next()
}

// Handler serves one websocket per call.
func (g *Gateway) Handler() fiber.Handler {
	return websocket.New(func(ws *websocket.Conn) {
		tokenIdentity, _ := ws.Locals(localsIdentity).(string)
		c := g.newConn(newChannel(g.opts.SendBuffer), tokenIdentity)
		c.serve(ws)
	}, websocket.Config{
		Origins:         g.opts.Origins,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	})
}

// mirrorSocket records the latest socket id of identity without holding up the read loop.
func (g *Gateway) mirrorSocket(identity, sessionID string) {
	if g.users == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := g.users.RecordSocket(ctx, identity, sessionID); err != nil {
			g.logger.Warnw("mirror socket id", "identity", identity, "error", err)
		}
	}()
}
