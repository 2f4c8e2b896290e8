package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/fathima-sithara/connectify/internal/auth"
	"github.com/fathima-sithara/connectify/internal/gateway"
	"github.com/fathima-sithara/connectify/internal/metrics"
)

type ServerOptions struct {
	AllowedOrigins []string
	// Validator, when set, requires a bearer token on every /api/chat route.
	Validator     gateway.TokenValidator
	AccessLogging bool
	// Limiter, when set, throttles /api/chat per identity or client IP.
	Limiter Limiter
}

func NewServer(h *Handlers, gw *gateway.Gateway, opts ServerOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "connectify",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	if opts.AccessLogging {
		app.Use(logger.New())
	}
	origins := "*"
	if len(opts.AllowedOrigins) > 0 {
		origins = strings.Join(opts.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{AllowOrigins: origins}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	chat := app.Group("/api/chat")
	if opts.Validator != nil {
		chat.Use(bearer(opts.Validator))
	}
	if opts.Limiter != nil {
		chat.Use(RateLimit(opts.Limiter, h.logger))
	}
	chat.Post("/send", h.send)
	chat.Get("/conversation", h.conversation)
	chat.Put("/edit/:id", h.edit)
	chat.Delete("/delete/:id", h.deleteMessage)
	chat.Put("/mark-seen", h.markSeen)
	chat.Post("/share", h.share)
	chat.Delete("/clear-chat", h.clearChat)
	chat.Get("/unread-count", h.unreadCount)
	chat.Get("/last-message-time", h.lastMessageTime)

	pres := app.Group("/api/presence")
	pres.Get("/", h.online)
	pres.Get("/:identity", h.presenceOf)

	if gw != nil {
		app.Use("/ws", gw.Upgrade)
		app.Get("/ws", gw.Handler())
	}
	return app
}

func bearer(v gateway.TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tok, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": err.Error()})
		}
		identity, err := v.Validate(tok)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "invalid token"})
		}
		c.Locals(localsIdentity, identity)
		return c.Next()
	}
}
