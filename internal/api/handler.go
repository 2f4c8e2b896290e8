package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/connectify/internal/domain"
	"github.com/fathima-sithara/connectify/internal/presence"
	"github.com/fathima-sithara/connectify/internal/service"
)

const (
	localsIdentity = "identity"
	requestTimeout = 5 * time.Second
)

// PresenceLookup answers for identities this instance holds no session for.
type PresenceLookup interface {
	Status(ctx context.Context, identity string) (domain.PresenceStatus, error)
}

type Handlers struct {
	svc    *service.ChatService
	reg    *presence.Registry
	remote PresenceLookup
	logger *zap.SugaredLogger
}

func NewHandlers(svc *service.ChatService, reg *presence.Registry, remote PresenceLookup, logger *zap.SugaredLogger) *Handlers {
	return &Handlers{svc: svc, reg: reg, remote: remote, logger: logger}
}

func reqCtx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

// actingAs rejects requests whose token was issued for someone other than claimed. Without
// token auth every claim is accepted.
func actingAs(c *fiber.Ctx, claimed string) error {
	tokenID, _ := c.Locals(localsIdentity).(string)
	if tokenID == "" {
		return nil
	}
	if domain.NormalizeIdentity(claimed) != tokenID {
		return domain.ErrForbidden
	}
	return nil
}

type sendRequest struct {
	SenderEmail   string             `json:"sender_email" validate:"required"`
	ReceiverEmail string             `json:"receiver_email" validate:"required"`
	Text          string             `json:"text"`
	Attachment    *domain.Attachment `json:"attachment"`
}

func (h *Handlers) send(c *fiber.Ctx) error {
	var req sendRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := actingAs(c, req.SenderEmail); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	m, err := h.svc.Send(ctx, service.SendInput{
		Sender:     req.SenderEmail,
		Recipient:  req.ReceiverEmail,
		Text:       req.Text,
		Attachment: req.Attachment,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusCreated, m)
}

func (h *Handlers) conversation(c *fiber.Ctx) error {
	viewer, peer := c.Query("viewer"), c.Query("peer")
	if err := actingAs(c, viewer); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	msgs, err := h.svc.Conversation(ctx, viewer, peer)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, msgs)
}

type editRequest struct {
	Text      string `json:"text"`
	UserEmail string `json:"user_email" validate:"required"`
}

func (h *Handlers) edit(c *fiber.Ctx) error {
	var req editRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := actingAs(c, req.UserEmail); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	m, err := h.svc.Edit(ctx, c.Params("id"), req.UserEmail, req.Text)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, m)
}

type deleteRequest struct {
	UserEmail         string `json:"user_email" validate:"required"`
	DeleteForEveryone bool   `json:"delete_for_everyone"`
}

func (h *Handlers) deleteMessage(c *fiber.Ctx) error {
	var req deleteRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := actingAs(c, req.UserEmail); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.svc.Delete(ctx, c.Params("id"), req.UserEmail, req.DeleteForEveryone)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, res)
}

type pairRequest struct {
	Viewer string `json:"viewer" validate:"required"`
	Peer   string `json:"peer" validate:"required"`
}

func (h *Handlers) markSeen(c *fiber.Ctx) error {
	var req pairRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := actingAs(c, req.Viewer); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.svc.MarkSeen(ctx, req.Viewer, req.Peer)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"updated": n})
}

type shareRequest struct {
	SenderEmail       string             `json:"sender_email" validate:"required"`
	RecipientEmails   []string           `json:"recipient_emails" validate:"required,min=1,dive,required"`
	Text              string             `json:"text"`
	Attachment        *domain.Attachment `json:"attachment"`
	OriginalMessageID string             `json:"original_message_id"`
}

func (h *Handlers) share(c *fiber.Ctx) error {
	var req shareRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := actingAs(c, req.SenderEmail); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	msgs, err := h.svc.Share(ctx, service.ShareInput{
		Sender:            req.SenderEmail,
		Recipients:        req.RecipientEmails,
		Text:              req.Text,
		Attachment:        req.Attachment,
		OriginalMessageID: req.OriginalMessageID,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusCreated, msgs)
}

func (h *Handlers) clearChat(c *fiber.Ctx) error {
	var req pairRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	if err := actingAs(c, req.Viewer); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.svc.ClearChat(ctx, req.Viewer, req.Peer)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"cleared": n})
}

func (h *Handlers) unreadCount(c *fiber.Ctx) error {
	viewer, peer := c.Query("viewer"), c.Query("peer")
	if err := actingAs(c, viewer); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.svc.UnreadCount(ctx, viewer, peer)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"count": n})
}

func (h *Handlers) lastMessageTime(c *fiber.Ctx) error {
	viewer, peer := c.Query("viewer"), c.Query("peer")
	if err := actingAs(c, viewer); err != nil {
		return h.fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	t, err := h.svc.LastMessageTime(ctx, viewer, peer)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, fiber.StatusOK, fiber.Map{"last_message_time": t})
}

// presenceOf prefers the local registry and falls back to the shared mirror for identities
// connected to other instances.
func (h *Handlers) presenceOf(c *fiber.Ctx) error {
	identity := domain.NormalizeIdentity(c.Params("identity"))
	if identity == "" {
		return h.fail(c, domain.Invalid("identity is required"))
	}
	st := h.reg.Status(identity)
	if !st.Online && h.remote != nil {
		ctx, cancel := reqCtx(c)
		defer cancel()
		remote, err := h.remote.Status(ctx, identity)
		if err != nil {
			h.logger.Debugw("remote presence lookup", "identity", identity, "error", err)
		} else {
			remote.Identity = identity
			remote.Sessions = 0
			if remote.LastSeen.Before(st.LastSeen) {
				remote.LastSeen = st.LastSeen
			}
			st = remote
		}
	}
	return ok(c, fiber.StatusOK, st)
}

func (h *Handlers) online(c *fiber.Ctx) error {
	return ok(c, fiber.StatusOK, h.reg.Online())
}
