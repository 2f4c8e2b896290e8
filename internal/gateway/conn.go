package gateway

import (
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"golang.org/x/time/rate"

	"github.com/fathima-sithara/connectify/internal/dispatch"
	"github.com/fathima-sithara/connectify/internal/domain"
	"github.com/fathima-sithara/connectify/internal/metrics"
	"github.com/fathima-sithara/connectify/internal/presence"
)

// Inbound websocket event names.
const (
	EventRegisterSocket = "registerSocket"
	EventUserOffline    = "userOffline"
	EventSendMessage    = "sendMessage"
)

// conn is the per-websocket state. handle and unbind run on the read goroutine only.
type conn struct {
	g             *Gateway
	ch            *wsChannel
	limiter       *rate.Limiter
	tokenIdentity string
	session       *presence.Session
}

func (g *Gateway) newConn(ch *wsChannel, tokenIdentity string) *conn {
	return &conn{
		g:             g,
		ch:            ch,
		limiter:       rate.NewLimiter(rate.Limit(g.opts.RateLimit), g.opts.RateLimit),
		tokenIdentity: tokenIdentity,
	}
}

func (c *conn) serve(ws *websocket.Conn) {
	go c.writePump(ws)
	c.readPump(ws)
}

func (c *conn) readPump(ws *websocket.Conn) {
	defer func() {
		c.unbind()
		_ = c.ch.Close()
		_ = ws.Close()
	}()

	pongWait := c.g.opts.PingInterval * 2
	ws.SetReadLimit(c.g.opts.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.g.logger.Debugw("ws read", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(data)
	}
}

func (c *conn) writePump(ws *websocket.Conn) {
	ticker := time.NewTicker(c.g.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case msg := <-c.ch.send:
			_ = ws.SetWriteDeadline(time.Now().Add(c.g.opts.WriteDeadline))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.ch.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(c.g.opts.WriteDeadline))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ch.Close()
				return
			}
		case <-c.ch.done:
			_ = ws.SetWriteDeadline(time.Now().Add(c.g.opts.WriteDeadline))
			_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handle routes one inbound frame. Bad frames are answered with an error event and dropped;
// the connection stays open.
func (c *conn) handle(data []byte) {
	if !c.limiter.Allow() {
		metrics.InboundEvents.WithLabelValues("any", "rate_limited").Inc()
		c.reject("rate limit exceeded")
		return
	}
	f, err := dispatch.Decode(data)
	if err != nil {
		metrics.InboundEvents.WithLabelValues("invalid", "dropped").Inc()
		c.g.logger.Debugw("dropping frame", "error", err)
		c.reject(err.Error())
		return
	}

	switch f.Event {
	case EventRegisterSocket:
		err = c.register(f.Data)
	case EventUserOffline:
		err = c.offline(f.Data)
	case EventSendMessage:
		err = c.relay(f.Data)
	default:
		err = domain.Invalid("unknown event " + f.Event)
	}
	if err != nil {
		metrics.InboundEvents.WithLabelValues(label(f.Event), "dropped").Inc()
		c.g.logger.Debugw("dropping event", "event", f.Event, "error", err)
		c.reject(err.Error())
		return
	}
	metrics.InboundEvents.WithLabelValues(label(f.Event), "ok").Inc()
}

func label(event string) string {
	switch event {
	case EventRegisterSocket, EventUserOffline, EventSendMessage:
		return event
	}
	return "unknown"
}

func (c *conn) reject(msg string) {
	frame, err := dispatch.Encode(dispatch.EventError, dispatch.ErrorPayload{Message: msg})
	if err == nil {
		_ = c.ch.Send(frame)
	}
}

// identityFrom accepts either a bare JSON string or {"email": "..."}.
func identityFrom(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return domain.NormalizeIdentity(s)
	}
	var obj struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return domain.NormalizeIdentity(obj.Email)
	}
	return ""
}

func (c *conn) authorize(identity string) error {
	if identity == "" {
		return domain.Invalid("identity is required")
	}
	if c.tokenIdentity != "" && c.tokenIdentity != identity {
		return domain.ErrForbidden
	}
	return nil
}

func (c *conn) register(raw json.RawMessage) error {
	identity := identityFrom(raw)
	if err := c.authorize(identity); err != nil {
		return err
	}
	if c.ch.closed() {
		return nil
	}
	if c.session != nil {
		if c.session.Identity == identity {
			return nil
		}
		c.unbind()
	}
	s := presence.NewSession(c.ch)
	if _, err := c.g.reg.Register(identity, s); err != nil {
		return err
	}
	c.session = s
	c.g.logger.Debugw("socket registered", "identity", identity, "session", s.ID)
	c.g.mirrorSocket(identity, s.ID)
	return nil
}

// offline handles an explicit logout: every session of the bound identity is dropped and the
// other devices' channels are closed.
func (c *conn) offline(raw json.RawMessage) error {
	identity := identityFrom(raw)
	if err := c.authorize(identity); err != nil {
		return err
	}
	if c.session == nil || c.session.Identity != identity {
		return domain.ErrForbidden
	}
	for _, s := range c.g.reg.ForceOffline(identity) {
		if s.ID != c.session.ID {
			_ = s.Channel.Close()
		}
	}
	c.session = nil
	return nil
}

// relay forwards a client-held copy of a stored message to the recipient. The frame is marked
// advisory; the stored copy is pushed by the send path.
func (c *conn) relay(raw json.RawMessage) error {
	if !c.g.opts.ClientRelay {
		return nil
	}
	if c.session == nil {
		return domain.Invalid("register the socket before sending")
	}
	var m domain.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.Invalid("malformed message")
	}
	legacyRelayFields(raw, &m)
	m.Recipient = domain.NormalizeIdentity(m.Recipient)
	if m.ID == "" || m.Recipient == "" {
		return domain.Invalid("message id and receiver are required")
	}
	m.Sender = c.session.Identity
	frame, err := dispatch.EncodeAdvisory(dispatch.EventReceiveMessage, &m)
	if err != nil {
		return err
	}
	c.g.disp.Deliver(m.Recipient, frame)
	return nil
}

// legacyRelayFields fills id and recipient from the camelCase shapes older web clients send:
// "_id", "receiverEmail", and "receiverId" as a string or {"email": ...}.
func legacyRelayFields(raw json.RawMessage, m *domain.Message) {
	if m.ID != "" && m.Recipient != "" {
		return
	}
	var legacy struct {
		ID            string          `json:"_id"`
		ReceiverEmail string          `json:"receiverEmail"`
		ReceiverID    json.RawMessage `json:"receiverId"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return
	}
	if m.ID == "" {
		m.ID = legacy.ID
	}
	if m.Recipient == "" {
		m.Recipient = legacy.ReceiverEmail
	}
	if m.Recipient == "" && len(legacy.ReceiverID) > 0 {
		m.Recipient = identityFrom(legacy.ReceiverID)
	}
}

// unbind removes this connection's session, resolved through the registry's reverse index.
func (c *conn) unbind() {
	if c.session == nil {
		return
	}
	if s, ok := c.g.reg.Lookup(c.session.ID); ok {
		c.g.reg.Unregister(s.Identity, s.ID)
	}
	c.session = nil
}
