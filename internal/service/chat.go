package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/connectify/internal/dispatch"
	"github.com/fathima-sithara/connectify/internal/domain"
	"github.com/fathima-sithara/connectify/internal/events"
	"github.com/fathima-sithara/connectify/internal/keylock"
	"github.com/fathima-sithara/connectify/internal/metrics"
	"github.com/fathima-sithara/connectify/internal/policy"
	"github.com/fathima-sithara/connectify/internal/repository"
)

// Notifier pushes an event to every live session of an identity.
type Notifier interface {
	Emit(identity, event string, data any) int
}

type ChatService struct {
	repo      repository.MessageRepository
	guard     *policy.Guard
	notify    Notifier
	publisher events.Publisher
	locks     *keylock.Striped
	now       func() time.Time
	logger    *zap.SugaredLogger
}

type Option func(*ChatService)

func WithClock(now func() time.Time) Option { return func(s *ChatService) { s.now = now } }

func WithPublisher(p events.Publisher) Option {
	return func(s *ChatService) {
		if p != nil {
			s.publisher = p
		}
	}
}

func NewChatService(repo repository.MessageRepository, guard *policy.Guard, notify Notifier, logger *zap.SugaredLogger, opts ...Option) *ChatService {
	s := &ChatService{
		repo:      repo,
		guard:     guard,
		notify:    notify,
		publisher: events.Nop{},
		locks:     keylock.New(256),
		now:       time.Now,
		logger:    logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// clock truncates to what the store can represent so stored and returned times agree.
func (s *ChatService) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

type SendInput struct {
	Sender     string
	Recipient  string
	Text       string
	Attachment *domain.Attachment
}

// Send persists a message and then pushes it to every live session of the recipient.
func (s *ChatService) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	sender := domain.NormalizeIdentity(in.Sender)
	recipient := domain.NormalizeIdentity(in.Recipient)
	if sender == "" || recipient == "" {
		return nil, domain.Invalid("sender and recipient are required")
	}
	m, err := s.build(sender, recipient, in.Text, in.Attachment)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, m); err != nil {
		metrics.MessageOps.WithLabelValues("send", "error").Inc()
		return nil, err
	}
	metrics.MessageOps.WithLabelValues("send", "ok").Inc()
	s.deliver(ctx, m)
	return m, nil
}

func (s *ChatService) build(sender, recipient, text string, att *domain.Attachment) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	att, err := domain.NormalizeAttachment(att)
	if err != nil {
		return nil, err
	}
	if text == "" && att == nil {
		return nil, domain.Invalid("text or attachment is required")
	}
	return &domain.Message{
		ID:         uuid.NewString(),
		Sender:     sender,
		Recipient:  recipient,
		Text:       text,
		Attachment: att,
		CreatedAt:  s.clock(),
		DeletedFor: []string{},
	}, nil
}

func (s *ChatService) deliver(ctx context.Context, m *domain.Message) {
	n := s.notify.Emit(m.Recipient, dispatch.EventReceiveMessage, m)
	s.logger.Debugw("message dispatched", "id", m.ID, "recipient", m.Recipient, "sessions", n)
	s.publish(ctx, events.Envelope{Type: events.MessageCreated, Message: m})
}

// publish is best effort; the store already holds the truth.
func (s *ChatService) publish(ctx context.Context, ev events.Envelope) {
	if ev.At.IsZero() {
		ev.At = s.clock()
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warnw("publish event", "type", ev.Type, "error", err)
	}
}

// Conversation returns the messages between viewer and peer that viewer has not deleted for
// themselves, oldest first.
func (s *ChatService) Conversation(ctx context.Context, viewer, peer string) ([]*domain.Message, error) {
	viewer, peer, err := pair(viewer, peer)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.Conversation(ctx, viewer, peer)
	if err != nil {
		return nil, err
	}
	return policy.Visible(msgs, viewer), nil
}

// Edit replaces the text of a message. Only the sender may edit and only inside the window.
func (s *ChatService) Edit(ctx context.Context, id, requester, text string) (*domain.Message, error) {
	requester = domain.NormalizeIdentity(requester)
	text = strings.TrimSpace(text)
	if id == "" || requester == "" {
		return nil, domain.Invalid("message id and requester are required")
	}
	if text == "" {
		return nil, domain.Invalid("text is required")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	if err := s.guard.AuthorizeEdit(m, requester, now); err != nil {
		metrics.MessageOps.WithLabelValues("edit", "denied").Inc()
		return nil, err
	}
	updated, err := s.repo.UpdateText(ctx, id, requester, text, now, now.Add(-s.guard.Window()))
	if err != nil {
		return nil, s.conditionalMiss(ctx, id, err)
	}
	metrics.MessageOps.WithLabelValues("edit", "ok").Inc()

	s.notifyEdited(updated)
	s.publish(ctx, events.Envelope{Type: events.MessageEdited, Message: updated, MessageID: id})
	return updated, nil
}

// conditionalMiss classifies a conditional write that matched nothing after the guard passed:
// the record vanished, or another instance let the window close in between.
func (s *ChatService) conditionalMiss(ctx context.Context, id string, err error) error {
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if _, gerr := s.repo.Get(ctx, id); gerr != nil {
		return gerr
	}
	return fmt.Errorf("%w: window closed while the change was applied", domain.ErrExpired)
}

type DeleteResult struct {
	ID          string `json:"id"`
	ForEveryone bool   `json:"for_everyone"`
}

// Delete hides a message for the requester, or removes it for both parties when forEveryone
// is set by the sender inside the window.
func (s *ChatService) Delete(ctx context.Context, id, requester string, forEveryone bool) (*DeleteResult, error) {
	requester = domain.NormalizeIdentity(requester)
	if id == "" || requester == "" {
		return nil, domain.Invalid("message id and requester are required")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	if err := s.guard.AuthorizeDelete(m, requester, forEveryone, now); err != nil {
		metrics.MessageOps.WithLabelValues("delete", "denied").Inc()
		return nil, err
	}

	res := &DeleteResult{ID: id, ForEveryone: forEveryone}
	if forEveryone {
		if _, err := s.repo.HardDelete(ctx, id, requester, now.Add(-s.guard.Window())); err != nil {
			return nil, s.conditionalMiss(ctx, id, err)
		}
	} else if _, err := s.repo.SoftDelete(ctx, id, requester); err != nil {
		return nil, err
	}
	s.notifyDeleted(m, requester, forEveryone)
	metrics.MessageOps.WithLabelValues("delete", "ok").Inc()
	s.publish(ctx, events.Envelope{Type: events.MessageDeleted, Message: m, MessageID: id, ForEveryone: forEveryone, Viewer: requester})
	return res, nil
}

// MarkSeen flags every unseen message from peer to viewer as seen.
func (s *ChatService) MarkSeen(ctx context.Context, viewer, peer string) (int64, error) {
	viewer, peer, err := pair(viewer, peer)
	if err != nil {
		return 0, err
	}
	return s.repo.MarkSeen(ctx, viewer, peer)
}

type ShareInput struct {
	Sender            string
	Recipients        []string
	Text              string
	Attachment        *domain.Attachment
	OriginalMessageID string
}

// Share creates one new message per distinct recipient, all stored or none. When an original
// is referenced only its sender may share it, and its content is used if the request carries
// none.
func (s *ChatService) Share(ctx context.Context, in ShareInput) ([]*domain.Message, error) {
	sender := domain.NormalizeIdentity(in.Sender)
	if sender == "" {
		return nil, domain.Invalid("sender is required")
	}
	recipients := distinct(in.Recipients)
	if len(recipients) == 0 {
		return nil, domain.Invalid("at least one recipient is required")
	}

	text, att := in.Text, in.Attachment
	if in.OriginalMessageID != "" {
		orig, err := s.repo.Get(ctx, in.OriginalMessageID)
		if err != nil {
			return nil, err
		}
		if err := s.guard.AuthorizeShare(orig, sender); err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" && att == nil {
			text, att = orig.Text, orig.Attachment
		}
	}

	out := make([]*domain.Message, 0, len(recipients))
	for _, r := range recipients {
		m, err := s.build(sender, r, text, att)
		if err != nil {
			return nil, err
		}
		m.SharedFrom = in.OriginalMessageID
		out = append(out, m)
	}
	// nothing is pushed until the whole batch is stored
	if err := s.repo.CreateMany(ctx, out); err != nil {
		metrics.MessageOps.WithLabelValues("share", "error").Inc()
		return nil, err
	}
	metrics.MessageOps.WithLabelValues("share", "ok").Inc()
	for _, m := range out {
		s.deliver(ctx, m)
	}
	return out, nil
}

// ClearChat hides the whole conversation for viewer; peer's view is untouched.
func (s *ChatService) ClearChat(ctx context.Context, viewer, peer string) (int64, error) {
	viewer, peer, err := pair(viewer, peer)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.ClearFor(ctx, viewer, peer)
	if err != nil {
		return 0, err
	}
	s.notifyCleared(viewer, peer)
	s.publish(ctx, events.Envelope{Type: events.ChatCleared, Viewer: viewer, Peer: peer})
	return n, nil
}

func (s *ChatService) UnreadCount(ctx context.Context, viewer, peer string) (int64, error) {
	viewer, peer, err := pair(viewer, peer)
	if err != nil {
		return 0, err
	}
	return s.repo.UnreadCount(ctx, viewer, peer)
}

// LastMessageTime returns nil when viewer sees no message with peer.
func (s *ChatService) LastMessageTime(ctx context.Context, viewer, peer string) (*time.Time, error) {
	viewer, peer, err := pair(viewer, peer)
	if err != nil {
		return nil, err
	}
	return s.repo.LastMessageTime(ctx, viewer, peer)
}

// HandleRemote pushes a change made on another instance to the sessions held here. The store
// is already up to date; only notifications are repeated.
func (s *ChatService) HandleRemote(_ context.Context, ev events.Envelope) error {
	switch ev.Type {
	case events.MessageCreated:
		if ev.Message != nil {
			s.notify.Emit(ev.Message.Recipient, dispatch.EventReceiveMessage, ev.Message)
		}
	case events.MessageEdited:
		if ev.Message != nil {
			s.notifyEdited(ev.Message)
		}
	case events.MessageDeleted:
		if ev.Message != nil {
			s.notifyDeleted(ev.Message, ev.Viewer, ev.ForEveryone)
		}
	case events.ChatCleared:
		if ev.Viewer != "" && ev.Peer != "" {
			s.notifyCleared(ev.Viewer, ev.Peer)
		}
	default:
		s.logger.Debugw("ignoring remote event", "type", ev.Type)
	}
	return nil
}

func (s *ChatService) notifyEdited(m *domain.Message) {
	s.notify.Emit(m.Sender, dispatch.EventMessageEdited, m)
	s.notify.Emit(m.Recipient, dispatch.EventMessageEdited, m)
}

// notifyDeleted tells both parties about a hard delete and only viewer about a soft one.
func (s *ChatService) notifyDeleted(m *domain.Message, viewer string, forEveryone bool) {
	if forEveryone {
		payload := dispatch.DeletedPayload{ID: m.ID, ForEveryone: true}
		s.notify.Emit(m.Sender, dispatch.EventMessageDeleted, payload)
		s.notify.Emit(m.Recipient, dispatch.EventMessageDeleted, payload)
		return
	}
	if viewer != "" {
		s.notify.Emit(viewer, dispatch.EventMessageDeleted, dispatch.DeletedPayload{ID: m.ID})
	}
}

// notifyCleared keeps the viewer's other devices in step after a clear.
func (s *ChatService) notifyCleared(viewer, peer string) {
	s.notify.Emit(viewer, dispatch.EventChatCleared, dispatch.ClearedPayload{Peer: peer})
}

func pair(viewer, peer string) (string, string, error) {
	viewer = domain.NormalizeIdentity(viewer)
	peer = domain.NormalizeIdentity(peer)
	if viewer == "" || peer == "" {
		return "", "", domain.Invalid("viewer and peer are required")
	}
	return viewer, peer, nil
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = domain.NormalizeIdentity(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
