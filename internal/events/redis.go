package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/connectify/internal/domain"
)

// PresenceStore mirrors the latest presence of each identity into Redis and relays transitions
// to other instances over pub/sub.
// Keys:
//   - <prefix>:presence:<identity> -> json PresenceStatus
//   - channel <prefix>:presence    -> json PresenceEvent
type PresenceStore struct {
	client *redis.Client
	prefix string
	origin string
	logger *zap.SugaredLogger
}

func NewPresenceStore(client *redis.Client, prefix, origin string, logger *zap.SugaredLogger) *PresenceStore {
	return &PresenceStore{client: client, prefix: prefix, origin: origin, logger: logger}
}

// NewRedisClient pings until the server answers or ctx expires.
func NewRedisClient(ctx context.Context, addr, password string, db int, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ping := func() error { return client.Ping(ctx).Err() }
	notify := func(err error, wait time.Duration) {
		logger.Warnw("redis not ready, retrying", "error", err, "in", wait)
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(backoff.NewExponentialBackOff(), ctx), notify); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (s *PresenceStore) presenceKey(identity string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, identity)
}

func (s *PresenceStore) channel() string { return s.prefix + ":presence" }

// PresenceChanged mirrors a local transition. It runs on the fan-out worker, never under a
// registry lock.
func (s *PresenceStore) PresenceChanged(ev domain.PresenceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Save(ctx, ev); err != nil {
		s.logger.Warnw("mirror presence", "identity", ev.Identity, "error", err)
	}
	if ev.Origin == "" {
		ev.Origin = s.origin
	}
	b, _ := json.Marshal(ev)
	if err := s.client.Publish(ctx, s.channel(), b).Err(); err != nil {
		s.logger.Warnw("publish presence", "identity", ev.Identity, "error", err)
	}
}

func (s *PresenceStore) Save(ctx context.Context, ev domain.PresenceEvent) error {
	st := domain.PresenceStatus{Identity: ev.Identity, Online: ev.Online, LastSeen: ev.LastSeen}
	if ev.Online {
		// keep the last offline stamp for clients that render "last seen"
		if prev, err := s.Status(ctx, ev.Identity); err == nil {
			st.LastSeen = prev.LastSeen
		}
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.presenceKey(ev.Identity), b, 0).Err()
}

// Status returns the mirrored status; ErrNotFound when the identity was never seen.
func (s *PresenceStore) Status(ctx context.Context, identity string) (domain.PresenceStatus, error) {
	b, err := s.client.Get(ctx, s.presenceKey(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PresenceStatus{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PresenceStatus{}, domain.Unavailable("presence lookup", err)
	}
	var st domain.PresenceStatus
	if err := json.Unmarshal(b, &st); err != nil {
		return domain.PresenceStatus{}, err
	}
	return st, nil
}

// Subscribe relays presence events published by other instances until ctx is cancelled.
func (s *PresenceStore) Subscribe(ctx context.Context, relay func(domain.PresenceEvent)) {
	pubsub := s.client.Subscribe(ctx, s.channel())
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				s.logger.Warnw("redis presence subscription closed")
				return
			}
			var ev domain.PresenceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.logger.Debugw("invalid presence payload", "error", err)
				continue
			}
			if ev.Origin == s.origin {
				continue
			}
			relay(ev)
		}
	}
}
