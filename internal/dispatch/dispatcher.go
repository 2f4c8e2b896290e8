// Package dispatch pushes frames to the live sessions of an identity.
package dispatch

import (
	"go.uber.org/zap"

	"github.com/fathima-sithara/connectify/internal/domain"
	"github.com/fathima-sithara/connectify/internal/metrics"
	"github.com/fathima-sithara/connectify/internal/presence"
)

type Dispatcher struct {
	reg    *presence.Registry
	logger *zap.SugaredLogger
}

func New(reg *presence.Registry, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{reg: reg, logger: logger}
}

// Deliver pushes frame to every session identity has right now and returns how many accepted
// it. A session whose push fails is unregistered and its channel closed. Nothing is queued for
// identities that are offline.
func (d *Dispatcher) Deliver(identity string, frame []byte) int {
	return d.push(d.reg.SessionsOf(identity), frame)
}

// Broadcast pushes frame to every registered session.
func (d *Dispatcher) Broadcast(frame []byte) int {
	return d.push(d.reg.All(), frame)
}

// Emit encodes data as event and delivers it to identity.
func (d *Dispatcher) Emit(identity, event string, data any) int {
	frame, err := Encode(event, data)
	if err != nil {
		d.logger.Errorw("encode frame", "event", event, "error", err)
		return 0
	}
	return d.Deliver(identity, frame)
}

func (d *Dispatcher) push(sessions []*presence.Session, frame []byte) int {
	delivered := 0
	for _, s := range sessions {
		if err := s.Channel.Send(frame); err != nil {
			metrics.Deliveries.WithLabelValues("failed").Inc()
			d.evict(s, err)
			continue
		}
		metrics.Deliveries.WithLabelValues("ok").Inc()
		delivered++
	}
	return delivered
}

func (d *Dispatcher) evict(s *presence.Session, cause error) {
	if d.reg.Unregister(s.Identity, s.ID) {
		d.logger.Debugw("last session evicted", "identity", s.Identity)
	}
	metrics.Evictions.Inc()
	d.logger.Warnw("stale session evicted", "identity", s.Identity, "session", s.ID, "error", cause)
	_ = s.Channel.Close()
}

// PresenceSink broadcasts presence transitions to every connected session as updateUserStatus.
func (d *Dispatcher) PresenceSink() presence.EventSink {
	return presence.SinkFunc(func(ev domain.PresenceEvent) {
		frame, err := Encode(EventUpdateUserStatus, ev)
		if err != nil {
			d.logger.Errorw("encode presence", "error", err)
			return
		}
		d.Broadcast(frame)
	})
}
