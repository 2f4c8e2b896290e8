package presence

import (
	"context"

	"go.uber.org/zap"

	"github.com/fathima-sithara/connectify/internal/domain"
	"github.com/fathima-sithara/connectify/internal/metrics"
)

// Fanout decouples the registry from slow sinks: events are queued in order and delivered to
// each sink by a single worker. A full queue drops the event; registry state stays authoritative.
type Fanout struct {
	ch     chan domain.PresenceEvent
	sinks  []EventSink
	logger *zap.SugaredLogger
}

func NewFanout(buffer int, logger *zap.SugaredLogger, sinks ...EventSink) *Fanout {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Fanout{ch: make(chan domain.PresenceEvent, buffer), sinks: sinks, logger: logger}
}

// Add registers another sink. It must be called before Run.
func (f *Fanout) Add(s EventSink) { f.sinks = append(f.sinks, s) }

func (f *Fanout) PresenceChanged(ev domain.PresenceEvent) {
	select {
	case f.ch <- ev:
	default:
		metrics.PresenceDropped.Inc()
		f.logger.Warnw("presence queue full, event dropped", "identity", ev.Identity, "online", ev.Online)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is left.
func (f *Fanout) Run(ctx context.Context) {
	for {
		select {
		case ev := <-f.ch:
			f.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-f.ch:
					f.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (f *Fanout) deliver(ev domain.PresenceEvent) {
	for _, s := range f.sinks {
		s.PresenceChanged(ev)
	}
}
