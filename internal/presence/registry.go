// Package presence tracks which sessions are connected for each identity and is the only place
// that decides whether an identity is online.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/fathima-sithara/connectify/internal/domain"
	"github.com/fathima-sithara/connectify/internal/metrics"
)

const (
	DefaultShards = 64
	// DefaultRetention is how long an offline identity's last-seen is kept in memory. The
	// mirrors keep it after that.
	DefaultRetention = time.Hour
)

// EventSink receives presence transitions. It is called with the identity's shard lock held,
// so implementations must hand the event off without blocking.
type EventSink interface {
	PresenceChanged(ev domain.PresenceEvent)
}

type SinkFunc func(ev domain.PresenceEvent)

func (f SinkFunc) PresenceChanged(ev domain.PresenceEvent) { f(ev) }

type entry struct {
	sessions map[string]*Session
	lastSeen time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type Registry struct {
	shards    []*shard
	sink      EventSink
	now       func() time.Time
	origin    string
	retention time.Duration

	// reverse index session id -> session; written only under the owning shard lock
	idxMu sync.RWMutex
	index map[string]*Session
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func WithShards(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.shards = newShards(n)
		}
	}
}

// WithRetention sets how long offline entries survive Prune.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithOrigin stamps every emitted event with the instance id.
func WithOrigin(origin string) Option { return func(r *Registry) { r.origin = origin } }

func NewRegistry(sink EventSink, opts ...Option) *Registry {
	if sink == nil {
		sink = SinkFunc(func(domain.PresenceEvent) {})
	}
	r := &Registry{
		shards:    newShards(DefaultShards),
		sink:      sink,
		now:       func() time.Time { return time.Now().UTC() },
		retention: DefaultRetention,
		index:     make(map[string]*Session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func newShards(n int) []*shard {
	out := make([]*shard, n)
	for i := range out {
		out[i] = &shard{entries: make(map[string]*entry)}
	}
	return out
}

func (r *Registry) shardFor(identity string) *shard {
	return r.shards[xxhash.Sum64String(identity)%uint64(len(r.shards))]
}

// Register adds s to identity's set. It reports whether identity went offline -> online, in
// which case exactly one online event was emitted. Registering the same session twice is a no-op.
func (r *Registry) Register(identity string, s *Session) (bool, error) {
	if identity == "" || s == nil || s.ID == "" {
		return false, domain.Invalid("identity and session are required")
	}
	sh := r.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[identity]
	if !ok {
		e = &entry{sessions: make(map[string]*Session)}
		sh.entries[identity] = e
	}
	if _, dup := e.sessions[s.ID]; dup {
		return false, nil
	}
	s.Identity = identity
	e.sessions[s.ID] = s
	r.idxMu.Lock()
	r.index[s.ID] = s
	r.idxMu.Unlock()
	metrics.ActiveSessions.Inc()

	if len(e.sessions) != 1 {
		return false, nil
	}
	metrics.OnlineIdentities.Inc()
	metrics.PresenceTransitions.WithLabelValues("online").Inc()
	r.sink.PresenceChanged(domain.PresenceEvent{Identity: identity, Online: true, LastSeen: e.lastSeen, Origin: r.origin})
	return true, nil
}

// Unregister removes the session. It reports whether identity went online -> offline; the
// offline event carries last-seen stamped at removal time. Unknown sessions are ignored.
func (r *Registry) Unregister(identity, sessionID string) bool {
	if identity == "" || sessionID == "" {
		return false
	}
	sh := r.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[identity]
	if !ok {
		return false
	}
	if _, ok := e.sessions[sessionID]; !ok {
		return false
	}
	delete(e.sessions, sessionID)
	r.idxMu.Lock()
	delete(r.index, sessionID)
	r.idxMu.Unlock()
	metrics.ActiveSessions.Dec()

	if len(e.sessions) != 0 {
		return false
	}
	r.goOfflineLocked(identity, e)
	return true
}

// ForceOffline drops every session of identity at once (explicit logout). The removed sessions
// are returned so the caller can close their channels.
func (r *Registry) ForceOffline(identity string) []*Session {
	if identity == "" {
		return nil
	}
	sh := r.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[identity]
	if !ok || len(e.sessions) == 0 {
		return nil
	}
	removed := make([]*Session, 0, len(e.sessions))
	r.idxMu.Lock()
	for id, s := range e.sessions {
		delete(r.index, id)
		removed = append(removed, s)
	}
	r.idxMu.Unlock()
	metrics.ActiveSessions.Sub(float64(len(removed)))
	e.sessions = make(map[string]*Session)
	r.goOfflineLocked(identity, e)
	return removed
}

func (r *Registry) goOfflineLocked(identity string, e *entry) {
	e.lastSeen = r.now()
	metrics.OnlineIdentities.Dec()
	metrics.PresenceTransitions.WithLabelValues("offline").Inc()
	r.sink.PresenceChanged(domain.PresenceEvent{Identity: identity, Online: false, LastSeen: e.lastSeen, Origin: r.origin})
}

func (r *Registry) IsOnline(identity string) bool {
	sh := r.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[identity]
	return ok && len(e.sessions) > 0
}

// LastSeen returns the time identity last went offline on this instance.
func (r *Registry) LastSeen(identity string) (time.Time, bool) {
	sh := r.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[identity]
	if !ok || e.lastSeen.IsZero() {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// SessionsOf returns a snapshot of identity's sessions, oldest first.
func (r *Registry) SessionsOf(identity string) []*Session {
	sh := r.shardFor(identity)
	sh.mu.Lock()
	e, ok := sh.entries[identity]
	if !ok {
		sh.mu.Unlock()
		return nil
	}
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	sh.mu.Unlock()
	sortSessions(out)
	return out
}

// Status returns the registry's view of identity. LastSeen is zero for identities never seen
// going offline on this instance.
func (r *Registry) Status(identity string) domain.PresenceStatus {
	sh := r.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st := domain.PresenceStatus{Identity: identity}
	if e, ok := sh.entries[identity]; ok {
		st.Online = len(e.sessions) > 0
		st.Sessions = len(e.sessions)
		st.LastSeen = e.lastSeen
	}
	return st
}

// Lookup resolves a session id to its session through the reverse index.
func (r *Registry) Lookup(sessionID string) (*Session, bool) {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	s, ok := r.index[sessionID]
	return s, ok
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []*Session {
	r.idxMu.RLock()
	out := make([]*Session, 0, len(r.index))
	for _, s := range r.index {
		out = append(out, s)
	}
	r.idxMu.RUnlock()
	sortSessions(out)
	return out
}

// Online lists identities that currently have at least one session, sorted.
func (r *Registry) Online() []string {
	var out []string
	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			if len(e.sessions) > 0 {
				out = append(out, id)
			}
		}
		sh.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

// Prune forgets identities that have been offline longer than the retention period and
// returns how many were dropped. Online identities are never touched.
func (r *Registry) Prune() int {
	cutoff := r.now().Add(-r.retention)
	n := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			if len(e.sessions) == 0 && e.lastSeen.Before(cutoff) {
				delete(sh.entries, id)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// RunPruner calls Prune every interval until ctx is done.
func (r *Registry) RunPruner(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = r.retention / 4
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Prune()
		}
	}
}

func sortSessions(ss []*Session) {
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].CreatedAt.Equal(ss[j].CreatedAt) {
			return ss[i].ID < ss[j].ID
		}
		return ss[i].CreatedAt.Before(ss[j].CreatedAt)
	})
}
