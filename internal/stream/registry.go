package stream

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/EnvelopeHack/video-streamer/internal/observability"
)

// ErrSessionLimit is returned by Serve when the registry is at capacity.
var ErrSessionLimit = errors.New("too many active stream sessions")

// FinishFunc is called once for every session that ends.
type FinishFunc func(Summary)

// Registry tracks live sessions and enforces the concurrent session limit.
type Registry struct {
	max    int
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	onFinish []FinishFunc
	// running counts Serve calls still in progress, hooks included.
	// idle is closed when it drops to zero.
	running int
	idle    chan struct{}
}

// NewRegistry creates a registry. max <= 0 means unlimited.
func NewRegistry(max int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Registry{
		max:      max,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// OnFinish registers a hook run after each session ends.
func (r *Registry) OnFinish(fn FinishFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFinish = append(r.onFinish, fn)
}

// Full reports whether a new session would be rejected.
func (r *Registry) Full() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.max > 0 && len(r.sessions) >= r.max
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns stats for every live session, oldest first.
func (r *Registry) List() []Stats {
	r.mu.RLock()
	out := make([]Stats, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Stats())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Serve registers s, runs it to completion and fires the finish hooks.
// When the registry is full the session's transport is aborted and
// ErrSessionLimit is returned without running it.
func (r *Registry) Serve(ctx context.Context, s *Session) error {
	if !r.add(s) {
		_ = s.tr.Abort(ErrSessionLimit)
		return ErrSessionLimit
	}
	defer r.release()

	err := s.Run(ctx)
	r.remove(s)

	sum := s.Summary()
	r.mu.RLock()
	hooks := append([]FinishFunc(nil), r.onFinish...)
	r.mu.RUnlock()
	for _, fn := range hooks {
		fn(sum)
	}

	r.logger.Debug("stream session finished",
		slog.String("session_id", sum.ID),
		slog.String("outcome", string(sum.Outcome)),
		slog.Int("active_sessions", r.Count()),
	)
	return err
}

func (r *Registry) add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.sessions) >= r.max {
		return false
	}
	r.sessions[s.id] = s
	if r.running == 0 {
		r.idle = make(chan struct{})
	}
	r.running++
	return true
}

func (r *Registry) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running--
	if r.running == 0 {
		close(r.idle)
	}
}

// Wait blocks until every session accepted by Serve has finished and its
// finish hooks have returned, or until ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	for {
		r.mu.RLock()
		running, idle := r.running, r.idle
		r.mu.RUnlock()
		if running == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
		}
	}
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.id)
}
