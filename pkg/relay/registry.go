package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ucpcloud/consoled/pkg/metrics"
)

// Mirror receives registry changes for out-of-process visibility. Calls must
// not block; implementations hand the work to a background pool.
type Mirror interface {
	Publish(info SessionInfo)
	Withdraw(id string)
}

// Registry is the process-wide table of live sessions. The lock is held only
// for insert, remove and enumerate, never across bridge I/O. Sessions in the
// table are mutually independent.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	mirror   Mirror
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// SetMirror attaches an optional presence mirror. Must be called before the
// first session is admitted.
func (r *Registry) SetMirror(m Mirror) {
	r.mirror = m
}

func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	metrics.ActiveSessions.Inc()
	metrics.SessionsTotal.Inc()
	if r.mirror != nil {
		r.mirror.Publish(s.Info())
	}
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, exists := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !exists {
		return
	}
	metrics.ActiveSessions.Dec()
	if r.mirror != nil {
		r.mirror.Withdraw(id)
	}
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, exists := r.sessions[id]
	return s, exists
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns snapshots of all live sessions.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// ForceClose tears down a session by id (operator-initiated disconnect). The
// owning relay goroutine finishes the teardown and removes the entry.
func (r *Registry) ForceClose(id string) error {
	s, exists := r.Get(id)
	if !exists {
		return fmt.Errorf("console session %s not found", id)
	}
	s.Shutdown(CloseForced, "closed by administrator", ReasonForced)
	return nil
}

// CloseAll force-closes every live session and waits for their teardowns,
// bounded by the given grace period. Used on process shutdown.
func (r *Registry) CloseAll(grace time.Duration) {
	r.mu.RLock()
	open := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		open = append(open, s)
	}
	r.mu.RUnlock()

	for _, s := range open {
		s.Shutdown(CloseForced, "server shutting down", ReasonShutdown)
	}

	deadline := time.After(grace)
	for _, s := range open {
		select {
		case <-s.Done():
		case <-deadline:
			log.Warn().Msgf("Timed out waiting for session %s to close.", s.ID)
			return
		}
	}
}
