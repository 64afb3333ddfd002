package wizard

import (
	"log"
	"sync"
	"time"

	"github.com/chadiek/checkin-demo/internal/dialog"
)

// Registry owns all live sessions. Sessions that go untouched for longer
// than the idle TTL are swept and closed.
type Registry struct {
	deps    Deps
	idleTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*Session

	done      chan struct{}
	closeOnce sync.Once
}

func NewRegistry(deps Deps, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	r := &Registry{
		deps:     deps,
		idleTTL:  idleTTL,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Create starts a new session, optionally seeded with patient data.
func (r *Registry) Create(seed *dialog.Seed) *Session {
	s := newSession(r.deps, seed)
	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()
	log.Printf("wizard: session %s created (%d live)", s.ID, n)
	return s
}

// Get looks up a live session and marks it active.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		s.touch()
	}
	return s, ok
}

// Remove closes and forgets a session. Unknown ids are a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if ok {
		s.Close()
		log.Printf("wizard: session %s removed", id)
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the sweeper and closes every live session.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

func (r *Registry) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-r.idleTTL)
			var expired []*Session
			r.mu.Lock()
			for id, s := range r.sessions {
				if s.idleSince().Before(cutoff) {
					delete(r.sessions, id)
					expired = append(expired, s)
				}
			}
			r.mu.Unlock()
			for _, s := range expired {
				s.Close()
				log.Printf("wizard: session %s expired after %v idle", s.ID, r.idleTTL)
			}
		}
	}
}
