package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/claude/formcheck/internal/engine"
	"github.com/claude/formcheck/internal/models"
	"github.com/google/uuid"
)

// liveSession is a workout in progress.
type liveSession struct {
	id        uuid.UUID
	userID    int
	startedAt time.Time
	workout   *engine.Workout

	// mu serializes frame handling and set bookkeeping for the session.
	mu   sync.Mutex
	sets map[engine.Exercise]models.ExerciseSetRow

	// lastSeen is the UnixNano time of the latest request for the session.
	lastSeen atomic.Int64
}

func (ls *liveSession) touch(now time.Time) {
	ls.lastSeen.Store(now.UnixNano())
}

func (ls *liveSession) lastSeenAt() time.Time {
	return time.Unix(0, ls.lastSeen.Load())
}

// registry tracks live sessions by ID.
type registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*liveSession
}

func newRegistry() *registry {
	return &registry{sessions: make(map[uuid.UUID]*liveSession)}
}

func (r *registry) add(ls *liveSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[ls.id] = ls
}

// get returns the session only when it belongs to userID.
func (r *registry) get(id uuid.UUID, userID int) (*liveSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ls, ok := r.sessions[id]
	if !ok || ls.userID != userID {
		return nil, false
	}
	return ls, true
}

// remove deletes and returns the session when it belongs to userID.
func (r *registry) remove(id uuid.UUID, userID int) (*liveSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.sessions[id]
	if !ok || ls.userID != userID {
		return nil, false
	}
	delete(r.sessions, id)
	return ls, true
}

// expire removes and returns the sessions last seen before cutoff.
func (r *registry) expire(cutoff time.Time) []*liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*liveSession
	for id, ls := range r.sessions {
		if ls.lastSeenAt().Before(cutoff) {
			out = append(out, ls)
			delete(r.sessions, id)
		}
	}
	return out
}

// drain removes and returns every session.
func (r *registry) drain() []*liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*liveSession, 0, len(r.sessions))
	for id, ls := range r.sessions {
		out = append(out, ls)
		delete(r.sessions, id)
	}
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
