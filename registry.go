package codecamp

import (
	"sync"
	"time"
)

// sessionState tags whether a stream has been matched to its client-chosen
// correlation id. A tagged state avoids sentinel key prefixes: a temporary
// session is temporary because the registry says so, never because its key
// happens to look like one.
type sessionState int

const (
	sessionTemporary sessionState = iota
	sessionBound
)

// sessionRegistry is the keyed store of active push-stream sessions for one
// SSE transport. It owns creation bookkeeping, promotion of temporary
// entries to client-chosen ids, staleness eviction, and identity-safe
// removal. All mutations hold the registry mutex; the session bookkeeping
// fields (key, state, timestamps) are guarded by it.
type sessionRegistry struct {
	mu      sync.Mutex
	entries map[string]*sseServerSession

	// now is swapped out by tests to drive the LIFO tie-break deterministically.
	now func() time.Time
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		entries: make(map[string]*sseServerSession),
		now:     time.Now,
	}
}

// add inserts sess under key as a temporary entry and tags the session with
// its own key for later identity checks. Overwriting an existing entry is
// legal; re-registration under the same key simply replaces it.
func (r *sessionRegistry) add(key string, sess *sseServerSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	sess.reg = r
	sess.key = key
	sess.state = sessionTemporary
	sess.createdAt = now
	sess.lastSeen = now
	r.entries[key] = sess
}

// get returns the session registered under key, or nil.
func (r *sessionRegistry) get(key string) *sseServerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[key]
}

// promote binds a pending temporary session to targetID. If targetID is
// already registered the existing session is returned unchanged with
// promoted=false; a session key is promoted at most once. Otherwise the
// most recently created temporary session is re-keyed under targetID and
// marked bound, and its previous key is returned.
//
// The LIFO tie-break is deliberate: the transport has no handshake linking
// a specific stream to a specific future POST, so among several pending
// anonymous streams the newest one is assumed to belong to the client that
// just sent its first correlated request. Under a burst of simultaneous
// anonymous connections this can cross-wire two unrelated sessions; the
// wire protocol offers nothing to resolve that with.
//
// A failed promotion (no temporary session pending) is a normal negative
// result, not an error; callers translate it into a session-not-found
// protocol error.
func (r *sessionRegistry) promote(targetID string) (sess *sseServerSession, promoted bool, previousKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[targetID]; ok {
		return existing, false, ""
	}

	var newest *sseServerSession
	for _, e := range r.entries {
		if e.state != sessionTemporary {
			continue
		}
		if newest == nil || e.createdAt.After(newest.createdAt) {
			newest = e
		}
	}
	if newest == nil {
		return nil, false, ""
	}

	previousKey = newest.key
	delete(r.entries, previousKey)
	newest.key = targetID
	newest.state = sessionBound
	r.entries[targetID] = newest

	return newest, true, previousKey
}

// remove deletes sess from the registry, but only if the entry currently
// registered under sess's key is this exact session. The identity check
// guards against acting on a reference invalidated by a prior promotion or
// re-registration; removal is idempotent. Reports whether an entry was
// removed.
func (r *sessionRegistry) remove(sess *sseServerSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[sess.key] != sess {
		return false
	}
	delete(r.entries, sess.key)
	return true
}

// touch records activity on sess.
func (r *sessionRegistry) touch(sess *sseServerSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess.lastSeen = r.now()
}

// cleanupStale removes every session whose last activity is older than
// maxAge and returns the evicted sessions so the caller can stop their
// streams outside the lock.
func (r *sessionRegistry) cleanupStale(maxAge time.Duration) []*sseServerSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	var evicted []*sseServerSession
	for key, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			delete(r.entries, key)
			evicted = append(evicted, e)
		}
	}
	return evicted
}

func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *sessionRegistry) temporaryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.state == sessionTemporary {
			n++
		}
	}
	return n
}
