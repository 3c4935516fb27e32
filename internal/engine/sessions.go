package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castarr/castarr/internal/models"
)

// Session is one observed client of a channel, keyed by remote address and
// user agent. Overlapping requests from the same client share a session.
type Session struct {
	ID           uuid.UUID   `json:"id"`
	ChannelID    models.ULID `json:"channel_id"`
	RemoteAddr   string      `json:"remote_addr"`
	UserAgent    string      `json:"user_agent"`
	ConnectedAt  time.Time   `json:"connected_at"`
	LastSeen     time.Time   `json:"last_seen"`
	LastPath     string      `json:"last_path"`
	OpenRequests int         `json:"open_requests"`
	BytesServed  int64       `json:"bytes_served"`
}

// sessionKey identifies a client within a channel.
func sessionKey(remoteAddr, userAgent string) string {
	return remoteAddr + "|" + userAgent
}

// channelSessions holds one channel's sessions behind its own lock so
// concurrent segment requests for different channels never contend.
type channelSessions struct {
	mu    sync.Mutex
	byKey map[string]*Session
}

// SessionTracker tracks client sessions per channel. Idle sessions are
// pruned lazily whenever a channel's sessions are read.
type SessionTracker struct {
	idleTimeout time.Duration

	mu       sync.RWMutex
	channels map[models.ULID]*channelSessions
}

// NewSessionTracker creates a tracker with the given idle timeout.
func NewSessionTracker(idleTimeout time.Duration) *SessionTracker {
	if idleTimeout <= 0 {
		idleTimeout = time.Minute
	}
	return &SessionTracker{
		idleTimeout: idleTimeout,
		channels:    make(map[models.ULID]*channelSessions),
	}
}

// BeginRequest records an in-flight request and returns the session it
// belongs to. Callers must pair it with EndRequest.
func (t *SessionTracker) BeginRequest(channelID models.ULID, remoteAddr, userAgent, path string) *Session {
	cs := t.channel(channelID)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	key := sessionKey(remoteAddr, userAgent)
	sess, ok := cs.byKey[key]
	if !ok {
		sess = &Session{
			ID:          uuid.New(),
			ChannelID:   channelID,
			RemoteAddr:  remoteAddr,
			UserAgent:   userAgent,
			ConnectedAt: time.Now(),
		}
		cs.byKey[key] = sess
	}
	sess.LastSeen = time.Now()
	sess.LastPath = path
	sess.OpenRequests++
	return sess
}

// EndRequest closes an in-flight request and accounts for the bytes served.
func (t *SessionTracker) EndRequest(sess *Session, bytesServed int64) {
	if sess == nil {
		return
	}
	cs := t.channel(sess.ChannelID)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	key := sessionKey(sess.RemoteAddr, sess.UserAgent)
	if live, ok := cs.byKey[key]; ok {
		live.OpenRequests--
		if live.OpenRequests < 0 {
			live.OpenRequests = 0
		}
		live.LastSeen = time.Now()
		live.BytesServed += bytesServed
	}
}

// Active returns copies of a channel's live sessions, pruning idle ones.
func (t *SessionTracker) Active(channelID models.ULID) []Session {
	cs := t.channel(channelID)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cutoff := time.Now().Add(-t.idleTimeout)
	out := make([]Session, 0, len(cs.byKey))
	for key, sess := range cs.byKey {
		if sess.OpenRequests == 0 && sess.LastSeen.Before(cutoff) {
			delete(cs.byKey, key)
			continue
		}
		out = append(out, *sess)
	}
	return out
}

// Count returns the number of live sessions for a channel.
func (t *SessionTracker) Count(channelID models.ULID) int {
	return len(t.Active(channelID))
}

// CountAll returns the number of live sessions across all channels.
func (t *SessionTracker) CountAll() int {
	t.mu.RLock()
	ids := make([]models.ULID, 0, len(t.channels))
	for id := range t.channels {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	total := 0
	for _, id := range ids {
		total += t.Count(id)
	}
	return total
}

// Evict drops every session of a channel. Called when its pipeline stops.
func (t *SessionTracker) Evict(channelID models.ULID) {
	t.mu.Lock()
	delete(t.channels, channelID)
	t.mu.Unlock()
}

func (t *SessionTracker) channel(channelID models.ULID) *channelSessions {
	t.mu.RLock()
	cs, ok := t.channels[channelID]
	t.mu.RUnlock()
	if ok {
		return cs
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cs, ok = t.channels[channelID]; ok {
		return cs
	}
	cs = &channelSessions{byKey: make(map[string]*Session)}
	t.channels[channelID] = cs
	return cs
}
