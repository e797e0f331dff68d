package relay

import (
	"errors"
	"strings"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/proxchat/relay/pkg/com"
)

var (
	ErrSessionExists = errors.New("session already exists")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyLinked = errors.New("already linked")
)

// registry keeps all the live sessions.
// Lock order is the registry then a session.
type registry struct {
	mu       sync.RWMutex
	sessions map[*Conn]*Session
	ids      map[com.Uid]*Session
	codes    map[string]*Session

	newCode func() string
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[*Conn]*Session),
		ids:      make(map[com.Uid]*Session),
		codes:    make(map[string]*Session),
		newCode:  newLinkCode,
	}
}

// newLinkCode makes a short human-friendly code: the first group of a random UUID.
func newLinkCode() string {
	id := uuid.Must(uuid.NewV4()).String()
	return id[:strings.IndexByte(id, '-')]
}

// add registers the session, bridges get a link code unique among
// the live bridges.
func (r *registry) add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLocked(s)
}

func (r *registry) addLocked(s *Session) error {
	if s.conn.IsClosed() {
		return com.ErrClosed
	}
	if _, ok := r.sessions[s.conn]; ok {
		return ErrSessionExists
	}
	if s.bridge != nil {
		code := strings.ToLower(r.newCode())
		for r.codes[code] != nil {
			code = strings.ToLower(r.newCode())
		}
		s.code = code
		r.codes[code] = s
	}
	r.sessions[s.conn] = s
	r.ids[s.id] = s
	sessionsGauge.WithLabelValues(s.kind.String()).Inc()
	return nil
}

func (r *registry) get(c *Conn) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[c]
}

// remove unregisters the session of the connection and breaks its link.
// Returns the removed session and its former peer.
func (r *registry) remove(c *Conn) (removed, peer *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[c]
	if s == nil {
		return nil, nil
	}
	delete(r.sessions, c)
	delete(r.ids, s.id)
	if s.bridge != nil && r.codes[s.code] == s {
		delete(r.codes, s.code)
	}
	sessionsGauge.WithLabelValues(s.kind.String()).Dec()
	if peer = s.Linked(); peer != nil {
		s.setLinked(nil)
		peer.setLinked(nil)
	}
	return s, peer
}

func (r *registry) findById(id com.Uid) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ids[id]
}

// findByLinkCode returns a bridge session with the code in any case.
func (r *registry) findByLinkCode(code string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codes[strings.ToLower(code)]
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *registry) bridges() []*Session { return r.filter(func(s *Session) bool { return s.kind == Bridge }) }

func (r *registry) browsers() []*Session {
	return r.filter(func(s *Session) bool { return s.kind == Browser })
}

func (r *registry) filter(fn func(s *Session) bool) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if fn(s) {
			out = append(out, s)
		}
	}
	return out
}

// claim links a new session of the connection made by mk with
// the bridge of the code in one step.
func (r *registry) claim(c *Conn, code string, mk func(bridge *Session) *Session) (s, bridge *Session, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bridge = r.codes[strings.ToLower(code)]
	if bridge == nil {
		return nil, nil, ErrNotFound
	}
	if bridge.Linked() != nil {
		return nil, bridge, ErrAlreadyLinked
	}
	s = mk(bridge)
	if err = r.addLocked(s); err != nil {
		return nil, bridge, err
	}
	s.setLinked(bridge)
	bridge.setLinked(s)
	return s, bridge, nil
}
